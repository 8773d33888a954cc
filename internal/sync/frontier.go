package sync

import "sync"

// pageMark tracks how many of a fetched page's rows are still waiting to
// be cut into a classification batch, and the cursor that becomes safe
// once the page is fully covered by committed batches.
type pageMark struct {
	cursor    string
	remaining int
}

// drainMarks consumes n rows' worth of page marks in fetch order and
// returns the cursor of the newest page fully drained by this batch, or
// "" when the batch leaves every touched page partially covered. Pages
// that carried no rows retire along with whatever batch drains the page
// before them.
func drainMarks(marks []pageMark, n int) ([]pageMark, string) {
	var cursor string
	for len(marks) > 0 {
		m := &marks[0]
		if m.remaining == 0 {
			cursor = m.cursor
			marks = marks[1:]
			continue
		}
		if n == 0 {
			break
		}
		take := m.remaining
		if take > n {
			take = n
		}
		m.remaining -= take
		n -= take
	}
	return marks, cursor
}

// frontier tracks batch completion in submission order. Batches commit out
// of order; a cursor becomes safe to persist only once every batch up to
// and including the one carrying it has completed.
type frontier struct {
	mu   sync.Mutex
	done map[int]string
	next int
}

func newFrontier() *frontier {
	return &frontier{done: make(map[int]string)}
}

// complete records a finished batch and returns the newest cursor made
// safe by it, if the completion frontier advanced over one.
func (f *frontier) complete(seq int, cursor string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.done[seq] = cursor

	var safe string
	ok := false
	for {
		c, present := f.done[f.next]
		if !present {
			break
		}
		delete(f.done, f.next)
		f.next++
		if c != "" {
			safe, ok = c, true
		}
	}
	return safe, ok
}
