// Package match reconciles itemized order records against ledger
// transactions using amount and date tolerances.
package match

import (
	"time"

	"github.com/adambossy/tally/internal/model"
)

// Config bounds the candidate window for a match.
type Config struct {
	MaxDateLagDays     int
	MaxAmountDiffCents int64
}

// DefaultConfig returns the standard tolerances: a 30-day settlement lag
// and 50 cents of amount drift.
func DefaultConfig() Config {
	return Config{
		MaxDateLagDays:     30,
		MaxAmountDiffCents: 50,
	}
}

// Result describes the winning ledger row for one order.
type Result struct {
	TransactionID   int64
	DateLagDays     int
	AmountDiffCents int64
}

// Match pairs each order with at most one ledger row. Candidates for an
// order are rows whose absolute amount is within the amount tolerance of
// the order total and whose posted date falls inside [order_date,
// order_date + lag]; a row never predates its order. The candidate with
// the smallest date lag wins, ties going to the earlier row in input
// order. Matching is greedy over orders in input order and each row is
// consumed at most once, so the result is deterministic given input order
// but not globally optimal. Orders with no candidate map to nil.
func Match(orders []model.OrderRecord, rows []model.LedgerTransaction, cfg Config) map[string]*Result {
	used := make(map[int64]bool, len(rows))
	results := make(map[string]*Result, len(orders))

	for i := range orders {
		results[orders[i].OrderID] = findMatch(&orders[i], rows, used, cfg)
	}

	return results
}

func findMatch(order *model.OrderRecord, rows []model.LedgerTransaction, used map[int64]bool, cfg Config) *Result {
	orderDay := dayOf(order.OrderDate)

	var best *Result
	for i := range rows {
		row := &rows[i]
		if used[row.ID] {
			continue
		}

		lag := daysBetween(orderDay, dayOf(row.PostedAt))
		if lag < 0 || lag > cfg.MaxDateLagDays {
			continue
		}

		diff := row.AbsAmountCents() - order.TotalCents
		if diff < 0 {
			diff = -diff
		}
		if diff > cfg.MaxAmountDiffCents {
			continue
		}

		if best == nil || lag < best.DateLagDays {
			best = &Result{
				TransactionID:   row.ID,
				DateLagDays:     lag,
				AmountDiffCents: diff,
			}
		}
	}

	if best != nil {
		used[best.TransactionID] = true
	}
	return best
}

// ToOrderMatches converts a match result set into persistable records,
// preserving the order input order.
func ToOrderMatches(orders []model.OrderRecord, results map[string]*Result, matchedAt time.Time) []model.OrderMatch {
	matches := make([]model.OrderMatch, 0, len(orders))
	for i := range orders {
		m := model.OrderMatch{
			MatchedAt: matchedAt,
			OrderID:   orders[i].OrderID,
		}
		if r := results[orders[i].OrderID]; r != nil {
			id := r.TransactionID
			m.TransactionID = &id
			m.DateLagDays = r.DateLagDays
			m.AmountDiffCents = r.AmountDiffCents
		}
		matches = append(matches, m)
	}
	return matches
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
