// Package tui implements the interactive verification review interface.
// It lists classified-but-unverified ledger rows and lets the user confirm,
// recategorize, or skip each one.
package tui

import (
	"context"
	"fmt"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type state int

const (
	stateLoading state = iota
	stateReview
	stateEdit
	stateDone
)

// Stats summarizes what the review session changed.
type Stats struct {
	Verified       int
	Recategorized  int
	Skipped        int
	RemainingCount int
}

// Model holds the review session state.
type Model struct {
	ctx        context.Context
	storage    service.Storage
	lastError  error
	categories map[string]model.Category
	rows       []model.LedgerTransaction
	table      table.Model
	spinner    spinner.Model
	input      textinput.Model
	keymap     KeyMap
	stats      Stats
	statusLine string
	width      int
	height     int
	state      state
	quitting   bool
}

func newModel(ctx context.Context, storage service.Storage) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	input := textinput.New()
	input.Placeholder = "category key, e.g. food.groceries"
	input.CharLimit = 64

	return Model{
		ctx:        ctx,
		storage:    storage,
		spinner:    sp,
		input:      input,
		keymap:     DefaultKeyMap(),
		state:      stateLoading,
		categories: make(map[string]model.Category),
	}
}

// Init starts the spinner and kicks off the initial load.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadRows())
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(maxInt(4, m.height-8))
		return m, nil

	case rowsLoadedMsg:
		m.rows = msg.rows
		m.categories = make(map[string]model.Category, len(msg.categories))
		for _, c := range msg.categories {
			m.categories[c.Key] = c
		}
		m.table = m.buildTable()
		if len(m.rows) == 0 {
			m.state = stateDone
			m.quitting = true
			return m, tea.Quit
		}
		m.state = stateReview
		return m, nil

	case rowSavedMsg:
		m.removeRow(msg.id)
		switch {
		case msg.recategorized:
			m.stats.Recategorized++
			m.statusLine = statusStyle.Render(fmt.Sprintf("recategorized as %s", msg.categoryKey))
		default:
			m.stats.Verified++
			m.statusLine = statusStyle.Render("verified")
		}
		if len(m.rows) == 0 {
			m.state = stateDone
			m.quitting = true
			return m, tea.Quit
		}
		m.state = stateReview
		return m, nil

	case errMsg:
		m.lastError = msg.err
		m.statusLine = errorStyle.Render(msg.err.Error())
		if m.state == stateLoading {
			m.quitting = true
			return m, tea.Quit
		}
		m.state = stateReview
		return m, nil

	case spinner.TickMsg:
		if m.state != stateLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state == stateEdit {
		switch {
		case key.Matches(msg, m.keymap.Cancel):
			m.state = stateReview
			m.statusLine = ""
			return m, nil
		case key.Matches(msg, m.keymap.Confirm):
			return m.submitEdit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keymap.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keymap.Verify):
		if row := m.selectedRow(); row != nil {
			return m, m.verifyRow(row.ID)
		}

	case key.Matches(msg, m.keymap.Edit):
		if row := m.selectedRow(); row != nil {
			m.state = stateEdit
			m.input.SetValue(m.currentKey(row))
			m.input.Focus()
			m.input.CursorEnd()
			m.statusLine = ""
			return m, textinput.Blink
		}

	case key.Matches(msg, m.keymap.Skip):
		if row := m.selectedRow(); row != nil {
			m.stats.Skipped++
			m.table.MoveDown(1)
			m.statusLine = ""
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) submitEdit() (tea.Model, tea.Cmd) {
	row := m.selectedRow()
	if row == nil {
		m.state = stateReview
		return m, nil
	}
	keyName := m.input.Value()
	category, ok := m.categories[keyName]
	if !ok {
		m.statusLine = errorStyle.Render(fmt.Sprintf("unknown category %q", keyName))
		return m, nil
	}
	return m, m.recategorizeRow(row.ID, category)
}

// selectedRow maps the table cursor back to the backing slice.
func (m *Model) selectedRow() *model.LedgerTransaction {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.rows) {
		return nil
	}
	return &m.rows[i]
}

func (m *Model) currentKey(row *model.LedgerTransaction) string {
	if row.CategoryID == nil {
		return ""
	}
	for key, c := range m.categories {
		if c.ID == *row.CategoryID {
			return key
		}
	}
	return ""
}

func (m *Model) removeRow(id int64) {
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			break
		}
	}
	m.table.SetRows(tableRows(m.rows, m.categories))
	if cursor := m.table.Cursor(); cursor >= len(m.rows) && cursor > 0 {
		m.table.SetCursor(len(m.rows) - 1)
	}
}

// FinalStats returns the session totals for the caller to report.
func (m Model) FinalStats() Stats {
	stats := m.stats
	stats.RemainingCount = len(m.rows)
	return stats
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
