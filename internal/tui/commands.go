package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/adambossy/tally/internal/model"
	"github.com/adambossy/tally/internal/service"
)

type rowsLoadedMsg struct {
	rows       []model.LedgerTransaction
	categories []model.Category
}

type rowSavedMsg struct {
	categoryKey   string
	id            int64
	recategorized bool
}

type errMsg struct {
	err error
}

// loadRows fetches the classified-but-unverified rows and the category set.
func (m Model) loadRows() tea.Cmd {
	return func() tea.Msg {
		rows, err := m.storage.GetTransactions(m.ctx, service.TransactionFilter{
			ClassifiedOnly: true,
			UnverifiedOnly: true,
		})
		if err != nil {
			return errMsg{err: err}
		}
		categories, err := m.storage.GetCategories(m.ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return rowsLoadedMsg{rows: rows, categories: categories}
	}
}

func (m Model) verifyRow(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := m.storage.SetVerified(m.ctx, id, true); err != nil {
			return errMsg{err: err}
		}
		return rowSavedMsg{id: id}
	}
}

// recategorizeRow reassigns the row and marks it verified in one write;
// a human picked the category, so no confidence is recorded.
func (m Model) recategorizeRow(id int64, category model.Category) tea.Cmd {
	return func() tea.Msg {
		if err := m.storage.SetTransactionCategory(m.ctx, id, &category.ID, nil, true); err != nil {
			return errMsg{err: err}
		}
		return rowSavedMsg{id: id, recategorized: true, categoryKey: category.Key}
	}
}
