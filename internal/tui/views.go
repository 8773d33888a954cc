package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/adambossy/tally/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5FAFFF"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5FAFFF"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8CC8C"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E88388"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D290E4"))
)

// View renders the current state.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("📒 tally verify"))
	b.WriteString("\n\n")

	switch m.state {
	case stateLoading:
		b.WriteString(m.spinner.View())
		b.WriteString(" loading unverified transactions...")

	case stateReview:
		b.WriteString(m.table.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(fmt.Sprintf(
			"%d remaining · v verify · e edit category · s skip · q quit",
			len(m.rows))))

	case stateEdit:
		b.WriteString(m.table.View())
		b.WriteString("\n")
		b.WriteString(promptStyle.Render("new category: "))
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter confirm · esc cancel"))

	case stateDone:
		b.WriteString("nothing left to review")
	}

	if m.statusLine != "" {
		b.WriteString("\n")
		b.WriteString(m.statusLine)
	}

	return b.String()
}

func (m *Model) buildTable() table.Model {
	columns := []table.Column{
		{Title: "Date", Width: 10},
		{Title: "Amount", Width: 12},
		{Title: "Description", Width: 32},
		{Title: "Category", Width: 22},
		{Title: "Conf", Width: 5},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(tableRows(m.rows, m.categories)),
		table.WithFocused(true),
		table.WithHeight(maxInt(4, m.height-8)),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#5FAFFF"))
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#1A1A1A")).
		Background(lipgloss.Color("#5FAFFF"))
	t.SetStyles(styles)

	return t
}

func tableRows(rows []model.LedgerTransaction, categories map[string]model.Category) []table.Row {
	names := make(map[int64]string, len(categories))
	for key, c := range categories {
		names[c.ID] = key
	}

	out := make([]table.Row, 0, len(rows))
	for i := range rows {
		t := &rows[i]
		category := ""
		if t.CategoryID != nil {
			category = names[*t.CategoryID]
		}
		confidence := ""
		if t.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *t.Confidence)
		}
		out = append(out, table.Row{
			t.PostedAt.Format("2006-01-02"),
			model.FormatCents(t.AmountCents),
			t.MerchantDescriptor,
			category,
			confidence,
		})
	}
	return out
}
