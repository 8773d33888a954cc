package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/adambossy/tally/internal/service"
)

// Run starts the verification review interface and blocks until the user
// quits or the context is cancelled. It returns the session totals.
func Run(ctx context.Context, storage service.Storage) (Stats, error) {
	p := tea.NewProgram(
		newModel(ctx, storage),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			err = ctx.Err()
		}
		return Stats{}, fmt.Errorf("review interface failed: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return Stats{}, fmt.Errorf("unexpected final model type %T", final)
	}
	if m.lastError != nil {
		return m.FinalStats(), m.lastError
	}
	return m.FinalStats(), nil
}
