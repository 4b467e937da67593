package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/ui"
	"github.com/urfave/cli/v3"
)

// Monitor launches the interactive transfer monitor.
func (r *Runner) Monitor(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, f, err := shared.NewFileLogger("./tmp/sheetsync-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer f.Close()
	r.SetLogger(fileLogger)

	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, a.SheetStore, a.Queue, a.Bus)
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return model.Err()
}
