package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geonli-desk/internal/clipboard"
	"geonli-desk/internal/export"
	"geonli-desk/internal/ui"
)

func (c *cli) runTUI(cmd *cobra.Command, args []string) error {
	app, cleanup, err := c.newApp(clipboard.NewSystem())
	if err != nil {
		return err
	}
	defer cleanup()

	exp, err := export.New(c.cfg.ExportDir)
	if err != nil {
		return err
	}
	c.logger.Info("starting tui", zap.String("base_url", c.cfg.BaseURL), zap.String("log_file", c.cfg.LogFile))

	m := ui.NewModel(app, exp, c.logger)
	defer m.Close()
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
