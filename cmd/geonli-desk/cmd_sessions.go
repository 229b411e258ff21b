package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"geonli-desk/internal/clipboard"
	"geonli-desk/internal/model"
	"geonli-desk/internal/store"
)

func (c *cli) sessionsCmd() *cobra.Command {
	var f store.Filter
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List analysis sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := c.newApp(&clipboard.Memory{})
			if err != nil {
				return err
			}
			defer cleanup()

			if err := app.Bootstrap(cmd.Context()); err != nil {
				return err
			}
			names := make(map[string]string)
			for _, p := range app.Projects.Projects() {
				names[p.ID] = p.Name
			}
			printSessions(cmd.OutOrStdout(), app.Sessions.Visible(f), names)
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.ShowArchived, "archived", false, "List archived sessions instead")
	cmd.Flags().StringVar(&f.SearchText, "search", "", "Only sessions whose name contains this text")
	return cmd
}

func printSessions(w io.Writer, sessions []model.Session, projects map[string]string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return
	}
	for _, s := range sessions {
		line := fmt.Sprintf("%-24s  %-16s  %s", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Name)
		if p := projects[s.ProjectID]; p != "" {
			line += "  [" + p + "]"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

// activate bootstraps app and makes id the active session with its log
// loaded.
func activate(ctx context.Context, app *store.App, id string) error {
	if err := app.Bootstrap(ctx); err != nil {
		return err
	}
	if err := app.Sessions.SetActive(id); err != nil {
		return err
	}
	return app.Messages.Fetch(ctx, id)
}
