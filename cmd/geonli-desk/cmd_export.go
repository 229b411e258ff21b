package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"geonli-desk/internal/clipboard"
	"geonli-desk/internal/export"
)

func (c *cli) exportCmd() *cobra.Command {
	var (
		outDir string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Write a session transcript to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			dir := c.cfg.ExportDir
			if outDir != "" {
				dir = outDir
			}
			exp, err := export.New(dir)
			if err != nil {
				return err
			}

			app, cleanup, err := c.newApp(&clipboard.Memory{})
			if err != nil {
				return err
			}
			defer cleanup()

			if err := activate(cmd.Context(), app, args[0]); err != nil {
				return err
			}
			sess, _ := app.Sessions.Active()
			path, err := exp.Export(sess, app.Messages.Messages(), f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default: <data-dir>/exports)")
	cmd.Flags().StringVar(&format, "format", "markdown", "Transcript format: markdown or text")
	return cmd
}
