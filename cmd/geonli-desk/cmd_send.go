package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"geonli-desk/internal/clipboard"
	"geonli-desk/internal/model"
	"geonli-desk/internal/ui"
)

func (c *cli) sendCmd() *cobra.Command {
	var (
		sessionID string
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send one message and print the analysis",
		Long: `Sends a message, optionally with an image, and waits for the analysis.
Without --session the newest active session is used, or a new one is created
when there is none.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := model.Draft{Text: strings.TrimSpace(strings.Join(args, " "))}
			if imagePath != "" {
				ref, err := ui.EncodeImage(imagePath)
				if err != nil {
					return err
				}
				draft.ImageRef = ref
			}
			if draft.Text == "" && draft.ImageRef == "" {
				return model.ErrEmptyMessage
			}

			app, cleanup, err := c.newApp(&clipboard.Memory{})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if sessionID != "" {
				if err := activate(ctx, app, sessionID); err != nil {
					return err
				}
			} else if err := app.Bootstrap(ctx); err != nil {
				return err
			}

			answer, err := app.Messages.Send(ctx, draft)
			if err != nil {
				return err
			}
			sess, _ := app.Sessions.Active()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[%s] %s\n\n", sess.ID, sess.Name)
			fmt.Fprintln(out, answer.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to send to")
	cmd.Flags().StringVar(&imagePath, "image", "", "Image file to attach")
	return cmd
}
