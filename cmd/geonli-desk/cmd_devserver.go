package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geonli-desk/internal/devserver"
)

func (c *cli) devServerCmd() *cobra.Command {
	var (
		addr    string
		aiDelay time.Duration
		seed    bool
	)
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run an in-memory backend for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = c.cfg.DevAddr
			}
			gin.SetMode(gin.ReleaseMode)
			srv := devserver.New(devserver.Options{
				Logger:       c.logger,
				Token:        c.cfg.Token,
				ShareBaseURL: "http://" + addr + "/shared",
				AIDelay:      aiDelay,
			})
			if seed {
				srv.Seed("Coastline survey", "Which landforms are visible?", "A barrier island and a tidal inlet.")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()
			c.logger.Info("dev server listening", zap.String("addr", addr))
			fmt.Fprintf(cmd.OutOrStdout(), "dev server on http://%s\n", addr)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("dev server: %w", err)
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: dev_addr from config)")
	cmd.Flags().DurationVar(&aiDelay, "ai-delay", 0, "Simulated evaluation time")
	cmd.Flags().BoolVar(&seed, "seed", false, "Start with one sample session")
	return cmd
}
