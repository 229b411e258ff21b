package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"geonli-desk/internal/auth"
	"geonli-desk/internal/backend"
	"geonli-desk/internal/config"
	"geonli-desk/internal/logging"
	"geonli-desk/internal/prefs"
	"geonli-desk/internal/store"
)

// cli carries the flag values and the state PersistentPreRunE builds for
// every subcommand.
type cli struct {
	configPath string
	envFile    string
	baseURL    string
	token      string
	authMode   string
	dataDir    string
	logLevel   string
	timeout    time.Duration

	cfg    config.AppConfig
	logger *zap.Logger

	// clipboard overrides the system clipboard; tests set it.
	clipboard store.Clipboard
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "geonli-desk",
		Short: "Terminal client for image analysis sessions",
		Long: `geonli-desk keeps your image analysis conversations in sync with the
analysis backend.

Run without arguments to open the interactive client.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		RunE: c.runTUI,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/geonli-desk/config.yaml)")
	pf.StringVar(&c.envFile, "env-file", "", "Environment file to load (default: ./.env)")
	pf.StringVar(&c.baseURL, "base-url", "", "Backend base URL")
	pf.StringVar(&c.token, "token", "", "Session token (or set GEONLI_TOKEN)")
	pf.StringVar(&c.authMode, "auth", "", "How the token is sent: cookie or bearer")
	pf.StringVar(&c.dataDir, "data-dir", "", "Directory for preferences, logs and exports")
	pf.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.DurationVar(&c.timeout, "timeout", 0, "Backend request timeout")

	root.AddCommand(c.sessionsCmd(), c.exportCmd(), c.sendCmd(), c.devServerCmd())
	return root
}

// setup layers config sources. Flags only win when given explicitly.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: c.configPath, EnvFile: c.envFile})
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = c.baseURL
	}
	if flags.Changed("token") {
		cfg.Token = c.token
	}
	if flags.Changed("auth") {
		cfg.AuthMode = c.authMode
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = c.dataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if flags.Changed("timeout") {
		cfg.Timeout = c.timeout
	}
	if err := cfg.Finalize(); err != nil {
		return err
	}
	c.cfg = cfg

	// dev-server logs to stderr; everything else keeps the terminal clean.
	logFile := cfg.LogFile
	if cmd.Name() == "dev-server" {
		logFile = ""
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: logFile})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger
	return nil
}

// newApp connects a store.App to the configured backend. The returned
// cleanup closes the app and the preference database.
func (c *cli) newApp(clip store.Clipboard) (*store.App, func(), error) {
	mode, err := auth.ParseMode(c.cfg.AuthMode)
	if err != nil {
		return nil, nil, err
	}
	token := auth.NewToken(c.cfg.Token, mode)
	if exp, ok := token.ExpiresAt(); ok && time.Now().After(exp) {
		c.logger.Warn("configured token has expired", zap.Time("expired_at", exp))
	}
	client, err := backend.NewClient(backend.Config{
		BaseURL: c.cfg.BaseURL,
		Timeout: c.cfg.Timeout,
		Auth:    token,
	})
	if err != nil {
		return nil, nil, err
	}
	p, err := prefs.Open(c.cfg.PrefsPath)
	if err != nil {
		return nil, nil, err
	}
	if c.clipboard != nil {
		clip = c.clipboard
	}
	app := store.New(store.Deps{
		Sessions:    client,
		Messages:    client,
		Projects:    client,
		Clipboard:   clip,
		Preferences: p,
		Logger:      c.logger,
	})
	cleanup := func() {
		app.Close()
		if err := p.Close(); err != nil {
			c.logger.Warn("close preferences", zap.Error(err))
		}
	}
	return app, cleanup, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
