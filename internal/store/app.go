package store

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"geonli-desk/internal/backend"
)

// Deps are the collaborators of one application instance.
type Deps struct {
	Sessions    backend.SessionBackend
	Messages    backend.MessageBackend
	Projects    backend.ProjectBackend
	Clipboard   Clipboard
	Preferences Preferences
	Logger      *zap.Logger
	NewID       func() string
	Now         func() time.Time
}

// App wires the stores together. Create one per application instance.
type App struct {
	Bus      *Bus
	Sessions *SessionStore
	Messages *MessageStore
	Projects *ProjectStore
	UI       *UIStore

	log *zap.Logger
}

func New(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := NewBus()
	projects := NewProjectStore(d.Projects, bus, logger)
	sessions := NewSessionStore(SessionStoreConfig{
		Backend:        d.Sessions,
		Bus:            bus,
		Logger:         logger,
		Clipboard:      d.Clipboard,
		ProjectDeleted: projects.IsDeleted,
	})
	messages := NewMessageStore(MessageStoreConfig{
		Backend:  d.Messages,
		Sessions: sessions,
		Bus:      bus,
		Logger:   logger,
		NewID:    d.NewID,
		Now:      d.Now,
	})
	return &App{
		Bus:      bus,
		Sessions: sessions,
		Messages: messages,
		Projects: projects,
		UI:       NewUIStore(bus, d.Preferences, logger),
		log:      logger,
	}
}

// Bootstrap loads projects and sessions concurrently.
func (a *App) Bootstrap(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Projects.Load(gctx) })
	g.Go(func() error { return a.Sessions.Load(gctx) })
	if err := g.Wait(); err != nil {
		a.log.Warn("bootstrap failed", zap.Error(err))
		return err
	}
	a.log.Info("bootstrap complete",
		zap.Int("sessions", a.Sessions.Count()),
		zap.Int("projects", len(a.Projects.Projects())))
	return nil
}

func (a *App) Close() {
	a.Messages.Close()
}
