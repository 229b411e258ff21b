package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"geonli-desk/internal/backend"
	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

// Clipboard receives share links.
type Clipboard interface {
	Copy(text string) error
}

// DefaultSessionName names the count+1-th session.
func DefaultSessionName(count int) string {
	return fmt.Sprintf("%s %d", model.DefaultSessionPrefix, count+1)
}

// SessionStore owns the session list and the active session id.
//
// Lock order: emitMu, then mu. mu is never held while calling the backend
// or publishing.
type SessionStore struct {
	backend        backend.SessionBackend
	bus            *Bus
	log            *zap.Logger
	clipboard      Clipboard
	projectDeleted func(string) bool

	// emitMu serializes mutate-then-publish so subscribers see events in
	// mutation order.
	emitMu sync.Mutex

	mu       sync.RWMutex
	sessions *ordered[model.Session]
	activeID string
	deleting map[string]struct{}
	removed  map[string]struct{}
	epoch    uint64
	bornAt   map[string]uint64
}

type SessionStoreConfig struct {
	Backend   backend.SessionBackend
	Bus       *Bus
	Logger    *zap.Logger
	Clipboard Clipboard
	// ProjectDeleted clears project references to known-deleted projects
	// whenever sessions are normalized.
	ProjectDeleted func(projectID string) bool
}

func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := cfg.Bus
	if bus == nil {
		bus = NewBus()
	}
	return &SessionStore{
		backend:        cfg.Backend,
		bus:            bus,
		log:            logger.Named("sessions"),
		clipboard:      cfg.Clipboard,
		projectDeleted: cfg.ProjectDeleted,
		sessions:       newOrdered(func(s model.Session) string { return s.ID }),
		deleting:       make(map[string]struct{}),
		removed:        make(map[string]struct{}),
		bornAt:         make(map[string]uint64),
	}
}

func (s *SessionStore) normalizeOpts() []normalize.Option {
	if s.projectDeleted == nil {
		return nil
	}
	return []normalize.Option{normalize.WithDeletedProjects(s.projectDeleted)}
}

// Load replaces the list with the server's, keeping server order. Sessions
// created locally while the request was in flight are kept.
func (s *SessionStore) Load(ctx context.Context) error {
	s.mu.RLock()
	startEpoch := s.epoch
	s.mu.RUnlock()

	recs, err := s.backend.ListSessions(ctx)
	if err != nil {
		s.log.Warn("list sessions failed", zap.Error(err))
		return fmt.Errorf("load sessions: %w", err)
	}
	list, errs := normalize.Sessions(recs, s.normalizeOpts()...)
	for _, e := range errs {
		s.log.Error("dropping malformed session", zap.String("kind", string(normalize.KindSession)), zap.Error(e))
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	fresh := make([]model.Session, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, sess := range list {
		if _, gone := s.removed[sess.ID]; gone {
			continue
		}
		seen[sess.ID] = struct{}{}
		fresh = append(fresh, sess)
	}
	var kept []model.Session
	for _, cur := range s.sessions.Values() {
		if _, ok := seen[cur.ID]; ok {
			continue
		}
		if s.bornAt[cur.ID] > startEpoch {
			kept = append(kept, cur)
		}
	}
	s.sessions.Reset(append(kept, fresh...))

	prev := s.activeID
	if prev != "" && !s.sessions.Has(prev) {
		s.activeID = ""
	}
	if s.activeID == "" {
		s.activeID = s.firstNonArchivedLocked()
	}
	next := s.activeID
	count := s.sessions.Len()
	s.mu.Unlock()

	s.log.Debug("sessions loaded", zap.Int("count", count), zap.Int("dropped", len(errs)))
	s.bus.Publish(Event{Kind: SessionsChanged})
	if next != prev {
		s.bus.Publish(Event{Kind: ActiveSessionChanged, SessionID: next, PreviousID: prev, Reason: ReasonLoaded})
	}
	return nil
}

// Create asks the server for a new session, puts it first and makes it
// active. A blank name gets the next default name.
func (s *SessionStore) Create(ctx context.Context, name string) (model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSessionName(s.Count())
	}
	if err := model.ValidateName(name); err != nil {
		return model.Session{}, err
	}

	rec, err := s.backend.CreateSession(ctx, name)
	if err != nil {
		s.log.Warn("create session failed", zap.Error(err))
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	sess, err := normalize.Session(rec, s.normalizeOpts()...)
	if err != nil {
		s.log.Error("create session returned malformed entity", zap.String("kind", string(normalize.KindSession)), zap.Error(err))
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	s.epoch++
	s.bornAt[sess.ID] = s.epoch
	s.sessions.PushFront(sess)
	prev := s.activeID
	s.activeID = sess.ID
	s.mu.Unlock()

	s.log.Info("session created", zap.String("session", sess.ID), zap.String("name", sess.Name))
	s.bus.Publish(Event{Kind: SessionsChanged})
	s.bus.Publish(Event{Kind: ActiveSessionChanged, SessionID: sess.ID, PreviousID: prev, Reason: ReasonCreated})
	return sess, nil
}

// Update sends a partial update and replaces the session in place on
// success. A session deleted meanwhile stays deleted.
func (s *SessionStore) Update(ctx context.Context, id string, patch model.SessionPatch) (model.Session, error) {
	if patch.Empty() {
		return model.Session{}, model.ErrEmptyPatch
	}
	if patch.Name != nil {
		if err := model.ValidateName(*patch.Name); err != nil {
			return model.Session{}, err
		}
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if _, ok := s.Get(id); !ok {
		return model.Session{}, fmt.Errorf("%w: %s", model.ErrUnknownSession, id)
	}

	rec, err := s.backend.UpdateSession(ctx, id, patch)
	if err != nil {
		s.log.Warn("update session failed", zap.String("session", id), zap.Error(err))
		return model.Session{}, fmt.Errorf("update session: %w", err)
	}
	updated, err := normalize.Session(rec, s.normalizeOpts()...)
	if err != nil {
		s.log.Error("update session returned malformed entity", zap.String("kind", string(normalize.KindSession)), zap.Error(err))
		return model.Session{}, fmt.Errorf("update session: %w", err)
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if !s.sessions.Has(id) {
		s.mu.Unlock()
		s.log.Debug("update for removed session ignored", zap.String("session", id))
		return updated, nil
	}
	s.sessions.Replace(id, updated)
	prev := s.activeID
	if updated.Archived && (prev == id || prev == updated.ID) {
		s.activeID = s.firstNonArchivedLocked()
	} else if prev == id {
		s.activeID = updated.ID
	}
	next := s.activeID
	s.mu.Unlock()

	s.bus.Publish(Event{Kind: SessionsChanged, SessionID: updated.ID})
	if next != prev {
		reason := ReasonArchived
		if !updated.Archived {
			reason = ReasonSelected
		}
		s.bus.Publish(Event{Kind: ActiveSessionChanged, SessionID: next, PreviousID: prev, Reason: reason})
	}
	return updated, nil
}

func (s *SessionStore) Rename(ctx context.Context, id, name string) (model.Session, error) {
	return s.Update(ctx, id, model.SessionPatch{Name: &name})
}

// MoveToProject attaches the session to projectID, or detaches it when
// projectID is empty.
func (s *SessionStore) MoveToProject(ctx context.Context, id, projectID string) (model.Session, error) {
	return s.Update(ctx, id, model.SessionPatch{ProjectID: &projectID})
}

func (s *SessionStore) Archive(ctx context.Context, id string) (model.Session, error) {
	return s.Update(ctx, id, model.SessionPatch{Archived: model.BoolPtr(true)})
}

func (s *SessionStore) Unarchive(ctx context.Context, id string) (model.Session, error) {
	return s.Update(ctx, id, model.SessionPatch{Archived: model.BoolPtr(false)})
}

// Delete removes a session. It is rejected before any request when it
// would leave no non-archived session, counting deletes still in flight.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if !s.sessions.Has(id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrUnknownSession, id)
	}
	if _, busy := s.deleting[id]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: delete of %s already in progress", model.ErrValidation, id)
	}
	remaining := 0
	for _, sess := range s.sessions.Values() {
		if _, busy := s.deleting[sess.ID]; busy || sess.Archived {
			continue
		}
		remaining++
	}
	if remaining <= 1 {
		s.mu.Unlock()
		return model.ErrLastSession
	}
	s.deleting[id] = struct{}{}
	s.mu.Unlock()

	err := s.backend.DeleteSession(ctx, id)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	delete(s.deleting, id)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("delete session failed", zap.String("session", id), zap.Error(err))
		return fmt.Errorf("delete session: %w", err)
	}
	s.sessions.Remove(id)
	s.removed[id] = struct{}{}
	delete(s.bornAt, id)
	prev := s.activeID
	if prev == id {
		s.activeID = s.firstNonArchivedLocked()
	}
	next := s.activeID
	s.mu.Unlock()

	s.log.Info("session deleted", zap.String("session", id))
	s.bus.Publish(Event{Kind: SessionRemoved, SessionID: id})
	s.bus.Publish(Event{Kind: SessionsChanged})
	if next != prev {
		s.bus.Publish(Event{Kind: ActiveSessionChanged, SessionID: next, PreviousID: prev, Reason: ReasonDeleted})
	}
	return nil
}

// SetActive selects a session locally. An empty id clears the selection.
func (s *SessionStore) SetActive(id string) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	prev := s.activeID
	if id == prev {
		s.mu.Unlock()
		return nil
	}
	if id != "" && !s.sessions.Has(id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrUnknownSession, id)
	}
	s.activeID = id
	s.mu.Unlock()

	s.bus.Publish(Event{Kind: ActiveSessionChanged, SessionID: id, PreviousID: prev, Reason: ReasonSelected})
	return nil
}

// Share returns a share link and hands it to the clipboard. The link is
// returned even when only the clipboard step failed.
func (s *SessionStore) Share(ctx context.Context, id string) (string, error) {
	if _, ok := s.Get(id); !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownSession, id)
	}
	link, err := s.backend.ShareSession(ctx, id)
	if err != nil {
		s.log.Warn("share session failed", zap.String("session", id), zap.Error(err))
		return "", fmt.Errorf("share session: %w", err)
	}
	if s.clipboard != nil {
		if err := s.clipboard.Copy(link); err != nil {
			s.log.Warn("copy share link failed", zap.Error(err))
			return link, fmt.Errorf("copy share link: %w", err)
		}
	}
	return link, nil
}

func (s *SessionStore) Sessions() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Values()
}

func (s *SessionStore) Get(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Get(id)
}

func (s *SessionStore) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *SessionStore) Active() (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return model.Session{}, false
	}
	return s.sessions.Get(s.activeID)
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Len()
}

func (s *SessionStore) NonArchivedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions.Values() {
		if !sess.Archived {
			n++
		}
	}
	return n
}

func (s *SessionStore) Visible(f Filter) []model.Session {
	return VisibleSessions(s.Sessions(), f)
}

// firstNonArchivedLocked skips sessions whose delete is still in flight.
func (s *SessionStore) firstNonArchivedLocked() string {
	for _, sess := range s.sessions.Values() {
		if _, busy := s.deleting[sess.ID]; !sess.Archived && !busy {
			return sess.ID
		}
	}
	return ""
}
