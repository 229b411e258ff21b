package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geonli-desk/internal/backend"
	"geonli-desk/internal/export"
	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

// ProvisionalPrefix starts every client-generated message id.
const ProvisionalPrefix = "local-"

// Phase is the progress of one send attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseAwaitingAI
)

func (p Phase) String() string {
	switch p {
	case PhaseSending:
		return "sending"
	case PhaseAwaitingAI:
		return "awaiting-ai"
	}
	return "idle"
}

type attempt struct {
	sessionID     string
	phase         Phase
	provisionalID string
	user          model.Message
}

type MessagesSnapshot struct {
	SessionID string
	Messages  []model.Message
	Loading   bool
	Loaded    bool
	Composing bool
	Err       error
}

// MessageStore holds the log of the displayed session, which is always the
// active one, plus every send attempt still in flight.
type MessageStore struct {
	backend  backend.MessageBackend
	sessions *SessionStore
	bus      *Bus
	log      *zap.Logger
	newID    func() string
	now      func() time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()

	mu           sync.Mutex
	closed       bool
	sessionID    string
	entries      *ordered[model.Message]
	loading      bool
	loaded       bool
	loadErr      error
	seq          uint64
	replay       []model.Message
	attempts     map[string]*attempt
	provisioning bool
}

type MessageStoreConfig struct {
	Backend  backend.MessageBackend
	Sessions *SessionStore
	Bus      *Bus
	Logger   *zap.Logger
	// NewID generates provisional ids. Defaults to uuid.NewString.
	NewID func() string
	Now   func() time.Time
}

func NewMessageStore(cfg MessageStoreConfig) *MessageStore {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &MessageStore{
		backend:  cfg.Backend,
		sessions: cfg.Sessions,
		bus:      cfg.Bus,
		log:      logger.Named("messages"),
		newID:    newID,
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		entries:  newMessageLog(),
		loaded:   true,
		attempts: make(map[string]*attempt),
	}
	m.unsubscribe = m.bus.Subscribe(m.handle)
	return m
}

func newMessageLog() *ordered[model.Message] {
	return newOrdered(func(msg model.Message) string { return msg.ID })
}

// Close stops background fetches and waits for them to return.
func (m *MessageStore) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.unsubscribe()
	m.cancel()
	m.wg.Wait()
}

func (m *MessageStore) handle(e Event) {
	switch e.Kind {
	case ActiveSessionChanged:
		m.display(e.SessionID, e.Reason)
	case SessionRemoved:
		m.mu.Lock()
		delete(m.attempts, e.SessionID)
		m.mu.Unlock()
	}
}

// display switches the log to sessionID. It runs synchronously inside the
// SessionStore publication, so the log never shows a session that is not
// active.
func (m *MessageStore) display(sessionID string, reason Reason) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.sessionID = sessionID
	m.entries = newMessageLog()
	m.replay = nil
	m.loadErr = nil

	fetch := false
	switch {
	case sessionID == "":
		m.loading, m.loaded = false, true
	case reason == ReasonCreated:
		// A session the server just created has no messages yet.
		m.loading, m.loaded = false, true
		m.reapplyLocked()
	default:
		m.loading, m.loaded = true, false
		m.reapplyLocked()
		fetch = !m.closed
	}
	if fetch {
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if fetch {
		go func() {
			defer m.wg.Done()
			_ = m.load(m.ctx, sessionID, seq)
		}()
	}
	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: sessionID})
}

func (m *MessageStore) load(ctx context.Context, sessionID string, seq uint64) error {
	recs, err := m.backend.ListMessages(ctx, sessionID)
	if err != nil {
		err = fmt.Errorf("load messages: %w", err)
	}
	m.apply(sessionID, seq, recs, err)
	return err
}

// apply installs a fetch result when it belongs to the latest request for
// the displayed session. Anything else is stale and dropped.
func (m *MessageStore) apply(sessionID string, seq uint64, recs []normalize.MessageRecord, fetchErr error) {
	m.mu.Lock()
	if seq != m.seq || sessionID != m.sessionID {
		m.mu.Unlock()
		m.log.Debug("dropping stale message fetch", zap.String("session", sessionID), zap.Uint64("seq", seq))
		return
	}
	m.loading = false
	if fetchErr != nil {
		m.loadErr = fetchErr
		m.mu.Unlock()
		m.log.Warn("fetch messages failed", zap.String("session", sessionID), zap.Error(fetchErr))
		m.bus.Publish(Event{Kind: MessagesChanged, SessionID: sessionID})
		return
	}

	msgs, errs := normalize.Messages(recs)
	kept := msgs[:0]
	for _, msg := range msgs {
		if msg.SessionID != sessionID {
			m.log.Error("dropping message from another session",
				zap.String("message", msg.ID), zap.String("session", msg.SessionID), zap.String("displayed", sessionID))
			continue
		}
		kept = append(kept, msg)
	}
	m.entries.Reset(kept)
	m.loaded = true
	m.loadErr = nil
	for _, msg := range m.replay {
		m.entries.Upsert(msg)
	}
	m.replay = nil
	m.reapplyLocked()
	m.mu.Unlock()

	for _, e := range errs {
		m.log.Error("dropping malformed message", zap.String("kind", string(normalize.KindMessage)), zap.Error(e))
	}
	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: sessionID})
}

// reapplyLocked puts the displayed session's in-flight user message back
// after the log was replaced.
func (m *MessageStore) reapplyLocked() {
	a := m.attempts[m.sessionID]
	if a == nil {
		return
	}
	if !m.entries.Has(a.user.ID) {
		m.entries.Append(a.user)
	}
}

// Fetch reloads the log of the active session, replacing it entirely.
func (m *MessageStore) Fetch(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if sessionID == "" || sessionID != m.sessionID {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrNotActive, sessionID)
	}
	m.seq++
	seq := m.seq
	m.loading = true
	m.mu.Unlock()

	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: sessionID})
	return m.load(ctx, sessionID, seq)
}

// Send runs one send attempt: post the user message, then ask for the AI
// answer. It creates a session first when none is active. The returned
// message is the AI answer.
func (m *MessageStore) Send(ctx context.Context, draft model.Draft) (model.Message, error) {
	if strings.TrimSpace(draft.Text) == "" && draft.ImageRef == "" {
		return model.Message{}, model.ErrEmptyMessage
	}

	m.mu.Lock()
	if m.provisioning {
		m.mu.Unlock()
		return model.Message{}, model.ErrSendInFlight
	}
	sessionID := m.sessionID
	var a *attempt
	if sessionID == "" {
		m.provisioning = true
	} else {
		if m.attempts[sessionID] != nil {
			m.mu.Unlock()
			return model.Message{}, model.ErrSendInFlight
		}
		a = m.beginLocked(sessionID, draft)
	}
	m.mu.Unlock()

	if a == nil {
		sess, err := m.sessions.Create(ctx, "")
		m.mu.Lock()
		m.provisioning = false
		if err != nil {
			m.mu.Unlock()
			m.log.Warn("auto-create session failed", zap.Error(err))
			return model.Message{}, err
		}
		if m.attempts[sess.ID] != nil {
			m.mu.Unlock()
			return model.Message{}, model.ErrSendInFlight
		}
		sessionID = sess.ID
		a = m.beginLocked(sessionID, draft)
		m.mu.Unlock()
	}
	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: sessionID})

	rec, err := m.backend.SendMessage(ctx, sessionID, draft.Text, draft.ImageRef)
	if err != nil {
		return model.Message{}, m.fail(a, fmt.Errorf("send message: %w", err))
	}
	confirmed, err := normalize.Message(rec)
	if err != nil {
		m.log.Error("send returned malformed message", zap.String("kind", string(normalize.KindMessage)), zap.Error(err))
		return model.Message{}, m.fail(a, fmt.Errorf("send message: %w", err))
	}
	confirmed.SessionID = sessionID
	if !m.confirm(a, confirmed) {
		return model.Message{}, fmt.Errorf("%w: %s", model.ErrDiscarded, sessionID)
	}

	aiRec, err := m.backend.RequestAIResponse(ctx, sessionID, confirmed.ID)
	if err != nil {
		return model.Message{}, m.fail(a, fmt.Errorf("request ai response: %w", err))
	}
	answer, err := normalize.Message(aiRec)
	if err != nil {
		m.log.Error("ai response is malformed", zap.String("kind", string(normalize.KindMessage)), zap.Error(err))
		return model.Message{}, m.fail(a, fmt.Errorf("request ai response: %w", err))
	}
	answer.SessionID = sessionID
	m.settle(a, answer)
	return answer, nil
}

func (m *MessageStore) beginLocked(sessionID string, draft model.Draft) *attempt {
	user := model.Message{
		ID:          ProvisionalPrefix + m.newID(),
		SessionID:   sessionID,
		Sender:      model.SenderUser,
		Text:        draft.Text,
		ImageRef:    draft.ImageRef,
		CreatedAt:   m.now(),
		Provisional: true,
	}
	a := &attempt{sessionID: sessionID, phase: PhaseSending, provisionalID: user.ID, user: user}
	m.attempts[sessionID] = a
	if m.sessionID == sessionID {
		m.entries.Append(user)
	}
	return a
}

// confirm promotes the provisional entry in place. It reports false when
// the attempt was discarded because its session was deleted.
func (m *MessageStore) confirm(a *attempt, confirmed model.Message) bool {
	m.mu.Lock()
	if m.attempts[a.sessionID] != a {
		m.mu.Unlock()
		return false
	}
	a.user = confirmed
	a.phase = PhaseAwaitingAI
	if m.sessionID == a.sessionID {
		if !m.entries.Replace(a.provisionalID, confirmed) {
			m.entries.Upsert(confirmed)
		}
	}
	m.mu.Unlock()

	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: a.sessionID})
	return true
}

func (m *MessageStore) settle(a *attempt, answer model.Message) {
	m.mu.Lock()
	if m.attempts[a.sessionID] == a {
		delete(m.attempts, a.sessionID)
	}
	displayed := m.sessionID == a.sessionID
	if displayed {
		m.entries.Upsert(a.user)
		m.entries.Upsert(answer)
		if !m.loaded {
			m.replay = append(m.replay, a.user, answer)
		}
	}
	m.mu.Unlock()

	m.log.Debug("send settled", zap.String("session", a.sessionID), zap.Bool("displayed", displayed))
	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: a.sessionID})
}

func (m *MessageStore) fail(a *attempt, err error) error {
	m.mu.Lock()
	if m.attempts[a.sessionID] == a {
		delete(m.attempts, a.sessionID)
	}
	if m.sessionID == a.sessionID {
		m.entries.Remove(a.provisionalID)
		m.entries.Remove(a.user.ID)
	}
	m.mu.Unlock()

	m.log.Warn("send failed", zap.String("session", a.sessionID), zap.Error(err))
	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: a.sessionID})
	return err
}

// Delete removes a confirmed message of the displayed log after the server
// confirms.
func (m *MessageStore) Delete(ctx context.Context, messageID string) error {
	m.mu.Lock()
	msg, ok := m.entries.Get(messageID)
	sessionID := m.sessionID
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownMessage, messageID)
	}
	if msg.Provisional {
		return fmt.Errorf("%w: %s", model.ErrProvisional, messageID)
	}

	if err := m.backend.DeleteMessage(ctx, messageID); err != nil {
		m.log.Warn("delete message failed", zap.String("message", messageID), zap.Error(err))
		return fmt.Errorf("delete message: %w", err)
	}

	m.mu.Lock()
	if m.sessionID == sessionID {
		m.entries.Remove(messageID)
	}
	m.mu.Unlock()

	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: sessionID})
	return nil
}

// Clear empties the displayed log without touching the server.
func (m *MessageStore) Clear() {
	m.mu.Lock()
	m.entries = newMessageLog()
	m.replay = nil
	sessionID := m.sessionID
	m.mu.Unlock()

	m.bus.Publish(Event{Kind: MessagesChanged, SessionID: sessionID})
}

// Export renders the loaded log as a plain transcript.
func (m *MessageStore) Export() string {
	m.mu.Lock()
	msgs := m.entries.Values()
	m.mu.Unlock()
	return export.BuildTranscript(msgs)
}

func (m *MessageStore) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Values()
}

func (m *MessageStore) Snapshot() MessagesSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MessagesSnapshot{
		SessionID: m.sessionID,
		Messages:  m.entries.Values(),
		Loading:   m.loading,
		Loaded:    m.loaded,
		Composing: m.composingLocked(),
		Err:       m.loadErr,
	}
}

// Composing reports whether the displayed session waits for an AI answer.
func (m *MessageStore) Composing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.composingLocked()
}

func (m *MessageStore) composingLocked() bool {
	a := m.attempts[m.sessionID]
	return a != nil && a.phase == PhaseAwaitingAI
}

func (m *MessageStore) SendState(sessionID string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.attempts[sessionID]; a != nil {
		return a.phase
	}
	return PhaseIdle
}
