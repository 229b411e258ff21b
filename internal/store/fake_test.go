package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend is an in-memory backend whose calls can be held open with
// gates to reproduce slow networks.
type fakeBackend struct {
	mu       sync.Mutex
	next     int
	clock    time.Time
	sessions []normalize.SessionRecord
	logs     map[string][]normalize.MessageRecord
	projects []normalize.ProjectRecord
	calls    map[string]int
	listed   map[string]int

	listGate   map[string]chan struct{}
	deleteGate chan struct{}
	sendGate   chan struct{}
	aiGate     chan struct{}

	sendErr error
	aiErr   error
}

func newFake() *fakeBackend {
	return &fakeBackend{
		clock:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		logs:     make(map[string][]normalize.MessageRecord),
		calls:    make(map[string]int),
		listed:   make(map[string]int),
		listGate: make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) tick() normalize.Timestamp {
	f.clock = f.clock.Add(time.Second)
	return normalize.NewTimestamp(f.clock)
}

func (f *fakeBackend) id(prefix string) string {
	f.next++
	return fmt.Sprintf("%s%d", prefix, f.next)
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// addSession appends a session in server order and seeds its log with
// alternating user and ai messages.
func (f *fakeBackend) addSession(id, name string, archived bool, texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, normalize.SessionRecord{LegacyID: id, Name: name, Archived: archived, CreatedAt: f.tick(), UpdatedAt: f.tick()})
	for i, text := range texts {
		sender := "user"
		if i%2 == 1 {
			sender = "ai"
		}
		f.logs[id] = append(f.logs[id], normalize.MessageRecord{
			LegacyID: fmt.Sprintf("%s-m%d", id, i+1), SessionID: id, Sender: sender, Text: text, CreatedAt: f.tick(),
		})
	}
}

func (f *fakeBackend) ListSessions(ctx context.Context) ([]normalize.SessionRecord, error) {
	f.hit("ListSessions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]normalize.SessionRecord(nil), f.sessions...), nil
}

func (f *fakeBackend) CreateSession(ctx context.Context, name string) (normalize.SessionRecord, error) {
	f.hit("CreateSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := normalize.SessionRecord{LegacyID: f.id("new-"), Name: name, CreatedAt: f.tick(), UpdatedAt: f.tick()}
	f.sessions = append([]normalize.SessionRecord{rec}, f.sessions...)
	return rec, nil
}

func (f *fakeBackend) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (normalize.SessionRecord, error) {
	f.hit("UpdateSession")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sessions {
		if s.LegacyID != id {
			continue
		}
		if patch.Name != nil {
			s.Name = *patch.Name
		}
		if patch.Archived != nil {
			s.Archived = *patch.Archived
		}
		if patch.ProjectID != nil {
			if *patch.ProjectID == "" {
				s.ProjectID = nil
			} else {
				p := *patch.ProjectID
				s.ProjectID = &p
			}
		}
		s.UpdatedAt = f.tick()
		f.sessions[i] = s
		return s, nil
	}
	return normalize.SessionRecord{}, fmt.Errorf("%w: session %s not found", model.ErrNetwork, id)
}

func (f *fakeBackend) DeleteSession(ctx context.Context, id string) error {
	f.hit("DeleteSession")
	f.mu.Lock()
	gate := f.deleteGate
	f.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sessions {
		if s.LegacyID == id {
			f.sessions = append(f.sessions[:i:i], f.sessions[i+1:]...)
			delete(f.logs, id)
			return nil
		}
	}
	return fmt.Errorf("%w: session %s not found", model.ErrNetwork, id)
}

func (f *fakeBackend) ShareSession(ctx context.Context, id string) (string, error) {
	f.hit("ShareSession")
	return "https://share.test/" + id, nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, sessionID string) ([]normalize.MessageRecord, error) {
	f.mu.Lock()
	f.calls["ListMessages"]++
	f.listed[sessionID]++
	gate := f.listGate[sessionID]
	// The response is produced now and delivered when the gate opens.
	out := append([]normalize.MessageRecord(nil), f.logs[sessionID]...)
	f.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeBackend) listedFor(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed[sessionID]
}

func (f *fakeBackend) SendMessage(ctx context.Context, sessionID, text, imageRef string) (normalize.MessageRecord, error) {
	f.hit("SendMessage")
	f.mu.Lock()
	gate, sendErr := f.sendGate, f.sendErr
	f.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return normalize.MessageRecord{}, err
	}
	if sendErr != nil {
		return normalize.MessageRecord{}, sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var image *string
	if imageRef != "" {
		image = &imageRef
	}
	rec := normalize.MessageRecord{LegacyID: f.id("srv-"), SessionID: sessionID, Sender: "user", Text: text, ImageData: image, CreatedAt: f.tick()}
	f.logs[sessionID] = append(f.logs[sessionID], rec)
	return rec, nil
}

func (f *fakeBackend) RequestAIResponse(ctx context.Context, sessionID, messageID string) (normalize.MessageRecord, error) {
	f.hit("RequestAIResponse")
	f.mu.Lock()
	gate, aiErr := f.aiGate, f.aiErr
	f.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return normalize.MessageRecord{}, err
	}
	if aiErr != nil {
		return normalize.MessageRecord{}, aiErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := normalize.MessageRecord{ID: f.id("ai-"), SessionID: sessionID, Sender: "ai", Text: "answer to " + messageID, CreatedAt: f.tick()}
	f.logs[sessionID] = append(f.logs[sessionID], rec)
	return rec, nil
}

func (f *fakeBackend) DeleteMessage(ctx context.Context, id string) error {
	f.hit("DeleteMessage")
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, log := range f.logs {
		for i, m := range log {
			if m.LegacyID == id || m.ID == id {
				f.logs[sid] = append(log[:i:i], log[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: message %s not found", model.ErrNetwork, id)
}

func (f *fakeBackend) ListProjects(ctx context.Context) ([]normalize.ProjectRecord, error) {
	f.hit("ListProjects")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]normalize.ProjectRecord(nil), f.projects...), nil
}

func (f *fakeBackend) CreateProject(ctx context.Context, draft model.ProjectDraft) (normalize.ProjectRecord, error) {
	f.hit("CreateProject")
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := normalize.ProjectRecord{LegacyID: f.id("p-"), Name: draft.Name, Description: draft.Description, Color: draft.Color, CreatedAt: f.tick()}
	f.projects = append([]normalize.ProjectRecord{rec}, f.projects...)
	return rec, nil
}

func (f *fakeBackend) UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) (normalize.ProjectRecord, error) {
	f.hit("UpdateProject")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.projects {
		if p.LegacyID != id {
			continue
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		if patch.Color != nil {
			p.Color = *patch.Color
		}
		f.projects[i] = p
		return p, nil
	}
	return normalize.ProjectRecord{}, fmt.Errorf("%w: project %s not found", model.ErrNetwork, id)
}

// DeleteProject leaves session references alone so tests can observe the
// client clearing them.
func (f *fakeBackend) DeleteProject(ctx context.Context, id string) error {
	f.hit("DeleteProject")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.projects {
		if p.LegacyID == id {
			f.projects = append(f.projects[:i:i], f.projects[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: project %s not found", model.ErrNetwork, id)
}

func (f *fakeBackend) ProjectSessions(ctx context.Context, projectID string) ([]normalize.SessionRecord, error) {
	f.hit("ProjectSessions")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []normalize.SessionRecord
	for _, s := range f.sessions {
		if s.ProjectID != nil && *s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	return out, nil
}

type memPrefs struct {
	mu sync.Mutex
	kv map[string]string
}

func (p *memPrefs) Get(key string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.kv[key]
	return v, ok, nil
}

func (p *memPrefs) Set(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.kv == nil {
		p.kv = make(map[string]string)
	}
	p.kv[key] = value
	return nil
}

type failingClipboard struct{ err error }

func (c failingClipboard) Copy(string) error { return c.err }

func newTestApp(t *testing.T, f *fakeBackend) *App {
	t.Helper()
	n := 0
	app := New(Deps{
		Sessions: f,
		Messages: f,
		Projects: f,
		NewID: func() string {
			n++
			return fmt.Sprintf("p%d", n)
		},
	})
	t.Cleanup(app.Close)
	return app
}

func bootstrap(t *testing.T, app *App) {
	t.Helper()
	require.NoError(t, app.Bootstrap(context.Background()))
	if id := app.Sessions.ActiveID(); id != "" {
		waitLoaded(t, app, id)
	}
}

func waitLoaded(t *testing.T, app *App, sessionID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := app.Messages.Snapshot()
		return s.SessionID == sessionID && s.Loaded && !s.Loading
	}, waitFor, tick, "log of %s never loaded", sessionID)
}

func sessionIDs(list []model.Session) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}

func messageIDs(list []model.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}
