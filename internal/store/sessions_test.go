package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geonli-desk/internal/backend"
	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(t *testing.T, bus *Bus) *recorder {
	r := &recorder{}
	t.Cleanup(bus.Subscribe(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}))
	return r
}

func (r *recorder) of(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestLoadKeepsServerOrderAndSelectsFirstNonArchived(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", true)
	f.addSession("s2", "Quarry", false)
	f.addSession("s3", "Ridge", false)
	app := newTestApp(t, f)
	rec := record(t, app.Bus)

	bootstrap(t, app)

	assert.Equal(t, []string{"s1", "s2", "s3"}, sessionIDs(app.Sessions.Sessions()))
	assert.Equal(t, "s2", app.Sessions.ActiveID())
	active := rec.of(ActiveSessionChanged)
	require.Len(t, active, 1)
	assert.Equal(t, ReasonLoaded, active[0].Reason)
}

func TestLoadAcceptsBothIdentifierFields(t *testing.T) {
	f := newFake()
	f.sessions = []normalize.SessionRecord{
		{LegacyID: "legacy-1", Name: "Old style"},
		{ID: "canon-2", Name: "New style"},
		{Name: "No identifier"},
		{ID: "canon-3", LegacyID: "ignored", Name: "Both"},
	}
	app := newTestApp(t, f)
	bootstrap(t, app)

	assert.Equal(t, []string{"legacy-1", "canon-2", "canon-3"}, sessionIDs(app.Sessions.Sessions()))
	for _, id := range []string{"legacy-1", "canon-2", "canon-3"} {
		_, ok := app.Sessions.Get(id)
		assert.True(t, ok, id)
	}
	require.NoError(t, app.Sessions.SetActive("canon-2"))
	waitLoaded(t, app, "canon-2")
}

func TestCreatePutsSessionFirstWithoutFetching(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false, "hello", "hi")
	app := newTestApp(t, f)
	bootstrap(t, app)
	rec := record(t, app.Bus)

	sess, err := app.Sessions.Create(context.Background(), "  ")
	require.NoError(t, err)

	assert.Equal(t, "New Analysis 2", sess.Name)
	assert.Equal(t, []string{sess.ID, "s1"}, sessionIDs(app.Sessions.Sessions()))
	assert.Equal(t, sess.ID, app.Sessions.ActiveID())

	snap := app.Messages.Snapshot()
	assert.Equal(t, sess.ID, snap.SessionID)
	assert.True(t, snap.Loaded)
	assert.Empty(t, snap.Messages)
	assert.Zero(t, f.listedFor(sess.ID))

	active := rec.of(ActiveSessionChanged)
	require.Len(t, active, 1)
	assert.Equal(t, Event{Kind: ActiveSessionChanged, SessionID: sess.ID, PreviousID: "s1", Reason: ReasonCreated}, active[0])
}

func TestCreateRejectsOverlongName(t *testing.T) {
	app := newTestApp(t, newFake())
	long := make([]rune, model.MaxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := app.Sessions.Create(context.Background(), string(long))
	assert.ErrorIs(t, err, model.ErrValidation)
}

// listHook takes the server list, then holds the response until release
// closes.
type listHook struct {
	backend.SessionBackend
	taken   chan struct{}
	release chan struct{}
}

func (h listHook) ListSessions(ctx context.Context) ([]normalize.SessionRecord, error) {
	recs, err := h.SessionBackend.ListSessions(ctx)
	close(h.taken)
	<-h.release
	return recs, err
}

func TestLoadPreservesSessionsCreatedMeanwhile(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	app := newTestApp(t, f)
	bootstrap(t, app)
	ctx := context.Background()

	hook := listHook{SessionBackend: f, taken: make(chan struct{}), release: make(chan struct{})}
	app.Sessions.backend = hook

	done := make(chan error, 1)
	go func() { done <- app.Sessions.Load(ctx) }()
	<-hook.taken

	created, err := app.Sessions.Create(ctx, "Fresh")
	require.NoError(t, err)
	close(hook.release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{created.ID, "s1"}, sessionIDs(app.Sessions.Sessions()))
	assert.Equal(t, created.ID, app.Sessions.ActiveID())

	// A later load sees the session in the server list and keeps one copy.
	app.Sessions.backend = f
	require.NoError(t, app.Sessions.Load(ctx))
	assert.Equal(t, []string{created.ID, "s1"}, sessionIDs(app.Sessions.Sessions()))
}

func TestUpdateReplacesInPlace(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", false)
	f.addSession("s3", "Ridge", false)
	app := newTestApp(t, f)
	bootstrap(t, app)

	before := app.Sessions.Sessions()
	renamed, err := app.Sessions.Rename(context.Background(), "s2", "  Quarry north  ")
	require.NoError(t, err)
	assert.Equal(t, "Quarry north", renamed.Name)

	after := app.Sessions.Sessions()
	assert.Equal(t, sessionIDs(before), sessionIDs(after))
	before[1].Name = "Quarry north"
	before[1].UpdatedAt = after[1].UpdatedAt
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("only the renamed session should change (-want +got):\n%s", diff)
	}
}

func TestUpdateValidation(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	app := newTestApp(t, f)
	bootstrap(t, app)
	ctx := context.Background()

	_, err := app.Sessions.Update(ctx, "s1", model.SessionPatch{})
	assert.ErrorIs(t, err, model.ErrEmptyPatch)
	_, err = app.Sessions.Rename(ctx, "s1", " ")
	assert.ErrorIs(t, err, model.ErrInvalidName)
	_, err = app.Sessions.Rename(ctx, "nope", "Name")
	assert.ErrorIs(t, err, model.ErrUnknownSession)
	assert.Zero(t, f.count("UpdateSession"))
}

func TestArchiveActiveMovesSelection(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", false)
	app := newTestApp(t, f)
	bootstrap(t, app)
	rec := record(t, app.Bus)

	_, err := app.Sessions.Archive(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "s2", app.Sessions.ActiveID())
	active := rec.of(ActiveSessionChanged)
	require.Len(t, active, 1)
	assert.Equal(t, ReasonArchived, active[0].Reason)
	waitLoaded(t, app, "s2")

	_, err = app.Sessions.Unarchive(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s2", app.Sessions.ActiveID(), "unarchiving does not steal the selection")
	assert.Equal(t, 2, app.Sessions.NonArchivedCount())
}

func TestDeleteNeverLeavesNoNonArchivedSession(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", true)
	app := newTestApp(t, f)
	bootstrap(t, app)
	ctx := context.Background()

	assert.ErrorIs(t, app.Sessions.Delete(ctx, "s1"), model.ErrLastSession)
	assert.ErrorIs(t, app.Sessions.Delete(ctx, "s2"), model.ErrLastSession)
	assert.ErrorIs(t, app.Sessions.Delete(ctx, "missing"), model.ErrUnknownSession)
	assert.Zero(t, f.count("DeleteSession"))
	assert.Equal(t, 1, app.Sessions.NonArchivedCount())
}

func TestDeleteCountsDeletesInFlight(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", false)
	f.addSession("s3", "Ridge", false)
	gate := make(chan struct{})
	f.deleteGate = gate
	app := newTestApp(t, f)
	bootstrap(t, app)
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() { errs <- app.Sessions.Delete(ctx, "s1") }()
	require.Eventually(t, func() bool { return f.count("DeleteSession") == 1 }, waitFor, tick)
	go func() { errs <- app.Sessions.Delete(ctx, "s2") }()
	require.Eventually(t, func() bool { return f.count("DeleteSession") == 2 }, waitFor, tick)

	err := app.Sessions.Delete(ctx, "s3")
	assert.ErrorIs(t, err, model.ErrLastSession)
	assert.True(t, errors.Is(app.Sessions.Delete(ctx, "s1"), model.ErrValidation), "duplicate delete is refused")

	close(gate)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, []string{"s3"}, sessionIDs(app.Sessions.Sessions()))
	assert.Equal(t, "s3", app.Sessions.ActiveID())
}

func TestDeleteActivePublishesInOrder(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", false)
	app := newTestApp(t, f)
	bootstrap(t, app)

	var kinds []EventKind
	unsubscribe := app.Bus.Subscribe(func(e Event) {
		if e.Kind != MessagesChanged {
			kinds = append(kinds, e.Kind)
		}
	})
	defer unsubscribe()

	require.NoError(t, app.Sessions.Delete(context.Background(), "s1"))
	assert.Equal(t, []EventKind{SessionRemoved, SessionsChanged, ActiveSessionChanged}, kinds)
	assert.Equal(t, "s2", app.Sessions.ActiveID())
}

func TestUpdateDoesNotResurrectDeletedSession(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", false)
	app := newTestApp(t, f)
	bootstrap(t, app)
	ctx := context.Background()

	// The update reaches the server before the session is gone locally.
	inner := app.Sessions.backend
	app.Sessions.backend = updateHook{SessionBackend: inner, before: func() {
		require.NoError(t, app.Sessions.Delete(ctx, "s2"))
	}}

	_, err := app.Sessions.Rename(ctx, "s2", "Quarry renamed")
	require.NoError(t, err)
	_, ok := app.Sessions.Get("s2")
	assert.False(t, ok)

	f.mu.Lock()
	f.sessions = append(f.sessions, normalize.SessionRecord{LegacyID: "s2", Name: "Quarry"})
	f.mu.Unlock()
	require.NoError(t, app.Sessions.Load(ctx))
	_, ok = app.Sessions.Get("s2")
	assert.False(t, ok, "a stale list does not bring a deleted session back")
}

type updateHook struct {
	backend.SessionBackend
	before func()
}

func (h updateHook) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (normalize.SessionRecord, error) {
	rec, err := h.SessionBackend.UpdateSession(ctx, id, patch)
	h.before()
	return rec, err
}

func TestSetActive(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", false)
	app := newTestApp(t, f)
	bootstrap(t, app)

	assert.ErrorIs(t, app.Sessions.SetActive("missing"), model.ErrUnknownSession)
	require.NoError(t, app.Sessions.SetActive("s2"))
	assert.Equal(t, "s2", app.Messages.Snapshot().SessionID, "the log switches synchronously")
	waitLoaded(t, app, "s2")

	require.NoError(t, app.Sessions.SetActive(""))
	snap := app.Messages.Snapshot()
	assert.Empty(t, snap.SessionID)
	assert.True(t, snap.Loaded)
	assert.Empty(t, snap.Messages)
}

func TestShareReturnsLinkWhenClipboardFails(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	boom := errors.New("no display")
	app := New(Deps{Sessions: f, Messages: f, Projects: f, Clipboard: failingClipboard{err: boom}})
	t.Cleanup(app.Close)
	bootstrap(t, app)

	link, err := app.Sessions.Share(context.Background(), "s1")
	assert.Equal(t, "https://share.test/s1", link)
	assert.ErrorIs(t, err, boom)

	_, err = app.Sessions.Share(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrUnknownSession)
	assert.Equal(t, 1, f.count("ShareSession"))
}

func TestDefaultSessionName(t *testing.T) {
	assert.Equal(t, "New Analysis 1", DefaultSessionName(0))
	assert.Equal(t, "New Analysis 5", DefaultSessionName(4))
}

// malformedSessions answers writes with records that have no identifier.
type malformedSessions struct {
	*fakeBackend
}

func (m malformedSessions) CreateSession(ctx context.Context, name string) (normalize.SessionRecord, error) {
	m.hit("CreateSession")
	return normalize.SessionRecord{Name: name}, nil
}

func (m malformedSessions) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (normalize.SessionRecord, error) {
	m.hit("UpdateSession")
	return normalize.SessionRecord{Name: "renamed"}, nil
}

func TestMalformedWriteRepliesAreNotStored(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	app := newTestApp(t, f)
	bootstrap(t, app)
	app.Sessions.backend = malformedSessions{f}
	before := app.Sessions.Sessions()

	_, err := app.Sessions.Create(context.Background(), "Quarry")
	require.ErrorIs(t, err, model.ErrMalformedEntity)
	_, err = app.Sessions.Rename(context.Background(), "s1", "Other")
	require.ErrorIs(t, err, model.ErrMalformedEntity)

	if diff := cmp.Diff(before, app.Sessions.Sessions()); diff != "" {
		t.Fatalf("sessions changed (-want +got):\n%s", diff)
	}
	assert.Equal(t, "s1", app.Sessions.ActiveID())
}

func TestDeleteActiveSkipsArchivedWhenReselecting(t *testing.T) {
	f := newFake()
	f.addSession("s1", "Harbor", false)
	f.addSession("s2", "Quarry", true)
	f.addSession("s3", "Ridge", false)
	app := newTestApp(t, f)
	bootstrap(t, app)
	require.Equal(t, "s1", app.Sessions.ActiveID())

	require.NoError(t, app.Sessions.Delete(context.Background(), "s1"))
	assert.Equal(t, []string{"s2", "s3"}, sessionIDs(app.Sessions.Sessions()))
	assert.Equal(t, "s3", app.Sessions.ActiveID())
	waitLoaded(t, app, "s3")
}
