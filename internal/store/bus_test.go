package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geonli-desk/internal/model"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first:"+e.Kind.String()) })
	off := bus.Subscribe(func(e Event) { got = append(got, "second:"+e.Kind.String()) })
	bus.Subscribe(func(e Event) { got = append(got, "third:"+e.Kind.String()) })

	bus.Publish(Event{Kind: SessionsChanged})
	off()
	off()
	bus.Publish(Event{Kind: ProjectsChanged})

	assert.Equal(t, []string{
		"first:sessions-changed", "second:sessions-changed", "third:sessions-changed",
		"first:projects-changed", "third:projects-changed",
	}, got)
}

func TestBusHandlersMayPublish(t *testing.T) {
	bus := NewBus()
	var got []EventKind
	bus.Subscribe(func(e Event) {
		if e.Kind == ActiveSessionChanged {
			bus.Publish(Event{Kind: MessagesChanged})
		}
	})
	bus.Subscribe(func(e Event) { got = append(got, e.Kind) })

	bus.Publish(Event{Kind: ActiveSessionChanged})
	assert.Equal(t, []EventKind{MessagesChanged, ActiveSessionChanged}, got)
}

func TestNotifyCoalesces(t *testing.T) {
	bus := NewBus()
	ch, off := bus.Notify()
	defer off()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: UIChanged})
	}
	select {
	case <-ch:
	default:
		t.Fatal("expected a wakeup")
	}
	select {
	case <-ch:
		t.Fatal("burst should collapse into one wakeup")
	default:
	}
}

func TestOrderedReplaceKeepsPosition(t *testing.T) {
	o := newOrdered(func(m model.Message) string { return m.ID })
	o.Append(model.Message{ID: "a"})
	o.Append(model.Message{ID: "local-1", Provisional: true})
	o.Append(model.Message{ID: "c"})

	require.True(t, o.Replace("local-1", model.Message{ID: "b"}))
	assert.Equal(t, []string{"a", "b", "c"}, messageIDs(o.Values()))
	assert.False(t, o.Has("local-1"))
	assert.False(t, o.Replace("missing", model.Message{ID: "z"}))

	// Replacing into an id already present keeps the existing slot.
	o.Append(model.Message{ID: "local-2"})
	require.True(t, o.Replace("local-2", model.Message{ID: "a", Text: "merged"}))
	assert.Equal(t, []string{"a", "b", "c"}, messageIDs(o.Values()))
	got, _ := o.Get("a")
	assert.Equal(t, "merged", got.Text)
}

func TestOrderedPushFrontAndReset(t *testing.T) {
	o := newOrdered(func(s model.Session) string { return s.ID })
	o.Append(model.Session{ID: "b"})
	o.PushFront(model.Session{ID: "a"})
	o.PushFront(model.Session{ID: "b", Name: "renamed"})
	assert.Equal(t, []string{"a", "b"}, sessionIDs(o.Values()))
	got, _ := o.Get("b")
	assert.Equal(t, "renamed", got.Name)

	o.Reset([]model.Session{{ID: "x"}, {ID: "y"}, {ID: "x", Name: "dup"}})
	assert.Equal(t, []string{"x", "y"}, sessionIDs(o.Values()))
	assert.Equal(t, 1, o.Index("y"))
	assert.True(t, o.Remove("x"))
	assert.Equal(t, -1, o.Index("x"))
	assert.Equal(t, 1, o.Len())
}
