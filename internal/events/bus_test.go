package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
	want   int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) handle(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) == r.want {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestTypedSubscription(t *testing.T) {
	t.Parallel()

	bus := New()
	rec := newRecorder(1)
	bus.Subscribe(EventTypeSessionTransition, rec.handle)

	bus.Publish(Event{Type: EventTypeWarning, Spec: "auth"})
	bus.Publish(Event{Type: EventTypeSessionTransition, Spec: "auth", Severity: SeverityInfo})

	got := rec.wait(t)
	require.Len(t, got, 1)
	assert.Equal(t, EventTypeSessionTransition, got[0].Type)
	assert.Equal(t, "auth", got[0].Spec)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestWildcardSubscription(t *testing.T) {
	t.Parallel()

	bus := New()
	rec := newRecorder(2)
	bus.SubscribeAll(rec.handle)

	bus.Publish(Event{Type: EventTypeSessionLog, Spec: "a"})
	bus.Publish(Event{Type: EventTypeProgress, Spec: "b"})

	got := rec.wait(t)
	assert.Len(t, got, 2)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	t.Parallel()

	var droppedMu sync.Mutex
	dropped := 0
	bus := New(
		WithBufferSize(1),
		WithLogger(logFunc(func(string, ...any) {
			droppedMu.Lock()
			dropped++
			droppedMu.Unlock()
		})),
	)

	block := make(chan struct{})
	bus.Subscribe(EventTypeSystemAlert, func(Event) {
		<-block
	})

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventTypeSystemAlert, Severity: SeverityError})
	}
	close(block)

	droppedMu.Lock()
	defer droppedMu.Unlock()
	assert.Positive(t, dropped, "overflow events must be dropped, not block the publisher")
}

func TestSubscribeIgnoresInvalidInput(t *testing.T) {
	t.Parallel()

	bus := New()
	bus.Subscribe("", func(Event) {})
	bus.Subscribe(EventTypeWarning, nil)
	bus.SubscribeAll(nil)
	bus.Publish(Event{Type: EventTypeWarning})
}

type logFunc func(format string, args ...any)

func (f logFunc) Printf(format string, args ...any) {
	f(format, args...)
}
