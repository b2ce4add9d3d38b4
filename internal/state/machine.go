// Package state validates session lifecycle transitions against a fixed
// transition table and records them for inspection.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/events"
)

// Session lifecycle states. Terminal display states revert to Idle once the
// session is acknowledged or restarted.
const (
	Idle      = "idle"
	Starting  = "starting"
	Running   = "running"
	Stopping  = "stopping"
	Succeeded = "succeeded"
	Failed    = "failed"
	TimedOut  = "timed_out"
	Crashed   = "crashed"
)

var allowedTransitions = map[string]map[string]struct{}{
	Idle: {
		Starting: {},
	},
	Starting: {
		Running: {},
		Failed:  {},
		// An aborted start (e.g. commit blocker held elsewhere) returns to idle.
		Idle: {},
	},
	Running: {
		Stopping:  {},
		Succeeded: {},
		Failed:    {},
		TimedOut:  {},
		Crashed:   {},
	},
	Stopping: {
		Idle: {},
	},
	Succeeded: {
		Idle: {},
	},
	Failed: {
		Idle: {},
	},
	TimedOut: {
		Idle: {},
	},
	Crashed: {
		Idle: {},
	},
}

// Terminal reports whether a state is a terminal display state.
func Terminal(state string) bool {
	switch state {
	case Succeeded, Failed, TimedOut, Crashed:
		return true
	default:
		return false
	}
}

// IllegalTransitionError is returned for a disallowed transition.
type IllegalTransitionError struct {
	Spec      string
	FromState string
	ToState   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf(
		"cannot transition session %q from %q to %q: illegal transition for session lifecycle",
		e.Spec,
		e.FromState,
		e.ToState,
	)
}

// Is enables errors.Is checks for illegal transition failures.
func (e *IllegalTransitionError) Is(target error) bool {
	_, ok := target.(*IllegalTransitionError)
	return ok
}

// TransitionRecord stores transition metadata for local history.
type TransitionRecord struct {
	Spec      string
	FromState string
	ToState   string
	Reason    string
	Timestamp time.Time
}

// Option configures Machine construction.
type Option func(*Machine)

// WithTracer configures the tracer used for state transition spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(machine *Machine) {
		if tracer == nil {
			return
		}
		machine.tracer = tracer
	}
}

// WithBus configures the event bus that receives transition notifications.
func WithBus(bus events.Bus) Option {
	return func(machine *Machine) {
		machine.bus = bus
	}
}

// WithClock configures the timestamp source for transition records.
func WithClock(now func() time.Time) Option {
	return func(machine *Machine) {
		if now == nil {
			return
		}
		machine.now = now
	}
}

// Machine validates session lifecycle transitions and keeps local history.
type Machine struct {
	tracer  trace.Tracer
	bus     events.Bus
	now     func() time.Time
	history []TransitionRecord
}

// NewMachine builds a session lifecycle state machine.
func NewMachine(options ...Option) *Machine {
	machine := &Machine{
		tracer:  otel.Tracer("swrun/state"),
		now:     time.Now,
		history: []TransitionRecord{},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(machine)
	}
	return machine
}

// Transition validates and records one session state transition.
func (m *Machine) Transition(ctx context.Context, spec, fromState, toState, reason string) error {
	if m == nil {
		return errors.New("machine is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := m.tracer.Start(ctx, "session.transition")
	defer span.End()

	spec = strings.TrimSpace(spec)
	fromState = strings.TrimSpace(fromState)
	toState = strings.TrimSpace(toState)
	reason = strings.TrimSpace(reason)
	span.SetAttributes(
		attribute.String("spec", spec),
		attribute.String("from_state", fromState),
		attribute.String("to_state", toState),
		attribute.String("reason", reason),
	)

	if spec == "" {
		err := errors.New("spec must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if fromState == "" || toState == "" {
		err := errors.New("from and to states must not be empty")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if !isAllowed(fromState, toState) {
		err := &IllegalTransitionError{
			Spec:      spec,
			FromState: fromState,
			ToState:   toState,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	record := TransitionRecord{
		Spec:      spec,
		FromState: fromState,
		ToState:   toState,
		Reason:    reason,
		Timestamp: m.now().UTC(),
	}
	m.history = append(m.history, record)

	if m.bus != nil {
		severity := events.SeverityInfo
		if toState == Failed || toState == Crashed {
			severity = events.SeverityError
		}
		m.bus.Publish(events.Event{
			Type:     events.EventTypeSessionTransition,
			Spec:     spec,
			Payload:  record,
			Severity: severity,
		})
	}

	span.SetStatus(codes.Ok, "session transition recorded")

	_ = ctx
	return nil
}

// History returns transition records captured by this machine.
func (m *Machine) History() []TransitionRecord {
	if m == nil {
		return nil
	}
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

func isAllowed(fromState, toState string) bool {
	nextStates, ok := allowedTransitions[fromState]
	if !ok {
		return false
	}
	_, ok = nextStates[toState]
	return ok
}
