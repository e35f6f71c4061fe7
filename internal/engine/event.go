package engine

import (
	"context"
	"log"
)

// Action classifies a mutation event for downstream consumers.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// MutationEvent is published once per successful operation. A merge is
// reported as update when it superseded a prior published head and as
// create when it published an object for the first time.
type MutationEvent struct {
	Kind     Kind
	StaticID string
	RowID    int64
	Action   Action
}

// Emitter receives mutation events after the operation's transaction has
// committed. Emit must not fail the operation; consumers log their own
// errors.
type Emitter interface {
	Emit(ctx context.Context, event MutationEvent)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, event MutationEvent)

func (f EmitterFunc) Emit(ctx context.Context, event MutationEvent) {
	f(ctx, event)
}

// FanOut delivers each event to every emitter in order.
type FanOut []Emitter

func (emitters FanOut) Emit(ctx context.Context, event MutationEvent) {
	for _, emitter := range emitters {
		emitter.Emit(ctx, event)
	}
}

// NopEmitter drops events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, MutationEvent) {}

// LogEmitter writes events to the process log. Used as a default when no
// consumers are wired.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event MutationEvent) {
	log.Printf("engine: %s %s static=%s row=%d", event.Action, event.Kind, event.StaticID, event.RowID)
}
