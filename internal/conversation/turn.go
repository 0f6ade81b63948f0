package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/comigor/notarobot/internal/logger"
	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
)

// Turn states
const (
	StateReceived    = "Received"
	StateRecorded    = "Recorded"
	StateCalling     = "Calling"
	StateReplied     = "Replied"
	StatePersisted   = "Persisted"    // Terminal: reply stored
	StateUnavailable = "Unavailable"  // Terminal: remote call timed out
	StateFailed      = "Failed"       // Terminal: remote or internal failure
)

// Turn triggers
const (
	TriggerRecord  = "Record"
	TriggerCall    = "Call"
	TriggerReply   = "Reply"
	TriggerTimeout = "Timeout"
	TriggerFail    = "Fail"
	TriggerPersist = "Persist"
)

// persistFunc stores the assistant reply of a turn.
type persistFunc func(ctx context.Context, reply string) error

// turn drives one submit_turn through its lifecycle. Persisting is only
// reachable from Replied, and Persisted has no exits, so a reply can never be
// stored twice or after the turn gave up on the remote call.
type turn struct {
	id  string
	fsm *stateless.StateMachine
	log *slog.Logger
}

func newTurn(author string, persist persistFunc) *turn {
	t := &turn{
		id:  uuid.NewString(),
		fsm: stateless.NewStateMachine(StateReceived),
	}
	t.log = logger.L.With("turn", t.id, "author", author)

	t.fsm.Configure(StateReceived).
		Permit(TriggerRecord, StateRecorded)

	t.fsm.Configure(StateRecorded).
		Permit(TriggerCall, StateCalling)

	t.fsm.Configure(StateCalling).
		Permit(TriggerReply, StateReplied).
		Permit(TriggerTimeout, StateUnavailable).
		Permit(TriggerFail, StateFailed)

	t.fsm.Configure(StateReplied).
		Permit(TriggerPersist, StatePersisted)

	t.fsm.Configure(StatePersisted).
		OnEntry(func(ctx context.Context, args ...any) error {
			if len(args) != 1 {
				return fmt.Errorf("persist expects the reply, got %d args", len(args))
			}
			reply, ok := args[0].(string)
			if !ok {
				return fmt.Errorf("persist expects a string reply, got %T", args[0])
			}
			return persist(ctx, reply)
		})

	t.fsm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		t.log.Debug("turn transition", "from", tr.Source, "to", tr.Destination, "trigger", tr.Trigger)
	})
	return t
}

func (t *turn) fire(ctx context.Context, trigger string, args ...any) error {
	return t.fsm.FireCtx(ctx, trigger, args...)
}

func (t *turn) state() string {
	s, _ := t.fsm.MustState().(string)
	return s
}
