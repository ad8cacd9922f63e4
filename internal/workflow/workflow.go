// Package workflow drives an invocation's continuation chain: an ordered list
// of steps run against a host Session. A host step dispatches a message and
// may name a reply handler that sees its acknowledgment. A self step calls
// back into the agent. Steps returned by a handler run immediately after the
// step that produced them, before its remaining siblings.
//
// Any failure aborts the chain. The caller owns the Session and rolls it back.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/atmx/auction-pool/internal/host"
)

var (
	// ErrSubMsgFailure wraps a failed host dispatch.
	ErrSubMsgFailure = errors.New("workflow: sub-operation failed")

	// ErrUnknownContinuation is a protocol error: a step named a reply or
	// call that no handler is registered for.
	ErrUnknownContinuation = errors.New("workflow: unknown continuation")

	// ErrEmptyStep is returned for a step with neither a message nor a call.
	ErrEmptyStep = errors.New("workflow: step has no message or call")
)

// Step is one unit of the chain. Exactly one of Msg and Call is set.
type Step struct {
	Msg     host.Msg
	Call    string
	Reply   string
	Payload any
}

// Dispatch is a host step with no reply handler.
func Dispatch(msg host.Msg) Step { return Step{Msg: msg} }

// DispatchReply is a host step whose acknowledgment goes to reply.
func DispatchReply(msg host.Msg, reply string, payload any) Step {
	return Step{Msg: msg, Reply: reply, Payload: payload}
}

// Self is a self-directed step.
func Self(call string, payload any) Step { return Step{Call: call, Payload: payload} }

func (s Step) name() string {
	if s.Msg != nil {
		return s.Msg.Kind()
	}
	return "self." + s.Call
}

// Saga is the pending chain of one invocation.
type Saga struct {
	ID    string
	steps []Step
}

// New creates a saga with a fresh id.
func New(steps ...Step) *Saga {
	return &Saga{ID: uuid.NewString(), steps: steps}
}

// Add appends steps to the end of the chain.
func (s *Saga) Add(steps ...Step) { s.steps = append(s.steps, steps...) }

// Len returns the number of pending steps.
func (s *Saga) Len() int { return len(s.steps) }

type (
	ReplyFunc func(ctx context.Context, step Step, ack *host.Ack) ([]Step, error)
	CallFunc  func(ctx context.Context, step Step) ([]Step, error)
)

// Resolver holds the continuation handlers of one invocation.
type Resolver struct {
	replies map[string]ReplyFunc
	calls   map[string]CallFunc
}

func NewResolver() *Resolver {
	return &Resolver{
		replies: make(map[string]ReplyFunc),
		calls:   make(map[string]CallFunc),
	}
}

// OnReply registers the handler for reply id.
func (r *Resolver) OnReply(id string, fn ReplyFunc) { r.replies[id] = fn }

// OnCall registers the handler for self call name.
func (r *Resolver) OnCall(name string, fn CallFunc) { r.calls[name] = fn }

// Run executes the saga's steps in order against sess and returns the
// number of steps run. The saga is drained on success.
func Run(ctx context.Context, sess host.Session, s *Saga, r *Resolver) (int, error) {
	ran := 0
	for len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]

		next, err := run(ctx, sess, step, r)
		if err != nil {
			return ran, fmt.Errorf("saga %s step %d (%s): %w", s.ID, ran, step.name(), err)
		}
		ran++
		if len(next) > 0 {
			s.steps = append(append(make([]Step, 0, len(next)+len(s.steps)), next...), s.steps...)
		}
	}
	return ran, nil
}

func run(ctx context.Context, sess host.Session, step Step, r *Resolver) ([]Step, error) {
	switch {
	case step.Msg != nil:
		var reply ReplyFunc
		if step.Reply != "" {
			fn, ok := r.replies[step.Reply]
			if !ok {
				return nil, fmt.Errorf("%w: reply %q", ErrUnknownContinuation, step.Reply)
			}
			reply = fn
		}
		ack, err := sess.Dispatch(ctx, step.Msg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSubMsgFailure, err)
		}
		slog.Debug("sub-operation acknowledged", "session", sess.ID(), "kind", step.Msg.Kind())
		if reply == nil {
			return nil, nil
		}
		return reply(ctx, step, ack)

	case step.Call != "":
		fn, ok := r.calls[step.Call]
		if !ok {
			return nil, fmt.Errorf("%w: call %q", ErrUnknownContinuation, step.Call)
		}
		return fn(ctx, step)

	default:
		return nil, ErrEmptyStep
	}
}
