package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// DefaultTimeout bounds a single transition execution.
	DefaultTimeout = 250 * time.Millisecond

	// InterpreterNotFound occurs when a Descriptor names an
	// interpreter that the Engine doesn't have.
	InterpreterNotFound = errors.New("interpreter not found")
)

// Engine validates events and runs transitions.
//
// An Engine holds no per-automata state and is safe for concurrent
// use.
type Engine struct {
	Interpreters Interpreters

	// Validator checks event payloads and states.  If nil, no
	// schema checking is done.
	Validator SchemaValidator

	// Timeout bounds each transition execution.  Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Now is the clock exposed to transitions.  Nil means
	// time.Now.
	Now func() time.Time
}

// NewEngine makes an Engine with the given interpreters and
// validator.
func NewEngine(is Interpreters, v SchemaValidator) *Engine {
	return &Engine{
		Interpreters: is,
		Validator:    v,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

// Compile checks a Descriptor: its schemas must be acceptable, its
// transition must compile (if the interpreter can say), and its
// initial state must satisfy its state schema.
func (e *Engine) Compile(ctx context.Context, d *Descriptor) error {
	if d == nil {
		return errors.New("no descriptor")
	}
	if len(d.EventSchemas) == 0 {
		return errors.New("descriptor has no event types")
	}
	if e.Validator != nil {
		if err := e.Validator.Check(ctx, d.StateSchema); err != nil {
			return fmt.Errorf("state schema: %w", err)
		}
		for t, schema := range d.EventSchemas {
			if err := e.Validator.Check(ctx, schema); err != nil {
				return fmt.Errorf("schema for %s: %w", t, err)
			}
		}
	}
	ev, have := e.Interpreters[d.Interpreter()]
	if !have {
		return fmt.Errorf("%w: %s", InterpreterNotFound, d.Interpreter())
	}
	if c, is := ev.(Compiler); is {
		if err := c.Compile(ctx, d.Transition.Source); err != nil {
			return fmt.Errorf("transition: %w", err)
		}
	}
	return e.CheckState(ctx, d, d.InitialState)
}

// CheckState validates a state against the Descriptor's state
// schema.
func (e *Engine) CheckState(ctx context.Context, d *Descriptor, state interface{}) error {
	if e.Validator == nil || d.StateSchema == "" {
		return nil
	}
	return e.Validator.Validate(ctx, d.StateSchema, state)
}

// Step computes the state that results from applying the event to
// the given state.
//
// Step has no side effects.  Errors are *UnknownEventType,
// *InvalidEventPayload, or *TransitionExecutionFailed.  A panic in
// an Evaluator is reported as a TransitionExecutionFailed.
func (e *Engine) Step(ctx context.Context, d *Descriptor, state interface{}, event EventInput) (next interface{}, err error) {
	if d == nil {
		return nil, transitionFailed(errors.New("no descriptor"))
	}

	schema, have := d.EventSchemas[event.Type]
	if !have {
		return nil, &UnknownEventType{
			EventType: event.Type,
			Valid:     d.EventTypes(),
		}
	}

	if e.Validator != nil && schema != "" {
		if err := e.Validator.Validate(ctx, schema, event.Data); err != nil {
			return nil, &InvalidEventPayload{
				EventType: event.Type,
				Err:       err,
			}
		}
	}

	ev, have := e.Interpreters[d.Interpreter()]
	if !have {
		return nil, transitionFailed(fmt.Errorf("%w: %s", InterpreterNotFound, d.Interpreter()))
	}

	// The transition gets its own copies.
	if state, err = Canonicalize(state); err != nil {
		return nil, transitionFailed(err)
	}
	if event.Data, err = Canonicalize(event.Data); err != nil {
		return nil, &InvalidEventPayload{
			EventType: event.Type,
			Err:       err,
		}
	}

	in := &Input{
		State: state,
		Event: event,
		Now:   e.now(),
	}

	tctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	then := time.Now()
	x, err := e.evaluate(tctx, ev, d.Transition.Source, in)
	zerolog.Ctx(ctx).Debug().
		Str("event", event.Type).
		Dur("elapsed", time.Since(then)).
		Err(err).
		Msg("transition")
	if err != nil {
		return nil, transitionFailed(err)
	}

	if next, err = Canonicalize(x); err != nil {
		return nil, transitionFailed(fmt.Errorf("result: %w", err))
	}

	if err = e.CheckState(ctx, d, next); err != nil {
		return nil, transitionFailed(fmt.Errorf("result violates state schema: %w", err))
	}

	return next, nil
}

func (e *Engine) evaluate(ctx context.Context, ev Evaluator, src string, in *Input) (x interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return ev.Evaluate(ctx, src, in)
}
