// Package starlark provides a core.Evaluator for transitions written
// in Starlark.
//
// The source must define a function
//
//	def transition(state, event, now):
//	    ...
//	    return new_state
//
// where event is a dict with "type", "data", and "sender", and now
// is an RFC3339Nano string.  Starlark has no clock and no
// randomness, so a transition is a function of its arguments.
package starlark

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Comcast/automata/core"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

// DefaultMaxSteps bounds the work a single evaluation can do
// regardless of the time budget.
var DefaultMaxSteps uint64 = 10 * 1000 * 1000

// FunctionName is the name of the function a transition must define.
const FunctionName = "transition"

// Interpreter implements core.Evaluator.
type Interpreter struct {
	MaxSteps uint64
}

func NewInterpreter() *Interpreter {
	return &Interpreter{
		MaxSteps: DefaultMaxSteps,
	}
}

func (i *Interpreter) load(ctx context.Context, thread *starlark.Thread, src string) (starlark.Callable, error) {
	globals, err := starlark.ExecFile(thread, "transition.star", src, nil)
	if err != nil {
		return nil, err
	}
	x, have := globals[FunctionName]
	if !have {
		return nil, fmt.Errorf("no %s function", FunctionName)
	}
	fn, is := x.(starlark.Callable)
	if !is {
		return nil, fmt.Errorf("%s is a %s, not a function", FunctionName, x.Type())
	}
	return fn, nil
}

func (i *Interpreter) thread(ctx context.Context) *starlark.Thread {
	thread := &starlark.Thread{
		Name: "transition",
		Print: func(_ *starlark.Thread, msg string) {
			zerolog.Ctx(ctx).Debug().Str("msg", msg).Msg("starlark.print")
		},
	}
	if 0 < i.MaxSteps {
		thread.SetMaxExecutionSteps(i.MaxSteps)
	}
	return thread
}

// Compile checks that the source defines a transition function.
func (i *Interpreter) Compile(ctx context.Context, src string) error {
	_, err := i.load(ctx, i.thread(ctx), src)
	return err
}

// Evaluate implements core.Evaluator.
func (i *Interpreter) Evaluate(ctx context.Context, src string, in *core.Input) (interface{}, error) {
	thread := i.thread(ctx)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("timeout")
		case <-done:
		}
	}()

	fn, err := i.load(ctx, thread, src)
	if err != nil {
		return nil, err
	}

	state, err := ToValue(in.State)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	event, err := ToValue(map[string]interface{}{
		"type":   in.Event.Type,
		"data":   in.Event.Data,
		"sender": in.Event.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("event: %w", err)
	}
	now := starlark.String(core.Timestamp(in.Now))

	v, err := starlark.Call(thread, fn, starlark.Tuple{state, event, now}, nil)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

// ToValue converts plain JSON-ish Go data to Starlark values.
func ToValue(x interface{}) (starlark.Value, error) {
	switch vv := x.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(vv), nil
	case string:
		return starlark.String(vv), nil
	case int:
		return starlark.MakeInt(vv), nil
	case int64:
		return starlark.MakeInt64(vv), nil
	case float64:
		if vv == math.Trunc(vv) && math.Abs(vv) < 1<<53 {
			return starlark.MakeInt64(int64(vv)), nil
		}
		return starlark.Float(vv), nil
	case []interface{}:
		acc := make([]starlark.Value, 0, len(vv))
		for _, y := range vv {
			v, err := ToValue(y)
			if err != nil {
				return nil, err
			}
			acc = append(acc, v)
		}
		return starlark.NewList(acc), nil
	case map[string]interface{}:
		d := starlark.NewDict(len(vv))
		ks := make([]string, 0, len(vv))
		for k := range vv {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		for _, k := range ks {
			v, err := ToValue(vv[k])
			if err != nil {
				return nil, err
			}
			if err = d.SetKey(starlark.String(k), v); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("can't convert a %T", x)
	}
}

// FromValue converts Starlark values back to plain Go data.
func FromValue(v starlark.Value) (interface{}, error) {
	switch vv := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(vv), nil
	case starlark.String:
		return string(vv), nil
	case starlark.Int:
		if n, ok := vv.Int64(); ok {
			return float64(n), nil
		}
		return nil, errors.New("int too big")
	case starlark.Float:
		return float64(vv), nil
	case *starlark.List:
		acc := make([]interface{}, 0, vv.Len())
		for i := 0; i < vv.Len(); i++ {
			x, err := FromValue(vv.Index(i))
			if err != nil {
				return nil, err
			}
			acc = append(acc, x)
		}
		return acc, nil
	case starlark.Tuple:
		acc := make([]interface{}, 0, vv.Len())
		for _, y := range vv {
			x, err := FromValue(y)
			if err != nil {
				return nil, err
			}
			acc = append(acc, x)
		}
		return acc, nil
	case *starlark.Dict:
		acc := make(map[string]interface{}, vv.Len())
		for _, kv := range vv.Items() {
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s isn't a string", kv[0])
			}
			x, err := FromValue(kv[1])
			if err != nil {
				return nil, err
			}
			acc[k] = x
		}
		return acc, nil
	default:
		return nil, fmt.Errorf("can't convert a %s", v.Type())
	}
}
