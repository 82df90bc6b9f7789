// Package goja provides a core.Evaluator that runs transitions
// written in ECMAScript 5.1+ using Goja.
//
// See https://github.com/dop251/goja.
package goja

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/Comcast/automata/core"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Evaluate if the execution is
	// interrupted.
	Interrupted = errors.New(InterruptedMessage)
)

// Interpreter implements core.Evaluator using Goja.
//
// A transition is the body of a function that returns the new state.
// The function's dynamic environment has these properties at _:
//
//	state: the current state.
//	event: {type, data, sender}.
//	now: the injected current time (RFC3339Nano).
//	nowMs: the same time in milliseconds since the epoch.
//
// Some useful utilities:
//
//	cronNext(expr): the next time (relative to now) for the cron expression.
//	esc(s): URL query-escape the given string.
//	log(x): log x at debug level.
//
// Date and Math.random are pinned to the injected time so that a
// transition is a function of (state, event, now).
//
// For testing only, and only if the Testing flag is set:
//
//	sleep(ms): sleep for the given number of milliseconds.
type Interpreter struct {

	// Testing is used to expose or hide some runtime
	// capabilities.
	Testing bool

	// programs caches compiled programs by source.
	programs sync.Map
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

func (i *Interpreter) program(src string) (*goja.Program, error) {
	if p, have := i.programs.Load(src); have {
		return p.(*goja.Program), nil
	}
	p, err := goja.Compile("", wrapSrc(src), true)
	if err != nil {
		return nil, err
	}
	i.programs.Store(src, p)
	return p, nil
}

// Compile compiles and caches the source.
func (i *Interpreter) Compile(ctx context.Context, src string) error {
	_, err := i.program(src)
	return err
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		return v.Export()
	}
	return x
}

// seed derives a seed for Math.random from the injected time.
func seed(now time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(now.Format(time.RFC3339Nano)))
	return int64(h.Sum64())
}

// Evaluate implements core.Evaluator.
func (i *Interpreter) Evaluate(ctx context.Context, src string, in *core.Input) (interface{}, error) {
	p, err := i.program(src)
	if err != nil {
		return nil, err
	}

	now := in.Now

	env := map[string]interface{}{
		"state": in.State,
		"event": map[string]interface{}{
			"type":   in.Event.Type,
			"data":   in.Event.Data,
			"sender": in.Event.Sender,
		},
		"now":   core.Timestamp(now),
		"nowMs": now.UnixNano() / int64(time.Millisecond),
	}

	o := goja.New()
	o.SetTimeSource(func() time.Time { return now })
	r := rand.New(rand.NewSource(seed(now)))
	o.SetRandSource(r.Float64)

	o.Set("_", env)

	if i.Testing {
		o.Set("sleep", func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		})
	}

	env["cronNext"] = func(x interface{}) interface{} {
		cronExpr, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}

		c, err := cronexpr.Parse(cronExpr)
		if err != nil {
			protest(o, err.Error())
		}
		return core.Timestamp(c.Next(now))
	}

	env["esc"] = func(x interface{}) interface{} {
		s, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		return url.QueryEscape(s)
	}

	env["log"] = func(x interface{}) interface{} {
		x = export(x)
		js, err := json.Marshal(&x)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Msg("goja.log (can't marshal: " + err.Error() + ")")
		} else {
			zerolog.Ctx(ctx).Debug().RawJSON("x", js).Msg("goja.log")
		}
		return x
	}

	// We want to make sure that the following goroutine is
	// terminated as soon as possible.
	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		// If this method calls cancel() after RunProgram
		// returns, then we'll never see this
		// InterruptedMessage, which is actually the behavior
		// we want.  In this case, we weren't actually interrupted.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p)
	cancel()

	if err != nil {
		if _, is := err.(*goja.InterruptedError); is {
			return nil, Interrupted
		}
		return nil, err
	}

	if v == nil || goja.IsUndefined(v) {
		return nil, errors.New("transition returned undefined")
	}

	return v.Export(), nil
}
