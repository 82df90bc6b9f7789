package goja

import (
	"context"
	"testing"
	"time"

	"github.com/Comcast/automata/core"
	. "github.com/Comcast/automata/util/testutil"
)

func input(state, data interface{}) *core.Input {
	return &core.Input{
		State: Dwimjs(state),
		Event: core.EventInput{
			Type: "INCREMENT",
			Data: Dwimjs(data),
		},
		Now: time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func TestEvaluateSimple(t *testing.T) {
	code := `return {count: _.state.count + _.event.data.amount};`

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	i := NewInterpreter()
	if err := i.Compile(ctx, code); err != nil {
		t.Fatal(err)
	}

	x, err := i.Evaluate(ctx, code, input(`{"count":0}`, `{"amount":5}`))
	if err != nil {
		t.Fatal(err)
	}
	y, err := core.Canonicalize(x)
	if err != nil {
		t.Fatal(err)
	}
	if JS(y) != `{"count":5}` {
		t.Fatalf("got %s", JS(y))
	}
}

func TestEvaluateTimeout(t *testing.T) {
	code := `for (;;) { sleep(10); } return null;`

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	i := NewInterpreter()
	i.Testing = true

	_, err := i.Evaluate(ctx, code, input(`{}`, `{}`))
	if err == nil {
		t.Fatal("didn't timeout")
	}
	if msg := err.Error(); msg != InterruptedMessage {
		t.Fatalf("surprised by \"%s\"", msg)
	}
}

func TestEvaluateError(t *testing.T) {
	code := `return likes + tacos;`

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := NewInterpreter().Evaluate(ctx, code, input(`{}`, `{}`)); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	if err := NewInterpreter().Compile(context.Background(), `return {;`); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestEvaluateUndefined(t *testing.T) {
	if _, err := NewInterpreter().Evaluate(context.Background(), `var x = 1;`, input(`{}`, `{}`)); err == nil {
		t.Fatal("should have complained about undefined")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	code := `return {at: new Date().toISOString(), now: _.now, r: Math.random()};`

	ctx := context.Background()
	i := NewInterpreter()

	x, err := i.Evaluate(ctx, code, input(`{}`, `{}`))
	if err != nil {
		t.Fatal(err)
	}
	y, err := i.Evaluate(ctx, code, input(`{}`, `{}`))
	if err != nil {
		t.Fatal(err)
	}
	if JS(x) != JS(y) {
		t.Fatalf("%s != %s", JS(x), JS(y))
	}
	m := x.(map[string]interface{})
	if m["at"] != "2020-02-03T04:05:06.000Z" {
		t.Fatalf("at %v", m["at"])
	}
	if m["now"] != "2020-02-03T04:05:06Z" {
		t.Fatalf("now %v", m["now"])
	}
}

func TestEvaluateCronNextGood(t *testing.T) {
	code := `return {next: _.cronNext("0 0 * * *")};`

	x, err := NewInterpreter().Evaluate(context.Background(), code, input(`{}`, `{}`))
	if err != nil {
		t.Fatal(err)
	}
	if next := x.(map[string]interface{})["next"]; next != "2020-02-04T00:00:00Z" {
		t.Fatalf("next %v", next)
	}
}

func TestEvaluateCronNextBad(t *testing.T) {
	code := `return {next: _.cronNext("bad")};`

	if _, err := NewInterpreter().Evaluate(context.Background(), code, input(`{}`, `{}`)); err == nil {
		t.Fatal("should have complained")
	}
}
