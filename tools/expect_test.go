/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/Comcast/automata/blueprint"
	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/interpreters"
	"github.com/Comcast/automata/schema"
	"github.com/Comcast/automata/version"
)

var counting = `
doc: Counting
now: "2020-02-03T04:05:06Z"
steps:
  - eventType: INCREMENT
    data: {amount: 5}
    state: {count: 5}
  - eventType: FOO
    error: UnknownEventType
  - eventType: INCREMENT
    data: {amount: "five"}
    error: InvalidEventPayload
  - eventType: RESET
    state: {count: 0}
`

func counter(t *testing.T) (*core.Engine, *core.Descriptor) {
	bs, err := blueprint.StandardBuiltins()
	if err != nil {
		t.Fatal(err)
	}
	c, have := bs.Get("counter")
	if !have {
		t.Fatal("no counter")
	}
	return core.NewEngine(interpreters.Standard(), schema.NewValidator()), c.Descriptor()
}

func run(t *testing.T, src string) ([]Transition, error) {
	s, err := ParseSession([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	e, d := counter(t)
	return s.Run(context.Background(), e, d)
}

func TestSession(t *testing.T) {
	ts, err := run(t, counting)
	if err != nil {
		t.Fatal(err)
	}
	if len(ts) != 4 {
		t.Fatalf("%d transitions", len(ts))
	}
	if ts[1].To != "" || ts[1].Error != "UnknownEventType" {
		t.Fatal(JS(ts[1]))
	}
	if last := ts[3]; last.From != "000001" || last.To != "000002" {
		t.Fatal(JS(last))
	}
}

func TestSessionFailure(t *testing.T) {
	ts, err := run(t, `
steps:
  - eventType: INCREMENT
    data: {amount: 1}
  - doc: wrong on purpose
    eventType: INCREMENT
    data: {amount: 1}
    state: {count: 3}
`)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("wanted a Failure, got %v", err)
	}
	if f.Step != 1 || f.Doc != "wrong on purpose" {
		t.Fatal(f)
	}
	if len(ts) != 2 {
		t.Fatalf("%d transitions", len(ts))
	}
}

func TestSessionUnexpectedError(t *testing.T) {
	_, err := run(t, `
steps:
  - eventType: NOPE
`)
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("wanted a Failure, got %v", err)
	}
}

func TestFromEvents(t *testing.T) {
	ts, err := FromEvents([]*core.Event{
		{BaseVersion: version.Zero(), Type: "INCREMENT"},
		{BaseVersion: "000001", Type: "RESET"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ts[1].To != "000002" || ts[1].EventType != "RESET" {
		t.Fatal(JS(ts))
	}

	if _, err = FromEvents([]*core.Event{{BaseVersion: version.MaxVersion()}}); err == nil {
		t.Fatal("should have overflowed")
	}
}
