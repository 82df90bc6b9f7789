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

// Package tools has offline utilities for blueprint authors: scripted
// sessions that check a blueprint's transitions and renderings of an
// Automata's history.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/jsccast/yaml"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/version"
)

// Step is one event and what it should do.
type Step struct {
	// Doc is an opaque documentation string.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	EventType string      `json:"eventType" yaml:"eventType"`
	Data      interface{} `json:"data,omitempty" yaml:"data,omitempty"`

	// State, if not nil, must equal the resulting state.
	State interface{} `json:"state,omitempty" yaml:"state,omitempty"`

	// Error, if not empty, is the code of the error the event
	// must cause.  A rejected event leaves the state alone.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Session is a sequence of Steps run against one Descriptor.
type Session struct {
	// Doc is an opaque documentation string.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	// InitialState, if not nil, replaces the Descriptor's.
	InitialState interface{} `json:"initialState,omitempty" yaml:"initialState,omitempty"`

	// Now is an RFC3339 time that transitions see.  Empty means
	// the time the session starts.
	Now string `json:"now,omitempty" yaml:"now,omitempty"`

	Steps []Step `json:"steps" yaml:"steps"`
}

// ParseSession reads a Session from YAML (or JSON).
func ParseSession(bs []byte) (*Session, error) {
	var s Session
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Transition is one event in an Automata's history.  A rejected
// event has no To.
type Transition struct {
	From      version.Version `json:"from"`
	To        version.Version `json:"to,omitempty"`
	EventType string          `json:"eventType"`
	State     interface{}     `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Failure is a Step that didn't do what it should have.
type Failure struct {
	Step int
	Doc  string
	Want interface{}
	Got  interface{}
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("step %d: want %s, got %s", f.Step, JS(f.Want), JS(f.Got))
	if f.Doc != "" {
		msg += " (" + f.Doc + ")"
	}
	return msg
}

// JS renders x as compact JSON for messages.
func JS(x interface{}) string {
	bs, err := json.Marshal(x)
	if err != nil {
		return fmt.Sprintf("%#v", x)
	}
	return string(bs)
}

func equal(x, y interface{}) bool {
	cx, err := core.Canonicalize(x)
	if err != nil {
		return false
	}
	cy, err := core.Canonicalize(y)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(cx, cy)
}

// Run runs the Steps in order and stops at the first Failure.
//
// The returned Transitions cover every Step that ran, including the
// failing one.
func (s *Session) Run(ctx context.Context, e *core.Engine, d *core.Descriptor) ([]Transition, error) {
	now := time.Now().UTC()
	if s.Now != "" {
		t, err := time.Parse(time.RFC3339Nano, s.Now)
		if err != nil {
			return nil, fmt.Errorf("now: %w", err)
		}
		now = t
	}

	// Our own engine so that our clock doesn't leak.
	eng := *e
	eng.Now = func() time.Time { return now }

	if err := eng.Compile(ctx, d); err != nil {
		return nil, err
	}

	state := d.InitialState
	if s.InitialState != nil {
		state = s.InitialState
	}
	v := version.Zero()

	acc := make([]Transition, 0, len(s.Steps))
	for i, step := range s.Steps {
		t := Transition{
			From:      v,
			EventType: step.EventType,
		}

		next, err := eng.Step(ctx, d, state, core.EventInput{
			Type: step.EventType,
			Data: step.Data,
		})
		if err != nil {
			t.Error = core.Code(err)
			acc = append(acc, t)
			if step.Error != t.Error {
				return acc, &Failure{Step: i, Doc: step.Doc, Want: step.Error, Got: err.Error()}
			}
			continue
		}

		if t.To, err = version.Increment(v); err != nil {
			return acc, err
		}
		t.State = next
		acc = append(acc, t)

		if step.Error != "" {
			return acc, &Failure{Step: i, Doc: step.Doc, Want: step.Error, Got: next}
		}
		if step.State != nil && !equal(step.State, next) {
			return acc, &Failure{Step: i, Doc: step.Doc, Want: step.State, Got: next}
		}

		state, v = next, t.To
	}

	return acc, nil
}

// FromEvents makes Transitions from an Automata's stored events.
// Stored events were all accepted, so no State is known for them.
func FromEvents(evs []*core.Event) ([]Transition, error) {
	acc := make([]Transition, 0, len(evs))
	for _, ev := range evs {
		to, err := version.Increment(ev.BaseVersion)
		if err != nil {
			return nil, err
		}
		acc = append(acc, Transition{
			From:      ev.BaseVersion,
			To:        to,
			EventType: ev.Type,
		})
	}
	return acc, nil
}
