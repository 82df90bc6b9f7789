/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
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

// Package core provides the core gear for hosted automata.
//
// An Automata is a finite-state machine with an immutable Descriptor
// and a mutable current state.  The Descriptor gives a state schema,
// a map from event type to event payload schema, a transition, and
// an initial state.  The current state is always the result of
// folding every accepted Event over the initial state.
//
// The primary type is Engine, and the primary method is Step().
// Given a Descriptor, a current state, and an event, Step() checks
// the event against the Descriptor's schemas and then asks an
// Evaluator to run the Descriptor's transition.  Step() has no side
// effects.  The result is a candidate state that somebody else (see
// package automata) can try to commit.
//
// A transition is arbitrary code for some interpreter.  An Evaluator
// (see package interpreters) should know how to run that code.  The
// Evaluator must be deterministic: given the same state, event, and
// "now", it must return the same result.
//
// Errors that a caller might want to distinguish have stable codes.
// See Code().
package core
