package core

import (
	"context"
	"time"
)

// EventInput is the event as a transition sees it.
type EventInput struct {
	Type   string      `json:"type"`
	Data   interface{} `json:"data"`
	Sender string      `json:"sender,omitempty"`
}

// Input is everything a transition gets to see.
//
// Now is the only source of time a transition should use.  Tests can
// freeze it via Engine.Now.
type Input struct {
	State interface{} `json:"state"`
	Event EventInput  `json:"event"`
	Now   time.Time   `json:"now"`
}

// Evaluator runs transition code.
//
// An Evaluator must be deterministic and side-effect-free: the same
// source and Input must give the same result.  It should honor ctx
// cancellation, which is how Engine enforces its execution timeout.
type Evaluator interface {
	Evaluate(ctx context.Context, src string, in *Input) (interface{}, error)
}

// Compiler is optionally implemented by an Evaluator that can check
// (and perhaps cache) a transition ahead of time.
type Compiler interface {
	Compile(ctx context.Context, src string) error
}

// Interpreters maps interpreter names to Evaluators.
type Interpreters map[string]Evaluator

// SchemaValidator checks values against schemas.
//
// The schema language is the validator's business.  An empty schema
// should accept anything.
type SchemaValidator interface {
	Validate(ctx context.Context, schema string, x interface{}) error

	// Check reports whether the schema itself is acceptable.
	Check(ctx context.Context, schema string) error
}
