// Package schema validates event payloads and automata state with
// CUE.
//
// A schema is CUE source text.  For example
//
//	count: int & >=0
//
// accepts {"count":3} but not {"count":-1} and not {}.  The empty
// schema accepts anything.
package schema

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// MaxCachedSchemas bounds each compiler's cache.  A full cache
// starts over with a fresh cue.Context.
var MaxCachedSchemas = 1024

// Validator is a core.SchemaValidator backed by CUE.
//
// A cue.Context isn't safe for concurrent use, so the Validator
// keeps a pool of compilers.  Each one has its own context and its own
// cache of compiled schemas keyed by source text.  Validations on
// different goroutines don't wait for each other.
type Validator struct {
	pool sync.Pool
}

type compiler struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
}

func newCompiler() *compiler {
	return &compiler{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

func NewValidator() *Validator {
	v := &Validator{}
	v.pool.New = func() interface{} {
		return newCompiler()
	}
	return v
}

func (v *Validator) get() *compiler {
	if v.pool.New == nil {
		return newCompiler()
	}
	return v.pool.Get().(*compiler)
}

func (c *compiler) compile(schema string) (cue.Value, error) {
	if val, have := c.schemas[schema]; have {
		return val, nil
	}
	if MaxCachedSchemas <= len(c.schemas) {
		*c = *newCompiler()
	}
	val := c.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return val, fmt.Errorf("bad schema: %w", err)
	}
	c.schemas[schema] = val
	return val, nil
}

// Check compiles the schema.
func (v *Validator) Check(ctx context.Context, schema string) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}
	c := v.get()
	defer v.pool.Put(c)
	_, err := c.compile(schema)
	return err
}

// Validate unifies x with the schema and requires the result to be
// concrete.
func (v *Validator) Validate(ctx context.Context, schema string, x interface{}) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}

	c := v.get()
	defer v.pool.Put(c)

	s, err := c.compile(schema)
	if err != nil {
		return err
	}

	data := c.ctx.Encode(Normalize(x))
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := s.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// Normalize returns a copy of x with whole float64s replaced by
// int64s.
//
// Values decoded from JSON carry every number as a float64, which CUE
// would otherwise refuse to unify with int.
func Normalize(x interface{}) interface{} {
	switch vv := x.(type) {
	case float64:
		if vv == math.Trunc(vv) && math.Abs(vv) < 1<<53 {
			return int64(vv)
		}
		return vv
	case map[string]interface{}:
		acc := make(map[string]interface{}, len(vv))
		for k, y := range vv {
			acc[k] = Normalize(y)
		}
		return acc
	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, y := range vv {
			acc[i] = Normalize(y)
		}
		return acc
	default:
		return x
	}
}
