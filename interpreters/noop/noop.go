package noop

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Comcast/automata/core"
)

// Interpreter is a core.Evaluator which just returns the state
// without modification.
//
// Useful for tools that need to Compile a Descriptor without running
// anything.
type Interpreter struct {
	// Silent, if true, will suppress warning log messages.
	Silent bool
}

func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

func (i *Interpreter) Compile(ctx context.Context, src string) error {
	if !i.Silent {
		log.Warn().Msg("using noop interpreter for compilation")
	}
	return nil
}

func (i *Interpreter) Evaluate(ctx context.Context, src string, in *core.Input) (interface{}, error) {
	if !i.Silent {
		log.Warn().Msg("using noop interpreter for evaluation")
	}
	return in.State, nil
}

// Interpreters returns core.Interpreters that map every given name to
// one silent noop Interpreter.
func Interpreters(names ...string) core.Interpreters {
	i := &Interpreter{Silent: true}
	is := make(core.Interpreters, len(names))
	for _, name := range names {
		is[name] = i
	}
	return is
}
