package interpreters

import (
	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/interpreters/goja"
	"github.com/Comcast/automata/interpreters/noop"
	"github.com/Comcast/automata/interpreters/starlark"
)

// Standard returns the interpreters a service normally offers.
func Standard() core.Interpreters {
	is := make(core.Interpreters)

	g := goja.NewInterpreter()
	is["goja"] = g
	is["ecmascript"] = g
	is["ecmascript-5.1"] = g

	is["starlark"] = starlark.NewInterpreter()

	is["noop"] = noop.NewInterpreter()

	return is
}

// Names returns the names of the Standard interpreters.
func Names() []string {
	return []string{"goja", "ecmascript", "ecmascript-5.1", "starlark", "noop"}
}
