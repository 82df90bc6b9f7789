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

// dot -Tpng g.dot > g.png

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Dot makes a Graphviz dot file for the transitions.  Each accepted
// version is a node labeled with its state (as YAML) when the state
// is known.  Rejected events are dashed red self-loops.
func Dot(w io.Writer, ts []Transition) error {
	if _, err := fmt.Fprintf(w, "digraph G {\n"); err != nil {
		return err
	}
	fmt.Fprintf(w, `  graph [ordering=out,rankdir=TB,nodesep=0.3,ranksep=0.6]
  node [shape="box" style="rounded,filled" fillcolor="#99ddc8"]
  edge [fontsize = "12"]
`)

	seen := make(map[string]bool)
	node := func(v string, state interface{}) error {
		if seen[v] && state == nil {
			return nil
		}
		seen[v] = true
		label := v
		if state != nil {
			bs, err := yaml.Marshal(state)
			if err != nil {
				return err
			}
			label += "\n" + strings.TrimSpace(string(bs))
		}
		fmt.Fprintf(w, "  %s [label=%s]\n", strconv.Quote(v), strconv.Quote(label))
		return nil
	}

	for i, t := range ts {
		if i == 0 {
			if err := node(string(t.From), nil); err != nil {
				return err
			}
		}
		from := strconv.Quote(string(t.From))
		if t.To == "" {
			fmt.Fprintf(w, "  %s -> %s [label=%s, style=dashed, color=red]\n",
				from, from, strconv.Quote(t.EventType+" ("+t.Error+")"))
			continue
		}
		if err := node(string(t.To), t.State); err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s -> %s [label=%s]\n", from, strconv.Quote(string(t.To)), strconv.Quote(t.EventType))
	}

	_, err := fmt.Fprintf(w, "}\n")
	return err
}
