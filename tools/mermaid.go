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
	"fmt"
	"io"
	"strings"
)

type MermaidOpts struct {
	// ShowRejected includes rejected events as self-transitions.
	ShowRejected bool `json:"showRejected"`

	// RejectedClass is the classDef name for versions that
	// rejected an event.
	RejectedClass string `json:"rejectedClass,omitempty"`

	// RejectedFill is the fill color for RejectedClass.
	RejectedFill string `json:"rejectedFill,omitempty"`
}

func mermaidID(v string) string {
	return "v" + v
}

// mermaidLabel removes what Mermaid can't have in a transition label.
func mermaidLabel(s string) string {
	return strings.NewReplacer(":", " ", ";", " ", "\n", " ").Replace(s)
}

// Mermaid makes a Mermaid (https://mermaidjs.github.io/) state
// diagram of the transitions: versions are states and events are
// edges.
func Mermaid(w io.Writer, ts []Transition, opts *MermaidOpts) error {
	if opts == nil {
		opts = &MermaidOpts{
			ShowRejected:  true,
			RejectedClass: "rejected",
			RejectedFill:  "#f98b8b",
		}
	}

	if _, err := fmt.Fprintf(w, "stateDiagram-v2\n"); err != nil {
		return err
	}
	if len(ts) == 0 {
		return nil
	}

	fmt.Fprintf(w, "  [*] --> %s\n", mermaidID(string(ts[0].From)))

	rejected := make(map[string]bool)
	for _, t := range ts {
		from := mermaidID(string(t.From))
		if t.To == "" {
			if !opts.ShowRejected {
				continue
			}
			rejected[from] = true
			fmt.Fprintf(w, "  %s --> %s : %s (%s)\n", from, from, mermaidLabel(t.EventType), t.Error)
			continue
		}
		fmt.Fprintf(w, "  %s --> %s : %s\n", from, mermaidID(string(t.To)), mermaidLabel(t.EventType))
	}

	if opts.RejectedClass != "" && 0 < len(rejected) {
		fmt.Fprintf(w, "  classDef %s fill:%s\n", opts.RejectedClass, opts.RejectedFill)
		for _, t := range ts {
			from := mermaidID(string(t.From))
			if rejected[from] {
				fmt.Fprintf(w, "  class %s %s\n", from, opts.RejectedClass)
				delete(rejected, from)
			}
		}
	}

	return nil
}
