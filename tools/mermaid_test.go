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
	"bytes"
	"strings"
	"testing"
)

func TestMermaid(t *testing.T) {
	ts, err := run(t, counting)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Mermaid(&buf, ts, nil); err != nil {
		t.Fatal(err)
	}
	got := buf.String()

	for _, want := range []string{
		"stateDiagram-v2\n",
		"[*] --> v000000\n",
		"v000000 --> v000001 : INCREMENT\n",
		"v000001 --> v000001 : FOO (UnknownEventType)\n",
		"class v000001 rejected\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in\n%s", want, got)
		}
	}

	buf.Reset()
	if err := Mermaid(&buf, ts, &MermaidOpts{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "FOO") {
		t.Fatal(buf.String())
	}
}
