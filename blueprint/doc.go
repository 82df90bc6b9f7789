package blueprint

import (
	"bytes"
	"fmt"
	"html"

	md "github.com/russross/blackfriday/v2"
)

// RenderHTML renders documentation for the content.
func RenderHTML(c *Content) []byte {
	var buf bytes.Buffer
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(&buf, format+"\n", args...)
	}

	f(`<div class="blueprint">`)
	f(`<h1 class="blueprintName">%s</h1>`, html.EscapeString(c.Name))
	if c.Doc != "" {
		f(`<div class="blueprintDoc doc">%s</div>`, md.Run([]byte(c.Doc)))
	}

	if c.StateSchema != "" {
		f(`<h2>State</h2>`)
		f(`<div class="code"><pre>%s</pre></div>`, html.EscapeString(c.StateSchema))
	}

	f(`<h2>Events</h2>`)
	f(`<table class="events">`)
	for _, t := range c.Descriptor().EventTypes() {
		f(`<tr><td><code>%s</code></td><td><pre>%s</pre></td></tr>`,
			html.EscapeString(t), html.EscapeString(c.EventSchemas[t]))
	}
	f(`</table>`)

	f(`<h2>Transition</h2>`)
	f(`<div>interpreter: <span class="interpreter">%s</span></div>`,
		html.EscapeString(c.Descriptor().Interpreter()))
	f(`<div class="code"><pre>%s</pre></div>`, html.EscapeString(c.Transition.Source))
	f(`</div>`)

	return buf.Bytes()
}
