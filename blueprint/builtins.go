package blueprint

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jsccast/yaml"
)

//go:embed builtins/*.yaml
var builtinFiles embed.FS

// Builtins is a registry of system blueprints by name.
type Builtins struct {
	contents map[string]*Content
	ids      map[string]string
}

// NewBuiltins makes an empty registry.
func NewBuiltins() *Builtins {
	return &Builtins{
		contents: make(map[string]*Content),
		ids:      make(map[string]string),
	}
}

// StandardBuiltins returns a registry with the builtins that ship
// with this package.
func StandardBuiltins() (*Builtins, error) {
	b := NewBuiltins()
	files, err := builtinFiles.ReadDir("builtins")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		bs, err := builtinFiles.ReadFile(path.Join("builtins", f.Name()))
		if err != nil {
			return nil, err
		}
		c, err := ParseYAML(bs)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", f.Name(), err)
		}
		if c.Name == "" {
			c.Name = strings.TrimSuffix(f.Name(), ".yaml")
		}
		if err := b.Register(c); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ParseYAML reads Content from YAML.
func ParseYAML(bs []byte) (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(bs, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Register adds (or replaces) a builtin.  The content is marked as
// builtin.
func (b *Builtins) Register(c *Content) error {
	c.Builtin = true
	id, _, err := ID(c)
	if err != nil {
		return err
	}
	b.contents[c.Name] = c
	b.ids[c.Name] = id
	return nil
}

// ID returns the id of the named builtin.
func (b *Builtins) ID(name string) (string, bool) {
	id, have := b.ids[name]
	return id, have
}

// Get returns the named builtin's content.
func (b *Builtins) Get(name string) (*Content, bool) {
	c, have := b.contents[name]
	return c, have
}

// Names returns the sorted builtin names.
func (b *Builtins) Names() []string {
	acc := make([]string, 0, len(b.ids))
	for name := range b.ids {
		acc = append(acc, name)
	}
	sort.Strings(acc)
	return acc
}

// Verify checks that the content is exactly the builtin it claims to
// be.
func (b *Builtins) Verify(c *Content, id string) error {
	want, have := b.ids[c.Name]
	if !have {
		return fmt.Errorf("%w: %q", UnknownBuiltin, c.Name)
	}
	if want != id {
		return fmt.Errorf("%w: %q", HashMismatch, c.Name)
	}
	return nil
}
