// Package blueprint provides content-addressed, verified Descriptors.
//
// A Blueprint's id is a hash of its canonical content.  A Blueprint
// is stored only after it has been verified: either its content
// matches a registered builtin or it carries a valid Ed25519
// signature by the Account that owns its App.  A stored Blueprint is
// trusted without re-verification.
package blueprint

import (
	"encoding/json"

	"github.com/Comcast/automata/core"
)

var (
	UnknownBuiltin    = core.NewCodedError("UnknownBuiltin", "unknown builtin blueprint")
	HashMismatch      = core.NewCodedError("HashMismatch", "content does not match the builtin")
	SignatureRequired = core.NewCodedError("SignatureRequired", "signature required")
	AppNotFound       = core.NewCodedError("AppNotFound", "app not found")
	AccountNotFound   = core.NewCodedError("AccountNotFound", "account not found")
	InvalidSignature  = core.NewCodedError("InvalidSignature", "invalid signature")
)

// Content is what a Blueprint's id is computed from.
type Content struct {
	Name string `json:"name" yaml:"name"`

	// AppID names the App whose Account signs this blueprint.
	// Builtins don't have one.
	AppID string `json:"appId,omitempty" yaml:"appId,omitempty"`

	// Builtin marks content that claims to be the registered
	// builtin with this Name.
	Builtin bool `json:"builtin,omitempty" yaml:"builtin,omitempty"`

	// Doc is Markdown.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	StateSchema  string                `json:"stateSchema,omitempty" yaml:"stateSchema,omitempty"`
	EventSchemas map[string]string     `json:"eventSchemas" yaml:"eventSchemas"`
	Transition   core.TransitionSource `json:"transition" yaml:"transition"`
	InitialState interface{}           `json:"initialState" yaml:"initialState"`
}

// Descriptor returns the Descriptor this content defines.
func (c *Content) Descriptor() *core.Descriptor {
	return &core.Descriptor{
		StateSchema:  c.StateSchema,
		EventSchemas: c.EventSchemas,
		Transition:   c.Transition,
		InitialState: c.InitialState,
	}
}

// Parse reads Content from JSON.
func Parse(js []byte) (*Content, error) {
	var c Content
	if err := json.Unmarshal(js, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
