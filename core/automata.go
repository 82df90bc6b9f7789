package core

import (
	"sort"
	"time"

	"github.com/Comcast/automata/version"
)

// Status is the lifecycle status of an Automata.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// DefaultInterpreter is used when a TransitionSource doesn't name
// one.
var DefaultInterpreter = "goja"

// TransitionSource is the code for a transition along with the name
// of the interpreter that can run it.
type TransitionSource struct {
	Interpreter string `json:"interpreter,omitempty" yaml:",omitempty"`
	Source      string `json:"source" yaml:"source"`
}

// Descriptor is the immutable definition of an Automata.
type Descriptor struct {
	// StateSchema is an optional schema that every state must
	// satisfy.
	StateSchema string `json:"stateSchema,omitempty" yaml:"stateSchema,omitempty"`

	// EventSchemas maps each legal event type to a schema for
	// that event's payload.  An empty schema accepts anything.
	EventSchemas map[string]string `json:"eventSchemas" yaml:"eventSchemas"`

	Transition TransitionSource `json:"transition" yaml:"transition"`

	InitialState interface{} `json:"initialState" yaml:"initialState"`
}

// EventTypes returns the sorted event types the Descriptor accepts.
func (d *Descriptor) EventTypes() []string {
	acc := make([]string, 0, len(d.EventSchemas))
	for t := range d.EventSchemas {
		acc = append(acc, t)
	}
	sort.Strings(acc)
	return acc
}

// Interpreter returns the name of the interpreter for the
// transition.
func (d *Descriptor) Interpreter() string {
	if d.Transition.Interpreter == "" {
		return DefaultInterpreter
	}
	return d.Transition.Interpreter
}

// Automata is a hosted machine.
type Automata struct {
	ID       string `json:"automataId"`
	TenantID string `json:"tenantId"`
	RealmID  string `json:"realmId"`

	Descriptor          *Descriptor `json:"descriptor"`
	DescriptorSignature string      `json:"descriptorSignature,omitempty"`

	// DescriptorHash is the id of the Blueprint that provided the
	// Descriptor.
	DescriptorHash string `json:"descriptorHash"`

	CreatorSubjectID string    `json:"creatorSubjectId"`
	CreatedAt        time.Time `json:"createdAt"`

	State     interface{}     `json:"currentState"`
	Version   version.Version `json:"version"`
	Status    Status          `json:"status"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Copy makes a copy with a deep copy of the current state.  The
// Descriptor is shared since it's immutable.
func (a *Automata) Copy() *Automata {
	b := *a
	if s, err := Canonicalize(a.State); err == nil {
		b.State = s
	}
	return &b
}

// Event is an append-only record of one accepted event.
//
// Applying the event took the Automata from BaseVersion to the
// successor of BaseVersion.
type Event struct {
	// ID is an idempotency key: supplied by the client or
	// generated.
	ID              string          `json:"eventId"`
	AutomataID      string          `json:"automataId"`
	BaseVersion     version.Version `json:"baseVersion"`
	Type            string          `json:"eventType"`
	Data            interface{}     `json:"eventData"`
	SenderSubjectID string          `json:"senderSubjectId"`
	Timestamp       time.Time       `json:"timestamp"`
}
