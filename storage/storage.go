// Package storage defines the persistence capabilities that the
// automata store, the blueprint resolver, and the directory of apps
// and accounts need.
//
// Every implementation provides a conditional write on an Automata's
// version.  That conditional write is the only consistency mechanism:
// nothing is locked across a read and the following write.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/version"
)

var (
	// ErrConflict occurs when a conditional write's precondition
	// fails.
	ErrConflict = errors.New("conditional write failed")

	// ErrNotFound occurs when the requested record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrExists occurs when creating a record that already exists.
	ErrExists = errors.New("already exists")
)

// Blueprint is a stored, verified blueprint.
//
// Content is the canonical JSON of the blueprint's content.  Its
// hash is the ID.
type Blueprint struct {
	ID               string          `json:"blueprintId"`
	Content          json.RawMessage `json:"content"`
	Signature        string          `json:"signature,omitempty"`
	CreatorAccountID string          `json:"creatorAccountId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// App is a registered application.  A user blueprint names its App,
// and the App names the Account whose key signs its blueprints.
type App struct {
	ID        string `json:"appId"`
	AccountID string `json:"accountId"`
}

// Account owns Apps.
type Account struct {
	ID string `json:"accountId"`

	// TenantID is the only tenant that tokens signed with this
	// Account's key may claim.  Empty means the key can't sign
	// tokens.
	TenantID string `json:"tenantId,omitempty"`

	// PublicKey is an Ed25519 public key either in OpenSSH
	// authorized_keys format or as raw base64.
	PublicKey string `json:"publicKey"`
}

// Automata is storage for Automata records and their events.
type Automata interface {
	// GetAutomata returns ErrNotFound if there's no such
	// Automata.
	GetAutomata(ctx context.Context, id string) (*core.Automata, error)

	// CreateAutomata returns ErrExists if the id is taken.
	CreateAutomata(ctx context.Context, a *core.Automata) error

	// CommitEvent atomically appends the event and replaces the
	// stored Automata with a.  The precondition is that the
	// stored version is expected and the stored status is
	// active.  Otherwise: ErrConflict and no change.
	CommitEvent(ctx context.Context, a *core.Automata, expected version.Version, ev *core.Event) error

	// SetStatus changes the status if the stored version is
	// expected.  Otherwise: ErrConflict.
	SetStatus(ctx context.Context, id string, expected version.Version, status core.Status, at time.Time) error

	// GetEvent returns the event that was applied at the given
	// base version or ErrNotFound.
	GetEvent(ctx context.Context, id string, base version.Version) (*core.Event, error)

	// GetEventByID returns the Automata's earliest event with the
	// given event id or ErrNotFound.
	GetEventByID(ctx context.Context, id, eventID string) (*core.Event, error)

	// ListEvents returns up to limit events with base versions at
	// or after from, in version order.  A limit <= 0 means no
	// limit.
	ListEvents(ctx context.Context, id string, from version.Version, limit int) ([]*core.Event, error)

	// ListByRealm returns the Automata in a tenant's realm
	// ordered by id.
	ListByRealm(ctx context.Context, tenant, realm string) ([]*core.Automata, error)

	// ListBySubject returns the Automata created by a subject
	// ordered by id.
	ListBySubject(ctx context.Context, subject string) ([]*core.Automata, error)
}

// Blueprints is storage for Blueprints.
type Blueprints interface {
	// GetBlueprint returns ErrNotFound if there's no such
	// Blueprint.
	GetBlueprint(ctx context.Context, id string) (*Blueprint, error)

	// PutBlueprintIfAbsent stores the blueprint unless one with
	// the same id exists.  Either way, it returns the stored
	// record.
	PutBlueprintIfAbsent(ctx context.Context, b *Blueprint) (*Blueprint, error)
}

// Directory is storage for Apps and Accounts.
type Directory interface {
	GetApp(ctx context.Context, id string) (*App, error)
	PutApp(ctx context.Context, app *App) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	PutAccount(ctx context.Context, acct *Account) error
}

// Storage is everything.
type Storage interface {
	Automata
	Blueprints
	Directory

	Close() error
}

// Check reports an error if the given precondition doesn't hold for
// the stored record.
func Check(stored *core.Automata, expected version.Version, requireActive bool) error {
	if stored.Version != expected {
		return ErrConflict
	}
	if requireActive && stored.Status != core.StatusActive {
		return ErrConflict
	}
	return nil
}
