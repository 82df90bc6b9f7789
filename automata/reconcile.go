package automata

import (
	"context"
	"errors"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/version"
)

// Outcome is what Reconcile determined.
type Outcome string

const (
	// Committed means the event with the given id was applied at
	// the given base version.
	Committed Outcome = "Committed"

	// NotCommitted means the event was not applied at the given
	// base version: either another event holds that slot or the
	// Automata hasn't advanced past it.
	NotCommitted Outcome = "NotCommitted"

	// Unknown means the outcome couldn't be determined.
	Unknown Outcome = "Unknown"
)

// Reconciliation reports the fate of an event.
type Reconciliation struct {
	Outcome Outcome `json:"outcome"`

	// Event is the event stored at the base version, if any.
	Event *core.Event `json:"event,omitempty"`

	// Version and State are the Automata's current version and
	// state when they could be read.
	Version version.Version `json:"version,omitempty"`
	State   interface{}     `json:"state,omitempty"`

	// Error explains an Unknown outcome.
	Error string `json:"error,omitempty"`
}

// Reconcile determines whether the event with the given id was
// committed at or after the given base version.
//
// This is the read path for a caller whose ApplyEvent timed out.
// ApplyWithRetry may have committed the event at a later base version
// than the caller saw, so the event is looked up by its id.  Event is
// the event that holds the committed slot or, for NotCommitted, the
// event stored at the base version if there is one.
func (s *Store) Reconcile(ctx context.Context, id string, base version.Version, eventID string) (*Reconciliation, error) {
	if err := version.Check(string(base)); err != nil {
		return nil, err
	}

	unknown := func(err error) (*Reconciliation, error) {
		return &Reconciliation{
			Outcome: Unknown,
			Error:   err.Error(),
		}, nil
	}

	a, err := s.Storage.GetAutomata(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.NotFound
	}
	if err != nil {
		return unknown(err)
	}

	r := &Reconciliation{
		Version: a.Version,
		State:   a.State,
	}

	// The Automata was read first.  Anything committed before that
	// read is visible now.
	ev, err := s.Storage.GetEventByID(ctx, id, eventID)
	switch {
	case err == nil && base <= ev.BaseVersion:
		r.Outcome = Committed
		r.Event = ev
		return r, nil
	case err == nil:
		// The id was used before base.  Look for a later use.
		evs, err := s.Storage.ListEvents(ctx, id, base, 0)
		if err != nil {
			return unknown(err)
		}
		for _, ev := range evs {
			if ev.ID == eventID {
				r.Outcome = Committed
				r.Event = ev
				return r, nil
			}
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return unknown(err)
	}

	r.Outcome = NotCommitted
	ev, err = s.Storage.GetEvent(ctx, id, base)
	switch {
	case err == nil:
		r.Event = ev
	case errors.Is(err, storage.ErrNotFound):
		if base < a.Version {
			return unknown(errors.New("missing event"))
		}
	default:
		return unknown(err)
	}

	return r, nil
}
