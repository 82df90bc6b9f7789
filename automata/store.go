// Package automata owns Automata records and applies events to them.
//
// ApplyEvent loads an Automata, runs its transition, and then
// conditionally writes the event and the new state.  The condition
// is that the stored version hasn't changed since the load.  That
// conditional write is the only concurrency control: two writers
// against the same base version can't both succeed, and the loser
// gets core.VersionConflict.
package automata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Comcast/automata/blueprint"
	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/metrics"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/version"
)

// DefaultAttempts is the default number of tries for ApplyWithRetry.
var DefaultAttempts = 3

type Store struct {
	Storage  storage.Automata
	Resolver *blueprint.Resolver
	Engine   *core.Engine
	Metrics  *metrics.Metrics

	// Now is the clock for record timestamps.  Nil means
	// time.Now.
	Now func() time.Time
}

func NewStore(s storage.Automata, r *blueprint.Resolver, e *core.Engine) *Store {
	return &Store{
		Storage:  s,
		Resolver: r,
		Engine:   e,
	}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// withLogger puts a logger with the automata id into the context.
// The engine and the interpreters log through it.
func withLogger(ctx context.Context, id string) (context.Context, *zerolog.Logger) {
	logger := log.With().Str("automata", id).Logger()
	return logger.WithContext(ctx), &logger
}

// CreateRequest asks for a new Automata from a stored Blueprint.
type CreateRequest struct {
	// ID is optional.  If empty, a uuid is generated.
	ID string `json:"automataId,omitempty"`

	BlueprintID      string `json:"blueprintId" validate:"required"`
	TenantID         string `json:"tenantId" validate:"required"`
	RealmID          string `json:"realmId" validate:"required"`
	CreatorSubjectID string `json:"creatorSubjectId"`
}

// Create makes a new Automata at the zero version with the
// blueprint's initial state.
func (s *Store) Create(ctx context.Context, req *CreateRequest) (*core.Automata, error) {
	c, b, err := s.Resolver.Get(ctx, req.BlueprintID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: blueprint %s", core.NotFound, req.BlueprintID)
	}
	if err != nil {
		return nil, err
	}

	d := c.Descriptor()
	if err := s.Engine.Compile(ctx, d); err != nil {
		return nil, err
	}

	initial, err := core.Canonicalize(d.InitialState)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	a := &core.Automata{
		ID:                  id,
		TenantID:            req.TenantID,
		RealmID:             req.RealmID,
		Descriptor:          d,
		DescriptorSignature: b.Signature,
		DescriptorHash:      b.ID,
		CreatorSubjectID:    req.CreatorSubjectID,
		CreatedAt:           now,
		State:               initial,
		Version:             version.Zero(),
		Status:              core.StatusActive,
		UpdatedAt:           now,
	}

	if err := s.Storage.CreateAutomata(ctx, a); err != nil {
		return nil, err
	}

	log.Info().Str("automata", id).Str("blueprint", b.ID).Str("realm", req.RealmID).Msg("created")

	return a, nil
}

// Get returns core.NotFound if there's no such Automata.
func (s *Store) Get(ctx context.Context, id string) (*core.Automata, error) {
	a, err := s.Storage.GetAutomata(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.NotFound
	}
	return a, err
}

// ApplyRequest is one event for one Automata.
type ApplyRequest struct {
	AutomataID      string
	EventType       string
	EventData       interface{}
	SenderSubjectID string

	// EventID is an idempotency key for Reconcile.  If empty, a
	// uuid is generated.
	EventID string

	// Authorize, if given, sees the loaded Automata before the
	// transition runs.  An error (typically core.Forbidden)
	// aborts the application.
	Authorize func(a *core.Automata) error
}

// Result describes an applied event.
type Result struct {
	AutomataID  string          `json:"automataId"`
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	BaseVersion version.Version `json:"baseVersion"`
	NewVersion  version.Version `json:"newVersion"`
	NewState    interface{}     `json:"newState"`
}

// ApplyEvent applies the event exactly once or not at all.
//
// Errors are core.NotFound, whatever Authorize returns,
// core.Archived, the transition errors from core.Engine.Step,
// core.VersionConflict, version.Overflow, or storage errors.  No
// retries.
//
// If ctx expires during the conditional write, the event may or may
// not have been committed.  Use Reconcile with the EventID to find
// out.
func (s *Store) ApplyEvent(ctx context.Context, req *ApplyRequest) (r *Result, err error) {
	ctx, logger := withLogger(ctx, req.AutomataID)

	then := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = core.Code(err)
		}
		s.Metrics.ObserveApply(result, time.Since(then))
	}()

	a, err := s.Get(ctx, req.AutomataID)
	if err != nil {
		return nil, err
	}
	if req.Authorize != nil {
		if err := req.Authorize(a); err != nil {
			return nil, err
		}
	}
	if a.Status != core.StatusActive {
		return nil, core.Archived
	}

	next, err := s.Engine.Step(ctx, a.Descriptor, a.State, core.EventInput{
		Type:   req.EventType,
		Data:   req.EventData,
		Sender: req.SenderSubjectID,
	})
	if err != nil {
		logger.Debug().Err(err).Str("event", req.EventType).Msg("transition rejected")
		return nil, err
	}

	nextVersion, err := version.Increment(a.Version)
	if err != nil {
		return nil, err
	}

	eventID := req.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	now := s.now()
	data, err := core.Canonicalize(req.EventData)
	if err != nil {
		return nil, err
	}
	ev := &core.Event{
		ID:              eventID,
		AutomataID:      a.ID,
		BaseVersion:     a.Version,
		Type:            req.EventType,
		Data:            data,
		SenderSubjectID: req.SenderSubjectID,
		Timestamp:       now,
	}

	updated := *a
	updated.State = next
	updated.Version = nextVersion
	updated.UpdatedAt = now

	if err := s.Storage.CommitEvent(ctx, &updated, a.Version, ev); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return nil, s.classifyConflict(ctx, a.ID)
		case errors.Is(err, storage.ErrNotFound):
			return nil, core.NotFound
		}
		return nil, err
	}

	logger.Debug().
		Str("event", req.EventType).
		Str("eventId", eventID).
		Str("version", string(nextVersion)).
		Msg("applied")

	return &Result{
		AutomataID:  a.ID,
		EventID:     eventID,
		EventType:   req.EventType,
		BaseVersion: a.Version,
		NewVersion:  nextVersion,
		NewState:    next,
	}, nil
}

// classifyConflict tells an archive or a removal that happened after
// our read apart from a competing writer.
func (s *Store) classifyConflict(ctx context.Context, id string) error {
	a, err := s.Storage.GetAutomata(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return core.NotFound
	case err == nil && a.Status != core.StatusActive:
		return core.Archived
	}
	return core.VersionConflict
}

// ApplyWithRetry calls ApplyEvent up to attempts times, retrying
// only on core.VersionConflict.  Each attempt re-reads the Automata.
// The EventID is fixed on the first attempt so that every attempt
// uses the same idempotency key.
func (s *Store) ApplyWithRetry(ctx context.Context, req *ApplyRequest, attempts int) (*Result, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	r := *req
	if r.EventID == "" {
		r.EventID = uuid.NewString()
	}

	var err error
	for i := 0; i < attempts; i++ {
		var res *Result
		if res, err = s.ApplyEvent(ctx, &r); err == nil {
			return res, nil
		}
		if !errors.Is(err, core.VersionConflict) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		zerolog.Ctx(ctx).Debug().Str("automata", r.AutomataID).Int("attempt", i+1).Msg("retrying after conflict")
	}
	return nil, err
}

// Archive stops an Automata from accepting events.  The expected
// version guards against archiving a state the caller hasn't seen.
func (s *Store) Archive(ctx context.Context, id string, expected version.Version) error {
	err := s.Storage.SetStatus(ctx, id, expected, core.StatusArchived, s.now())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return core.NotFound
	case errors.Is(err, storage.ErrConflict):
		return core.VersionConflict
	case err != nil:
		return err
	}
	log.Info().Str("automata", id).Str("version", string(expected)).Msg("archived")
	return nil
}

// History returns events in version order starting at from.
func (s *Store) History(ctx context.Context, id string, from version.Version, limit int) ([]*core.Event, error) {
	if from == "" {
		from = version.Zero()
	}
	if err := version.Check(string(from)); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Storage.ListEvents(ctx, id, from, limit)
}

func (s *Store) ListByRealm(ctx context.Context, tenant, realm string) ([]*core.Automata, error) {
	return s.Storage.ListByRealm(ctx, tenant, realm)
}

func (s *Store) ListBySubject(ctx context.Context, subject string) ([]*core.Automata, error) {
	return s.Storage.ListBySubject(ctx, subject)
}
