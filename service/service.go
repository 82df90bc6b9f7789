// Package service exposes the automata operations over HTTP,
// websockets, and (optionally) MQTT.
//
// Every transport goes through Service.Apply so that authorization,
// bounded retry, and broadcast happen the same way no matter how an
// event arrives.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"

	"github.com/Comcast/automata/auth"
	"github.com/Comcast/automata/automata"
	"github.com/Comcast/automata/blueprint"
	"github.com/Comcast/automata/broadcast"
	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/interpreters"
	"github.com/Comcast/automata/metrics"
	"github.com/Comcast/automata/schema"
	"github.com/Comcast/automata/storage"
)

type Service struct {
	Config *Config

	Storage     storage.Storage
	Builtins    *blueprint.Builtins
	Resolver    *blueprint.Resolver
	Store       *automata.Store
	Registry    *broadcast.Registry
	Broadcaster *broadcast.Broadcaster
	Verifier    *auth.Verifier
	Metrics     *metrics.Metrics

	// Sync makes Apply wait for its broadcast.  Tests use it.
	Sync bool
}

// New wires a Service on top of the given storage.
func New(cfg *Config, s storage.Storage) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	builtins, err := blueprint.StandardBuiltins()
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	e := core.NewEngine(interpreters.Standard(), schema.NewValidator())
	e.Timeout = cfg.Engine.Timeout

	r := blueprint.NewResolver(s, s, builtins)

	st := automata.NewStore(s, r, e)
	st.Metrics = m

	reg := broadcast.NewRegistry()
	reg.Metrics = m
	reg.DeliveryTimeout = cfg.Broadcast.DeliveryTimeout

	v := &auth.Verifier{
		Issuer: cfg.Auth.Issuer,
	}
	if cfg.Auth.AccountTokens {
		v.Keys = auth.NewKeyCache(auth.AccountKeys(s), cfg.Auth.KeyTTL)
	}
	if cfg.Auth.JWTSecret != "" {
		v.Secret = []byte(cfg.Auth.JWTSecret)
	}

	return &Service{
		Config:      cfg,
		Storage:     s,
		Builtins:    builtins,
		Resolver:    r,
		Store:       st,
		Registry:    reg,
		Broadcaster: broadcast.NewBroadcaster(reg, cfg.Broadcast.Concurrency),
		Verifier:    v,
		Metrics:     m,
	}, nil
}

// EventRequest is an event from a client.
type EventRequest struct {
	AutomataID string      `json:"automataId" validate:"required"`
	EventType  string      `json:"eventType" validate:"required"`
	Data       interface{} `json:"data"`

	// EventID is optional.  Clients that want to Reconcile after a
	// timeout should supply one.
	EventID string `json:"eventId,omitempty"`
}

// Apply applies the event on behalf of the identity and then
// broadcasts the new state.
//
// The broadcast doesn't affect the result.
func (s *Service) Apply(ctx context.Context, id *auth.Identity, req *EventRequest) (*automata.Result, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	checker := auth.NewPermissionChecker(id)

	r, err := s.Store.ApplyWithRetry(ctx, &automata.ApplyRequest{
		AutomataID:      req.AutomataID,
		EventType:       req.EventType,
		EventData:       req.Data,
		SenderSubjectID: id.SubjectID,
		EventID:         req.EventID,
		Authorize: func(a *core.Automata) error {
			return checker.Authorize(a, auth.Write)
		},
	}, s.Config.Engine.Retries)
	if err != nil {
		return nil, err
	}

	fanout := func() {
		// Not the request's context: the request may be done
		// before the fan-out is.
		s.Broadcaster.Broadcast(context.Background(), r.AutomataID, r.EventType, r.BaseVersion, r.NewVersion, r.NewState)
	}
	if s.Sync {
		fanout()
	} else {
		go fanout()
	}

	return r, nil
}

// Subscribe subscribes the connection to the Automata and then sends
// it a snapshot.
func (s *Service) Subscribe(ctx context.Context, c broadcast.Conn, id *auth.Identity, automataID string) error {
	a, err := s.Store.Get(ctx, automataID)
	if err != nil {
		return err
	}
	checker := auth.NewPermissionChecker(id)
	if err := checker.Authorize(a, auth.Read); err != nil {
		return err
	}
	if err := s.Registry.Subscribe(ctx, c, checker, a.ID, a.RealmID); err != nil {
		return err
	}

	// Read again now that we're subscribed.
	if a, err = s.Store.Get(ctx, automataID); err != nil {
		s.Registry.Unsubscribe(c.ID(), automataID)
		return err
	}

	_, err = s.Registry.Send(ctx, c.ID(), &broadcast.Message{
		Type:       broadcast.Snapshot,
		AutomataID: a.ID,
		Version:    a.Version,
		State:      a.State,
	})
	return err
}

// Serve runs the HTTP server (and the MQTT bridge if configured)
// until the context is done.
func (s *Service) Serve(ctx context.Context) error {
	if s.Config.MQTT.Broker != "" {
		b := NewMQTTBridge(s, NewMQTTClient(s.Config.MQTT))
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer b.Stop()
	}

	l, err := net.Listen("tcp", s.Config.HTTP.Addr)
	if err != nil {
		return err
	}
	l = netutil.LimitListener(l, s.Config.HTTP.MaxConns)

	server := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(l)
	}()

	log.Info().
		Str("addr", l.Addr().String()).
		Int("maxConns", s.Config.HTTP.MaxConns).
		Str("basePath", s.Config.HTTP.BasePath).
		Msg("serving")

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
