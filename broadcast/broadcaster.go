package broadcast

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/Comcast/automata/metrics"
	"github.com/Comcast/automata/version"
)

// deliver sends the message to one subscription while holding that
// subscription's lock, which serializes deliveries to it.
func (r *Registry) deliver(ctx context.Context, s *subscription, m *Message) (bool, error) {
	s.Lock()
	defer s.Unlock()

	if s.last != "" && m.Version < s.last {
		return false, nil
	}

	if 0 < r.DeliveryTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.DeliveryTimeout)
		defer cancel()
	}

	if err := s.conn.Deliver(ctx, m); err != nil {
		return false, err
	}
	s.last = m.Version
	return true, nil
}

// DefaultConcurrency bounds the deliveries of a single broadcast.
var DefaultConcurrency = 32

// Broadcaster fans state updates out to subscribed connections.
type Broadcaster struct {
	Registry *Registry

	// Concurrency bounds the number of simultaneous deliveries
	// per broadcast.
	Concurrency int
}

func NewBroadcaster(r *Registry, concurrency int) *Broadcaster {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Broadcaster{
		Registry:    r,
		Concurrency: concurrency,
	}
}

// Report summarizes a broadcast.
type Report struct {
	Delivered int
	Skipped   int
	Gone      int
	Transient int
}

// Broadcast delivers one state update to every connection subscribed
// to the Automata and waits for the deliveries to finish.
//
// A connection that reports ErrGone loses all its subscriptions.
// Transient errors are logged and the subscription stays.  Nothing
// is returned to the caller except the Report.
func (b *Broadcaster) Broadcast(ctx context.Context, automataID, eventType string, base, next version.Version, state interface{}) Report {
	m := &Message{
		Type:        StateUpdate,
		AutomataID:  automataID,
		EventType:   eventType,
		BaseVersion: base,
		Version:     next,
		State:       state,
	}

	var (
		subs     = b.Registry.subscribers(automataID)
		outcomes = make([]string, len(subs))
		p        = pool.New().WithMaxGoroutines(b.Concurrency)
	)

	for i, s := range subs {
		i, s := i, s
		p.Go(func() {
			outcomes[i] = b.deliver(ctx, s, m)
		})
	}
	p.Wait()

	var rep Report
	for _, o := range outcomes {
		switch o {
		case metrics.Delivered:
			rep.Delivered++
		case metrics.Gone:
			rep.Gone++
		case metrics.Transient:
			rep.Transient++
		default:
			rep.Skipped++
		}
	}

	log.Debug().
		Str("automata", automataID).
		Str("version", string(next)).
		Int("delivered", rep.Delivered).
		Int("gone", rep.Gone).
		Int("transient", rep.Transient).
		Msg("broadcast")

	return rep
}

func (b *Broadcaster) deliver(ctx context.Context, s *subscription, m *Message) string {
	r := b.Registry
	connID := s.conn.ID()

	delivered, err := r.deliver(ctx, s, m)
	switch {
	case err == nil && delivered:
		r.Metrics.ObserveDelivery(metrics.Delivered)
		return metrics.Delivered
	case err == nil:
		return "skipped"
	case errors.Is(err, ErrGone):
		log.Info().Str("conn", connID).Str("automata", m.AutomataID).Msg("connection gone")
		r.Unsubscribe(connID, m.AutomataID)
		r.Disconnect(connID)
		r.Metrics.ObserveDelivery(metrics.Gone)
		return metrics.Gone
	default:
		log.Warn().Err(err).Str("conn", connID).Str("automata", m.AutomataID).Msg("delivery failed")
		r.Metrics.ObserveDelivery(metrics.Transient)
		return metrics.Transient
	}
}
