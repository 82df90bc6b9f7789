// Package broadcast tracks which connections are subscribed to which
// Automata and pushes state updates to them.
//
// The Registry is a sharded map that subscribe, unsubscribe,
// disconnect, and broadcast may all use concurrently.  Each
// subscription remembers the last version it delivered, and nothing
// older is ever delivered after that, so a connection sees one
// Automata's versions in non-decreasing order.
package broadcast

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/metrics"
	"github.com/Comcast/automata/version"
)

// ErrGone is what a Conn returns when the connection is permanently
// gone.  Any other delivery error is transient.
var ErrGone = core.NewCodedError("ConnectionGone", "connection gone")

// Message types.
const (
	Snapshot    = "snapshot"
	StateUpdate = "stateUpdate"
)

// Message is what subscribers receive.
type Message struct {
	Type        string          `json:"type"`
	AutomataID  string          `json:"automataId"`
	EventType   string          `json:"eventType,omitempty"`
	BaseVersion version.Version `json:"baseVersion,omitempty"`
	Version     version.Version `json:"version"`
	State       interface{}     `json:"state"`
}

// Conn is the delivery primitive for a live connection.
//
// Deliver should return (something that errors.Is) ErrGone when the
// connection will never accept another message.
type Conn interface {
	ID() string
	Deliver(ctx context.Context, m *Message) error
}

// Permissions decides what a connection may read.
type Permissions interface {
	CanReadAutomata(automataID, realmID string) bool
}

// DefaultShards is the number of shards in a Registry.
var DefaultShards = 32

type subscription struct {
	sync.Mutex
	conn Conn
	last version.Version
}

type shard struct {
	sync.RWMutex

	// automata maps automata ids to connection ids to
	// subscriptions.
	automata map[string]map[string]*subscription

	// conns maps connection ids to the set of automata ids.
	conns map[string]map[string]bool
}

// Registry maps Automata to subscribed connections.
type Registry struct {
	// Metrics is optional.
	Metrics *metrics.Metrics

	// DeliveryTimeout bounds each delivery.  Zero means no bound
	// beyond the caller's context.
	DeliveryTimeout time.Duration

	automata []*shard
	conns    []*shard
}

func NewRegistry() *Registry {
	r := &Registry{
		automata: make([]*shard, DefaultShards),
		conns:    make([]*shard, DefaultShards),
	}
	for i := range r.automata {
		r.automata[i] = &shard{automata: make(map[string]map[string]*subscription)}
		r.conns[i] = &shard{conns: make(map[string]map[string]bool)}
	}
	return r
}

func index(id string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

func (r *Registry) automataShard(id string) *shard {
	return r.automata[index(id, len(r.automata))]
}

func (r *Registry) connShard(id string) *shard {
	return r.conns[index(id, len(r.conns))]
}

// Subscribe registers the connection's interest in the Automata if
// the permissions allow reading it.  Returns core.Forbidden
// otherwise.  Subscribing again is harmless.
//
// The caller should then read the Automata and Send a Snapshot.
// Reading after subscribing means no committed update can fall
// between the snapshot and the first broadcast.
func (r *Registry) Subscribe(ctx context.Context, c Conn, perms Permissions, automataID, realmID string) error {
	if perms == nil || !perms.CanReadAutomata(automataID, realmID) {
		return core.Forbidden
	}

	connID := c.ID()

	// Both indexes change under the connection shard's lock, so a
	// concurrent Disconnect sees either neither entry or both.
	// Lock order: connection shard, then automata shard.
	// Only Unsubscribe also holds both, in the same order.
	cs := r.connShard(connID)
	cs.Lock()
	ids, have := cs.conns[connID]
	if !have {
		ids = make(map[string]bool)
		cs.conns[connID] = ids
	}
	ids[automataID] = true

	as := r.automataShard(automataID)
	as.Lock()
	subs, have := as.automata[automataID]
	if !have {
		subs = make(map[string]*subscription)
		as.automata[automataID] = subs
	}
	_, already := subs[connID]
	if !already {
		subs[connID] = &subscription{conn: c}
	}
	as.Unlock()
	cs.Unlock()

	if !already {
		r.Metrics.AddSubscriptions(1)
	}

	return nil
}

// Unsubscribe is idempotent.
func (r *Registry) Unsubscribe(connID, automataID string) {
	cs := r.connShard(connID)
	cs.Lock()
	as := r.automataShard(automataID)
	as.Lock()
	removed := false
	if subs, have := as.automata[automataID]; have {
		if _, removed = subs[connID]; removed {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(as.automata, automataID)
			}
		}
	}
	as.Unlock()

	if ids, have := cs.conns[connID]; have {
		delete(ids, automataID)
		if len(ids) == 0 {
			delete(cs.conns, connID)
		}
	}
	cs.Unlock()

	if removed {
		r.Metrics.AddSubscriptions(-1)
	}
}

// Disconnect removes all of the connection's subscriptions.
func (r *Registry) Disconnect(connID string) {
	for _, id := range r.Subscriptions(connID) {
		r.Unsubscribe(connID, id)
	}
}

// Subscriptions returns the sorted automata ids the connection is
// subscribed to.
func (r *Registry) Subscriptions(connID string) []string {
	cs := r.connShard(connID)
	cs.RLock()
	acc := make([]string, 0, len(cs.conns[connID]))
	for id := range cs.conns[connID] {
		acc = append(acc, id)
	}
	cs.RUnlock()
	sort.Strings(acc)
	return acc
}

// subscribers returns a snapshot of the Automata's subscriptions.
func (r *Registry) subscribers(automataID string) []*subscription {
	as := r.automataShard(automataID)
	as.RLock()
	defer as.RUnlock()
	subs := as.automata[automataID]
	acc := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		acc = append(acc, s)
	}
	return acc
}

// Count returns the number of connections subscribed to the
// Automata.
func (r *Registry) Count(automataID string) int {
	as := r.automataShard(automataID)
	as.RLock()
	defer as.RUnlock()
	return len(as.automata[automataID])
}

func (r *Registry) lookup(connID, automataID string) *subscription {
	as := r.automataShard(automataID)
	as.RLock()
	defer as.RUnlock()
	return as.automata[automataID][connID]
}

// Send delivers one message to one subscribed connection.  Returns
// false if the connection isn't subscribed or the message was
// dropped as older than what the connection already has.
func (r *Registry) Send(ctx context.Context, connID string, m *Message) (bool, error) {
	s := r.lookup(connID, m.AutomataID)
	if s == nil {
		return false, nil
	}
	return r.deliver(ctx, s, m)
}
