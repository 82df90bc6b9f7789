package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/version"
)

type fakeConn struct {
	sync.Mutex
	id   string
	err  error
	msgs []*Message
}

func newConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) Deliver(ctx context.Context, m *Message) error {
	c.Lock()
	defer c.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) received() []*Message {
	c.Lock()
	defer c.Unlock()
	return append([]*Message(nil), c.msgs...)
}

type allow bool

func (a allow) CanReadAutomata(automataID, realmID string) bool {
	return bool(a)
}

func TestSubscribeBroadcast(t *testing.T) {
	var (
		ctx = context.Background()
		r   = NewRegistry()
		b   = NewBroadcaster(r, 4)
		c   = newConn("c1")
	)

	require.NoError(t, r.Subscribe(ctx, c, allow(true), "x", "r1"))
	require.Equal(t, 1, r.Count("x"))

	rep := b.Broadcast(ctx, "x", "INCREMENT", "000000", "000001", map[string]interface{}{"count": 5})
	require.Equal(t, 1, rep.Delivered)

	msgs := c.received()
	require.Len(t, msgs, 1)
	require.Equal(t, StateUpdate, msgs[0].Type)
	require.Equal(t, version.Version("000001"), msgs[0].Version)
	require.Equal(t, version.Version("000000"), msgs[0].BaseVersion)
	require.Equal(t, map[string]interface{}{"count": 5}, msgs[0].State)

	// Other automata don't reach this connection.
	b.Broadcast(ctx, "y", "INCREMENT", "000000", "000001", nil)
	require.Len(t, c.received(), 1)
}

func TestUnsubscribe(t *testing.T) {
	var (
		ctx = context.Background()
		r   = NewRegistry()
		b   = NewBroadcaster(r, 4)
		c   = newConn("c1")
	)

	require.NoError(t, r.Subscribe(ctx, c, allow(true), "x", "r1"))
	r.Unsubscribe("c1", "x")
	r.Unsubscribe("c1", "x")
	r.Unsubscribe("c2", "z")

	rep := b.Broadcast(ctx, "x", "INCREMENT", "000000", "000001", nil)
	require.Equal(t, Report{}, rep)
	require.Empty(t, c.received())
	require.Empty(t, r.Subscriptions("c1"))
}

func TestForbidden(t *testing.T) {
	r := NewRegistry()
	err := r.Subscribe(context.Background(), newConn("c1"), allow(false), "x", "r1")
	require.ErrorIs(t, err, core.Forbidden)
	require.Equal(t, 0, r.Count("x"))
}

func TestGoneAndTransient(t *testing.T) {
	var (
		ctx       = context.Background()
		r         = NewRegistry()
		b         = NewBroadcaster(r, 4)
		gone      = newConn("gone")
		transient = newConn("transient")
		fine      = newConn("fine")
	)

	for _, c := range []*fakeConn{gone, transient, fine} {
		require.NoError(t, r.Subscribe(ctx, c, allow(true), "x", "r1"))
		require.NoError(t, r.Subscribe(ctx, c, allow(true), "y", "r1"))
	}

	gone.err = fmt.Errorf("write: %w", ErrGone)
	transient.err = errors.New("buffer full")

	rep := b.Broadcast(ctx, "x", "E", "000000", "000001", nil)
	require.Equal(t, Report{Delivered: 1, Gone: 1, Transient: 1}, rep)

	require.Empty(t, r.Subscriptions("gone"))
	require.Equal(t, []string{"x", "y"}, r.Subscriptions("transient"))
	require.Equal(t, 2, r.Count("x"))
	require.Equal(t, 2, r.Count("y"))

	// The transient connection recovers.
	transient.Lock()
	transient.err = nil
	transient.Unlock()
	rep = b.Broadcast(ctx, "x", "E", "000001", "000002", nil)
	require.Equal(t, 2, rep.Delivered)
	require.Len(t, transient.received(), 1)
}

func TestMonotonic(t *testing.T) {
	var (
		ctx = context.Background()
		r   = NewRegistry()
		b   = NewBroadcaster(r, 4)
		c   = newConn("c1")
	)

	require.NoError(t, r.Subscribe(ctx, c, allow(true), "x", "r1"))

	ok, err := r.Send(ctx, "c1", &Message{Type: Snapshot, AutomataID: "x", Version: "000002"})
	require.NoError(t, err)
	require.True(t, ok)

	// Older than the snapshot.
	rep := b.Broadcast(ctx, "x", "E", "000000", "000001", nil)
	require.Equal(t, 1, rep.Skipped)

	rep = b.Broadcast(ctx, "x", "E", "000002", "000003", nil)
	require.Equal(t, 1, rep.Delivered)

	msgs := c.received()
	require.Len(t, msgs, 2)
	require.Equal(t, version.Version("000002"), msgs[0].Version)
	require.Equal(t, version.Version("000003"), msgs[1].Version)

	ok, err = r.Send(ctx, "c2", &Message{AutomataID: "x", Version: "000004"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentBroadcasts(t *testing.T) {
	var (
		ctx   = context.Background()
		r     = NewRegistry()
		b     = NewBroadcaster(r, 3)
		conns = make([]*fakeConn, 50)
		wg    sync.WaitGroup
	)

	for i := range conns {
		conns[i] = newConn(fmt.Sprintf("c%d", i))
		require.NoError(t, r.Subscribe(ctx, conns[i], allow(true), "x", "r1"))
	}

	// Broadcasts race with subscription churn on another
	// automata.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c := newConn(fmt.Sprintf("churn%d", i))
			_ = r.Subscribe(ctx, c, allow(true), "y", "r1")
			r.Disconnect(c.ID())
		}
	}()

	for n := uint64(1); n <= 20; n++ {
		base, _ := version.FromNumber(n - 1)
		next, _ := version.FromNumber(n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Broadcast(ctx, "x", "E", base, next, nil)
		}()
	}
	wg.Wait()

	for _, c := range conns {
		msgs := c.received()
		require.NotEmpty(t, msgs)
		for i := 1; i < len(msgs); i++ {
			require.True(t, msgs[i-1].Version < msgs[i].Version, "out of order for %s", c.id)
		}
	}
	require.Equal(t, 0, r.Count("y"))
}

func TestDisconnect(t *testing.T) {
	var (
		ctx = context.Background()
		r   = NewRegistry()
		c   = newConn("c1")
	)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Subscribe(ctx, c, allow(true), id, "r1"))
	}
	require.Equal(t, []string{"a", "b", "c"}, r.Subscriptions("c1"))

	r.Disconnect("c1")
	require.Empty(t, r.Subscriptions("c1"))
	for _, id := range []string{"a", "b", "c"} {
		require.Equal(t, 0, r.Count(id))
	}
}

func TestGoneCode(t *testing.T) {
	require.Equal(t, "ConnectionGone", core.Code(fmt.Errorf("x: %w", ErrGone)))
}

// slowConn records how many deliveries are in flight at once.
type slowConn struct {
	id       string
	inflight *int32
	peak     *int32
}

func (c *slowConn) ID() string {
	return c.id
}

func (c *slowConn) Deliver(ctx context.Context, m *Message) error {
	n := atomic.AddInt32(c.inflight, 1)
	defer atomic.AddInt32(c.inflight, -1)
	for {
		p := atomic.LoadInt32(c.peak)
		if n <= p || atomic.CompareAndSwapInt32(c.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func TestBoundedFanout(t *testing.T) {
	var (
		ctx      = context.Background()
		r        = NewRegistry()
		b        = NewBroadcaster(r, 2)
		inflight int32
		peak     int32
	)

	for i := 0; i < 10; i++ {
		c := &slowConn{id: fmt.Sprintf("c%d", i), inflight: &inflight, peak: &peak}
		require.NoError(t, r.Subscribe(ctx, c, allow(true), "x", "r1"))
	}

	rep := b.Broadcast(ctx, "x", "E", "000000", "000001", nil)
	require.Equal(t, 10, rep.Delivered)
	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	require.Equal(t, int32(0), atomic.LoadInt32(&inflight))
}

func TestSubscribeDuringDisconnect(t *testing.T) {
	var (
		ctx = context.Background()
		r   = NewRegistry()
		c   = newConn("c1")
		ids = make([]string, 200)
		wg  sync.WaitGroup
	)
	for i := range ids {
		ids[i] = fmt.Sprintf("a%d", i)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			_ = r.Subscribe(ctx, c, allow(true), id, "r1")
		}
	}()
	go func() {
		defer wg.Done()
		for range ids {
			r.Disconnect("c1")
		}
	}()
	wg.Wait()

	// The two indexes agree: no subscription outlives its
	// connection entry.
	have := make(map[string]bool)
	for _, id := range r.Subscriptions("c1") {
		have[id] = true
	}
	for _, id := range ids {
		require.Equal(t, have[id], r.Count(id) == 1, "automata %s", id)
	}

	r.Disconnect("c1")
	for _, id := range ids {
		require.Equal(t, 0, r.Count(id))
	}
}
