// Package storagetest exercises any storage.Storage.
//
// Each implementation's tests call Run with a constructor.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/version"
)

// NewAutomata makes a small Automata at the zero version.
func NewAutomata(id, tenant, realm, subject string) *core.Automata {
	now := time.Date(2020, 2, 3, 4, 5, 6, 0, time.UTC)
	return &core.Automata{
		ID:       id,
		TenantID: tenant,
		RealmID:  realm,
		Descriptor: &core.Descriptor{
			EventSchemas: map[string]string{
				"INCREMENT": "amount: number",
			},
			Transition: core.TransitionSource{
				Source: `({count: _.state.count + _.event.data.amount})`,
			},
			InitialState: map[string]interface{}{"count": float64(0)},
		},
		DescriptorHash:   "abc",
		CreatorSubjectID: subject,
		CreatedAt:        now,
		State:            map[string]interface{}{"count": float64(0)},
		Version:          version.Zero(),
		Status:           core.StatusActive,
		UpdatedAt:        now,
	}
}

// advance returns the successor of a along with the event that got
// it there.
func advance(t *testing.T, a *core.Automata, eventID string, count float64) (*core.Automata, *core.Event) {
	next, err := version.Increment(a.Version)
	require.NoError(t, err)
	b := a.Copy()
	b.Version = next
	b.State = map[string]interface{}{"count": count}
	ev := &core.Event{
		ID:              eventID,
		AutomataID:      a.ID,
		BaseVersion:     a.Version,
		Type:            "INCREMENT",
		Data:            map[string]interface{}{"amount": float64(1)},
		SenderSubjectID: "s1",
		Timestamp:       a.UpdatedAt,
	}
	return b, ev
}

// Run runs all the tests against storage made by mk.
func Run(t *testing.T, mk func(t *testing.T) storage.Storage) {
	tests := []struct {
		name string
		f    func(t *testing.T, s storage.Storage)
	}{
		{"CreateGet", testCreateGet},
		{"Commit", testCommit},
		{"ConcurrentCommit", testConcurrentCommit},
		{"Status", testStatus},
		{"Events", testEvents},
		{"Lists", testLists},
		{"Blueprints", testBlueprints},
		{"Directory", testDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mk(t)
			defer func() {
				require.NoError(t, s.Close())
			}()
			tt.f(t, s)
		})
	}
}

func testCreateGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.GetAutomata(ctx, "a1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	a := NewAutomata("a1", "t1", "r1", "s1")
	require.NoError(t, s.CreateAutomata(ctx, a))
	require.ErrorIs(t, s.CreateAutomata(ctx, a), storage.ErrExists)

	got, err := s.GetAutomata(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, a.Version, got.Version)
	require.Equal(t, a.State, got.State)
	require.Equal(t, a.Descriptor.Transition, got.Descriptor.Transition)
	require.True(t, a.CreatedAt.Equal(got.CreatedAt))
}

func testCommit(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	a := NewAutomata("a1", "t1", "r1", "s1")
	require.NoError(t, s.CreateAutomata(ctx, a))

	b, ev := advance(t, a, "e1", 1)
	require.NoError(t, s.CommitEvent(ctx, b, a.Version, ev))

	got, err := s.GetAutomata(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, version.Version("000001"), got.Version)
	require.Equal(t, map[string]interface{}{"count": float64(1)}, got.State)

	// Stale.
	c, ev := advance(t, a, "e2", 2)
	require.ErrorIs(t, s.CommitEvent(ctx, c, a.Version, ev), storage.ErrConflict)

	got, err = s.GetAutomata(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, version.Version("000001"), got.Version)

	_, err = s.GetEvent(ctx, "a1", "000001")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentCommit(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	a := NewAutomata("a1", "t1", "r1", "s1")
	require.NoError(t, s.CreateAutomata(ctx, a))

	var (
		n    = 8
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		b, ev := advance(t, a, fmt.Sprintf("e%d", i), float64(i))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CommitEvent(ctx, b, a.Version, ev)
		}(i)
	}
	wg.Wait()

	won := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, won, "two winners")
			won = i
			continue
		}
		require.ErrorIs(t, err, storage.ErrConflict)
	}
	require.NotEqual(t, -1, won)

	ev, err := s.GetEvent(ctx, "a1", a.Version)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("e%d", won), ev.ID)
}

func testStatus(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	at := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	require.ErrorIs(t, s.SetStatus(ctx, "nope", version.Zero(), core.StatusArchived, at), storage.ErrNotFound)

	a := NewAutomata("a1", "t1", "r1", "s1")
	require.NoError(t, s.CreateAutomata(ctx, a))

	require.ErrorIs(t, s.SetStatus(ctx, "a1", "000009", core.StatusArchived, at), storage.ErrConflict)
	require.NoError(t, s.SetStatus(ctx, "a1", a.Version, core.StatusArchived, at))

	got, err := s.GetAutomata(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, core.StatusArchived, got.Status)
	require.True(t, at.Equal(got.UpdatedAt))

	// No events for archived automata.
	b, ev := advance(t, a, "e1", 1)
	require.ErrorIs(t, s.CommitEvent(ctx, b, a.Version, ev), storage.ErrConflict)
}

func testEvents(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	a := NewAutomata("a1", "t1", "r1", "s1")
	require.NoError(t, s.CreateAutomata(ctx, a))

	for i := 0; i < 5; i++ {
		b, ev := advance(t, a, fmt.Sprintf("e%d", i), float64(i+1))
		require.NoError(t, s.CommitEvent(ctx, b, a.Version, ev))
		a = b
	}

	evs, err := s.ListEvents(ctx, "a1", version.Zero(), 0)
	require.NoError(t, err)
	require.Len(t, evs, 5)
	for i, ev := range evs {
		require.Equal(t, fmt.Sprintf("e%d", i), ev.ID)
		n, err := version.ToNumber(ev.BaseVersion)
		require.NoError(t, err)
		require.Equal(t, uint64(i), n)
	}

	evs, err = s.ListEvents(ctx, "a1", "000002", 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, "e2", evs[0].ID)
	require.Equal(t, "e3", evs[1].ID)

	ev, err := s.GetEvent(ctx, "a1", "000004")
	require.NoError(t, err)
	require.Equal(t, "e4", ev.ID)
	require.Equal(t, map[string]interface{}{"amount": float64(1)}, ev.Data)

	ev, err = s.GetEventByID(ctx, "a1", "e3")
	require.NoError(t, err)
	require.Equal(t, version.Version("000003"), ev.BaseVersion)

	// A reused event id finds the earliest event.
	b, dup := advance(t, a, "e1", 6)
	require.NoError(t, s.CommitEvent(ctx, b, a.Version, dup))
	ev, err = s.GetEventByID(ctx, "a1", "e1")
	require.NoError(t, err)
	require.Equal(t, version.Version("000001"), ev.BaseVersion)

	_, err = s.GetEventByID(ctx, "a1", "e9")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetEventByID(ctx, "nope", "e1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	evs, err = s.ListEvents(ctx, "nope", version.Zero(), 0)
	require.NoError(t, err)
	require.Empty(t, evs)
}

func testLists(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for _, a := range []*core.Automata{
		NewAutomata("a2", "t1", "r1", "s1"),
		NewAutomata("a1", "t1", "r1", "s2"),
		NewAutomata("a3", "t1", "r2", "s1"),
		NewAutomata("a4", "t2", "r1", "s1"),
	} {
		require.NoError(t, s.CreateAutomata(ctx, a))
	}

	ids := func(as []*core.Automata) []string {
		acc := make([]string, len(as))
		for i, a := range as {
			acc[i] = a.ID
		}
		return acc
	}

	as, err := s.ListByRealm(ctx, "t1", "r1")
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2"}, ids(as))

	as, err = s.ListBySubject(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, []string{"a2", "a3", "a4"}, ids(as))

	as, err = s.ListByRealm(ctx, "t3", "r1")
	require.NoError(t, err)
	require.Empty(t, as)
}

func testBlueprints(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.GetBlueprint(ctx, "b1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	first := &storage.Blueprint{
		ID:               "b1",
		Content:          json.RawMessage(`{"name":"first"}`),
		Signature:        "sig1",
		CreatorAccountID: "acct1",
		CreatedAt:        time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	got, err := s.PutBlueprintIfAbsent(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "sig1", got.Signature)

	second := *first
	second.Signature = "sig2"
	got, err = s.PutBlueprintIfAbsent(ctx, &second)
	require.NoError(t, err)
	require.Equal(t, "sig1", got.Signature)
	require.JSONEq(t, `{"name":"first"}`, string(got.Content))
}

func testDirectory(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.GetApp(ctx, "app1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetAccount(ctx, "acct1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.PutApp(ctx, &storage.App{ID: "app1", AccountID: "acct1"}))
	require.NoError(t, s.PutAccount(ctx, &storage.Account{ID: "acct1", TenantID: "t1", PublicKey: "key"}))

	app, err := s.GetApp(ctx, "app1")
	require.NoError(t, err)
	require.Equal(t, "acct1", app.AccountID)

	acct, err := s.GetAccount(ctx, "acct1")
	require.NoError(t, err)
	require.Equal(t, "key", acct.PublicKey)
	require.Equal(t, "t1", acct.TenantID)
}
