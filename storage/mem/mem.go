// Package mem is an in-memory storage.Storage.
//
// Records are stored as JSON so that callers never share structure
// with what's stored.
package mem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/version"
)

type Storage struct {
	sync.RWMutex

	automata   map[string][]byte
	events     map[string]map[version.Version][]byte
	eventIDs   map[string]map[string]version.Version
	blueprints map[string][]byte
	apps       map[string]storage.App
	accounts   map[string]storage.Account
}

func NewStorage() *Storage {
	return &Storage{
		automata:   make(map[string][]byte),
		events:     make(map[string]map[version.Version][]byte),
		eventIDs:   make(map[string]map[string]version.Version),
		blueprints: make(map[string][]byte),
		apps:       make(map[string]storage.App),
		accounts:   make(map[string]storage.Account),
	}
}

func (s *Storage) Close() error {
	return nil
}

func decodeAutomata(bs []byte) (*core.Automata, error) {
	var a core.Automata
	if err := json.Unmarshal(bs, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) GetAutomata(ctx context.Context, id string) (*core.Automata, error) {
	s.RLock()
	bs, have := s.automata[id]
	s.RUnlock()
	if !have {
		return nil, storage.ErrNotFound
	}
	return decodeAutomata(bs)
}

func (s *Storage) CreateAutomata(ctx context.Context, a *core.Automata) error {
	js, err := json.Marshal(a)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	if _, have := s.automata[a.ID]; have {
		return storage.ErrExists
	}
	s.automata[a.ID] = js
	return nil
}

func (s *Storage) CommitEvent(ctx context.Context, a *core.Automata, expected version.Version, ev *core.Event) error {
	js, err := json.Marshal(a)
	if err != nil {
		return err
	}
	evjs, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	bs, have := s.automata[a.ID]
	if !have {
		return storage.ErrNotFound
	}
	stored, err := decodeAutomata(bs)
	if err != nil {
		return err
	}
	if err := storage.Check(stored, expected, true); err != nil {
		return err
	}

	evs, have := s.events[a.ID]
	if !have {
		evs = make(map[version.Version][]byte)
		s.events[a.ID] = evs
	}
	if _, have := evs[ev.BaseVersion]; have {
		return storage.ErrConflict
	}
	evs[ev.BaseVersion] = evjs

	ids, have := s.eventIDs[a.ID]
	if !have {
		ids = make(map[string]version.Version)
		s.eventIDs[a.ID] = ids
	}
	if _, have := ids[ev.ID]; !have {
		ids[ev.ID] = ev.BaseVersion
	}

	s.automata[a.ID] = js
	return nil
}

func (s *Storage) SetStatus(ctx context.Context, id string, expected version.Version, status core.Status, at time.Time) error {
	s.Lock()
	defer s.Unlock()

	bs, have := s.automata[id]
	if !have {
		return storage.ErrNotFound
	}
	stored, err := decodeAutomata(bs)
	if err != nil {
		return err
	}
	if err := storage.Check(stored, expected, false); err != nil {
		return err
	}
	stored.Status = status
	stored.UpdatedAt = at
	js, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	s.automata[id] = js
	return nil
}

func (s *Storage) GetEvent(ctx context.Context, id string, base version.Version) (*core.Event, error) {
	s.RLock()
	bs, have := s.events[id][base]
	s.RUnlock()
	if !have {
		return nil, storage.ErrNotFound
	}
	var ev core.Event
	if err := json.Unmarshal(bs, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Storage) GetEventByID(ctx context.Context, id, eventID string) (*core.Event, error) {
	s.RLock()
	base, have := s.eventIDs[id][eventID]
	s.RUnlock()
	if !have {
		return nil, storage.ErrNotFound
	}
	return s.GetEvent(ctx, id, base)
}

func (s *Storage) ListEvents(ctx context.Context, id string, from version.Version, limit int) ([]*core.Event, error) {
	s.RLock()
	vs := make([]string, 0, len(s.events[id]))
	for v := range s.events[id] {
		if from <= v {
			vs = append(vs, string(v))
		}
	}
	sort.Strings(vs)
	if 0 < limit && limit < len(vs) {
		vs = vs[:limit]
	}
	acc := make([]*core.Event, 0, len(vs))
	for _, v := range vs {
		var ev core.Event
		if err := json.Unmarshal(s.events[id][version.Version(v)], &ev); err != nil {
			s.RUnlock()
			return nil, err
		}
		acc = append(acc, &ev)
	}
	s.RUnlock()
	return acc, nil
}

func (s *Storage) list(pred func(a *core.Automata) bool) ([]*core.Automata, error) {
	s.RLock()
	defer s.RUnlock()
	acc := make([]*core.Automata, 0, 8)
	for _, bs := range s.automata {
		a, err := decodeAutomata(bs)
		if err != nil {
			return nil, err
		}
		if pred(a) {
			acc = append(acc, a)
		}
	}
	sort.Slice(acc, func(i, j int) bool { return acc[i].ID < acc[j].ID })
	return acc, nil
}

func (s *Storage) ListByRealm(ctx context.Context, tenant, realm string) ([]*core.Automata, error) {
	return s.list(func(a *core.Automata) bool {
		return a.TenantID == tenant && a.RealmID == realm
	})
}

func (s *Storage) ListBySubject(ctx context.Context, subject string) ([]*core.Automata, error) {
	return s.list(func(a *core.Automata) bool {
		return a.CreatorSubjectID == subject
	})
}

func (s *Storage) GetBlueprint(ctx context.Context, id string) (*storage.Blueprint, error) {
	s.RLock()
	bs, have := s.blueprints[id]
	s.RUnlock()
	if !have {
		return nil, storage.ErrNotFound
	}
	var b storage.Blueprint
	if err := json.Unmarshal(bs, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Storage) PutBlueprintIfAbsent(ctx context.Context, b *storage.Blueprint) (*storage.Blueprint, error) {
	js, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	s.Lock()
	if _, have := s.blueprints[b.ID]; !have {
		s.blueprints[b.ID] = js
	}
	s.Unlock()
	return s.GetBlueprint(ctx, b.ID)
}

func (s *Storage) GetApp(ctx context.Context, id string) (*storage.App, error) {
	s.RLock()
	defer s.RUnlock()
	app, have := s.apps[id]
	if !have {
		return nil, storage.ErrNotFound
	}
	return &app, nil
}

func (s *Storage) PutApp(ctx context.Context, app *storage.App) error {
	s.Lock()
	s.apps[app.ID] = *app
	s.Unlock()
	return nil
}

func (s *Storage) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	s.RLock()
	defer s.RUnlock()
	acct, have := s.accounts[id]
	if !have {
		return nil, storage.ErrNotFound
	}
	return &acct, nil
}

func (s *Storage) PutAccount(ctx context.Context, acct *storage.Account) error {
	s.Lock()
	s.accounts[acct.ID] = *acct
	s.Unlock()
	return nil
}
