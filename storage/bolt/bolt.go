// Package bolt is a storage.Storage backed by a bbolt file.
//
// A conditional write is a read, a check, and a put inside one
// read-write transaction.  bbolt allows only one such transaction at
// a time, which makes the check-and-put atomic.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/version"
)

var (
	automataBucket   = []byte("automata")
	eventsBucket     = []byte("events")
	eventIDsBucket   = []byte("eventIds")
	realmsBucket     = []byte("realms")
	subjectsBucket   = []byte("subjects")
	blueprintsBucket = []byte("blueprints")
	appsBucket       = []byte("apps")
	accountsBucket   = []byte("accounts")

	buckets = [][]byte{
		automataBucket,
		eventsBucket,
		eventIDsBucket,
		realmsBucket,
		subjectsBucket,
		blueprintsBucket,
		appsBucket,
		accountsBucket,
	}

	// sep separates the parts of composite keys.
	sep = []byte{0}
)

func key(parts ...string) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if 0 < i {
			buf.Write(sep)
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

type Storage struct {
	Debug    bool
	filename string
	db       *bbolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	return &Storage{
		filename: filename,
	}, nil
}

// Open opens the file and makes sure the buckets exist.
func (s *Storage) Open() error {
	opts := &bbolt.Options{
		Timeout: time.Second,
	}

	db, err := bbolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		log.Debug().Str("storage", "bolt").Msgf(format, args...)
	}
}

func getAutomata(tx *bbolt.Tx, id string) (*core.Automata, error) {
	bs := tx.Bucket(automataBucket).Get([]byte(id))
	if bs == nil {
		return nil, storage.ErrNotFound
	}
	var a core.Automata
	if err := json.Unmarshal(bs, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func putAutomata(tx *bbolt.Tx, a *core.Automata) error {
	js, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return tx.Bucket(automataBucket).Put([]byte(a.ID), js)
}

func (s *Storage) GetAutomata(ctx context.Context, id string) (*core.Automata, error) {
	s.logf("GetAutomata %s", id)
	var a *core.Automata
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		a, err = getAutomata(tx, id)
		return err
	})
	return a, err
}

func (s *Storage) CreateAutomata(ctx context.Context, a *core.Automata) error {
	s.logf("CreateAutomata %s", a.ID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(automataBucket).Get([]byte(a.ID)) != nil {
			return storage.ErrExists
		}
		if err := putAutomata(tx, a); err != nil {
			return err
		}
		if err := tx.Bucket(realmsBucket).Put(key(a.TenantID, a.RealmID, a.ID), []byte{}); err != nil {
			return err
		}
		return tx.Bucket(subjectsBucket).Put(key(a.CreatorSubjectID, a.ID), []byte{})
	})
}

func (s *Storage) CommitEvent(ctx context.Context, a *core.Automata, expected version.Version, ev *core.Event) error {
	s.logf("CommitEvent %s %s", a.ID, expected)

	evjs, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		stored, err := getAutomata(tx, a.ID)
		if err != nil {
			return err
		}
		if err := storage.Check(stored, expected, true); err != nil {
			return err
		}
		events := tx.Bucket(eventsBucket)
		k := key(a.ID, string(ev.BaseVersion))
		if events.Get(k) != nil {
			return storage.ErrConflict
		}
		if err := events.Put(k, evjs); err != nil {
			return err
		}
		ids := tx.Bucket(eventIDsBucket)
		if idk := key(a.ID, ev.ID); ids.Get(idk) == nil {
			if err := ids.Put(idk, []byte(ev.BaseVersion)); err != nil {
				return err
			}
		}
		return putAutomata(tx, a)
	})
}

func (s *Storage) SetStatus(ctx context.Context, id string, expected version.Version, status core.Status, at time.Time) error {
	s.logf("SetStatus %s %s %s", id, expected, status)
	return s.db.Update(func(tx *bbolt.Tx) error {
		stored, err := getAutomata(tx, id)
		if err != nil {
			return err
		}
		if err := storage.Check(stored, expected, false); err != nil {
			return err
		}
		stored.Status = status
		stored.UpdatedAt = at
		return putAutomata(tx, stored)
	})
}

func (s *Storage) GetEvent(ctx context.Context, id string, base version.Version) (*core.Event, error) {
	var ev *core.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		bs := tx.Bucket(eventsBucket).Get(key(id, string(base)))
		if bs == nil {
			return storage.ErrNotFound
		}
		ev = &core.Event{}
		return json.Unmarshal(bs, ev)
	})
	return ev, err
}

func (s *Storage) GetEventByID(ctx context.Context, id, eventID string) (*core.Event, error) {
	var ev *core.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		base := tx.Bucket(eventIDsBucket).Get(key(id, eventID))
		if base == nil {
			return storage.ErrNotFound
		}
		bs := tx.Bucket(eventsBucket).Get(key(id, string(base)))
		if bs == nil {
			return storage.ErrNotFound
		}
		ev = &core.Event{}
		return json.Unmarshal(bs, ev)
	})
	return ev, err
}

// ListEvents uses a cursor over the events bucket.  Keys sort by
// version because versions are fixed-width.
func (s *Storage) ListEvents(ctx context.Context, id string, from version.Version, limit int) ([]*core.Event, error) {
	acc := make([]*core.Event, 0, 32)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var (
			c      = tx.Bucket(eventsBucket).Cursor()
			prefix = key(id, "")
		)
		for k, bs := c.Seek(key(id, string(from))); k != nil && bytes.HasPrefix(k, prefix); k, bs = c.Next() {
			if 0 < limit && limit <= len(acc) {
				break
			}
			var ev core.Event
			if err := json.Unmarshal(bs, &ev); err != nil {
				return err
			}
			acc = append(acc, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// listIndex reads the ids under the given prefix of an index bucket
// and then the Automata for those ids.
func (s *Storage) listIndex(bucket []byte, prefix []byte) ([]*core.Automata, error) {
	acc := make([]*core.Automata, 0, 8)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			a, err := getAutomata(tx, string(k[len(prefix):]))
			if err != nil {
				return err
			}
			acc = append(acc, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Storage) ListByRealm(ctx context.Context, tenant, realm string) ([]*core.Automata, error) {
	return s.listIndex(realmsBucket, key(tenant, realm, ""))
}

func (s *Storage) ListBySubject(ctx context.Context, subject string) ([]*core.Automata, error) {
	return s.listIndex(subjectsBucket, key(subject, ""))
}

func (s *Storage) GetBlueprint(ctx context.Context, id string) (*storage.Blueprint, error) {
	var b *storage.Blueprint
	err := s.db.View(func(tx *bbolt.Tx) error {
		bs := tx.Bucket(blueprintsBucket).Get([]byte(id))
		if bs == nil {
			return storage.ErrNotFound
		}
		b = &storage.Blueprint{}
		return json.Unmarshal(bs, b)
	})
	return b, err
}

func (s *Storage) PutBlueprintIfAbsent(ctx context.Context, b *storage.Blueprint) (*storage.Blueprint, error) {
	s.logf("PutBlueprintIfAbsent %s", b.ID)
	js, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(blueprintsBucket)
		if bucket.Get([]byte(b.ID)) != nil {
			return nil
		}
		return bucket.Put([]byte(b.ID), js)
	})
	if err != nil {
		return nil, err
	}
	return s.GetBlueprint(ctx, b.ID)
}

func (s *Storage) get(bucket []byte, id string, x interface{}) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bs := tx.Bucket(bucket).Get([]byte(id))
		if bs == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(bs, x)
	})
}

func (s *Storage) put(bucket []byte, id string, x interface{}) error {
	js, err := json.Marshal(x)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(id), js)
	})
}

func (s *Storage) GetApp(ctx context.Context, id string) (*storage.App, error) {
	var app storage.App
	if err := s.get(appsBucket, id, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *Storage) PutApp(ctx context.Context, app *storage.App) error {
	return s.put(appsBucket, app.ID, app)
}

func (s *Storage) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	var acct storage.Account
	if err := s.get(accountsBucket, id, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *Storage) PutAccount(ctx context.Context, acct *storage.Account) error {
	return s.put(accountsBucket, acct.ID, acct)
}
