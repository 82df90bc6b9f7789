// Package sqlite is a storage.Storage backed by SQLite.
//
// The conditional write is an UPDATE guarded by the expected version
// and the active status, committed in the same transaction as the
// event insert.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Comcast/automata/core"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/version"
)

//go:embed schema.sql
var schema string

type Storage struct {
	path string
	db   *sql.DB
}

// Open opens (or creates) the database at the given path.
func Open(ctx context.Context, path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time.  Transactions queue for the
	// connection instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debug().Str("storage", "sqlite").Str("path", path).Msg("opened")

	return &Storage{
		path: path,
		db:   db,
	}, nil
}

func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getAutomata(ctx context.Context, q queryer, id string) (*core.Automata, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM automata WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a core.Automata
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Storage) GetAutomata(ctx context.Context, id string) (*core.Automata, error) {
	return getAutomata(ctx, s.db, id)
}

func (s *Storage) CreateAutomata(ctx context.Context, a *core.Automata) error {
	js, err := json.Marshal(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO automata (id, tenant_id, realm_id, subject_id, version, status, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		a.ID, a.TenantID, a.RealmID, a.CreatorSubjectID, string(a.Version), string(a.Status), string(js))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return storage.ErrExists
	}
	return nil
}

// conflictOrMissing distinguishes a failed precondition from a
// missing row after an UPDATE affected nothing.
func conflictOrMissing(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := getAutomata(ctx, tx, id); err != nil {
		return err
	}
	return storage.ErrConflict
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE automata SET version = ?, status = ?, body = ?
		 WHERE id = ? AND version = ? AND status = ?`,
		string(a.Version), string(a.Status), string(js),
		a.ID, string(expected), string(core.StatusActive))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return conflictOrMissing(ctx, tx, a.ID)
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO events (automata_id, base_version, event_id, body)
		 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		ev.AutomataID, string(ev.BaseVersion), ev.ID, string(evjs))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return storage.ErrConflict
	}

	return tx.Commit()
}

func (s *Storage) SetStatus(ctx context.Context, id string, expected version.Version, status core.Status, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := getAutomata(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := storage.Check(a, expected, false); err != nil {
		return err
	}
	a.Status = status
	a.UpdatedAt = at
	js, err := json.Marshal(a)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE automata SET status = ?, body = ? WHERE id = ? AND version = ?`,
		string(status), string(js), id, string(expected))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return storage.ErrConflict
	}

	return tx.Commit()
}

func (s *Storage) GetEvent(ctx context.Context, id string, base version.Version) (*core.Event, error) {
	return s.getEvent(ctx,
		`SELECT body FROM events WHERE automata_id = ? AND base_version = ?`,
		id, string(base))
}

func (s *Storage) GetEventByID(ctx context.Context, id, eventID string) (*core.Event, error) {
	return s.getEvent(ctx,
		`SELECT body FROM events WHERE automata_id = ? AND event_id = ?
		 ORDER BY base_version LIMIT 1`,
		id, eventID)
}

func (s *Storage) getEvent(ctx context.Context, query string, args ...interface{}) (*core.Event, error) {
	var body string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ev core.Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Storage) ListEvents(ctx context.Context, id string, from version.Version, limit int) ([]*core.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM events WHERE automata_id = ? AND base_version >= ?
		 ORDER BY base_version LIMIT ?`,
		id, string(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	acc := make([]*core.Event, 0, 32)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, err
		}
		acc = append(acc, &ev)
	}
	return acc, rows.Err()
}

func (s *Storage) list(ctx context.Context, query string, args ...interface{}) ([]*core.Automata, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	acc := make([]*core.Automata, 0, 8)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var a core.Automata
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, err
		}
		acc = append(acc, &a)
	}
	return acc, rows.Err()
}

func (s *Storage) ListByRealm(ctx context.Context, tenant, realm string) ([]*core.Automata, error) {
	return s.list(ctx,
		`SELECT body FROM automata WHERE tenant_id = ? AND realm_id = ? ORDER BY id`,
		tenant, realm)
}

func (s *Storage) ListBySubject(ctx context.Context, subject string) ([]*core.Automata, error) {
	return s.list(ctx,
		`SELECT body FROM automata WHERE subject_id = ? ORDER BY id`,
		subject)
}

func (s *Storage) GetBlueprint(ctx context.Context, id string) (*storage.Blueprint, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM blueprints WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b storage.Blueprint
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// PutBlueprintIfAbsent is a conditional insert.  A losing insert
// reads back the winner.
func (s *Storage) PutBlueprintIfAbsent(ctx context.Context, b *storage.Blueprint) (*storage.Blueprint, error) {
	js, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO blueprints (id, body) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		b.ID, string(js)); err != nil {
		return nil, err
	}
	return s.GetBlueprint(ctx, b.ID)
}

func (s *Storage) GetApp(ctx context.Context, id string) (*storage.App, error) {
	app := storage.App{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT account_id FROM apps WHERE id = ?`, id).Scan(&app.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *Storage) PutApp(ctx context.Context, app *storage.App) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO apps (id, account_id) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET account_id = excluded.account_id`,
		app.ID, app.AccountID)
	return err
}

func (s *Storage) GetAccount(ctx context.Context, id string) (*storage.Account, error) {
	acct := storage.Account{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, public_key FROM accounts WHERE id = ?`, id).Scan(&acct.TenantID, &acct.PublicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *Storage) PutAccount(ctx context.Context, acct *storage.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, tenant_id, public_key) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET tenant_id = excluded.tenant_id, public_key = excluded.public_key`,
		acct.ID, acct.TenantID, acct.PublicKey)
	return err
}
