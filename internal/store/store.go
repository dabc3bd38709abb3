// Package store persists organisation study plans in SQLite.
//
// Plans are stored as JSON documents keyed by (org_id, plan_id), mirroring the
// organisations/{orgId}/org_plans/{planId} document layout. Every write
// records a BLAKE3 hash of the document which callers can use as an ETag for
// optimistic concurrency.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/carry/core/errors"
	"github.com/FocuswithJustin/carry/core/passage"
	"github.com/FocuswithJustin/carry/core/plan"
	"github.com/FocuswithJustin/carry/core/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS org_plans (
	org_id     TEXT NOT NULL,
	plan_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	body       TEXT NOT NULL,
	hash       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (org_id, plan_id)
);
CREATE INDEX IF NOT EXISTS idx_org_plans_updated ON org_plans (org_id, updated_at);
`

// Entry is a stored plan together with the hash of its current document.
type Entry struct {
	Plan *plan.Plan `json:"plan"`
	Hash string     `json:"hash"`
}

// Store is a SQLite-backed plan store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the plan database at path.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.OpenApp(ctx, path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create validates p, assigns it a new id and version 1, and stores it under orgID.
func (s *Store) Create(ctx context.Context, orgID string, p *plan.Plan) (*Entry, error) {
	if orgID == "" {
		return nil, errors.NewValidation("orgId", "must not be empty")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p.ID = uuid.New().String()
	p.OrgID = orgID
	p.Version = 1
	p.Created = now
	p.Updated = now

	body, hash, err := encode(p)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO org_plans (org_id, plan_id, name, body, hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		orgID, p.ID, p.Name, body, hash, formatTime(now), formatTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "insert plan")
	}
	return &Entry{Plan: p, Hash: hash}, nil
}

// Get loads one plan.
func (s *Store) Get(ctx context.Context, orgID, planID string) (*Entry, error) {
	return getPlan(ctx, s.db, orgID, planID)
}

// List returns every plan of orgID, most recently updated first.
func (s *Store) List(ctx context.Context, orgID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body, hash FROM org_plans WHERE org_id = ? ORDER BY updated_at DESC, plan_id`, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "list plans")
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var body, hash string
		if err := rows.Scan(&body, &hash); err != nil {
			return nil, errors.Wrap(err, "scan plan")
		}
		p, err := decode(body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Plan: p, Hash: hash})
	}
	return entries, rows.Err()
}

// Update replaces a stored plan. When expectedHash is non-empty it must match
// the stored hash, otherwise a *errors.ConflictError is returned and nothing
// is written. The version is incremented on every successful update. p is
// not modified; the stored plan is returned in the entry.
func (s *Store) Update(ctx context.Context, p *plan.Plan, expectedHash string) (*Entry, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getPlan(ctx, tx, p.OrgID, p.ID)
		if err != nil {
			return err
		}
		if expectedHash != "" && expectedHash != current.Hash {
			return errors.NewConflict("plan", p.ID, expectedHash, current.Hash)
		}

		next := *p
		next.Created = current.Plan.Created
		next.Version = current.Plan.Version + 1
		entry, err = s.save(ctx, tx, &next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes a plan.
func (s *Store) Delete(ctx context.Context, orgID, planID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM org_plans WHERE org_id = ? AND plan_id = ?`, orgID, planID)
	if err != nil {
		return errors.Wrap(err, "delete plan")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete plan")
	}
	if n == 0 {
		return errors.NewNotFound("plan", planID)
	}
	return nil
}

// AddPassage resolves input with r and appends the resulting passage
// activity to block blockIndex of the plan. Resolution errors are returned
// unchanged so callers can show their message to the user.
func (s *Store) AddPassage(ctx context.Context, r *passage.Resolver, orgID, planID string, blockIndex int, input string) (*Entry, plan.Activity, error) {
	v, err := r.Resolve(input)
	if err != nil {
		return nil, plan.Activity{}, err
	}
	act := plan.NewPassageAct(v)

	var entry *Entry
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getPlan(ctx, tx, orgID, planID)
		if err != nil {
			return err
		}
		p := current.Plan
		if err := p.AddActivity(blockIndex, act); err != nil {
			return err
		}
		p.Version++
		entry, err = s.save(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, plan.Activity{}, err
	}
	return entry, act, nil
}

// save writes p inside tx, stamping Updated and recomputing the hash.
func (s *Store) save(ctx context.Context, tx *sql.Tx, p *plan.Plan) (*Entry, error) {
	p.Updated = s.now()
	body, hash, err := encode(p)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE org_plans SET name = ?, body = ?, hash = ?, updated_at = ? WHERE org_id = ? AND plan_id = ?`,
		p.Name, body, hash, formatTime(p.Updated), p.OrgID, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "update plan")
	}
	return &Entry{Plan: p, Hash: hash}, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getPlan(ctx context.Context, q queryer, orgID, planID string) (*Entry, error) {
	var body, hash string
	err := q.QueryRowContext(ctx,
		`SELECT body, hash FROM org_plans WHERE org_id = ? AND plan_id = ?`, orgID, planID).Scan(&body, &hash)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("plan", planID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load plan")
	}
	p, err := decode(body)
	if err != nil {
		return nil, err
	}
	return &Entry{Plan: p, Hash: hash}, nil
}

func encode(p *plan.Plan) (string, string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", "", errors.Wrap(err, "encode plan")
	}
	return string(body), Hash(body), nil
}

func decode(body string) (*plan.Plan, error) {
	var p plan.Plan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, errors.Wrap(err, "decode plan")
	}
	return &p, nil
}

// timeLayout is fixed width so that stored timestamps sort chronologically
// as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
