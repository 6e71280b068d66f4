// Package storage is the sqlite-backed User Directory and Call repository.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/dkeye/Duet/internal/storage/migrations"
)

// Store wraps a SQLite database holding identities and call records.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database file and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent readers alongside the writer.
	if _, err := db.ExecContext(ctx, `
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const identityCols = `id, username, token, conn_id, paired_with, status`

func (s *Store) scanIdentity(row *sql.Row) (*domain.Identity, error) {
	i := &domain.Identity{}
	err := row.Scan(&i.ID, &i.Username, &i.Token, &i.ConnID, &i.PairedWith, &i.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return i, nil
}

func (s *Store) FindByToken(ctx context.Context, token string) (*domain.Identity, error) {
	query := `SELECT ` + identityCols + ` FROM users WHERE token = ?`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, token))
}

func (s *Store) FindByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	query := `SELECT ` + identityCols + ` FROM users WHERE id = ?`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, id))
}

// FindFreeOnlineOther returns the oldest-registered online identity without
// a mirrored pairing, excluding the given one.
func (s *Store) FindFreeOnlineOther(ctx context.Context, exclude domain.UserID) (*domain.Identity, error) {
	query := `SELECT ` + identityCols + ` FROM users
		 WHERE status = 'online' AND paired_with = '' AND id != ?
		 ORDER BY rowid LIMIT 1`
	return s.scanIdentity(s.db.QueryRowContext(ctx, query, exclude))
}

// Save upserts the identity. Unique username/token collisions come back as
// core.ErrDuplicate.
func (s *Store) Save(ctx context.Context, identity *domain.Identity) error {
	query := `INSERT INTO users (` + identityCols + `)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   conn_id = excluded.conn_id,
		   paired_with = excluded.paired_with,
		   status = excluded.status`
	_, err := s.db.ExecContext(ctx, query,
		identity.ID, identity.Username, identity.Token,
		identity.ConnID, identity.PairedWith, identity.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicate
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) ListOthers(ctx context.Context, exclude domain.UserID) ([]*domain.Identity, error) {
	query := `SELECT ` + identityCols + ` FROM users WHERE id != ? ORDER BY username`
	rows, err := s.db.QueryContext(ctx, query, exclude)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*domain.Identity
	for rows.Next() {
		i := &domain.Identity{}
		if err := rows.Scan(&i.ID, &i.Username, &i.Token, &i.ConnID, &i.PairedWith, &i.Status); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// Create inserts a call record, core.ErrDuplicate on an id collision.
func (s *Store) Create(ctx context.Context, call *domain.Call) error {
	query := `INSERT INTO calls (id, caller_id, callee_id, status, offer_sdp, answer_sdp, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		call.ID, call.CallerID, call.CalleeID, call.Status,
		call.OfferSDP, call.AnswerSDP, call.CreatedAt.Unix(), call.UpdatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicate
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update mirrors the current call state onto its row.
func (s *Store) Update(ctx context.Context, call *domain.Call) error {
	query := `UPDATE calls SET status = ?, offer_sdp = ?, answer_sdp = ?, updated_at = ?
		 WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query,
		call.Status, call.OfferSDP, call.AnswerSDP, call.UpdatedAt.Unix(), call.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetCall reads a call row back, mostly for diagnostics and tests.
func (s *Store) GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	query := `SELECT id, caller_id, callee_id, status, offer_sdp, answer_sdp, created_at, updated_at
		 FROM calls WHERE id = ?`
	c := &domain.Call{}
	var created, updated int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.CallerID, &c.CalleeID, &c.Status,
		&c.OfferSDP, &c.AnswerSDP, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	return c, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
