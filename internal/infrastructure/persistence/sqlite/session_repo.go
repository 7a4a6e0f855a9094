// Package sqlite implements a single-file session store for development and
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// SessionRepository implements progress.SessionStore on SQLite.
// occurred_at is stored as UTC unix nanoseconds so range scans use the index.
type SessionRepository struct {
	db *sql.DB
}

var (
	_ progress.SessionStore        = (*SessionRepository)(nil)
	_ progress.CommunityStatsStore = (*SessionRepository)(nil)
)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*SessionRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	repo := &SessionRepository{db: db}
	if err := repo.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the database.
func (r *SessionRepository) Close() error {
	return r.db.Close()
}

// Ping checks the database is usable.
func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SessionRepository) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS meditation (
  record_id TEXT PRIMARY KEY,
  guild_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  meditation_minutes INTEGER NOT NULL CHECK (meditation_minutes >= 0),
  meditation_seconds INTEGER NOT NULL DEFAULT 0 CHECK (meditation_seconds BETWEEN 0 AND 59),
  occurred_at INTEGER NOT NULL,
  utc_offset INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_meditation_member_time ON meditation(guild_id, user_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_meditation_occurred_at ON meditation(occurred_at);
CREATE INDEX IF NOT EXISTS idx_meditation_guild_time ON meditation(guild_id, occurred_at);
`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create meditation table: %w", err)
	}
	return r.addOffsetColumn(ctx)
}

// addOffsetColumn upgrades databases created before sessions carried their offset.
func (r *SessionRepository) addOffsetColumn(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('meditation')`)
	if err != nil {
		return fmt.Errorf("inspect meditation table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect meditation table: %w", err)
		}
		if name == "utc_offset" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect meditation table: %w", err)
	}
	rows.Close()

	if _, err := r.db.ExecContext(ctx, `ALTER TABLE meditation ADD COLUMN utc_offset INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add utc_offset column: %w", err)
	}
	return nil
}

const sessionColumns = `record_id, guild_id, user_id, occurred_at, meditation_minutes, meditation_seconds, utc_offset`

// SessionsUpTo returns every session of the member with occurred_at <= reference.
func (r *SessionRepository) SessionsUpTo(ctx context.Context, communityID, userID string, reference time.Time) ([]progress.SessionRecord, error) {
	query := `
SELECT ` + sessionColumns + `
FROM meditation
WHERE guild_id = ? AND user_id = ? AND occurred_at <= ?
ORDER BY occurred_at
`
	return r.querySessions(ctx, "SessionsUpTo", query, communityID, userID, reference.UnixNano())
}

// CommunitySessions returns the community's sessions with from <= occurred_at <= reference.
func (r *SessionRepository) CommunitySessions(ctx context.Context, communityID string, from, reference time.Time) ([]progress.SessionRecord, error) {
	query := `
SELECT ` + sessionColumns + `
FROM meditation
WHERE guild_id = ? AND occurred_at >= ? AND occurred_at <= ?
ORDER BY occurred_at
`
	return r.querySessions(ctx, "CommunitySessions", query, communityID, from.UnixNano(), reference.UnixNano())
}

// CommunityTotals sums every session of the community with occurred_at <= reference.
func (r *SessionRepository) CommunityTotals(ctx context.Context, communityID string, reference time.Time) (progress.SessionTotals, error) {
	const query = `
SELECT COALESCE(SUM(meditation_minutes), 0), COALESCE(SUM(meditation_seconds), 0), COUNT(*)
FROM meditation
WHERE guild_id = ? AND occurred_at <= ?
`
	var t progress.SessionTotals
	err := r.db.QueryRowContext(ctx, query, communityID, reference.UnixNano()).Scan(&t.Minutes, &t.Seconds, &t.Count)
	if err != nil {
		return progress.SessionTotals{}, shared.StoreUnavailable("CommunityTotals", err)
	}
	return t, nil
}

func (r *SessionRepository) querySessions(ctx context.Context, op, query string, args ...any) ([]progress.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, shared.StoreUnavailable(op, err)
	}
	defer rows.Close()

	var records []progress.SessionRecord
	for rows.Next() {
		var rec progress.SessionRecord
		var occurred int64
		if err := rows.Scan(&rec.ID, &rec.CommunityID, &rec.UserID, &occurred, &rec.Minutes, &rec.Seconds, &rec.UTCOffsetMinutes); err != nil {
			return nil, shared.StoreUnavailable(op, err)
		}
		rec.OccurredAt = time.Unix(0, occurred).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StoreUnavailable(op, err)
	}
	return records, nil
}

// Append stores a new session.
func (r *SessionRepository) Append(ctx context.Context, rec progress.SessionRecord) error {
	const stmt = `
INSERT INTO meditation (record_id, guild_id, user_id, meditation_minutes, meditation_seconds, occurred_at, utc_offset)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	_, err := r.db.ExecContext(ctx, stmt,
		rec.ID, rec.CommunityID, rec.UserID, rec.Minutes, rec.Seconds, rec.OccurredAt.UnixNano(), rec.UTCOffsetMinutes,
	)
	if err != nil {
		if isConstraint(err) {
			return shared.WrapError("session", "Append", shared.ErrInvalidInput,
				fmt.Sprintf("session %s rejected", rec.ID), err)
		}
		return shared.StoreUnavailable("Append", err)
	}
	return nil
}

// ActiveMembers returns every member with a session at or after since, with the
// offset of their latest session.
func (r *SessionRepository) ActiveMembers(ctx context.Context, since time.Time) ([]progress.MemberKey, error) {
	// SQLite takes bare columns from the row holding MAX().
	const query = `
SELECT guild_id, user_id, utc_offset, MAX(occurred_at)
FROM meditation
WHERE occurred_at >= ?
GROUP BY guild_id, user_id
ORDER BY guild_id, user_id
`
	rows, err := r.db.QueryContext(ctx, query, since.UnixNano())
	if err != nil {
		return nil, shared.StoreUnavailable("ActiveMembers", err)
	}
	defer rows.Close()

	var members []progress.MemberKey
	for rows.Next() {
		var m progress.MemberKey
		var latest int64
		if err := rows.Scan(&m.CommunityID, &m.UserID, &m.UTCOffsetMinutes, &latest); err != nil {
			return nil, shared.StoreUnavailable("ActiveMembers", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StoreUnavailable("ActiveMembers", err)
	}
	return members, nil
}

func isConstraint(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
