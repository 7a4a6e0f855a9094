package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// SessionRepository implements progress.SessionStore on PostgreSQL.
type SessionRepository struct {
	conn         *Connection
	queryTimeout time.Duration
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(conn *Connection, queryTimeout time.Duration) *SessionRepository {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &SessionRepository{conn: conn, queryTimeout: queryTimeout}
}

var (
	_ progress.SessionStore        = (*SessionRepository)(nil)
	_ progress.CommunityStatsStore = (*SessionRepository)(nil)
)

const sessionColumns = `record_id, guild_id, user_id, occurred_at, meditation_minutes, meditation_seconds, utc_offset`

// SessionsUpTo returns every session of the member with occurred_at <= reference.
func (r *SessionRepository) SessionsUpTo(ctx context.Context, communityID, userID string, reference time.Time) ([]progress.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `
		SELECT ` + sessionColumns + `
		FROM meditation
		WHERE guild_id = $1 AND user_id = $2 AND occurred_at <= $3
		ORDER BY occurred_at
	`

	return r.querySessions(ctx, "SessionsUpTo", query, communityID, userID, reference)
}

// CommunitySessions returns the community's sessions with from <= occurred_at <= reference.
func (r *SessionRepository) CommunitySessions(ctx context.Context, communityID string, from, reference time.Time) ([]progress.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `
		SELECT ` + sessionColumns + `
		FROM meditation
		WHERE guild_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at
	`

	return r.querySessions(ctx, "CommunitySessions", query, communityID, from, reference)
}

// CommunityTotals sums every session of the community with occurred_at <= reference.
func (r *SessionRepository) CommunityTotals(ctx context.Context, communityID string, reference time.Time) (progress.SessionTotals, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `
		SELECT COALESCE(SUM(meditation_minutes), 0), COALESCE(SUM(meditation_seconds), 0), COUNT(*)
		FROM meditation
		WHERE guild_id = $1 AND occurred_at <= $2
	`

	var t progress.SessionTotals
	err := r.conn.Pool().QueryRow(ctx, query, communityID, reference).Scan(&t.Minutes, &t.Seconds, &t.Count)
	if err != nil {
		return progress.SessionTotals{}, shared.StoreUnavailable("CommunityTotals", err)
	}
	return t, nil
}

func (r *SessionRepository) querySessions(ctx context.Context, op, query string, args ...any) ([]progress.SessionRecord, error) {
	rows, err := r.conn.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, shared.StoreUnavailable(op, err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.SessionRecord, error) {
		var rec progress.SessionRecord
		err := row.Scan(&rec.ID, &rec.CommunityID, &rec.UserID, &rec.OccurredAt, &rec.Minutes, &rec.Seconds, &rec.UTCOffsetMinutes)
		rec.OccurredAt = rec.OccurredAt.UTC()
		return rec, err
	})
	if err != nil {
		return nil, shared.StoreUnavailable(op, err)
	}

	return records, nil
}

// Append stores a new session.
func (r *SessionRepository) Append(ctx context.Context, rec progress.SessionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `
		INSERT INTO meditation (record_id, guild_id, user_id, meditation_minutes, meditation_seconds, occurred_at, utc_offset)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.conn.Pool().Exec(ctx, query,
		rec.ID, rec.CommunityID, rec.UserID, rec.Minutes, rec.Seconds, rec.OccurredAt, rec.UTCOffsetMinutes,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("session", "Append", shared.ErrInvalidInput,
				fmt.Sprintf("session %s already exists", rec.ID), err)
		}
		return shared.StoreUnavailable("Append", err)
	}
	return nil
}

// ActiveMembers returns every member with a session at or after since, with the
// offset of their latest session.
func (r *SessionRepository) ActiveMembers(ctx context.Context, since time.Time) ([]progress.MemberKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (guild_id, user_id) guild_id, user_id, utc_offset
		FROM meditation
		WHERE occurred_at >= $1
		ORDER BY guild_id, user_id, occurred_at DESC
	`

	rows, err := r.conn.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, shared.StoreUnavailable("ActiveMembers", err)
	}

	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.MemberKey, error) {
		var m progress.MemberKey
		err := row.Scan(&m.CommunityID, &m.UserID, &m.UTCOffsetMinutes)
		return m, err
	})
	if err != nil {
		return nil, shared.StoreUnavailable("ActiveMembers", err)
	}

	return members, nil
}
