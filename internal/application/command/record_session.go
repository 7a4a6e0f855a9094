package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/metrics"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
	"github.com/bloom-hub/bloom-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD SESSION COMMAND
// Appends a meditation session and refreshes the member's roles.
// ══════════════════════════════════════════════════════════════════════════════

// LargeSessionMinutes is the length above which an entry must be confirmed.
const LargeSessionMinutes = 300

// RecordSessionCommand holds a new session.
type RecordSessionCommand struct {
	CommunityID string
	UserID      string
	Minutes     int64
	Seconds     int64

	// UTCOffsetMinutes is the member's offset; the session is stamped with
	// their local wall-clock time.
	UTCOffsetMinutes int

	// Confirmed acknowledges an entry longer than LargeSessionMinutes.
	Confirmed bool
}

// Validate checks the command parameters.
func (c RecordSessionCommand) Validate() error {
	const op = "RecordSession"
	switch {
	case c.CommunityID == "" || c.UserID == "":
		return shared.NewDomainError("command", op, shared.ErrInvalidID, "community_id and user_id are required")
	case c.Minutes < 0:
		return shared.NewDomainError("command", op, shared.ErrValueOutOfRange, "minutes cannot be negative")
	case c.Seconds < 0 || c.Seconds > 59:
		return shared.NewDomainError("command", op, shared.ErrValueOutOfRange, "seconds must be between 0 and 59")
	case c.Minutes == 0 && c.Seconds == 0:
		return shared.NewDomainError("command", op, shared.ErrInvalidInput, "session must be longer than zero")
	case !timeutil.ValidOffset(c.UTCOffsetMinutes):
		return shared.NewDomainError("command", op, shared.ErrValueOutOfRange,
			fmt.Sprintf("unsupported utc offset %d minutes", c.UTCOffsetMinutes))
	case c.Minutes > LargeSessionMinutes && !c.Confirmed:
		return shared.NewDomainError("command", op, shared.ErrInvalidInput,
			fmt.Sprintf("sessions over %d minutes must be confirmed", LargeSessionMinutes))
	}
	return nil
}

// RecordSessionResult holds the outcome of an entry.
type RecordSessionResult struct {
	Session progress.SessionRecord `json:"-"`

	// Roles is nil when the role sync did not complete.
	Roles *SyncRolesResult `json:"roles,omitempty"`

	// RolesError describes why roles were not updated. The session is saved regardless.
	RolesError string `json:"roles_error,omitempty"`
}

// RecordSessionHandler handles new sessions.
type RecordSessionHandler struct {
	store   progress.SessionStore
	cache   progress.ProgressCache
	sync    *SyncRolesHandler
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewRecordSessionHandler creates a new handler. cache may be nil.
func NewRecordSessionHandler(
	store progress.SessionStore,
	cache progress.ProgressCache,
	sync *SyncRolesHandler,
	recorder metrics.Recorder,
	log *slog.Logger,
) *RecordSessionHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &RecordSessionHandler{
		store:   store,
		cache:   cache,
		sync:    sync,
		metrics: recorder,
		logger:  log,
		now:     time.Now,
	}
}

// Handle validates and stores the session, then syncs roles.
// A failed role sync is reported in the result and does not fail the entry.
func (h *RecordSessionHandler) Handle(ctx context.Context, cmd RecordSessionCommand) (*RecordSessionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	log := h.logger.With(logger.CommunityID(cmd.CommunityID), logger.UserID(cmd.UserID))

	record := progress.SessionRecord{
		ID:          uuid.NewString(),
		CommunityID: cmd.CommunityID,
		UserID:      cmd.UserID,
		OccurredAt:  timeutil.LocalWallClock(h.now(), cmd.UTCOffsetMinutes),
		Minutes:     cmd.Minutes,
		Seconds:     cmd.Seconds,

		UTCOffsetMinutes: cmd.UTCOffsetMinutes,
	}
	if err := h.store.Append(ctx, record); err != nil {
		return nil, err
	}
	h.metrics.RecordSessionRecorded()

	if cmd.Minutes > LargeSessionMinutes {
		log.Warn("large meditation entry added", "minutes", cmd.Minutes)
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, cmd.CommunityID, cmd.UserID); err != nil {
			log.Warn("failed to invalidate cached progress", logger.Err(err))
		}
	}

	result := &RecordSessionResult{Session: record}
	if h.sync == nil {
		return result, nil
	}

	roles, err := h.sync.Handle(ctx, SyncRolesCommand{
		CommunityID:      cmd.CommunityID,
		UserID:           cmd.UserID,
		UTCOffsetMinutes: cmd.UTCOffsetMinutes,
	})
	if err != nil {
		log.Error("session saved but roles not updated", logger.Err(err))
		result.RolesError = err.Error()
		return result, nil
	}
	result.Roles = roles
	return result, nil
}
