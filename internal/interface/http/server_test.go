package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-hub/bloom-progress/internal/application/command"
	"github.com/bloom-hub/bloom-progress/internal/application/query"
	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/metrics"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/memory"
	"github.com/bloom-hub/bloom-progress/internal/infrastructure/persistence/sqlite"
	"github.com/bloom-hub/bloom-progress/internal/interface/http/handlers"
	"github.com/bloom-hub/bloom-progress/pkg/logger"
)

const testToken = "s3cret-token"

type testServer struct {
	*httptest.Server
	roles  *memory.RoleGateway
	locker *memory.Locker
	health *handlers.CompositeHealthChecker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "bloom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ladder := progress.Ladder{
		Tiers:       progress.ThresholdTable{{Minimum: 60, Identifier: "seedling"}},
		Streaks:     progress.ThresholdTable{{Minimum: 7, Identifier: "week"}},
		TierRoles:   progress.RoleMap{"seedling": "r-seedling"},
		StreakRoles: progress.RoleMap{"week": "r-week"},
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	roles := memory.NewRoleGateway(logger.Discard())
	locker := memory.NewLocker()

	get := query.NewGetUserProgressHandler(store, nil, ladder, collector, logger.Discard())
	sync := command.NewSyncRolesHandler(get, roles, locker, time.Minute, collector, logger.Discard())
	record := command.NewRecordSessionHandler(store, nil, sync, collector, logger.Discard())

	hash, err := handlers.HashToken(testToken)
	require.NoError(t, err)

	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("store", handlers.PingCheck(store))

	srv := NewServer(DefaultConfig(), Dependencies{
		GetUserProgress:   get,
		RecordSession:     record,
		SyncRoles:         sync,
		GetCommunityStats: query.NewGetCommunityStatsHandler(store, 0, logger.Discard()),
		Health:            health,
		Auth:              handlers.NewTokenAuth(hash),
		Gatherer:          reg,
		Logger:            logger.Discard(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, roles: roles, locker: locker, health: health}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const memberPath = "/v1/communities/g1/members/u1"

func TestServer_RecordThenReadProgress(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, memberPath+"/sessions", `{"minutes":75,"seconds":30}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[recordSessionResponse](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(75), created.Minutes)
	assert.Empty(t, created.RolesError)
	require.NotNil(t, created.Roles)
	assert.Equal(t, []string{"r-seedling"}, created.Roles.Granted)

	resp = s.do(t, http.MethodGet, memberPath+"/progress", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decode[query.UserProgressDTO](t, resp)

	assert.Equal(t, "g1", dto.CommunityID)
	assert.Equal(t, "u1", dto.UserID)
	assert.Equal(t, int64(75), dto.LifetimeMinutes)
	assert.Equal(t, int64(1), dto.SessionCount)
	assert.Equal(t, 0, dto.CurrentStreakDays, "a single day is not a streak")
	require.NotNil(t, dto.Tier)
	assert.Equal(t, "seedling", dto.Tier.Identifier)
	assert.Nil(t, dto.StreakTier)
	require.Len(t, dto.Series, progress.DefaultHorizonDays+1)
	var total int64
	for _, d := range dto.Series {
		total += d.TotalMinutes
	}
	assert.Equal(t, int64(75), total)
	assert.Equal(t, "UTC+00:00", dto.UTCOffset)
}

func TestServer_TimeframesAndCommunityStats(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, memberPath+"/sessions", `{"minutes":30}`)
	s.do(t, http.MethodPost, "/v1/communities/g1/members/u2/sessions", `{"minutes":15,"seconds":45}`)
	s.do(t, http.MethodPost, "/v1/communities/g2/members/u3/sessions", `{"minutes":99}`)

	resp := s.do(t, http.MethodGet, memberPath+"/progress?timeframe=monthly", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dto := decode[query.UserProgressDTO](t, resp)
	assert.Equal(t, progress.Monthly, dto.Timeframe)
	require.Len(t, dto.Series, progress.DefaultHorizonDays+1)
	var total int64
	for _, p := range dto.Series {
		total += p.TotalMinutes
	}
	assert.Equal(t, int64(30), total)
	assert.Equal(t, int64(30), dto.WindowMinutes)

	resp = s.do(t, http.MethodGet, "/v1/communities/g1/progress?timeframe=yearly", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[query.CommunityStatsDTO](t, resp)
	assert.Equal(t, "g1", stats.CommunityID)
	assert.Equal(t, int64(45), stats.LifetimeMinutes)
	assert.Equal(t, int64(2), stats.SessionCount)
	assert.Equal(t, progress.Yearly, stats.Timeframe)
	assert.Equal(t, int64(45), stats.WindowMinutes)
	assert.Equal(t, int64(2), stats.WindowSessions)

	resp = s.do(t, http.MethodGet, "/v1/communities/g1/progress?timeframe=hourly", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_timeframe", decode[errorResponse](t, resp).Error)
}

func TestServer_SyncRoles(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.roles.GrantRole(context.Background(), "g1", "u1", "r-week"))

	resp := s.do(t, http.MethodPost, memberPath+"/roles/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[command.SyncRolesResult](t, resp)

	assert.Equal(t, []string{"r-week"}, res.Revoked)
	assert.Empty(t, res.Granted)
	assert.Empty(t, res.Held)
}

func TestServer_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	t.Run("bad offset", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, memberPath+"/progress?offset=banana", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_offset", decode[errorResponse](t, resp).Error)
	})

	t.Run("unconfirmed large session", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, memberPath+"/sessions", `{"minutes":301}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_request", decode[errorResponse](t, resp).Error)
	})

	t.Run("unknown field", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, memberPath+"/sessions", `{"minutes":5,"hours":1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("sync in progress", func(t *testing.T) {
		release, err := s.locker.Acquire(context.Background(), progress.RoleLockKey("g1", "u1"), time.Minute)
		require.NoError(t, err)
		defer release()

		resp := s.do(t, http.MethodPost, memberPath+"/roles/sync", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/v2/nothing", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + memberPath + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, s.URL+memberPath+"/progress", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	s.health.AddCheck("platform", func(context.Context) error { return errors.New("down") })
	resp2, err := http.Get(s.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
	status := decode[handlers.HealthStatus](t, resp2)
	assert.False(t, status.Checks["platform"].Healthy)
	assert.True(t, status.Checks["store"].Healthy)

	s.do(t, http.MethodPost, memberPath+"/sessions", `{"minutes":5}`)
	resp3, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.NewDomainError("q", "op", shared.ErrInvalidID, "x"), http.StatusBadRequest},
		{shared.NewDomainError("q", "op", shared.ErrLocked, "x"), http.StatusConflict},
		{shared.StoreUnavailable("op", errors.New("x")), http.StatusServiceUnavailable},
		{shared.NewDomainError("q", "op", shared.ErrRateLimited, "x"), http.StatusTooManyRequests},
		{shared.NewDomainError("q", "op", shared.ErrExternalService, "x"), http.StatusBadGateway},
		{shared.NewDomainError("q", "op", shared.ErrEmptyThresholdTable, "x"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
