package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-wager-bot/internal/pkg/db"
	"dice-wager-bot/internal/wager"
)

type fakeDB struct {
	err   error
	stats db.PoolStats
}

func (f fakeDB) HealthCheck(context.Context) error { return f.err }

func (f fakeDB) Stats() db.PoolStats { return f.stats }

type fakeStats struct{ stats wager.Stats }

func (f fakeStats) Stats() wager.Stats { return f.stats }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := Router(fakeDB{err: errors.New("down")}, fakeStats{})

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		ok     bool
	}{
		{"database up", nil, http.StatusOK, true},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, Router(fakeDB{err: tt.err}, fakeStats{}), "/readyz")
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.ok, body["ok"])
		})
	}
}

func TestStats(t *testing.T) {
	stats := wager.Stats{
		Open:              3,
		ByKind:            map[wager.Kind]int{wager.KindLobby: 2, wager.KindDuel: 1},
		ByState:           map[wager.State]int{wager.StateForming: 2, wager.StateOpen: 1},
		PendingSettlement: 0,
	}
	pool := db.PoolStats{TotalConns: 4, IdleConns: 3, AcquiredConns: 1, MaxConns: 20}
	rec := get(t, Router(fakeDB{stats: pool}, fakeStats{stats: stats}), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, stats, got.Sessions)
	assert.Equal(t, pool, got.Database)
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, Router(fakeDB{}, fakeStats{}), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
