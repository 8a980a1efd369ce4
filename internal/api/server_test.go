package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quakewatch/quake-alert-service/internal/api"
	"github.com/quakewatch/quake-alert-service/internal/domain"
	"github.com/quakewatch/quake-alert-service/internal/scheduler"
	"github.com/quakewatch/quake-alert-service/internal/store"
)

type stubStore struct {
	events  []domain.Earthquake
	filter  store.SearchFilter
	pingErr error
	err     error
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func (s *stubStore) LatestEvents(_ context.Context, limit int) ([]domain.Earthquake, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.events) {
		return s.events[:limit], nil
	}
	return s.events, nil
}

func (s *stubStore) EventsByDay(context.Context, int, int, int) ([]domain.Earthquake, error) {
	return s.events, s.err
}

func (s *stubStore) EventsByWeek(context.Context, int, int) ([]domain.Earthquake, error) {
	return s.events, s.err
}

func (s *stubStore) EventsByMonth(context.Context, int, int) ([]domain.Earthquake, error) {
	return s.events, s.err
}

func (s *stubStore) SearchEvents(_ context.Context, f store.SearchFilter) ([]domain.Earthquake, error) {
	s.filter = f
	return s.events, s.err
}

type stubPoller struct {
	status scheduler.Status
}

func (p *stubPoller) Status() scheduler.Status { return p.status }

func mag(v float64) *float64 { return &v }

func sampleEvents() []domain.Earthquake {
	ev := domain.Earthquake{
		OccurredAt: time.Date(2025, 1, 10, 9, 5, 56, 0, time.UTC),
		Latitude:   36.9173,
		Longitude:  27.6803,
		Depth:      8.9,
		ML:         mag(1.4),
		Magnitude:  mag(1.4),
		Location:   "GOKOVA KORFEZI (EGE DENIZI)",
		Quality:    domain.QualityProvisional,
	}
	ev.DeriveCalendar()
	return []domain.Earthquake{ev}
}

func doGet(t *testing.T, st *stubStore, poller *stubPoller, path string) *httptest.ResponseRecorder {
	t.Helper()
	if poller == nil {
		poller = &stubPoller{}
	}
	srv := api.NewServer(":0", st, poller, slog.New(slog.DiscardHandler))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Count int               `json:"count"`
	Data  []json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestServer_Health(t *testing.T) {
	rec := doGet(t, &stubStore{}, nil, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Ready(t *testing.T) {
	rec := doGet(t, &stubStore{}, nil, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, &stubStore{pingErr: errors.New("db gone")}, nil, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_PollingStatus(t *testing.T) {
	poller := &stubPoller{status: scheduler.Status{Running: true, Cycles: 4, LastOutcome: "success"}}
	rec := doGet(t, &stubStore{}, poller, "/polling/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.EqualValues(t, 4, st.Cycles)
}

func TestServer_Latest(t *testing.T) {
	rec := doGet(t, &stubStore{events: sampleEvents()}, nil, "/earthquakes/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, 1, env.Count)
	require.Len(t, env.Data, 1)
	assert.Contains(t, string(env.Data[0]), "GOKOVA KORFEZI")
}

func TestServer_LatestValidation(t *testing.T) {
	for _, path := range []string{
		"/earthquakes/latest?limit=0",
		"/earthquakes/latest?limit=-3",
		"/earthquakes/latest?limit=9999",
		"/earthquakes/latest?limit=soon",
	} {
		rec := doGet(t, &stubStore{}, nil, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestServer_EmptyResultIsArray(t *testing.T) {
	rec := doGet(t, &stubStore{}, nil, "/earthquakes/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"data":[]}`, rec.Body.String())
}

func TestServer_ByDay(t *testing.T) {
	rec := doGet(t, &stubStore{events: sampleEvents()}, nil, "/earthquakes/day/2025-01-10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeEnvelope(t, rec).Count)

	rec = doGet(t, &stubStore{}, nil, "/earthquakes/day/january-10")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ByWeekAndMonthValidation(t *testing.T) {
	for _, path := range []string{
		"/earthquakes/week/2025/0",
		"/earthquakes/week/2025/54",
		"/earthquakes/week/year/2",
		"/earthquakes/month/2025/13",
		"/earthquakes/month/2025/zero",
	} {
		rec := doGet(t, &stubStore{}, nil, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}

	rec := doGet(t, &stubStore{events: sampleEvents()}, nil, "/earthquakes/week/2025/2")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doGet(t, &stubStore{events: sampleEvents()}, nil, "/earthquakes/month/2025/1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Search(t *testing.T) {
	st := &stubStore{events: sampleEvents()}
	rec := doGet(t, st, nil, "/earthquakes/search?min_magnitude=1.0&max_magnitude=5.0&start=2025-01-01&end=2025-01-31&location=GOKOVA&limit=20")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, st.filter.MinMagnitude)
	assert.Equal(t, 1.0, *st.filter.MinMagnitude)
	require.NotNil(t, st.filter.MaxMagnitude)
	assert.Equal(t, 5.0, *st.filter.MaxMagnitude)
	require.NotNil(t, st.filter.From)
	require.NotNil(t, st.filter.To)
	assert.True(t, st.filter.To.After(*st.filter.From))
	assert.Equal(t, "GOKOVA", st.filter.Location)
	assert.Equal(t, 20, st.filter.Limit)
}

func TestServer_SearchValidation(t *testing.T) {
	for _, path := range []string{
		"/earthquakes/search?min_magnitude=big",
		"/earthquakes/search?max_magnitude=",
		"/earthquakes/search?start=yesterday",
		"/earthquakes/search?end=2025-99-99",
		"/earthquakes/search?limit=0",
	} {
		rec := doGet(t, &stubStore{}, nil, path)
		if path == "/earthquakes/search?max_magnitude=" {
			// Empty values are treated as absent.
			assert.Equal(t, http.StatusOK, rec.Code, path)
			continue
		}
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestServer_StorageErrorIs500(t *testing.T) {
	rec := doGet(t, &stubStore{err: errors.New("db exploded")}, nil, "/earthquakes/latest")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
