package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bidpilot/internal/channels"
	"github.com/jonathan/bidpilot/internal/events"
	"github.com/jonathan/bidpilot/internal/journey"
	"github.com/jonathan/bidpilot/internal/logging"
	"github.com/jonathan/bidpilot/internal/memstore"
	"github.com/jonathan/bidpilot/internal/preferences"
	"github.com/jonathan/bidpilot/internal/secrets"
	"github.com/jonathan/bidpilot/internal/server/ratelimit"
	"github.com/jonathan/bidpilot/internal/types"
)

type harness struct {
	server *Server
	store  *memstore.Store
	bus    *events.Bus
	tenant uuid.UUID
	user   uuid.UUID
}

type option func(*Deps)

func withLimiter(l *ratelimit.Limiter) option { return func(d *Deps) { d.Limiter = l } }
func withoutSecrets() option {
	return func(d *Deps) {
		d.Preferences = preferences.NewService(d.Store.(*memstore.Store), nil, logging.Nop())
	}
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	store := memstore.New()
	bus := events.NewBus(logging.Nop())

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	box, err := secrets.NewBox(key)
	require.NoError(t, err)

	deps := Deps{
		Store:       store,
		Pipeline:    journey.NewEngine(store, logging.Nop()),
		Preferences: preferences.NewService(store, box, logging.Nop()),
		Channels:    channels.NewRegistry(channels.NewInApp(bus)),
		Bus:         bus,
		Logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &harness{
		server: New(Config{StreamHeartbeat: 50 * time.Millisecond}, deps),
		store:  store,
		bus:    bus,
		tenant: uuid.New(),
		user:   uuid.New(),
	}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) userPath(suffix string) string {
	return "/tenants/" + h.tenant.String() + "/users/" + h.user.String() + suffix
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(CorrelationHeader))

	w = h.do(t, http.MethodGet, "/health/channels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"IN_APP": true}, decode(t, w)["channels"])
}

func TestVAPIDPublicKey(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/push/vapid-public-key", nil).Code)

	h = newHarness(t, func(d *Deps) { d.VAPIDPublicKey = "BPub" })
	w := h.do(t, http.MethodGet, "/push/vapid-public-key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BPub", decode(t, w)["public_key"])
}

func TestGetPipeline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := types.Job{TenantID: h.tenant, Title: "Go API"}
	require.NoError(t, h.store.CreateJob(ctx, &job))
	require.NoError(t, h.store.CreateJob(ctx, &types.Job{TenantID: uuid.New(), Title: "someone else's"}))

	w := h.do(t, http.MethodGet, "/tenants/"+h.tenant.String()+"/pipeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])

	w = h.do(t, http.MethodGet, "/tenants/"+h.tenant.String()+"/pipeline/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])
}

func TestGetPipeline_EmptyTenantIsEmptyList(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/tenants/"+h.tenant.String()+"/pipeline", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["entries"])
}

func TestInvalidPathIDs(t *testing.T) {
	h := newHarness(t)
	paths := []string{
		"/tenants/not-a-uuid/pipeline",
		"/tenants/" + h.tenant.String() + "/jobs/nope/capture",
		"/tenants/" + h.tenant.String() + "/users/nope/preferences",
	}
	for _, p := range paths {
		method := http.MethodGet
		if strings.HasSuffix(p, "/capture") {
			method = http.MethodPost
		}
		w := h.do(t, method, p, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, p)
		assert.Contains(t, decode(t, w)["error"], "must be a UUID")
	}
}

func TestCaptureJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var mu sync.Mutex
	var captured []events.Event
	events.On(h.bus, events.JobCaptured, "test", func(_ context.Context, ev events.Event, _ events.JobCapturedPayload) error {
		mu.Lock()
		defer mu.Unlock()
		captured = append(captured, ev)
		return nil
	})

	job := types.Job{TenantID: h.tenant, Title: "Scraper"}
	require.NoError(t, h.store.CreateJob(ctx, &job))

	req := httptest.NewRequest(http.MethodPost, "/tenants/"+h.tenant.String()+"/jobs/"+job.ID.String()+"/capture", nil)
	req.Header.Set(CorrelationHeader, "corr-123")
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	h.bus.Wait()

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, "corr-123", body["correlation_id"])
	assert.Equal(t, "corr-123", w.Header().Get(CorrelationHeader))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured, 1)
	assert.Equal(t, h.tenant, captured[0].TenantID)
	assert.Equal(t, "corr-123", captured[0].CorrelationID)
	assert.Equal(t, events.JobCapturedPayload{JobID: job.ID}, captured[0].Payload)
}

func TestCaptureJob_UnknownOrForeignJob(t *testing.T) {
	h := newHarness(t)
	foreign := types.Job{TenantID: uuid.New(), Title: "other tenant"}
	require.NoError(t, h.store.CreateJob(context.Background(), &foreign))

	for _, id := range []uuid.UUID{uuid.New(), foreign.ID} {
		w := h.do(t, http.MethodPost, "/tenants/"+h.tenant.String()+"/jobs/"+id.String()+"/capture", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
}

func TestPreferences_PutGetReveal(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, h.userPath("/preferences"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPut, h.userPath("/preferences"), map[string]any{
		"enabled":              true,
		"min_match_percentage": 70,
		"channels":             []string{"SMS"},
		"phone_country_code":   "44",
		"phone_number":         "07700 900123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, []any{"IN_APP", "SMS"}, body["channels"])
	assert.Equal(t, "*******0123", body["phone_number_masked"])
	assert.NotContains(t, w.Body.String(), "900123")

	w = h.do(t, http.MethodGet, h.userPath("/preferences"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 70, decode(t, w)["min_match_percentage"])

	w = h.do(t, http.MethodGet, h.userPath("/preferences/secrets"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "07700 900123", decode(t, w)["phone_number"])
}

func TestPreferences_Rejects(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		body any
	}{
		{name: "threshold out of range", body: map[string]any{"min_match_percentage": 101}},
		{name: "unknown field", body: map[string]any{"min_match": 50}},
		{name: "unknown channel", body: map[string]any{"channels": []string{"FAX"}}},
		{name: "not json", body: "enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, http.MethodPut, h.userPath("/preferences"), tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestPreferences_SecretsWithoutKey(t *testing.T) {
	h := newHarness(t, withoutSecrets())

	w := h.do(t, http.MethodPut, h.userPath("/preferences"), map[string]any{
		"phone_country_code": "1", "phone_number": "4155550100",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = h.do(t, http.MethodPut, h.userPath("/preferences"), map[string]any{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodGet, h.userPath("/preferences/secrets"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListNotifications(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.store.CreateNotificationLog(ctx, &types.NotificationLogEntry{
			TenantID: h.tenant, UserID: h.user, JobID: uuid.New(),
			Channel: types.ChannelInApp, Status: types.NotificationSent, CorrelationID: "c",
		}))
	}
	require.NoError(t, h.store.CreateNotificationLog(ctx, &types.NotificationLogEntry{
		TenantID: h.tenant, UserID: uuid.New(), JobID: uuid.New(), Channel: types.ChannelInApp, Status: types.NotificationSent,
	}))

	w := h.do(t, http.MethodGet, h.userPath("/notifications"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["count"])

	w = h.do(t, http.MethodGet, h.userPath("/notifications?limit=2"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	for _, bad := range []string{"0", "201", "ten"} {
		w = h.do(t, http.MethodGet, h.userPath("/notifications?limit="+bad), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestRateLimit_CaptureReturns429(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewConfig(true, 1000, nil, nil))
	defer limiter.Stop()
	h := newHarness(t, withLimiter(limiter))

	path := "/tenants/" + h.tenant.String() + "/jobs/" + uuid.NewString() + "/capture"
	for i := 0; i < 5; i++ {
		w := h.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "30", w.Header().Get("X-RateLimit-Limit"))
	}

	w := h.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode(t, w)["error"])

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/health", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodOptions, h.userPath("/preferences"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestAlertStream_RelaysOnlyTheUsersAlerts(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+h.userPath("/alerts/stream"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() (event, id, data string) {
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, id, data
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return "", "", ""
	}

	event, _, _ := next()
	require.Equal(t, "ready", event)

	inApp := channels.NewInApp(h.bus)
	other := inApp.Send(ctx, channels.Payload{TenantID: h.tenant, UserID: uuid.New(), JobID: uuid.New(), Title: "not yours"}, channels.Config{})
	require.True(t, other.Success)
	jobID := uuid.New()
	mine := inApp.Send(ctx, channels.Payload{TenantID: h.tenant, UserID: h.user, JobID: jobID, Title: "80% match: Go API", FitScore: 80}, channels.Config{})
	require.True(t, mine.Success)

	event, id, data := next()
	assert.Equal(t, string(events.AlertJobMatch), event)
	assert.Equal(t, mine.MessageID, id)

	var msg alertMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, "80% match: Go API", msg.Title)
	assert.Equal(t, 80, msg.FitScore)

	cancel()
	assert.Eventually(t, func() bool { return h.bus.SubscriberCount(events.AlertJobMatch) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(&ErrValidation{Field: "x"}))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(&ErrNotFound{Resource: "job"}))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(preferences.ErrInvalid))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(preferences.ErrSecretsUnavailable))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(assert.AnError))
}
