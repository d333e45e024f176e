package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-query-service/internal/lifecycle"
	"github.com/kjstillabower/weather-query-service/internal/models"
	"github.com/kjstillabower/weather-query-service/internal/query"
	"github.com/kjstillabower/weather-query-service/internal/traffic"
)

var parisRecord = models.WeatherRecord{
	Location: models.Location{Name: "Paris", Country: "France"},
	Current: models.Current{
		TempC:     20,
		Condition: models.Condition{Text: "Sunny", Icon: "//cdn.weatherapi.com/weather/64x64/day/113.png"},
	},
}

// stubClient answers every fetch with record or err. If gate is set, fetches block on it.
type stubClient struct {
	mu        sync.Mutex
	record    models.WeatherRecord
	err       error
	gate      chan struct{}
	locations []string
}

func (s *stubClient) FetchWeather(ctx context.Context, location string) (models.WeatherRecord, error) {
	s.mu.Lock()
	s.locations = append(s.locations, location)
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	return s.record, s.err
}

func (s *stubClient) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.locations...)
}

type fixedHealth bool

func (f fixedHealth) Degraded(time.Duration, int) bool { return bool(f) }

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

type viewBody struct {
	State   string                `json:"state"`
	Message string                `json:"message"`
	Data    *models.WeatherRecord `json:"data"`
	IconURL string                `json:"iconUrl"`
}

func newTestRouter(t *testing.T, c *query.Controller) (*Handler, http.Handler) {
	t.Helper()
	h := NewHandler(c, nil, nil, zap.NewNop())
	t.Cleanup(h.CloseStreams)
	return h, NewRouter(h, zap.NewNop(), 5*time.Second)
}

func waitResolved(t *testing.T, c *query.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("fetch did not resolve: %v", err)
	}
}

// TestHandler_GetQuery_IdleBeforeFetch verifies that GET /query reports idle until the first fetch.
func TestHandler_GetQuery_IdleBeforeFetch(t *testing.T) {
	c := query.NewController(&stubClient{record: parisRecord})
	_, router := newTestRouter(t, c)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got viewBody
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "idle" || got.Data != nil {
		t.Errorf("view = %+v, want idle with no data", got)
	}
}

// TestHandler_PostQuery_Success verifies that POST /query answers 202 loading and the
// outcome becomes visible on GET /query once the fetch resolves.
func TestHandler_PostQuery_Success(t *testing.T) {
	// Arrange: hold the fetch open so the loading state can be observed
	stub := &stubClient{record: parisRecord, gate: make(chan struct{})}
	c := query.NewController(stub)
	_, router := newTestRouter(t, c)

	// Act: submit the query
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"location":"Paris"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Assert: accepted, loading, and GET agrees
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var accepted queryAccepted
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if accepted.Location != "Paris" || accepted.State != "loading" {
		t.Errorf("accepted = %+v, want Paris/loading", accepted)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query", nil))
	var loading viewBody
	_ = json.NewDecoder(w.Body).Decode(&loading)
	if loading.State != "loading" {
		t.Errorf("state while pending = %q, want loading", loading.State)
	}

	close(stub.gate)
	waitResolved(t, c)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query", nil))
	var done viewBody
	if err := json.NewDecoder(w.Body).Decode(&done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if done.State != "success" {
		t.Fatalf("state = %q, want success", done.State)
	}
	if done.Data == nil || done.Data.Location.Name != "Paris" || done.Data.Current.TempC != 20 {
		t.Errorf("data = %+v, want Paris at 20", done.Data)
	}
	if want := "https://cdn.weatherapi.com/weather/128x128/day/113.png"; done.IconURL != want {
		t.Errorf("iconUrl = %q, want %q", done.IconURL, want)
	}
}

// TestHandler_PostQuery_Failure verifies that a client error surfaces as the error state
// carrying the client's message.
func TestHandler_PostQuery_Failure(t *testing.T) {
	c := query.NewController(&stubClient{err: errors.New("No matching location found.")})
	_, router := newTestRouter(t, c)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"location":"Atlantis"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	waitResolved(t, c)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/query", nil))
	var got viewBody
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "error" || got.Message != "No matching location found." {
		t.Errorf("view = %+v, want error with upstream message", got)
	}
	if got.Data != nil {
		t.Errorf("error view carries data: %+v", got.Data)
	}
}

// TestHandler_PostQuery_Bodies verifies the accepted body encodings. The location is
// forwarded exactly as given, including empty and whitespace-only values.
func TestHandler_PostQuery_Bodies(t *testing.T) {
	form := url.Values{"location": {"  New York "}}.Encode()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"json", "application/json", `{"location":"Paris"}`, "Paris"},
		{"json without content type", "", `{"location":"London"}`, "London"},
		{"json empty location", "application/json", `{"location":""}`, ""},
		{"json missing field", "application/json", `{}`, ""},
		{"empty body", "", "", ""},
		{"form whitespace preserved", "application/x-www-form-urlencoded", form, "  New York "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubClient{record: parisRecord}
			c := query.NewController(stub)
			_, router := newTestRouter(t, c)

			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusAccepted, w.Body.String())
			}
			waitResolved(t, c)
			if seen := stub.seen(); len(seen) != 1 || seen[0] != tt.want {
				t.Errorf("client saw %q, want [%q]", seen, tt.want)
			}
		})
	}
}

// TestHandler_PostQuery_InvalidBody verifies that an undecodable body is rejected with
// INVALID_REQUEST, carries the correlation ID, and starts no fetch.
func TestHandler_PostQuery_InvalidBody(t *testing.T) {
	stub := &stubClient{record: parisRecord}
	c := query.NewController(stub)
	_, router := newTestRouter(t, c)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"location":`},
		{"wrong type", `{"location":42}`},
		{"not an object", `"Paris"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Correlation-ID", "corr-123")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != "INVALID_REQUEST" {
				t.Errorf("error.code = %q, want INVALID_REQUEST", body.Error.Code)
			}
			if body.Error.RequestID != "corr-123" {
				t.Errorf("error.requestId = %q, want corr-123", body.Error.RequestID)
			}
		})
	}

	if _, ok := c.Current(); ok {
		t.Error("invalid body started a fetch")
	}
	if seen := stub.seen(); len(seen) != 0 {
		t.Errorf("client called with %q", seen)
	}
}

// TestHandler_PostQuery_FetchOutlivesRequestTimeout verifies that a fetch started under
// the /query timeout still resolves after the request deadline passes.
func TestHandler_PostQuery_FetchOutlivesRequestTimeout(t *testing.T) {
	stub := &stubClient{record: parisRecord, gate: make(chan struct{})}
	c := query.NewController(stub)
	h := NewHandler(c, nil, nil, zap.NewNop())
	router := NewRouter(h, zap.NewNop(), 10*time.Millisecond)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"location":"Paris"}`)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}

	time.Sleep(30 * time.Millisecond)
	close(stub.gate)
	waitResolved(t, c)

	if res, _ := c.Current(); res.Kind() != query.KindSuccess {
		t.Errorf("state = %v, want success", res.Kind())
	}
}

// TestHandler_Routing verifies unknown paths and methods get the standard error body.
func TestHandler_Routing(t *testing.T) {
	c := query.NewController(&stubClient{})
	_, router := newTestRouter(t, c)

	tests := []struct {
		method, path string
		wantStatus   int
		wantCode     string
	}{
		{http.MethodGet, "/weather/paris", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodDelete, "/query", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body errorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("error.code = %q, want %q", body.Error.Code, tt.wantCode)
			}
		})
	}
}

// TestHandler_GetHealth verifies the status priority: shutting-down > degraded > healthy.
func TestHandler_GetHealth(t *testing.T) {
	cfg := &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50, StartTime: time.Now()}

	tests := []struct {
		name         string
		shuttingDown bool
		degraded     bool
		wantStatus   string
		wantCode     int
		wantAPI      string
	}{
		{"healthy", false, false, "healthy", http.StatusOK, "healthy"},
		{"degraded", false, true, "degraded", http.StatusServiceUnavailable, "unhealthy"},
		{"shutting down wins", true, true, "shutting-down", http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lifecycle.SetShuttingDown(tt.shuttingDown)
			defer lifecycle.SetShuttingDown(false)

			h := NewHandler(query.NewController(&stubClient{}), fixedHealth(tt.degraded), cfg, zap.NewNop())
			w := httptest.NewRecorder()
			h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
				Uptime string            `json:"uptime"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if !tt.shuttingDown && body.Checks["weatherApi"] != tt.wantAPI {
				t.Errorf("checks.weatherApi = %q, want %q", body.Checks["weatherApi"], tt.wantAPI)
			}
			if body.Uptime == "" {
				t.Error("uptime missing")
			}
		})
	}
}

// TestHandler_GetHealth_DegradedFromTracker verifies that failed fetches recorded by the
// controller drive the health status to degraded.
func TestHandler_GetHealth_DegradedFromTracker(t *testing.T) {
	tracker := traffic.NewTracker(time.Minute)
	c := query.NewController(&stubClient{err: errors.New("Bad Gateway")}, query.WithOutcomeRecorder(tracker))
	h := NewHandler(c, tracker, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, zap.NewNop())

	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("before fetches: status = %d, want %d", w.Code, http.StatusOK)
	}

	c.Fetch(context.Background(), "Paris")
	waitResolved(t, c)

	w = httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("after failure: status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// TestHandler_GetHealth_LogsTransition verifies that a change in health status is logged once.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	health := &toggleHealth{}
	h := NewHandler(query.NewController(&stubClient{}), health,
		&HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, zap.New(core))

	serve := func() {
		h.GetHealth(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	}
	serve()
	health.set(true)
	serve()
	serve()

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" {
		t.Errorf("transition fields = %v", fields)
	}
}

type toggleHealth struct {
	mu       sync.Mutex
	degraded bool
}

func (t *toggleHealth) set(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.degraded = v
}

func (t *toggleHealth) Degraded(time.Duration, int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}
