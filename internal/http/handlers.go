package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-query-service/internal/lifecycle"
	"github.com/kjstillabower/weather-query-service/internal/observability"
	"github.com/kjstillabower/weather-query-service/internal/query"
	"github.com/kjstillabower/weather-query-service/internal/render"
)

// maxQueryBody bounds POST /query bodies.
const maxQueryBody = 16 << 10

// QueryController is the query state machine as seen by the HTTP front end.
type QueryController interface {
	Fetch(ctx context.Context, location string)
	Current() (query.Result, bool)
	Subscribe() (<-chan query.Result, func())
}

// HealthChecker reports whether recent fetches failed often enough to call the service degraded.
type HealthChecker interface {
	Degraded(window time.Duration, thresholdPct int) bool
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	StartTime        time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	controller   QueryController
	health       HealthChecker
	healthConfig *HealthConfig
	logger       *zap.Logger
	upgrader     websocket.Upgrader

	healthStatusMu   sync.Mutex
	healthStatusPrev string

	streamsDone chan struct{}
	closeOnce   sync.Once
}

// NewHandler returns a new Handler. health and healthConfig may be nil, in which case
// /health only reports shutdown.
func NewHandler(
	controller QueryController,
	health HealthChecker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		controller:   controller,
		health:       health,
		healthConfig: healthConfig,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		streamsDone: make(chan struct{}),
	}
}

type queryRequest struct {
	Location string `json:"location"`
}

type queryAccepted struct {
	Location string `json:"location"`
	State    string `json:"state"`
}

// PostQuery handles POST /query. It starts a fetch and answers 202 with the Loading state;
// the outcome is read from GET /query or /query/stream. The location is not validated.
func (h *Handler) PostQuery(w http.ResponseWriter, r *http.Request) {
	location, err := readLocation(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON {\"location\": string} or a form with location")
		observability.LoggerFromContext(r.Context(), h.logger).Debug("bad query body", zap.Error(err))
		return
	}

	h.controller.Fetch(r.Context(), location)
	writeJSON(w, http.StatusAccepted, queryAccepted{Location: location, State: string(query.KindLoading)})
}

// readLocation extracts the location from a JSON or form body. An empty body means "".
func readLocation(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxQueryBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return "", err
		}
		return r.PostFormValue("location"), nil
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}
	return req.Location, nil
}

// GetQuery handles GET /query and returns the current state view.
func (h *Handler) GetQuery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.currentView())
}

func (h *Handler) currentView() render.View {
	if res, ok := h.controller.Current(); ok {
		return render.ViewOf(res)
	}
	return render.IdleView()
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-query-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime"] = time.Since(h.healthConfig.StartTime).Round(time.Second).String()
	}
	if since, ok := lifecycle.ShuttingDownSince(); ok {
		resp["drainingFor"] = time.Since(since).Round(time.Millisecond).String()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order: shutting-down > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.health != nil && h.healthConfig != nil &&
		h.health.Degraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
