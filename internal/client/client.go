package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-query-service/internal/models"
	"github.com/kjstillabower/weather-query-service/internal/observability"
)

// DefaultBaseURL is the WeatherAPI host; the client appends /v1/current.json.
const DefaultBaseURL = "https://api.weatherapi.com"

// maxErrorBody bounds how much of a non-2xx body is read when looking for an API error message.
const maxErrorBody = 64 << 10

type WeatherClient interface {
	FetchWeather(ctx context.Context, location string) (models.WeatherRecord, error)
}

// ErrMissingAPIKey is returned by the constructors when no API key is configured.
var ErrMissingAPIKey = errors.New("weather API key is required")

// WeatherAPIClient fetches current conditions from WeatherAPI. One call to FetchWeather
// issues exactly one GET; nothing is retried or cached.
type WeatherAPIClient struct {
	apiKey   string
	endpoint *url.URL
	client   *http.Client
}

// NewWeatherAPIClient returns a client whose transport gives up after timeout (0 = no limit).
func NewWeatherAPIClient(apiKey, baseURL string, timeout time.Duration) (*WeatherAPIClient, error) {
	return NewWeatherAPIClientWithHTTPClient(apiKey, baseURL, &http.Client{Timeout: timeout})
}

// NewWeatherAPIClientWithHTTPClient returns a client that sends requests through httpClient.
// A nil httpClient uses a zero http.Client (transport defaults).
func NewWeatherAPIClientWithHTTPClient(apiKey, baseURL string, httpClient *http.Client) (*WeatherAPIClient, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host required", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WeatherAPIClient{
		apiKey:   apiKey,
		endpoint: base.JoinPath("v1", "current.json"),
		client:   httpClient,
	}, nil
}

// apiErrorResponse is the body WeatherAPI sends with non-2xx statuses.
type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchWeather performs GET /v1/current.json?key=...&q=location. The location is sent as-is.
// Every failure is returned as a *FetchError.
func (c *WeatherAPIClient) FetchWeather(ctx context.Context, location string) (models.WeatherRecord, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, location)
	if err != nil {
		return models.WeatherRecord{}, c.fail(start, "error", newFetchError(ErrorCategoryNetwork, err.Error(), err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		category := ErrorCategoryNetwork
		if isTimeout(err) {
			category = ErrorCategoryTimeout
		}
		return models.WeatherRecord{}, c.fail(start, "error", newFetchError(category, transportMessage(err), err))
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.WeatherRecord{}, c.fail(start, status, statusError(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		category := ErrorCategoryNetwork
		if isTimeout(err) {
			category = ErrorCategoryTimeout
		}
		return models.WeatherRecord{}, c.fail(start, status, newFetchError(category, fmt.Sprintf("read response body: %v", err), err))
	}

	var record models.WeatherRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return models.WeatherRecord{}, c.fail(start, status, newFetchError(ErrorCategoryParsing, fmt.Sprintf("parse response: %v", err), err))
	}

	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return record, nil
}

// fail records call metrics for a failed fetch and returns fe unchanged.
func (c *WeatherAPIClient) fail(start time.Time, status string, fe *FetchError) *FetchError {
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(fe.category)).Inc()
	return fe
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, location string) (*http.Request, error) {
	u := *c.endpoint
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", location)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// statusError builds the FetchError for a non-2xx response, preferring the API's own message.
func statusError(resp *http.Response) *FetchError {
	statusErr := fmt.Errorf("%w: HTTP %d", ErrHTTPStatus, resp.StatusCode)

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr apiErrorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		return newFetchError(ErrorCategoryHTTPStatus, apiErr.Error.Message, statusErr)
	}

	msg := resp.Status
	if msg == "" {
		msg = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return newFetchError(ErrorCategoryHTTPStatus, msg, statusErr)
}

// transportMessage strips the request URL from transport errors; the URL carries the API key.
func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
