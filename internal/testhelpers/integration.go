//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-query-service/internal/client"
	"github.com/kjstillabower/weather-query-service/internal/query"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey  string
	APIURL  string
	Timeout time.Duration
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultBaseURL
	}

	return IntegrationTestConfig{APIKey: apiKey, APIURL: apiURL, Timeout: 10 * time.Second}
}

// SetupIntegrationClient creates a live WeatherAPI client.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.WeatherClient {
	t.Helper()
	c, err := client.NewWeatherAPIClient(cfg.APIKey, cfg.APIURL, cfg.Timeout)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}
	return c
}

// SetupIntegrationController creates a controller backed by the live client, logging to t.
func SetupIntegrationController(t *testing.T, cfg IntegrationTestConfig, opts ...query.Option) *query.Controller {
	t.Helper()
	opts = append([]query.Option{query.WithLogger(zaptest.NewLogger(t))}, opts...)
	return query.NewController(SetupIntegrationClient(t, cfg), opts...)
}

// WaitResolved blocks until every fetch started on c has resolved, failing t after the
// client timeout plus a margin.
func WaitResolved(t *testing.T, c *query.Controller, cfg IntegrationTestConfig) query.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout+5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("fetches did not resolve: %v", err)
	}
	res, ok := c.Current()
	if !ok {
		t.Fatal("controller is idle after Wait")
	}
	return res
}
