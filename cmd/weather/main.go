// Command weather is a terminal front end for the weather query controller: type a
// location, get the current conditions.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-query-service/internal/client"
	"github.com/kjstillabower/weather-query-service/internal/observability"
	"github.com/kjstillabower/weather-query-service/internal/query"
	"github.com/kjstillabower/weather-query-service/internal/render"
)

const prompt = "Enter the location: "

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Getenv, logger); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "weather: %v\n", err)
		os.Exit(1)
	}
}

// run reads one location per line from in and prints every state the controller
// publishes to out. It returns after EOF once every started fetch has resolved.
func run(args []string, in io.Reader, out io.Writer, getenv func(string) string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("weather", flag.ContinueOnError)
	fs.SetOutput(out)
	key := fs.String("key", "", "WeatherAPI key (default $WEATHER_API_KEY)")
	baseURL := fs.String("url", client.DefaultBaseURL, "WeatherAPI base URL")
	timeout := fs.Duration("timeout", 10*time.Second, "per-request timeout, 0 for none")
	if err := fs.Parse(args); err != nil {
		return err
	}

	weatherClient, err := client.NewWeatherAPIClient(resolveAPIKey(*key, getenv), *baseURL, *timeout)
	if err != nil {
		if errors.Is(err, client.ErrMissingAPIKey) {
			return fmt.Errorf("%w: pass -key or set WEATHER_API_KEY", err)
		}
		return fmt.Errorf("weather client: %w", err)
	}
	controller := query.NewController(weatherClient, query.WithLogger(logger))

	updates, cancel := controller.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for res := range updates {
			fmt.Fprintf(out, "\n%s\n", render.Card(res))
			if res.Kind() != query.KindLoading {
				fmt.Fprint(out, "\n"+prompt)
			}
		}
	}()

	fmt.Fprint(out, prompt)
	ctx := context.Background()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		controller.Fetch(ctx, scanner.Text())
	}
	scanErr := scanner.Err()

	// The transport timeout bounds each fetch, so this returns unless -timeout=0.
	_ = controller.Wait(ctx)
	cancel()
	<-printed
	fmt.Fprintln(out)

	if scanErr != nil {
		return fmt.Errorf("read input: %w", scanErr)
	}
	return nil
}

// resolveAPIKey prefers the -key flag over WEATHER_API_KEY.
func resolveAPIKey(flagKey string, getenv func(string) string) string {
	if flagKey != "" {
		return flagKey
	}
	return getenv("WEATHER_API_KEY")
}
