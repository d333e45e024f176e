package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-query-service/internal/client"
	"github.com/kjstillabower/weather-query-service/internal/observability"
)

// fallbackFailureMessage is used when a client returns an error with no text.
const fallbackFailureMessage = "Failed to load data"

// OutcomeRecorder receives the terminal outcome of each fetch. The health endpoint uses it
// to track the fetch error rate.
type OutcomeRecorder interface {
	RecordSuccess()
	RecordError()
}

// Controller owns the current query Result and drives the weather client asynchronously.
//
// Overlapping fetches are not cancelled. By default they race and whichever resolves last
// is published, even if it was started first. WithStaleDiscard drops resolutions of fetches
// that a newer Fetch has superseded.
type Controller struct {
	client       client.WeatherClient
	publisher    *Publisher
	logger       *zap.Logger
	outcomes     OutcomeRecorder
	discardStale bool

	seq      uint64 // guarded by publisher.mu
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

type Option func(*Controller)

// WithLogger sets the logger used when the fetch context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStaleDiscard tags each fetch with a sequence number and drops resolutions of superseded fetches.
func WithStaleDiscard() Option {
	return func(c *Controller) {
		c.discardStale = true
	}
}

// WithOutcomeRecorder reports each published terminal result to r.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(c *Controller) {
		c.outcomes = r
	}
}

// WithPublisher makes the controller publish through p instead of a private publisher.
func WithPublisher(p *Publisher) Option {
	return func(c *Controller) {
		if p != nil {
			c.publisher = p
		}
	}
}

func NewController(weatherClient client.WeatherClient, opts ...Option) *Controller {
	c := &Controller{
		client:    weatherClient,
		publisher: NewPublisher(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch publishes Loading before returning, then fetches weather for location on a new
// goroutine and publishes Success or Failure when it resolves. The location is passed to
// the client unchanged. ctx supplies values (logger, correlation ID) only; its cancellation
// does not stop the fetch.
func (c *Controller) Fetch(ctx context.Context, location string) {
	var seq uint64
	c.publisher.publishFunc(func() (Result, bool) {
		c.seq++
		seq = c.seq
		return Loading{}, true
	})
	observability.RecordWeatherQuery(location)

	c.wg.Add(1)
	c.inFlight.Add(1)
	observability.WeatherQueriesInFlight.Inc()
	go c.resolve(context.WithoutCancel(ctx), seq, location)
}

func (c *Controller) resolve(ctx context.Context, seq uint64, location string) {
	defer func() {
		observability.WeatherQueriesInFlight.Dec()
		c.inFlight.Add(-1)
		c.wg.Done()
	}()

	logger := observability.LoggerFromContext(ctx, c.logger)
	start := time.Now()
	logger.Debug("fetch started", zap.String("location", location), zap.Uint64("seq", seq))

	var next Result
	record, err := c.client.FetchWeather(ctx, location)
	if err != nil {
		next = Failure{Message: failureMessage(err)}
	} else {
		next = Success{Record: record}
	}

	published := c.publisher.publishFunc(func() (Result, bool) {
		if c.discardStale && seq != c.seq {
			return nil, false
		}
		return next, true
	})
	if !published {
		observability.WeatherQueryStaleDiscardedTotal.Inc()
		logger.Debug("fetch superseded, result dropped",
			zap.String("location", location),
			zap.Uint64("seq", seq),
			zap.Duration("duration", time.Since(start)))
		return
	}

	observability.WeatherQueryResultsTotal.WithLabelValues(string(next.Kind())).Inc()
	if c.outcomes != nil {
		if err != nil {
			c.outcomes.RecordError()
		} else {
			c.outcomes.RecordSuccess()
		}
	}
	if err != nil {
		logger.Debug("fetch failed",
			zap.String("location", location),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Debug("fetch succeeded",
		zap.String("location", location),
		zap.String("resolved", record.Location.Name),
		zap.Duration("duration", time.Since(start)))
}

// Current returns the latest published Result; ok is false while idle (no fetch yet).
func (c *Controller) Current() (Result, bool) {
	return c.publisher.Current()
}

// Subscribe registers an observer of state transitions. See Publisher.Subscribe.
func (c *Controller) Subscribe() (<-chan Result, func()) {
	return c.publisher.Subscribe()
}

// InFlight returns the number of fetches started and not yet resolved.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// Wait blocks until every started fetch has resolved or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallbackFailureMessage
}
