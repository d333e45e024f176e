package query

import (
	"fmt"

	"github.com/kjstillabower/weather-query-service/internal/models"
)

// Kind names a Result variant. It is the "state" field on the wire.
type Kind string

const (
	KindLoading Kind = "loading"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Result is the state of one query: Loading, Success or Failure.
// The set is closed; use Match to handle every variant.
type Result interface {
	Kind() Kind
	isResult()
}

// Loading is published synchronously when a fetch starts.
type Loading struct{}

// Success carries the decoded record of a completed fetch.
type Success struct {
	Record models.WeatherRecord
}

// Failure carries the human-readable cause of a failed fetch.
type Failure struct {
	Message string
}

func (Loading) Kind() Kind { return KindLoading }
func (Success) Kind() Kind { return KindSuccess }
func (Failure) Kind() Kind { return KindError }

func (Loading) isResult() {}
func (Success) isResult() {}
func (Failure) isResult() {}

// Match calls the handler for r's variant and returns its value. r must not be nil.
func Match[T any](r Result, loading func() T, success func(models.WeatherRecord) T, failure func(message string) T) T {
	switch v := r.(type) {
	case Loading:
		return loading()
	case Success:
		return success(v.Record)
	case Failure:
		return failure(v.Message)
	default:
		panic(fmt.Sprintf("query: unhandled result %T", r))
	}
}
