// Package render turns query results into what the front ends show: a text card for the
// terminal and a JSON view for HTTP clients.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-query-service/internal/models"
	"github.com/kjstillabower/weather-query-service/internal/query"
)

// StateIdle is the view state before any fetch has been made.
const StateIdle = "idle"

// LoadingText is what the terminal shows while a fetch is in flight.
const LoadingText = "Loading..."

// View is the JSON shape of a query state.
type View struct {
	State   string                `json:"state"`
	Message string                `json:"message,omitempty"`
	Data    *models.WeatherRecord `json:"data,omitempty"`
	IconURL string                `json:"iconUrl,omitempty"`
}

// IdleView is returned before the first fetch.
func IdleView() View {
	return View{State: StateIdle}
}

// ViewOf returns the JSON view of r.
func ViewOf(r query.Result) View {
	return query.Match(r,
		func() View {
			return View{State: string(query.KindLoading)}
		},
		func(rec models.WeatherRecord) View {
			return View{State: string(query.KindSuccess), Data: &rec, IconURL: rec.IconURL()}
		},
		func(msg string) View {
			return View{State: string(query.KindError), Message: msg}
		},
	)
}

// Card renders r as plain text: a loading line, the error message, or the weather card.
func Card(r query.Result) string {
	return query.Match(r,
		func() string { return LoadingText },
		weatherCard,
		func(msg string) string { return msg },
	)
}

func weatherCard(rec models.WeatherRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", rec.Location.Name)
	fmt.Fprintf(&b, "%s\n", rec.Location.Country)
	fmt.Fprintf(&b, "Temperature: %s °C\n", formatTemp(rec.Current.TempC))
	fmt.Fprintf(&b, "%s\n", rec.IconURL())
	b.WriteString(rec.Current.Condition.Text)
	return b.String()
}

// formatTemp prints the shortest decimal form, so 18.5 stays 18.5 and 20 prints as 20.0.
func formatTemp(c float64) string {
	s := strconv.FormatFloat(c, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
