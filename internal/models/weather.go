package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WeatherRecord is the decoded current-conditions payload for one location.
// Values are never mutated after decoding; a new fetch replaces the record wholesale.
type WeatherRecord struct {
	Location Location `json:"location"`
	Current  Current  `json:"current"`
}

type Location struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

type Current struct {
	TempC     float64   `json:"temp_c"`
	Condition Condition `json:"condition"`
}

type Condition struct {
	Text string `json:"text"`
	Icon string `json:"icon"` // protocol-relative, e.g. //cdn.weatherapi.com/weather/64x64/day/113.png
}

// wireRecord mirrors WeatherRecord with pointer fields so absent keys can be told apart from zero values.
type wireRecord struct {
	Location *struct {
		Name    *string `json:"name"`
		Country *string `json:"country"`
	} `json:"location"`
	Current *struct {
		TempC     *float64 `json:"temp_c"`
		Condition *struct {
			Text *string `json:"text"`
			Icon *string `json:"icon"`
		} `json:"condition"`
	} `json:"current"`
}

// UnmarshalJSON decodes a WeatherAPI current.json body. Unknown fields are ignored;
// any missing required field is an error.
func (r *WeatherRecord) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Location == nil:
		return missingField("location")
	case w.Location.Name == nil:
		return missingField("location.name")
	case w.Location.Country == nil:
		return missingField("location.country")
	case w.Current == nil:
		return missingField("current")
	case w.Current.TempC == nil:
		return missingField("current.temp_c")
	case w.Current.Condition == nil:
		return missingField("current.condition")
	case w.Current.Condition.Text == nil:
		return missingField("current.condition.text")
	case w.Current.Condition.Icon == nil:
		return missingField("current.condition.icon")
	}
	*r = WeatherRecord{
		Location: Location{
			Name:    *w.Location.Name,
			Country: *w.Location.Country,
		},
		Current: Current{
			TempC: *w.Current.TempC,
			Condition: Condition{
				Text: *w.Current.Condition.Text,
				Icon: *w.Current.Condition.Icon,
			},
		},
	}
	return nil
}

func missingField(path string) error {
	return fmt.Errorf("missing required field %q", path)
}

// IconURL returns the absolute https URL for the condition icon, upgraded to the 128x128 variant.
func (r WeatherRecord) IconURL() string {
	return strings.ReplaceAll("https:"+r.Current.Condition.Icon, "64x64", "128x128")
}
