package model

import "strings"

// StagingArea is the central waiting position a plan recommends.
type StagingArea struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Reasoning string `json:"reasoning"`
}

// Venue is a single recommendation in a validated plan.
type Venue struct {
	Name             string  `json:"name"`
	Address          string  `json:"address"`
	Category         string  `json:"category"`
	DistanceMiles    float64 `json:"distance_miles"`
	DriveTimeMinutes float64 `json:"drive_time_minutes"`
	Reasoning        string  `json:"reasoning"`
}

// Plan is the final artifact of a successful Triad run.
type Plan struct {
	StagingArea *StagingArea `json:"staging_area"`
	Venues      []Venue      `json:"venues"`
}

// ReasoningWordCount returns the number of whitespace-separated words in the
// venue's reasoning field.
func (v Venue) ReasoningWordCount() int {
	return len(strings.Fields(v.Reasoning))
}
