package model

// CallType tags a model call with the pipeline role that issued it.
type CallType string

const (
	CallTypeStrategist CallType = "strategist"
	CallTypePlanner    CallType = "planner"
	CallTypeValidator  CallType = "validator"
	CallTypeAgent      CallType = "agent"
)

// Stage identifies a step in a Triad pipeline run.
type Stage string

const (
	StageInitialization Stage = "initialization"
	StageStrategy       Stage = "strategy"
	StagePlanning       Stage = "planning"
	StageValidation     Stage = "validation"
)

// GPS holds a driver coordinate pair.
type GPS struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Location is an optional reverse-geocoded address.
type Location struct {
	FormattedAddress string `json:"formatted_address,omitempty"`
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
}

// TimeContext describes the local time at the driver's position.
type TimeContext struct {
	LocalTime string `json:"local_time"`
	Timezone  string `json:"timezone,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
}

// Weather holds current conditions, if the caller supplied them.
type Weather struct {
	Description string  `json:"description,omitempty"`
	TempF       float64 `json:"temperature,omitempty"`
}

// Airport describes nearby airport traffic signals.
type Airport struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// CatalogVenue is a pre-vetted venue candidate supplied by the caller.
type CatalogVenue struct {
	Name             string `json:"name"`
	Category         string `json:"category"`
	FormattedAddress string `json:"formatted_address"`
}

// RideContext is the driver context a Triad run plans against.
type RideContext struct {
	GPS           GPS            `json:"gps"`
	Location      *Location      `json:"location,omitempty"`
	Time          TimeContext    `json:"time"`
	Weather       *Weather       `json:"weather,omitempty"`
	Airport       *Airport       `json:"airport,omitempty"`
	CatalogVenues []CatalogVenue `json:"catalog_venues,omitempty"`
}

// Failure is the structured error payload returned to callers when the
// orchestrator is configured not to re-raise terminal errors.
type Failure struct {
	Error string `json:"error"`
	Stage Stage  `json:"stage"`
}
