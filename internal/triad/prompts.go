package triad

import (
	"fmt"
	"strings"

	"github.com/vecto-labs/triad-cli/internal/model"
)

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func buildStrategyPrompt(rc model.RideContext) string {
	address := "Unknown"
	if rc.Location != nil {
		address = orUnknown(rc.Location.FormattedAddress)
	}
	weather := "Unknown"
	if rc.Weather != nil {
		weather = fmt.Sprintf("%s, %.0f°F", orUnknown(rc.Weather.Description), rc.Weather.TempF)
	}
	airport := "None detected"
	if rc.Airport != nil && rc.Airport.Description != "" {
		airport = rc.Airport.Description
	}

	return fmt.Sprintf(`You are a rideshare strategy expert analyzing current market conditions.

DRIVER CONTEXT:
- Location: %s
- GPS: %f, %f
- Time: %s (%s)
- Weather: %s
- Airport Traffic: %s

TASK:
Analyze the current market conditions and provide strategic recommendations for maximizing driver earnings.

Include:
1. Market overview (demand patterns, surge likelihood)
2. Strategic insights (why certain areas are hot, timing considerations)
3. Pro tips (specific actionable advice)
4. Earnings estimate (hourly potential based on conditions)

Write 200-300 words of actionable strategic analysis.`,
		address, rc.GPS.Latitude, rc.GPS.Longitude,
		orUnknown(rc.Time.LocalTime), orUnknown(rc.Time.DayOfWeek),
		weather, airport)
}

func buildPlanningPrompt(rc model.RideContext, strategy string, maxCatalogVenues int) string {
	address := "Unknown"
	if rc.Location != nil {
		address = orUnknown(rc.Location.FormattedAddress)
	}

	venueList := "No catalog venues available - generate from GPS coordinates"
	if len(rc.CatalogVenues) > 0 {
		venues := rc.CatalogVenues
		if len(venues) > maxCatalogVenues {
			venues = venues[:maxCatalogVenues]
		}
		var b strings.Builder
		for i, v := range venues {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "- %s (%s) at %s", v.Name, v.Category, v.FormattedAddress)
		}
		venueList = b.String()
	}

	return fmt.Sprintf(`You are a tactical planning expert creating specific venue recommendations.

STRATEGIC ANALYSIS:
%s

DRIVER CONTEXT:
- GPS: %f, %f
- Location: %s
- Time: %s

AVAILABLE VENUES:
%s

TASK:
Create a tactical plan with 4-6 specific venue recommendations.

REQUIREMENTS:
1. If catalog venues available: Select from list above
2. If no catalog: Generate specific venues near GPS coordinates
3. Staging area: Must be centrally positioned (1-2 min drive to all venues)
4. Venue spacing: Spread venues 2-3 minutes apart
5. Include: venue name, address, distance, reasoning

Respond with JSON:
{
  "staging_area": {
    "name": "string",
    "address": "string",
    "reasoning": "string"
  },
  "venues": [
    {
      "name": "string",
      "address": "string",
      "category": "string",
      "distance_miles": number,
      "drive_time_minutes": number,
      "reasoning": "string"
    }
  ]
}`,
		strategy, rc.GPS.Latitude, rc.GPS.Longitude, address,
		orUnknown(rc.Time.LocalTime), venueList)
}

func buildValidationPrompt(planJSON string) string {
	return fmt.Sprintf(`You are a quality assurance validator for rideshare recommendations.

TACTICAL PLAN:
%s

VALIDATION TASKS:
1. Check JSON structure (all required fields present)
2. Verify venue count (minimum 4 venues)
3. Validate addresses (must be specific, not generic)
4. Check distance calculations (reasonable estimates)
5. Ensure reasoning is detailed (>20 words per venue)

CORRECTIONS NEEDED:
- If venue count < 4: Add more venues
- If addresses vague: Make specific
- If reasoning short: Expand details

Respond with the VALIDATED and CORRECTED JSON plan in the exact same format.`, planJSON)
}
