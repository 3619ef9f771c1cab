package triad

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecto-labs/triad-cli/internal/model"
)

func makePlan(venueCount int, reasoning string) *model.Plan {
	venues := make([]model.Venue, venueCount)
	for i := range venues {
		venues[i] = model.Venue{
			Name:             "Venue",
			Address:          "123 Main St, Atlanta, GA",
			Category:         "bar",
			DistanceMiles:    1.5,
			DriveTimeMinutes: 3,
			Reasoning:        reasoning,
		}
	}
	return &model.Plan{
		StagingArea: &model.StagingArea{Name: "Lot", Address: "1 Central Ave", Reasoning: "central"},
		Venues:      venues,
	}
}

func TestCheckInvariants(t *testing.T) {
	longReasoning := strings.TrimSpace(strings.Repeat("word ", 20))

	tests := []struct {
		name    string
		mutate  func(*model.Plan)
		wordCap bool
		wantErr string
	}{
		{
			name:   "valid plan",
			mutate: func(*model.Plan) {},
		},
		{
			name:    "too few venues",
			mutate:  func(p *model.Plan) { p.Venues = p.Venues[:3] },
			wantErr: "at least 4 venues",
		},
		{
			name:    "missing field",
			mutate:  func(p *model.Plan) { p.Venues[2].Address = "" },
			wantErr: "missing required fields",
		},
		{
			name:    "missing staging area",
			mutate:  func(p *model.Plan) { p.StagingArea = nil },
			wantErr: "staging area required",
		},
		{
			name:    "short reasoning with word cap",
			mutate:  func(p *model.Plan) { p.Venues[1].Reasoning = "short" },
			wordCap: true,
			wantErr: "reasoning too short",
		},
		{
			name:   "short reasoning without word cap",
			mutate: func(p *model.Plan) { p.Venues[1].Reasoning = "short" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := makePlan(5, longReasoning)
			tt.mutate(plan)

			err := checkInvariants(plan, tt.wordCap)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var invErr *InvariantError
			require.ErrorAs(t, err, &invErr)
			assert.Contains(t, invErr.Msg, tt.wantErr)
		})
	}
}

func TestValidateSchema(t *testing.T) {
	assert.NoError(t, validateSchema(validPlanJSON(4)))

	// Wrong type for a numeric field.
	bad := strings.Replace(validPlanJSON(4), `"distance_miles": 1.2`, `"distance_miles": "close"`, 1)
	assert.Error(t, validateSchema(bad))

	// Missing staging area entirely.
	assert.Error(t, validateSchema(`{"venues": []}`))
}
