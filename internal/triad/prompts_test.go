package triad

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vecto-labs/triad-cli/internal/model"
)

func TestBuildPlanningPrompt_CatalogCap(t *testing.T) {
	rc := testContext()
	for i := 0; i < 80; i++ {
		rc.CatalogVenues = append(rc.CatalogVenues, model.CatalogVenue{
			Name:             fmt.Sprintf("Venue %02d", i),
			Category:         "bar",
			FormattedAddress: "somewhere",
		})
	}

	prompt := buildPlanningPrompt(rc, "strategy text", 50)
	assert.Equal(t, 50, strings.Count(prompt, "(bar) at"))
	assert.Contains(t, prompt, "Venue 49")
	assert.NotContains(t, prompt, "Venue 50")
}

func TestBuildPlanningPrompt_NoCatalog(t *testing.T) {
	prompt := buildPlanningPrompt(testContext(), "strategy text", 50)
	assert.Contains(t, prompt, "generate from GPS coordinates")
}

func TestBuildStrategyPrompt_MissingOptionalContext(t *testing.T) {
	prompt := buildStrategyPrompt(testContext())
	assert.Contains(t, prompt, "Location: Unknown")
	assert.Contains(t, prompt, "Airport Traffic: None detected")
	assert.Contains(t, prompt, "33.74")
}
