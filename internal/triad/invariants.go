package triad

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vecto-labs/triad-cli/internal/model"
)

const minVenues = 4
const minReasoningWords = 15

// planSchemaJSON is the structural backstop for the final plan artifact.
// The invariant checks below re-verify semantics independently; the schema
// catches shape problems (wrong types, missing objects) the checks assume
// away.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["staging_area", "venues"],
  "properties": {
    "staging_area": {
      "type": "object",
      "required": ["name", "address", "reasoning"],
      "properties": {
        "name": {"type": "string"},
        "address": {"type": "string"},
        "reasoning": {"type": "string"}
      }
    },
    "venues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "address", "category", "distance_miles", "drive_time_minutes", "reasoning"],
        "properties": {
          "name": {"type": "string"},
          "address": {"type": "string"},
          "category": {"type": "string"},
          "distance_miles": {"type": "number"},
          "drive_time_minutes": {"type": "number"},
          "reasoning": {"type": "string"}
        }
      }
    }
  }
}`

var planSchema = jsonschema.MustCompileString("plan.schema.json", planSchemaJSON)

// validateSchema checks the raw plan JSON against the compiled schema.
func validateSchema(raw string) error {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return err
	}
	return planSchema.Validate(payload)
}

// checkInvariants re-verifies the final plan regardless of what the
// validator stage claimed.
func checkInvariants(plan *model.Plan, wordCap bool) error {
	if len(plan.Venues) < minVenues {
		return &InvariantError{
			Msg: fmt.Sprintf("must have at least %d venues, got %d", minVenues, len(plan.Venues)),
		}
	}

	for i, v := range plan.Venues {
		if v.Name == "" || v.Address == "" || v.Category == "" || v.Reasoning == "" {
			return &InvariantError{
				Msg: fmt.Sprintf("venue %d missing required fields", i),
			}
		}
	}

	if wordCap {
		for i, v := range plan.Venues {
			if n := v.ReasoningWordCount(); n < minReasoningWords {
				return &InvariantError{
					Msg: fmt.Sprintf("venue %d reasoning too short (%d words, need %d+)", i, n, minReasoningWords),
				}
			}
		}
	}

	if plan.StagingArea == nil {
		return &InvariantError{Msg: "staging area required"}
	}
	return nil
}
