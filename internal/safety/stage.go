// Package safety gates model deployments through a canary rollout state
// machine with token-protected production release and an append-only
// audit log.
package safety

// Stage is a deployment stage in the canary rollout path.
type Stage string

const (
	StageDevelopment Stage = "development"
	StageCanary      Stage = "canary"
	StageStaged      Stage = "staged"
	StageProduction  Stage = "production"
	StageRollback    Stage = "rollback"
)

// validTransitions is the promotion path:
// development → canary → staged → production, with rollback reachable
// from any active stage.
var validTransitions = map[Stage][]Stage{
	StageDevelopment: {StageCanary},
	StageCanary:      {StageStaged, StageRollback},
	StageStaged:      {StageProduction, StageRollback},
	StageProduction:  {StageRollback},
}

// trafficPercentages maps each stage to its share of traffic.
var trafficPercentages = map[Stage]int{
	StageDevelopment: 0,
	StageCanary:      5,
	StageStaged:      25,
	StageProduction:  100,
	StageRollback:    0,
}

// TrafficPercentage returns the traffic share for a stage.
func TrafficPercentage(stage Stage) int {
	return trafficPercentages[stage]
}

func transitionAllowed(from, to Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
