// Package testutil provides common utility functions for testing.
package testutil

import (
	"github.com/iwvelando/ration-optimizer/internal/planner"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/stages"
)

// FindStage finds a stage report by stage name.
// Returns a pointer into reports if found, nil otherwise.
func FindStage(reports []planner.StageReport, name string) *planner.StageReport {
	for i := range reports {
		if reports[i].Result.Stage == name {
			return &reports[i]
		}
	}
	return nil
}

// Violations lists the nutrients of v that fall outside the stage's bands by
// more than tol.
func Violations(st stages.Stage, v nutrients.Vector, tol float64) []nutrients.Nutrient {
	var out []nutrients.Nutrient
	for _, n := range nutrients.All() {
		if !st.Band(n).Contains(v.Get(n), tol) {
			out = append(out, n)
		}
	}
	return out
}
