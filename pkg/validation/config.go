// Package validation provides configuration validation utilities.
package validation

import (
	"fmt"
	"sort"
)

// IngredientInfo describes one catalog entry for validation.
type IngredientInfo struct {
	Name         string
	HasCost      bool
	HasNutrients bool
}

// BandInfo describes one nutrient requirement for validation.
type BandInfo struct {
	Nutrient string
	Min      *float64
	Max      *float64
}

// StageInfo describes one stage for validation.
type StageInfo struct {
	Name      string
	Pool      []string
	Bands     []BandInfo
	Overrides []string
}

// ConfigValidator collects the parts of a configuration the warnings look at.
type ConfigValidator struct {
	Ingredients    []IngredientInfo
	Stages         []StageInfo
	BaselineStages []string
	// BaselineIngredients lists every ingredient used by a baseline ration.
	BaselineIngredients []string
}

// ValidatePinnedBand returns a warning when a band fixes a nutrient to one value.
func ValidatePinnedBand(stage string, band BandInfo) string {
	if band.Min == nil || band.Max == nil || *band.Min != *band.Max {
		return ""
	}
	return fmt.Sprintf("Stage '%s' pins %s to exactly %g; the ration must hit this value, which makes joint infeasibility more likely than a range would",
		stage, band.Nutrient, *band.Min)
}

// ValidateBandOrder returns a warning when a band's minimum exceeds its maximum.
func ValidateBandOrder(stage string, band BandInfo) string {
	if band.Min == nil || band.Max == nil || *band.Min <= *band.Max {
		return ""
	}
	return fmt.Sprintf("Stage '%s' %s minimum %g exceeds maximum %g; the stage will be reported invalid",
		stage, band.Nutrient, *band.Min, *band.Max)
}

// ValidateOverrides returns one warning per override naming an ingredient
// outside the stage pool.
func ValidateOverrides(stage StageInfo) []string {
	members := make(map[string]struct{}, len(stage.Pool))
	for _, id := range stage.Pool {
		members[id] = struct{}{}
	}
	var warnings []string
	for _, id := range stage.Overrides {
		if _, ok := members[id]; !ok {
			warnings = append(warnings, fmt.Sprintf("Stage '%s' inclusion override for '%s' is ignored because the ingredient is not in the pool",
				stage.Name, id))
		}
	}
	return warnings
}

// ValidateAll validates the entire configuration and returns warnings
func (cv *ConfigValidator) ValidateAll() []string {
	var warnings []string

	baselines := make(map[string]struct{}, len(cv.BaselineStages))
	for _, s := range cv.BaselineStages {
		baselines[s] = struct{}{}
	}
	stageNames := make(map[string]struct{}, len(cv.Stages))
	used := make(map[string]struct{})

	for _, stage := range cv.Stages {
		stageNames[stage.Name] = struct{}{}
		for _, id := range stage.Pool {
			used[id] = struct{}{}
		}
		for _, band := range stage.Bands {
			if w := ValidateBandOrder(stage.Name, band); w != "" {
				warnings = append(warnings, w)
			}
			if w := ValidatePinnedBand(stage.Name, band); w != "" {
				warnings = append(warnings, w)
			}
		}
		warnings = append(warnings, ValidateOverrides(stage)...)
		if _, ok := baselines[stage.Name]; !ok {
			warnings = append(warnings, fmt.Sprintf("Stage '%s' has no baseline ration; no savings will be reported", stage.Name))
		}
	}

	orphans := append([]string(nil), cv.BaselineStages...)
	sort.Strings(orphans)
	for _, s := range orphans {
		if _, ok := stageNames[s]; !ok {
			warnings = append(warnings, fmt.Sprintf("Baseline for '%s' does not match any stage", s))
		}
	}

	for _, id := range cv.BaselineIngredients {
		used[id] = struct{}{}
	}
	for _, ing := range cv.Ingredients {
		switch {
		case !ing.HasCost && ing.HasNutrients:
			warnings = append(warnings, fmt.Sprintf("Ingredient '%s' has nutrients but no cost; it cannot appear in a pool or baseline", ing.Name))
		case ing.HasCost && !ing.HasNutrients:
			warnings = append(warnings, fmt.Sprintf("Ingredient '%s' has a cost but no nutrients; it cannot appear in a pool or baseline", ing.Name))
		}
		if _, ok := used[ing.Name]; !ok && ing.HasCost && ing.HasNutrients {
			warnings = append(warnings, fmt.Sprintf("Ingredient '%s' is not used by any stage or baseline", ing.Name))
		}
	}

	return warnings
}
