package config

import (
	"sort"

	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/validation"
)

// Validate checks the settings that would make a run impossible to start.
func (c *Configuration) Validate() error {
	if err := validation.ValidateOutputFormat(c.Output.Format); err != nil {
		return err
	}
	return validation.ValidatePoolSource(c.Diagnose.PoolSource)
}

// ValidateConfiguration performs general validation of the configuration and returns warnings
func (c *Configuration) ValidateConfiguration() []string {
	cv := validation.ConfigValidator{}

	for _, ing := range c.Catalog {
		cv.Ingredients = append(cv.Ingredients, validation.IngredientInfo{
			Name:         ing.Name,
			HasCost:      ing.Cost != nil,
			HasNutrients: ing.Nutrients != nil,
		})
	}

	for _, sc := range c.Stages {
		info := validation.StageInfo{Name: sc.Name, Pool: sc.Pool}
		info.Bands = orderedBands(sc.Requirements)
		for _, ic := range sc.Inclusion {
			info.Overrides = append(info.Overrides, ic.Ingredient)
		}
		cv.Stages = append(cv.Stages, info)
	}

	for _, bc := range c.Baselines {
		cv.BaselineStages = append(cv.BaselineStages, bc.Stage)
		for _, share := range bc.Ration {
			cv.BaselineIngredients = append(cv.BaselineIngredients, share.Ingredient)
		}
	}

	return cv.ValidateAll()
}

// orderedBands lists requirements in nutrient axis order; unknown names sort
// last and are rejected later by Tables.
func orderedBands(reqs map[string]BandConfig) []validation.BandInfo {
	type keyed struct {
		order int
		info  validation.BandInfo
	}
	var out []keyed
	for key, bc := range reqs {
		order := nutrients.Count
		name := key
		if n, err := nutrients.Parse(key); err == nil {
			order = int(n)
			name = n.String()
		}
		out = append(out, keyed{order: order, info: validation.BandInfo{Nutrient: name, Min: bc.Min, Max: bc.Max}})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].order != out[j].order {
			return out[i].order < out[j].order
		}
		return out[i].info.Nutrient < out[j].info.Nutrient
	})
	bands := make([]validation.BandInfo, len(out))
	for i, k := range out {
		bands[i] = k.info
	}
	return bands
}
