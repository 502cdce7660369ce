package config

import (
	"fmt"
	"strings"

	"github.com/iwvelando/ration-optimizer/internal/baseline"
	"github.com/iwvelando/ration-optimizer/pkg/catalog"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/rationerr"
	"github.com/iwvelando/ration-optimizer/pkg/stages"
)

// Tables are the immutable reference tables built from a configuration.
type Tables struct {
	Catalog   catalog.Catalog
	Stages    stages.Set
	Baselines baseline.Set
}

// Tables converts the configuration into domain tables. Structural problems
// (duplicate names, unknown nutrients, bad values) are reported as
// MalformedTable errors; cross-table references are checked later, when a
// run resolves its stages.
func (c *Configuration) Tables() (Tables, error) {
	cat, err := c.buildCatalog()
	if err != nil {
		return Tables{}, err
	}
	set, err := c.buildStages()
	if err != nil {
		return Tables{}, err
	}
	baselines, err := c.buildBaselines()
	if err != nil {
		return Tables{}, err
	}
	return Tables{Catalog: cat, Stages: set, Baselines: baselines}, nil
}

func (c *Configuration) buildCatalog() (catalog.Catalog, error) {
	vectors := make(map[string]nutrients.Vector)
	prices := make(map[string]float64)
	seen := make(map[string]struct{}, len(c.Catalog))

	for _, ing := range c.Catalog {
		name := strings.TrimSpace(ing.Name)
		if name == "" {
			return catalog.Catalog{}, rationerr.Newf(rationerr.KindMalformedTable, "catalog entry without a name")
		}
		if _, dup := seen[name]; dup {
			return catalog.Catalog{}, rationerr.Newf(rationerr.KindMalformedTable, "ingredient %q listed twice in catalog", name).ForIngredient(name)
		}
		seen[name] = struct{}{}

		if ing.Cost != nil {
			prices[name] = *ing.Cost
		}
		if ing.Nutrients != nil {
			vec, err := parseVector(name, ing.Nutrients)
			if err != nil {
				return catalog.Catalog{}, err
			}
			vectors[name] = vec
		}
	}

	nt, err := catalog.NewNutrientTable(vectors)
	if err != nil {
		return catalog.Catalog{}, err
	}
	pt, err := catalog.NewPriceTable(c.PriceRevision, prices)
	if err != nil {
		return catalog.Catalog{}, err
	}
	return catalog.New(nt, pt), nil
}

// parseVector requires a value for every nutrient.
func parseVector(name string, values map[string]float64) (nutrients.Vector, error) {
	var vec nutrients.Vector
	var set [nutrients.Count]bool
	for key, v := range values {
		n, err := nutrients.Parse(key)
		if err != nil {
			return vec, rationerr.Wrap(rationerr.KindMalformedTable, "nutrient table", err).ForIngredient(name)
		}
		vec[n] = v
		set[n] = true
	}
	for _, n := range nutrients.All() {
		if !set[n] {
			return vec, rationerr.Newf(rationerr.KindMalformedTable, "nutrient table: %q has no %s value", name, n).ForIngredient(name)
		}
	}
	return vec, nil
}

func (c *Configuration) buildStages() (stages.Set, error) {
	defs := make([]stages.Stage, 0, len(c.Stages))
	for _, sc := range c.Stages {
		st, err := sc.toStage()
		if err != nil {
			return stages.Set{}, err
		}
		defs = append(defs, st)
	}
	return stages.NewSet(defs)
}

func (sc StageConfig) toStage() (stages.Stage, error) {
	st := stages.Stage{
		ID:           strings.TrimSpace(sc.Name),
		Pool:         append([]string(nil), sc.Pool...),
		Requirements: make(map[nutrients.Nutrient]stages.Band, len(sc.Requirements)),
		Inclusion:    stages.Inclusion{Max: map[string]float64{}, Min: map[string]float64{}},
	}
	for key, bc := range sc.Requirements {
		n, err := nutrients.Parse(key)
		if err != nil {
			return st, rationerr.Wrap(rationerr.KindMalformedTable, "requirements", err).ForStage(st.ID)
		}
		st.Requirements[n] = stages.Band{Lower: bc.Min, Upper: bc.Max}
	}
	seen := make(map[string]struct{}, len(sc.Inclusion))
	for _, ic := range sc.Inclusion {
		id := strings.TrimSpace(ic.Ingredient)
		if _, dup := seen[id]; dup {
			return st, rationerr.Newf(rationerr.KindMalformedTable, "inclusion for %q given twice", id).ForStage(st.ID).ForIngredient(id)
		}
		seen[id] = struct{}{}
		if ic.Max != nil {
			st.Inclusion.Max[id] = *ic.Max
		}
		if ic.Min != nil {
			st.Inclusion.Min[id] = *ic.Min
		}
	}
	return st, nil
}

func (c *Configuration) buildBaselines() (baseline.Set, error) {
	rations := make(map[string]baseline.Ration, len(c.Baselines))
	for _, bc := range c.Baselines {
		stage := strings.TrimSpace(bc.Stage)
		if _, dup := rations[stage]; dup {
			return baseline.Set{}, rationerr.Newf(rationerr.KindMalformedTable, "baseline given twice").ForStage(stage)
		}
		r := make(baseline.Ration, len(bc.Ration))
		for _, share := range bc.Ration {
			id := strings.TrimSpace(share.Ingredient)
			if _, dup := r[id]; dup {
				return baseline.Set{}, rationerr.Newf(rationerr.KindMalformedTable, "baseline lists %q twice", id).ForStage(stage).ForIngredient(id)
			}
			r[id] = share.Percent
		}
		rations[stage] = r
	}
	set, err := baseline.NewSet(rations)
	if err != nil {
		return baseline.Set{}, fmt.Errorf("baselines: %w", err)
	}
	return set, nil
}
