// Package baseline evaluates reference ("typical") rations against the same
// catalog used for optimization and reports the savings of an optimized
// ration over them.
package baseline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/iwvelando/ration-optimizer/internal/ration"
	"github.com/iwvelando/ration-optimizer/pkg/catalog"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/iwvelando/ration-optimizer/pkg/mathutil"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/rationerr"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ration maps ingredient IDs to inclusion percentages summing to 100.
type Ration map[string]float64

// IDs returns the ingredients of r, sorted.
func (r Ration) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fractions converts r to fractions of one.
func (r Ration) Fractions() map[string]float64 {
	out := make(map[string]float64, len(r))
	for id, pct := range r {
		out[id] = mathutil.ToFraction(pct)
	}
	return out
}

// Validate checks that every percentage is non-negative and that they sum to
// 100 within PercentSumTolerance.
func (r Ration) Validate() error {
	if len(r) == 0 {
		return rationerr.Newf(rationerr.KindMalformedTable, "baseline ration is empty")
	}
	sum := decimal.Zero
	for _, id := range r.IDs() {
		pct := r[id]
		if pct < 0 {
			return rationerr.Newf(rationerr.KindMalformedTable, "negative percentage %.4f", pct).ForIngredient(id)
		}
		sum = sum.Add(decimal.NewFromFloat(pct))
	}
	diff := sum.Sub(hundred).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(constants.PercentSumTolerance)) {
		return rationerr.Newf(rationerr.KindMalformedTable, "percentages sum to %s, want 100", sum.String())
	}
	return nil
}

// Set holds one baseline ration per stage ID.
type Set struct {
	rations map[string]Ration
}

// NewSet validates and copies rations.
func NewSet(rations map[string]Ration) (Set, error) {
	s := Set{rations: make(map[string]Ration, len(rations))}
	for stage, r := range rations {
		if err := r.Validate(); err != nil {
			var rerr *rationerr.Error
			if errors.As(err, &rerr) {
				return Set{}, rerr.ForStage(stage)
			}
			return Set{}, fmt.Errorf("baseline for stage %s: %w", stage, err)
		}
		cp := make(Ration, len(r))
		for id, pct := range r {
			cp[id] = pct
		}
		s.rations[stage] = cp
	}
	return s, nil
}

// Get returns the baseline of stage.
func (s Set) Get(stage string) (Ration, bool) {
	r, ok := s.rations[stage]
	return r, ok
}

// Stages returns the stage IDs that have a baseline, sorted.
func (s Set) Stages() []string {
	ids := make([]string, 0, len(s.rations))
	for id := range s.rations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of baselines.
func (s Set) Len() int {
	return len(s.rations)
}

// CheckIntegrity verifies every baseline ingredient has both a price and a
// nutrient vector in cat.
func (s Set) CheckIntegrity(cat catalog.Catalog) error {
	for _, stage := range s.Stages() {
		for _, id := range s.rations[stage].IDs() {
			if _, err := cat.Ingredient(id); err != nil {
				return fmt.Errorf("baseline for stage %s: %w", stage, err)
			}
		}
	}
	return nil
}

// Evaluation is the cost and nutrient profile of a baseline ration.
type Evaluation struct {
	Stage    string
	Cost     float64
	Realized nutrients.Vector
	Shares   []ration.Share
}

// Evaluate computes the cost and realized nutrients of r by direct weighted
// sum. Sums are accumulated in sorted ingredient order with decimal
// arithmetic so the result does not depend on map iteration.
func Evaluate(cat catalog.Catalog, stage string, r Ration) (Evaluation, error) {
	if err := r.Validate(); err != nil {
		return Evaluation{}, err
	}

	cost := decimal.Zero
	var realized [nutrients.Count]decimal.Decimal
	for _, id := range r.IDs() {
		ing, err := cat.Ingredient(id)
		if err != nil {
			return Evaluation{}, fmt.Errorf("baseline for stage %s: %w", stage, err)
		}
		frac := decimal.NewFromFloat(r[id]).Div(hundred)
		cost = cost.Add(decimal.NewFromFloat(ing.Cost).Mul(frac))
		for _, nut := range nutrients.All() {
			realized[nut] = realized[nut].Add(decimal.NewFromFloat(ing.Nutrients.Get(nut)).Mul(frac))
		}
	}

	ev := Evaluation{Stage: stage, Shares: ration.Shares(r.Fractions())}
	ev.Cost = cost.InexactFloat64()
	for i, v := range realized {
		ev.Realized[i] = v.InexactFloat64()
	}
	return ev, nil
}

// Savings returns (baselineCost − optimizedCost)/baselineCost × 100, or 0
// when baselineCost is 0. The value is not rounded.
func Savings(optimizedCost, baselineCost float64) float64 {
	return mathutil.CalculatePercentage(baselineCost-optimizedCost, baselineCost)
}

// Comparison is one row of the cost comparison table.
type Comparison struct {
	Stage         string  `json:"stage" yaml:"stage"`
	Optimized     bool    `json:"optimized" yaml:"optimized"`
	OptimizedCost float64 `json:"optimizedCost" yaml:"optimizedCost"`
	HasBaseline   bool    `json:"hasBaseline" yaml:"hasBaseline"`
	BaselineCost  float64 `json:"baselineCost" yaml:"baselineCost"`
	SavingsPct    float64 `json:"savingsPct" yaml:"savingsPct"`
}

// Compare builds the comparison row for a stage result. ev may be nil when
// the stage has no baseline. Savings are only computed when both costs exist.
func Compare(res ration.Result, ev *Evaluation) Comparison {
	c := Comparison{Stage: res.Stage, Optimized: res.Optimal()}
	if c.Optimized {
		c.OptimizedCost = res.Cost
	}
	if ev != nil {
		c.HasBaseline = true
		c.BaselineCost = ev.Cost
	}
	if c.Optimized && c.HasBaseline {
		c.SavingsPct = Savings(c.OptimizedCost, c.BaselineCost)
	}
	return c
}
