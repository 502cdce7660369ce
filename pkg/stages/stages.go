// Package stages defines the per-stage ration requirements: the ingredient
// pool, the nutrient requirement bands and the inclusion-rate overrides.
package stages

import (
	"fmt"
	"math"
	"sort"

	"github.com/iwvelando/ration-optimizer/pkg/catalog"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/rationerr"
)

// Band is an inclusive requirement range. A nil bound is unconstrained.
type Band struct {
	Lower *float64
	Upper *float64
}

// Between returns a band bounded on both sides.
func Between(lower, upper float64) Band {
	return Band{Lower: &lower, Upper: &upper}
}

// AtLeast returns a band with only a lower bound.
func AtLeast(lower float64) Band {
	return Band{Lower: &lower}
}

// AtMost returns a band with only an upper bound.
func AtMost(upper float64) Band {
	return Band{Upper: &upper}
}

// Constrained reports whether either bound is set.
func (b Band) Constrained() bool {
	return b.Lower != nil || b.Upper != nil
}

// Pinned reports whether both bounds are set and equal, which turns the band
// into an exact target.
func (b Band) Pinned() bool {
	return b.Lower != nil && b.Upper != nil && *b.Lower == *b.Upper
}

// Contains reports whether v satisfies the band within tol.
func (b Band) Contains(v, tol float64) bool {
	if b.Lower != nil && v < *b.Lower-tol {
		return false
	}
	if b.Upper != nil && v > *b.Upper+tol {
		return false
	}
	return true
}

// String renders the band as "[lo, hi]" with "-" for a missing bound.
func (b Band) String() string {
	lo, hi := "-", "-"
	if b.Lower != nil {
		lo = fmt.Sprintf("%.2f", *b.Lower)
	}
	if b.Upper != nil {
		hi = fmt.Sprintf("%.2f", *b.Upper)
	}
	return "[" + lo + ", " + hi + "]"
}

// Inclusion holds sparse per-ingredient fraction overrides. Ingredients
// without an entry are bounded to [0, 1].
type Inclusion struct {
	Max map[string]float64
	Min map[string]float64
}

// Range returns the effective [min, max] inclusion fraction for id.
func (in Inclusion) Range(id string) (float64, float64) {
	lo, hi := 0.0, 1.0
	if v, ok := in.Min[id]; ok {
		lo = v
	}
	if v, ok := in.Max[id]; ok {
		hi = v
	}
	return lo, hi
}

// Restrict returns the overrides that name a member of pool.
func (in Inclusion) Restrict(pool []string) Inclusion {
	members := make(map[string]struct{}, len(pool))
	for _, id := range pool {
		members[id] = struct{}{}
	}
	out := Inclusion{Max: map[string]float64{}, Min: map[string]float64{}}
	for id, v := range in.Max {
		if _, ok := members[id]; ok {
			out.Max[id] = v
		}
	}
	for id, v := range in.Min {
		if _, ok := members[id]; ok {
			out.Min[id] = v
		}
	}
	return out
}

// Validate checks each override lies in [0, 1] and that no minimum exceeds
// its maximum.
func (in Inclusion) Validate() error {
	for _, id := range overrideIDs(in) {
		lo, hi := in.Range(id)
		if !isFraction(lo) || !isFraction(hi) {
			return rationerr.Newf(rationerr.KindDegenerateBounds,
				"inclusion bounds of %q must lie in [0, 1], got [%v, %v]", id, lo, hi).ForIngredient(id)
		}
		if lo > hi {
			return rationerr.Newf(rationerr.KindDegenerateBounds,
				"minimum inclusion %.4f of %q exceeds maximum %.4f", lo, id, hi).ForIngredient(id)
		}
	}
	return nil
}

func isFraction(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func overrideIDs(in Inclusion) []string {
	seen := make(map[string]struct{}, len(in.Max)+len(in.Min))
	var ids []string
	for _, m := range []map[string]float64{in.Min, in.Max} {
		for id := range m {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Stage is one physiological stage's ration definition.
type Stage struct {
	ID           string
	Pool         []string
	Requirements map[nutrients.Nutrient]Band
	Inclusion    Inclusion
}

// Band returns the requirement band of n (unconstrained when absent).
func (s Stage) Band(n nutrients.Nutrient) Band {
	return s.Requirements[n]
}

// Validate detects degenerate bands and inclusion bounds before any solve.
// NaN and infinite band bounds are degenerate too.
func (s Stage) Validate() error {
	for _, n := range nutrients.All() {
		b := s.Requirements[n]
		for _, bound := range []*float64{b.Lower, b.Upper} {
			if bound != nil && (math.IsNaN(*bound) || math.IsInf(*bound, 0)) {
				return rationerr.Newf(rationerr.KindDegenerateBounds,
					"%s band %s has a non-finite bound", n, b).ForStage(s.ID)
			}
		}
		if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
			return rationerr.Newf(rationerr.KindDegenerateBounds,
				"%s lower bound %.4f exceeds upper bound %.4f", n, *b.Lower, *b.Upper).ForStage(s.ID)
		}
	}
	for n := range s.Requirements {
		if !n.Valid() {
			return rationerr.Newf(rationerr.KindDegenerateBounds, "requirement on unknown nutrient %s", n).ForStage(s.ID)
		}
	}
	if err := s.Inclusion.Validate(); err != nil {
		if re, ok := err.(*rationerr.Error); ok {
			return re.ForStage(s.ID)
		}
		return err
	}
	return nil
}

// CheckIntegrity verifies every pool member exists in both catalog tables
// and every override names an ingredient the catalog knows about.
func (s Stage) CheckIntegrity(cat catalog.Catalog) error {
	if len(s.Pool) == 0 {
		return rationerr.Newf(rationerr.KindMalformedTable, "ingredient pool is empty").ForStage(s.ID)
	}
	seen := make(map[string]struct{}, len(s.Pool))
	for _, id := range s.Pool {
		if _, dup := seen[id]; dup {
			return rationerr.Newf(rationerr.KindMalformedTable, "ingredient %q listed twice in pool", id).ForStage(s.ID).ForIngredient(id)
		}
		seen[id] = struct{}{}
		if _, err := cat.Ingredient(id); err != nil {
			if re, ok := err.(*rationerr.Error); ok {
				return re.ForStage(s.ID)
			}
			return err
		}
	}
	for _, id := range overrideIDs(s.Inclusion) {
		if !cat.Known(id) {
			return rationerr.MissingIngredient(id, "catalog (inclusion override)").ForStage(s.ID)
		}
	}
	return nil
}

// IgnoredOverrides lists overrides naming ingredients outside the pool.
// They have no effect on the stage.
func (s Stage) IgnoredOverrides() []string {
	members := make(map[string]struct{}, len(s.Pool))
	for _, id := range s.Pool {
		members[id] = struct{}{}
	}
	var ignored []string
	for _, id := range overrideIDs(s.Inclusion) {
		if _, ok := members[id]; !ok {
			ignored = append(ignored, id)
		}
	}
	return ignored
}

// PinnedNutrients lists nutrients whose band is an exact target.
func (s Stage) PinnedNutrients() []nutrients.Nutrient {
	var pinned []nutrients.Nutrient
	for _, n := range nutrients.All() {
		if s.Requirements[n].Pinned() {
			pinned = append(pinned, n)
		}
	}
	return pinned
}

// Set is the canonical stage definition set, keyed by stage identifier and
// kept in definition order.
type Set struct {
	stages []Stage
	index  map[string]int
}

// NewSet builds a Set, rejecting duplicate or empty stage identifiers.
func NewSet(defs []Stage) (Set, error) {
	set := Set{stages: make([]Stage, 0, len(defs)), index: make(map[string]int, len(defs))}
	for _, st := range defs {
		if st.ID == "" {
			return Set{}, rationerr.Newf(rationerr.KindMalformedTable, "stage with empty identifier")
		}
		if _, dup := set.index[st.ID]; dup {
			return Set{}, rationerr.Newf(rationerr.KindMalformedTable, "stage %q defined twice", st.ID)
		}
		set.index[st.ID] = len(set.stages)
		set.stages = append(set.stages, st)
	}
	return set, nil
}

// Stages returns the stages in definition order.
func (s Set) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// Get returns the stage with the given identifier.
func (s Set) Get(id string) (Stage, bool) {
	i, ok := s.index[id]
	if !ok {
		return Stage{}, false
	}
	return s.stages[i], true
}

// Len returns the number of stages.
func (s Set) Len() int {
	return len(s.stages)
}

// Select returns the named stages in the given order; an empty list selects
// every stage.
func (s Set) Select(ids []string) ([]Stage, error) {
	if len(ids) == 0 {
		return s.Stages(), nil
	}
	out := make([]Stage, 0, len(ids))
	for _, id := range ids {
		st, ok := s.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", id)
		}
		out = append(out, st)
	}
	return out, nil
}

// CheckIntegrity runs Stage.CheckIntegrity on every stage.
func (s Set) CheckIntegrity(cat catalog.Catalog) error {
	for _, st := range s.stages {
		if err := st.CheckIntegrity(cat); err != nil {
			return err
		}
	}
	return nil
}
