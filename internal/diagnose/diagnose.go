// Package diagnose computes, for each nutrient, the range of values any
// ration over a given pool can reach, and uses those ranges to explain why a
// stage has no feasible ration.
package diagnose

import (
	"context"
	"fmt"
	"strings"

	"github.com/iwvelando/ration-optimizer/internal/ration"
	"github.com/iwvelando/ration-optimizer/pkg/catalog"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/iwvelando/ration-optimizer/pkg/lpsolve"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/stages"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Range is the achievable [Min, Max] of one nutrient. When Defined is false
// one of the two solves failed and Message says why.
type Range struct {
	Nutrient nutrients.Nutrient
	Min      float64
	Max      float64
	Defined  bool
	Message  string
}

// Finding classifies a requirement band against its achievable range.
type Finding string

const (
	FindingUnconstrained Finding = "unconstrained"
	FindingOverlaps      Finding = "overlaps"
	// FindingAboveRange means the band's lower bound exceeds the achievable maximum.
	FindingAboveRange Finding = "above-range"
	// FindingBelowRange means the band's upper bound is under the achievable minimum.
	FindingBelowRange Finding = "below-range"
	FindingUndefined  Finding = "undefined"
)

// Cause is the overall explanation of an infeasible stage.
type Cause string

const (
	// CauseBindingNutrient means at least one band cannot be met on its own.
	CauseBindingNutrient Cause = "binding-nutrient"
	// CauseJoint means every band is reachable alone but not all together.
	CauseJoint Cause = "joint"
	// CauseUndetermined means some ranges could not be computed.
	CauseUndetermined Cause = "undetermined"
)

// Check pairs a nutrient's band with its achievable range.
type Check struct {
	Range
	Band    stages.Band
	Finding Finding
}

// Diagnosis is the feasibility analysis of one stage over one pool.
type Diagnosis struct {
	Stage   string
	Pool    []string
	Checks  []Check
	Binding []nutrients.Nutrient
	Cause   Cause
}

// Explain renders the cause as a sentence.
func (d Diagnosis) Explain() string {
	switch d.Cause {
	case CauseBindingNutrient:
		names := make([]string, len(d.Binding))
		for i, n := range d.Binding {
			names[i] = n.String()
		}
		return fmt.Sprintf("requirement bands outside the achievable range: %s", strings.Join(names, ", "))
	case CauseJoint:
		return "every band is reachable on its own; the bands conflict jointly"
	default:
		return "achievable ranges could not be computed for every nutrient"
	}
}

// Diagnostician runs the per-nutrient range solves.
type Diagnostician struct {
	logger  *zap.Logger
	catalog catalog.Catalog
	solver  lpsolve.Solver
	workers int
}

// NewDiagnostician constructs a Diagnostician. workers bounds how many
// nutrient ranges are solved concurrently; values below 1 mean sequential.
func NewDiagnostician(logger *zap.Logger, cat catalog.Catalog, solver lpsolve.Solver, workers int) *Diagnostician {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Diagnostician{logger: logger, catalog: cat, solver: solver, workers: workers}
}

// Ranges computes the achievable range of every nutrient over pool under the
// sum-to-one constraint and the overrides in in. A failed solve marks only
// that nutrient undefined. The error is non-nil only when pool names an
// ingredient missing from the catalog.
func (d *Diagnostician) Ranges(ctx context.Context, pool []string, in stages.Inclusion) ([]Range, error) {
	ings, err := d.catalog.Ingredients(pool)
	if err != nil {
		return nil, err
	}

	all := nutrients.All()
	ranges := make([]Range, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, nut := range all {
		g.Go(func() error {
			r, err := d.rangeOf(gctx, ings, in, nut)
			ranges[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ranges, nil
}

func (d *Diagnostician) rangeOf(ctx context.Context, ings []catalog.Ingredient, in stages.Inclusion, nut nutrients.Nutrient) (Range, error) {
	r := Range{Nutrient: nut}
	lo, err := d.solver.Solve(ctx, RangeProblem(ings, in, nut, lpsolve.Minimize))
	if err != nil {
		return r, err
	}
	hi, err := d.solver.Solve(ctx, RangeProblem(ings, in, nut, lpsolve.Maximize))
	if err != nil {
		return r, err
	}

	switch {
	case lo.Status != lpsolve.Optimal:
		r.Message = "minimum " + lo.Status.String() + ": " + lo.Message
	case hi.Status != lpsolve.Optimal:
		r.Message = "maximum " + hi.Status.String() + ": " + hi.Message
	default:
		r.Min, r.Max, r.Defined = lo.Objective, hi.Objective, true
		return r, nil
	}
	d.logger.Warn("nutrient range undefined",
		zap.String("op", "diagnose.Ranges"),
		zap.String("nutrient", nut.String()),
		zap.String("message", r.Message),
	)
	return r, nil
}

// RangeProblem builds the LP that minimizes or maximizes nut over ings with
// only the sum-to-one and inclusion-override constraints. Each call returns
// a fresh problem.
func RangeProblem(ings []catalog.Ingredient, in stages.Inclusion, nut nutrients.Nutrient, sense lpsolve.Sense) lpsolve.Problem {
	return lpsolve.Problem{
		Sense:        sense,
		Objective:    ration.NutrientRow(ings, nut),
		Equalities:   []lpsolve.Row{{Label: "sum", Coeffs: lpsolve.Ones(len(ings)), RHS: 1}},
		Inequalities: ration.InclusionRows(ings, in),
	}
}

// Diagnose computes ranges over pool and classifies each of st's bands.
func (d *Diagnostician) Diagnose(ctx context.Context, st stages.Stage, pool []string, in stages.Inclusion) (Diagnosis, error) {
	ranges, err := d.Ranges(ctx, pool, in)
	if err != nil {
		return Diagnosis{}, fmt.Errorf("diagnosing stage %s: %w", st.ID, err)
	}
	diag := Classify(st, ranges)
	diag.Pool = append([]string(nil), pool...)

	d.logger.Debug("stage diagnosed",
		zap.String("op", "diagnose.Diagnose"),
		zap.String("stage", st.ID),
		zap.String("cause", string(diag.Cause)),
		zap.Int("binding", len(diag.Binding)),
	)
	return diag, nil
}

// Classify compares each band of st against its range. A band lying wholly
// outside its range is a binding cause; when none is and all ranges are
// defined, the infeasibility is joint.
func Classify(st stages.Stage, ranges []Range) Diagnosis {
	diag := Diagnosis{Stage: st.ID}
	undefined := false
	for _, r := range ranges {
		c := Check{Range: r, Band: st.Band(r.Nutrient)}
		switch {
		case !c.Band.Constrained():
			c.Finding = FindingUnconstrained
		case !r.Defined:
			c.Finding = FindingUndefined
			undefined = true
		case c.Band.Lower != nil && *c.Band.Lower > r.Max+constants.FeasibilityTolerance:
			c.Finding = FindingAboveRange
		case c.Band.Upper != nil && *c.Band.Upper < r.Min-constants.FeasibilityTolerance:
			c.Finding = FindingBelowRange
		default:
			c.Finding = FindingOverlaps
		}
		if c.Finding == FindingAboveRange || c.Finding == FindingBelowRange {
			diag.Binding = append(diag.Binding, r.Nutrient)
		}
		diag.Checks = append(diag.Checks, c)
	}

	switch {
	case len(diag.Binding) > 0:
		diag.Cause = CauseBindingNutrient
	case undefined:
		diag.Cause = CauseUndetermined
	default:
		diag.Cause = CauseJoint
	}
	return diag
}
