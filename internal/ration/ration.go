// Package ration computes minimum-cost rations for a single stage by building
// and solving the stage's linear program.
package ration

import (
	"context"
	"fmt"
	"sort"

	"github.com/iwvelando/ration-optimizer/pkg/catalog"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/iwvelando/ration-optimizer/pkg/lpsolve"
	"github.com/iwvelando/ration-optimizer/pkg/mathutil"
	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/rationerr"
	"github.com/iwvelando/ration-optimizer/pkg/stages"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Status tags a stage outcome.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusInfeasible Status = "infeasible"
	StatusUnresolved Status = "unresolved"
	// StatusInvalid marks a stage rejected before solving (degenerate bounds).
	StatusInvalid Status = "invalid"
)

// Result is the outcome of optimizing one stage. Cost, Composition, Realized
// and Binding are set only when Status is StatusOptimal.
type Result struct {
	Stage       string
	Status      Status
	Cost        float64
	Composition map[string]float64
	Realized    nutrients.Vector
	Binding     []string
	Message     string
	Err         error
}

// Optimal reports whether the stage was solved.
func (r Result) Optimal() bool {
	return r.Status == StatusOptimal
}

// Share is one reported line of a composition.
type Share struct {
	Ingredient string  `json:"ingredient" yaml:"ingredient"`
	Percent    float64 `json:"percent" yaml:"percent"`
}

// Shares returns the composition as percentages, largest first, leaving out
// fractions below the zero-rounding threshold. Ties sort by name.
func Shares(composition map[string]float64) []Share {
	shares := make([]Share, 0, len(composition))
	for id, f := range composition {
		if f < constants.ZeroRoundingThreshold {
			continue
		}
		shares = append(shares, Share{Ingredient: id, Percent: f * constants.PercentageMultiplier})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Percent != shares[j].Percent {
			return shares[i].Percent > shares[j].Percent
		}
		return shares[i].Ingredient < shares[j].Ingredient
	})
	return shares
}

// Shares returns the reported composition of r.
func (r Result) Shares() []Share {
	return Shares(r.Composition)
}

// Optimizer solves stages against one catalog.
type Optimizer struct {
	logger  *zap.Logger
	catalog catalog.Catalog
	solver  lpsolve.Solver
}

// NewOptimizer constructs an Optimizer.
func NewOptimizer(logger *zap.Logger, cat catalog.Catalog, solver lpsolve.Solver) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{logger: logger, catalog: cat, solver: solver}
}

// Optimize solves the minimum-cost ration for st. Infeasibility, solver
// non-convergence and degenerate bounds are reported in the Result; the
// returned error is reserved for integrity failures (an ingredient missing
// from the catalog) that make the input untrustworthy.
func (o *Optimizer) Optimize(ctx context.Context, st stages.Stage) (Result, error) {
	result := Result{Stage: st.ID}

	if err := st.CheckIntegrity(o.catalog); err != nil {
		return result, err
	}
	ings, err := o.catalog.Ingredients(st.Pool)
	if err != nil {
		return result, fmt.Errorf("stage %s: %w", st.ID, err)
	}
	if err := st.Validate(); err != nil {
		result.Status = StatusInvalid
		result.Message = err.Error()
		result.Err = err
		return result, nil
	}

	for _, id := range st.IgnoredOverrides() {
		o.logger.Debug("ignoring inclusion override for ingredient outside the pool",
			zap.String("op", "ration.Optimize"),
			zap.String("stage", st.ID),
			zap.String("ingredient", id),
		)
	}
	for _, n := range st.PinnedNutrients() {
		o.logger.Debug("nutrient band is pinned to a single value",
			zap.String("op", "ration.Optimize"),
			zap.String("stage", st.ID),
			zap.String("nutrient", n.String()),
			zap.Float64("target", *st.Band(n).Lower),
		)
	}

	problem := BuildProblem(st, ings)
	sol, err := o.solver.Solve(ctx, problem)
	if err != nil {
		return result, fmt.Errorf("stage %s: %w", st.ID, err)
	}

	result = interpret(st, ings, sol)

	fields := []zap.Field{
		zap.String("op", "ration.Optimize"),
		zap.String("stage", st.ID),
		zap.String("status", string(result.Status)),
	}
	if result.Optimal() {
		fields = append(fields, zap.Float64("cost", result.Cost))
		o.logger.Info("stage optimized", fields...)
	} else {
		fields = append(fields, zap.String("message", result.Message))
		o.logger.Warn("stage not optimized", fields...)
	}
	return result, nil
}

// interpret maps a solver outcome onto a stage Result. An optimal point that
// fails Verify is downgraded to StatusUnresolved with the optimal fields cleared.
func interpret(st stages.Stage, ings []catalog.Ingredient, sol lpsolve.Solution) Result {
	result := Result{Stage: st.ID}
	switch sol.Status {
	case lpsolve.Infeasible:
		result.Status = StatusInfeasible
		result.Message = sol.Message
		result.Err = rationerr.Wrap(rationerr.KindInfeasibleStage, "no ration satisfies the stage constraints", sol.Err).ForStage(st.ID)
	case lpsolve.Unresolved:
		result.Status = StatusUnresolved
		result.Message = sol.Message
		result.Err = rationerr.Wrap(rationerr.KindSolverNonconvergence, "solver reached no verdict", sol.Err).ForStage(st.ID)
	default:
		if verr := Verify(st, ings, sol.X); verr != nil {
			result.Status = StatusUnresolved
			result.Message = verr.Error()
			result.Err = rationerr.Wrap(rationerr.KindSolverNonconvergence, "solver returned a point outside the feasible region", verr).ForStage(st.ID)
			return result
		}
		result.Status = StatusOptimal
		result.Cost = sol.Objective
		result.Binding = sol.Binding
		result.Composition = make(map[string]float64, len(ings))
		for i, ing := range ings {
			result.Composition[ing.ID] = sol.X[i]
		}
		result.Realized = Realize(ings, sol.X)
		result.Message = sol.Message
	}
	return result
}

// BuildProblem assembles the stage LP over ings (the resolved stage pool, in
// pool order): cost objective, one sum-to-one row, an upper and/or lower row
// per constrained nutrient and one row per inclusion override.
func BuildProblem(st stages.Stage, ings []catalog.Ingredient) lpsolve.Problem {
	n := len(ings)
	costs := make([]float64, n)
	for i, ing := range ings {
		costs[i] = ing.Cost
	}

	p := lpsolve.Problem{
		Sense:      lpsolve.Minimize,
		Objective:  costs,
		Equalities: []lpsolve.Row{{Label: "sum", Coeffs: lpsolve.Ones(n), RHS: 1}},
	}
	for _, nut := range nutrients.All() {
		band := st.Band(nut)
		if !band.Constrained() {
			continue
		}
		row := NutrientRow(ings, nut)
		if band.Upper != nil {
			p.Inequalities = append(p.Inequalities, lpsolve.Row{
				Label: nut.String() + " max", Coeffs: row, RHS: *band.Upper,
			})
		}
		if band.Lower != nil {
			p.Inequalities = append(p.Inequalities, lpsolve.Row{
				Label: nut.String() + " min", Coeffs: lpsolve.Negated(row), RHS: -*band.Lower,
			})
		}
	}
	p.Inequalities = append(p.Inequalities, InclusionRows(ings, st.Inclusion)...)
	return p
}

// NutrientRow returns the concentration of nut for each ingredient.
func NutrientRow(ings []catalog.Ingredient, nut nutrients.Nutrient) []float64 {
	row := make([]float64, len(ings))
	for i, ing := range ings {
		row[i] = ing.Nutrients.Get(nut)
	}
	return row
}

// InclusionRows returns one inequality per explicit override naming a member
// of ings. Overrides for other ingredients are ignored.
func InclusionRows(ings []catalog.Ingredient, in stages.Inclusion) []lpsolve.Row {
	n := len(ings)
	var rows []lpsolve.Row
	for i, ing := range ings {
		if mx, ok := in.Max[ing.ID]; ok {
			rows = append(rows, lpsolve.Row{Label: ing.ID + " max", Coeffs: lpsolve.Unit(n, i, 1), RHS: mx})
		}
		if mn, ok := in.Min[ing.ID]; ok {
			rows = append(rows, lpsolve.Row{Label: ing.ID + " min", Coeffs: lpsolve.Unit(n, i, -1), RHS: -mn})
		}
	}
	return rows
}

// Realize computes the nutrient vector of the blend x over ings.
func Realize(ings []catalog.Ingredient, x []float64) nutrients.Vector {
	m := mat.NewDense(nutrients.Count, len(ings), nil)
	for j, ing := range ings {
		for _, nut := range nutrients.All() {
			m.Set(int(nut), j, ing.Nutrients.Get(nut))
		}
	}
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(len(x), append([]float64(nil), x...)))
	var v nutrients.Vector
	for i := range v {
		v[i] = out.AtVec(i)
	}
	return v
}

// Cost recomputes the cost of blend x over ings.
func Cost(ings []catalog.Ingredient, x []float64) float64 {
	costs := make([]float64, len(ings))
	for i, ing := range ings {
		costs[i] = ing.Cost
	}
	return floats.Dot(costs, x)
}

// Verify checks x against every stage constraint with FeasibilityTolerance.
func Verify(st stages.Stage, ings []catalog.Ingredient, x []float64) error {
	tol := constants.FeasibilityTolerance
	if sum := floats.Sum(x); !mathutil.WithinTolerance(sum, 1, tol) {
		return fmt.Errorf("fractions sum to %.9f", sum)
	}
	for i, ing := range ings {
		lo, hi := st.Inclusion.Range(ing.ID)
		if x[i] < lo-tol || x[i] > hi+tol {
			return fmt.Errorf("fraction %.6f of %s outside [%.4f, %.4f]", x[i], ing.ID, lo, hi)
		}
	}
	realized := Realize(ings, x)
	for _, nut := range nutrients.All() {
		band := st.Band(nut)
		if !band.Contains(realized.Get(nut), tol) {
			return fmt.Errorf("%s %.6f outside %s", nut, realized.Get(nut), band)
		}
	}
	return nil
}
