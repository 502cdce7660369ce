// Package lpsolve solves small dense linear programs of the form
//
//	minimize (or maximize)  cᵀx
//	subject to              A x = b
//	                        G x ≤ h
//	                        x ≥ 0
//
// by converting the inequalities to equalities with one slack variable per
// row and handing the standard-form problem to gonum's simplex. Every solve
// runs under a deadline so an ill-conditioned problem is reported as
// unresolved instead of blocking the caller.
package lpsolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Sense selects minimization or maximization.
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

// Status is the verdict of a solve.
type Status int

const (
	// Optimal means X is an optimal point.
	Optimal Status = iota
	// Infeasible means the constraints admit no point.
	Infeasible
	// Unresolved means the solver reached no verdict: deadline exceeded,
	// numerical breakdown or an unbounded objective.
	Unresolved
)

// String returns a lower-case name for the status.
func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Row is one linear constraint. Label names it in binding-constraint reports.
type Row struct {
	Label  string
	Coeffs []float64
	RHS    float64
}

// Problem is a linear program over len(Objective) non-negative variables.
type Problem struct {
	Sense        Sense
	Objective    []float64
	Equalities   []Row
	Inequalities []Row
}

// Solution is the outcome of Solve. X and Objective are only meaningful when
// Status is Optimal.
type Solution struct {
	Status    Status
	Objective float64
	X         []float64
	// Binding holds the labels of inequality rows satisfied with equality.
	Binding []string
	Message string
	Err     error
}

// Solver holds the solve settings. The zero value uses the package defaults.
type Solver struct {
	Timeout   time.Duration
	Tolerance float64
}

// NewSolver returns a Solver with the given deadline per solve.
func NewSolver(timeout time.Duration) Solver {
	return Solver{Timeout: timeout, Tolerance: constants.ReducedCostTolerance}
}

func (p Problem) check() error {
	n := len(p.Objective)
	if n == 0 {
		return errors.New("lpsolve: problem has no variables")
	}
	if len(p.Equalities) == 0 {
		return errors.New("lpsolve: problem needs at least one equality row")
	}
	if len(p.Equalities) > n {
		return fmt.Errorf("lpsolve: %d equality rows exceed %d variables", len(p.Equalities), n)
	}
	for _, rows := range [][]Row{p.Equalities, p.Inequalities} {
		for i, r := range rows {
			if len(r.Coeffs) != n {
				return fmt.Errorf("lpsolve: row %d (%s) has %d coefficients, want %d", i, r.Label, len(r.Coeffs), n)
			}
		}
	}
	return nil
}

// standardForm appends a slack column per inequality row so the whole
// problem becomes A' x' = b', x' ≥ 0.
func (p Problem) standardForm() (c []float64, a *mat.Dense, b []float64) {
	nVar := len(p.Objective)
	nEq := len(p.Equalities)
	nIneq := len(p.Inequalities)

	c = make([]float64, nVar+nIneq)
	copy(c, p.Objective)
	if p.Sense == Maximize {
		for i := 0; i < nVar; i++ {
			c[i] = -c[i]
		}
	}

	b = make([]float64, nEq+nIneq)
	a = mat.NewDense(nEq+nIneq, nVar+nIneq, nil)
	for i, r := range p.Equalities {
		a.SetRow(i, append(append([]float64(nil), r.Coeffs...), make([]float64, nIneq)...))
		b[i] = r.RHS
	}
	for i, r := range p.Inequalities {
		row := make([]float64, nVar+nIneq)
		copy(row, r.Coeffs)
		row[nVar+i] = 1
		a.SetRow(nEq+i, row)
		b[nEq+i] = r.RHS
	}
	return c, a, b
}

type outcome struct {
	f   float64
	x   []float64
	err error
}

// Solve solves p. The returned error is non-nil only for a malformed problem;
// solver verdicts are reported through Solution.Status.
func (s Solver) Solve(ctx context.Context, p Problem) (Solution, error) {
	if err := p.check(); err != nil {
		return Solution{}, err
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = constants.ReducedCostTolerance
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return unresolved(err), nil
	}

	c, a, b := p.standardForm()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("lpsolve: simplex panicked: %v", r)}
			}
		}()
		f, x, err := lp.Simplex(c, a, b, tol, nil)
		done <- outcome{f: f, x: x, err: err}
	}()

	select {
	case <-ctx.Done():
		return unresolved(ctx.Err()), nil
	case out := <-done:
		return p.interpret(out), nil
	}
}

func unresolved(err error) Solution {
	msg := "solve cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "solver did not finish before the deadline"
	}
	return Solution{Status: Unresolved, Message: msg, Err: err}
}

func (p Problem) interpret(out outcome) Solution {
	if out.err != nil {
		status := Unresolved
		if errors.Is(out.err, lp.ErrInfeasible) {
			status = Infeasible
		}
		return Solution{Status: status, Message: out.err.Error(), Err: out.err}
	}

	nVar := len(p.Objective)
	f := out.f
	if p.Sense == Maximize {
		f = -f
	}
	sol := Solution{
		Status:    Optimal,
		Objective: f,
		X:         append([]float64(nil), out.x[:nVar]...),
		Message:   "optimal",
	}
	for i, r := range p.Inequalities {
		if out.x[nVar+i] <= constants.FeasibilityTolerance {
			sol.Binding = append(sol.Binding, r.Label)
		}
	}
	return sol
}

// Ones returns a slice of n ones, the coefficient row of a sum constraint.
func Ones(n int) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = 1
	}
	return row
}

// Unit returns a slice of length n with v at index i and zeros elsewhere.
func Unit(n, i int, v float64) []float64 {
	row := make([]float64, n)
	row[i] = v
	return row
}

// Negated returns -coeffs.
func Negated(coeffs []float64) []float64 {
	out := make([]float64, len(coeffs))
	for i, v := range coeffs {
		out[i] = -v
	}
	return out
}
