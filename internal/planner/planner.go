// Package planner runs the ration optimizer over a set of stages, diagnoses
// the stages that could not be optimized and compares each result against
// its baseline ration.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iwvelando/ration-optimizer/internal/baseline"
	"github.com/iwvelando/ration-optimizer/internal/diagnose"
	"github.com/iwvelando/ration-optimizer/internal/ration"
	"github.com/iwvelando/ration-optimizer/pkg/catalog"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/iwvelando/ration-optimizer/pkg/lpsolve"
	"github.com/iwvelando/ration-optimizer/pkg/stages"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Inputs are the immutable reference tables for a run.
type Inputs struct {
	Catalog   catalog.Catalog
	Stages    stages.Set
	Baselines baseline.Set
}

// Options tune a run.
type Options struct {
	// Workers bounds how many stages are solved at once. Values below 2 run
	// the stages one after another.
	Workers int
	// DiagnoseAlways diagnoses optimal stages too.
	DiagnoseAlways bool
	// PoolSource is constants.PoolSourceStage or constants.PoolSourceBaseline.
	PoolSource string
	// ApplyInclusionBounds keeps the stage's inclusion overrides in the
	// diagnostic problems.
	ApplyInclusionBounds bool
}

// StageReport collects everything computed for one stage.
type StageReport struct {
	Result     ration.Result
	Diagnosis  *diagnose.Diagnosis
	Baseline   *baseline.Evaluation
	Comparison baseline.Comparison
}

// Report is the outcome of a run, with stages in definition order.
type Report struct {
	RunID         string
	PriceRevision string
	GeneratedAt   time.Time
	Stages        []StageReport
}

// Counts tallies stage outcomes by status.
func (r *Report) Counts() map[ration.Status]int {
	counts := make(map[ration.Status]int)
	for _, s := range r.Stages {
		counts[s.Result.Status]++
	}
	return counts
}

// Planner orchestrates a run.
type Planner struct {
	logger        *zap.Logger
	inputs        Inputs
	opts          Options
	optimizer     *ration.Optimizer
	diagnostician *diagnose.Diagnostician
}

// New constructs a Planner. Solves share solver's settings.
func New(logger *zap.Logger, in Inputs, solver lpsolve.Solver, opts Options) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PoolSource == "" {
		opts.PoolSource = constants.PoolSourceStage
	}
	return &Planner{
		logger:        logger,
		inputs:        in,
		opts:          opts,
		optimizer:     ration.NewOptimizer(logger, in.Catalog, solver),
		diagnostician: diagnose.NewDiagnostician(logger, in.Catalog, solver, opts.Workers),
	}
}

// Run processes the stages named in ids, or every stage when ids is empty.
// Reference data is checked for integrity before any solve; an integrity
// failure aborts the run. Every other stage failure is recorded in the
// stage's report.
func (p *Planner) Run(ctx context.Context, ids []string) (*Report, error) {
	selected, err := p.inputs.Stages.Select(ids)
	if err != nil {
		return nil, err
	}
	for _, st := range selected {
		if err := st.CheckIntegrity(p.inputs.Catalog); err != nil {
			return nil, err
		}
	}
	if err := p.inputs.Baselines.CheckIntegrity(p.inputs.Catalog); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:         uuid.NewString(),
		PriceRevision: p.inputs.Catalog.PriceRevision(),
		GeneratedAt:   time.Now(),
		Stages:        make([]StageReport, len(selected)),
	}
	logger := p.logger.With(zap.String("runID", report.RunID))
	logger.Info("starting ration run",
		zap.String("op", "planner.Run"),
		zap.Int("stages", len(selected)),
		zap.String("priceRevision", report.PriceRevision),
		zap.Int("workers", p.opts.Workers),
	)

	if p.opts.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Workers)
		for i, st := range selected {
			g.Go(func() error {
				sr, err := p.runStage(gctx, st)
				report.Stages[i] = sr
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, st := range selected {
			sr, err := p.runStage(ctx, st)
			if err != nil {
				return nil, err
			}
			report.Stages[i] = sr
		}
	}

	counts := report.Counts()
	logger.Info("ration run complete",
		zap.String("op", "planner.Run"),
		zap.Int("optimal", counts[ration.StatusOptimal]),
		zap.Int("infeasible", counts[ration.StatusInfeasible]),
		zap.Int("unresolved", counts[ration.StatusUnresolved]),
		zap.Int("invalid", counts[ration.StatusInvalid]),
	)
	return report, nil
}

func (p *Planner) runStage(ctx context.Context, st stages.Stage) (StageReport, error) {
	var sr StageReport

	res, err := p.optimizer.Optimize(ctx, st)
	if err != nil {
		return sr, err
	}
	sr.Result = res

	typical, hasBaseline := p.inputs.Baselines.Get(st.ID)
	if hasBaseline {
		ev, err := baseline.Evaluate(p.inputs.Catalog, st.ID, typical)
		if err != nil {
			return sr, err
		}
		sr.Baseline = &ev
	}
	sr.Comparison = baseline.Compare(res, sr.Baseline)

	if p.shouldDiagnose(res) {
		pool, in := p.diagnosticPool(st, typical, hasBaseline)
		diag, err := p.diagnostician.Diagnose(ctx, st, pool, in)
		if err != nil {
			return sr, err
		}
		sr.Diagnosis = &diag
		if !res.Optimal() {
			p.logger.Info("stage diagnosed",
				zap.String("op", "planner.runStage"),
				zap.String("stage", st.ID),
				zap.String("cause", string(diag.Cause)),
				zap.String("explanation", diag.Explain()),
			)
		}
	}
	return sr, nil
}

// shouldDiagnose skips stages rejected before solving: their bounds are
// contradictory and no range computation can explain them further.
func (p *Planner) shouldDiagnose(res ration.Result) bool {
	if res.Status == ration.StatusInvalid {
		return false
	}
	return p.opts.DiagnoseAlways || !res.Optimal()
}

func (p *Planner) diagnosticPool(st stages.Stage, typical baseline.Ration, hasBaseline bool) ([]string, stages.Inclusion) {
	pool := st.Pool
	if p.opts.PoolSource == constants.PoolSourceBaseline {
		if hasBaseline {
			pool = typical.IDs()
		} else {
			p.logger.Debug("stage has no baseline, diagnosing its own pool",
				zap.String("op", "planner.diagnosticPool"),
				zap.String("stage", st.ID),
			)
		}
	}
	if !p.opts.ApplyInclusionBounds {
		return pool, stages.Inclusion{}
	}
	return pool, st.Inclusion.Restrict(pool)
}

// Summary renders a one-line description of a stage outcome for logs and
// plain-text surfaces.
func (sr StageReport) Summary() string {
	switch sr.Result.Status {
	case ration.StatusOptimal:
		return fmt.Sprintf("%s: optimal at %.4f per kg DM", sr.Result.Stage, sr.Result.Cost)
	default:
		msg := fmt.Sprintf("%s: %s", sr.Result.Stage, sr.Result.Status)
		if sr.Diagnosis != nil {
			msg += " (" + sr.Diagnosis.Explain() + ")"
		}
		return msg
	}
}
