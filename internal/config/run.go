package config

import (
	"github.com/iwvelando/ration-optimizer/internal/planner"
	"github.com/iwvelando/ration-optimizer/pkg/lpsolve"
	"go.uber.org/zap"
)

// PlannerOptions maps the solver and diagnose settings onto planner options.
func (c *Configuration) PlannerOptions() planner.Options {
	return planner.Options{
		Workers:              c.Solver.Workers,
		DiagnoseAlways:       c.Diagnose.Always,
		PoolSource:           c.Diagnose.PoolSource,
		ApplyInclusionBounds: c.Diagnose.ApplyInclusionBounds,
	}
}

// NewPlanner validates the configuration, builds the reference tables and
// returns a planner over them.
func (c *Configuration) NewPlanner(logger *zap.Logger) (*planner.Planner, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	tables, err := c.Tables()
	if err != nil {
		return nil, err
	}
	in := planner.Inputs{Catalog: tables.Catalog, Stages: tables.Stages, Baselines: tables.Baselines}
	return planner.New(logger, in, lpsolve.NewSolver(c.Solver.Timeout), c.PlannerOptions()), nil
}
