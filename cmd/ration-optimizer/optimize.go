package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/iwvelando/ration-optimizer/internal/config"
	"github.com/iwvelando/ration-optimizer/internal/ration"
	"github.com/iwvelando/ration-optimizer/pkg/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Optimize command flags
var (
	optimizeStages  []string
	outputFormat    string
	diagnoseAlways  bool
	failOnUnsolved  bool
	diagnosePoolSrc string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Formulate the least-cost ration for each stage",
	Long: `Formulate the least-cost ration for every configured stage, or only the
stages named with --stages. Infeasible stages are diagnosed and every stage
with a baseline ration gets a cost comparison.

Examples:
  ration-optimizer optimize
  ration-optimizer optimize --stages "mid lactation,dry late"
  ration-optimizer optimize --output-format csv > rations.csv`,
	RunE: runOptimize,
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Explain the feasibility of each stage",
	Long: `Optimize the selected stages and diagnose every one of them, feasible or
not, printing the achievable range of each nutrient next to its requirement.

Examples:
  ration-optimizer diagnose --stages calf
  ration-optimizer diagnose --pool-source baseline`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diagnoseAlways = true
		return runOptimize(cmd, args)
	},
}

func init() {
	for _, c := range []*cobra.Command{optimizeCmd, diagnoseCmd} {
		c.Flags().StringSliceVar(&optimizeStages, "stages", nil, "comma-separated stages to run (default all)")
		c.Flags().StringVar(&outputFormat, "output-format", "", "type of output override: pretty, csv, yaml")
		c.Flags().BoolVar(&failOnUnsolved, "fail-on-unsolved", false, "exit non-zero when any stage is not optimal")
		c.Flags().StringVar(&diagnosePoolSrc, "pool-source", "", "diagnosis pool override: stage, baseline")
	}
	optimizeCmd.Flags().BoolVar(&diagnoseAlways, "diagnose-always", false, "diagnose optimal stages too")
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	conf, logger, err := loadWithLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	applyOverrides(conf)

	for _, warning := range conf.ValidateConfiguration() {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main.optimize"),
		)
	}

	p, err := conf.NewPlanner(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	report, err := p.Run(ctx, optimizeStages)
	if err != nil {
		return err
	}

	if err := output.Write(cmd.OutOrStdout(), report, conf.Output.Format, conf.Output.CurrencySymbol); err != nil {
		return err
	}

	if failOnUnsolved {
		counts := report.Counts()
		if unsolved := len(report.Stages) - counts[ration.StatusOptimal]; unsolved > 0 {
			return fmt.Errorf("%d of %d stages have no optimal ration", unsolved, len(report.Stages))
		}
	}
	return nil
}

func applyOverrides(conf *config.Configuration) {
	if outputFormat != "" {
		conf.Output.Format = outputFormat
	}
	if diagnoseAlways {
		conf.Diagnose.Always = true
	}
	if diagnosePoolSrc != "" {
		conf.Diagnose.PoolSource = diagnosePoolSrc
	}
}
