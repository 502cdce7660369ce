package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without solving",
	Long: `Load the configuration, build the reference tables and check that every
stage and baseline refers to known ingredients. Warnings are printed one per
line; any integrity error fails the command.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
	conf, logger, err := loadWithLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := conf.Validate(); err != nil {
		return err
	}
	tables, err := conf.Tables()
	if err != nil {
		return err
	}
	if err := tables.Stages.CheckIntegrity(tables.Catalog); err != nil {
		return err
	}
	if err := tables.Baselines.CheckIntegrity(tables.Catalog); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	warnings := conf.ValidateConfiguration()
	for _, w := range warnings {
		fmt.Fprintln(out, "warning: "+w)
	}
	fmt.Fprintf(out, "ok: %d ingredients, %d stages, %d baselines, %d warnings\n",
		len(tables.Catalog.IDs()), tables.Stages.Len(), tables.Baselines.Len(), len(warnings))

	logger.Debug("configuration validated",
		zap.String("op", "main.validate"),
		zap.String("config", configLocation),
	)
	return nil
}
