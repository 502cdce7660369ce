// Package constants provides shared constants for the ration-optimizer application.
package constants

import "time"

// Solver tolerances. These are fixed so that results are reproducible
// regardless of which LP backend produced them.
const (
	// FeasibilityTolerance is how far a realized value may sit outside a
	// bound (or a composition sum away from 1) and still count as satisfying it.
	FeasibilityTolerance = 1e-6

	// ZeroRoundingThreshold is the fraction below which an ingredient is
	// dropped from reported compositions. Stored fractions are never rounded.
	ZeroRoundingThreshold = 1e-3

	// ReducedCostTolerance is the simplex optimality tolerance.
	ReducedCostTolerance = 1e-10

	// PercentSumTolerance is the allowed deviation of a baseline ration's
	// percentages from 100.
	PercentSumTolerance = 0.01

	// PercentageMultiplier is used for fraction to percentage conversions
	PercentageMultiplier = 100.0

	// DecimalPrecision rounds displayed costs and percentages to two decimals.
	DecimalPrecision = 100.0
)

// Solver defaults
const (
	// DefaultSolveTimeout bounds a single LP solve.
	DefaultSolveTimeout = 5 * time.Second

	// DefaultWorkers is the number of stages solved concurrently.
	DefaultWorkers = 1

	// DefaultCurrencySymbol prefixes formatted costs.
	DefaultCurrencySymbol = "¥"
)

// Diagnosis pool sources
const (
	// PoolSourceStage diagnoses a stage's own pool under its inclusion bounds.
	PoolSourceStage = "stage"

	// PoolSourceBaseline diagnoses the pool of the stage's baseline ration.
	PoolSourceBaseline = "baseline"
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"

	// OutputFormatYAML is the YAML output format
	OutputFormatYAML = "yaml"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "config.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"

	// EnvPrefix is the environment variable prefix read by viper.
	EnvPrefix = "RATION"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address for the API
	DefaultServerAddress = ":8080"

	// DefaultMaxUploadSizeBytes is the default maximum upload size for ration files (256 KB)
	DefaultMaxUploadSizeBytes int64 = 256 * 1024

	// DefaultRequestTimeout bounds one optimize request
	DefaultRequestTimeout = 60 * time.Second

	// DefaultServerMaxWorkers caps the stage workers one request may use
	DefaultServerMaxWorkers = 4
)
