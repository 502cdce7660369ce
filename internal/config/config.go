// Package config defines the data structures related to configuration and
// includes functions for loading the config and converting it into the
// reference tables used by a ration run.
package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/spf13/viper"
)

// Configuration holds all configuration for ration-optimizer.
type Configuration struct {
	PriceRevision string             `mapstructure:"priceRevision" yaml:"priceRevision,omitempty"`
	Catalog       []IngredientConfig `mapstructure:"catalog" yaml:"catalog"`
	Stages        []StageConfig      `mapstructure:"stages" yaml:"stages"`
	Baselines     []BaselineConfig   `mapstructure:"baselines" yaml:"baselines,omitempty"`
	Solver        SolverConfig       `mapstructure:"solver" yaml:"solver,omitempty"`
	Diagnose      DiagnoseConfig     `mapstructure:"diagnose" yaml:"diagnose,omitempty"`
	Logging       LoggingConfig      `mapstructure:"logging" yaml:"logging,omitempty"`
	Output        OutputConfig       `mapstructure:"output" yaml:"output,omitempty"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level,omitempty"`           // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format,omitempty"`         // json, console
	OutputFile string `mapstructure:"outputFile" yaml:"outputFile,omitempty"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format         string `mapstructure:"format" yaml:"format,omitempty"` // pretty, csv, yaml
	CurrencySymbol string `mapstructure:"currencySymbol" yaml:"currencySymbol,omitempty"`
}

// SolverConfig bounds the LP solves.
type SolverConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Workers int           `mapstructure:"workers" yaml:"workers,omitempty"`
}

// DiagnoseConfig controls the feasibility diagnosis.
type DiagnoseConfig struct {
	Always               bool   `mapstructure:"always" yaml:"always,omitempty"`
	PoolSource           string `mapstructure:"poolSource" yaml:"poolSource,omitempty"` // stage, baseline
	ApplyInclusionBounds bool   `mapstructure:"applyInclusionBounds" yaml:"applyInclusionBounds"`
}

// IngredientConfig is one catalog entry. An entry without a cost belongs to
// the nutrient table only; one without nutrients to the price table only.
type IngredientConfig struct {
	Name      string             `mapstructure:"name" yaml:"name"`
	Cost      *float64           `mapstructure:"cost" yaml:"cost,omitempty"`
	Nutrients map[string]float64 `mapstructure:"nutrients" yaml:"nutrients,omitempty"`
}

// StageConfig defines one stage.
type StageConfig struct {
	Name         string                `mapstructure:"name" yaml:"name"`
	Pool         []string              `mapstructure:"pool" yaml:"pool"`
	Requirements map[string]BandConfig `mapstructure:"requirements" yaml:"requirements,omitempty"`
	Inclusion    []InclusionConfig     `mapstructure:"inclusion" yaml:"inclusion,omitempty"`
}

// BandConfig is a nutrient requirement; either bound may be omitted.
type BandConfig struct {
	Min *float64 `mapstructure:"min" yaml:"min,omitempty"`
	Max *float64 `mapstructure:"max" yaml:"max,omitempty"`
}

// InclusionConfig overrides the inclusion fraction range of one ingredient.
type InclusionConfig struct {
	Ingredient string   `mapstructure:"ingredient" yaml:"ingredient"`
	Min        *float64 `mapstructure:"min" yaml:"min,omitempty"`
	Max        *float64 `mapstructure:"max" yaml:"max,omitempty"`
}

// BaselineConfig is the reference ration of one stage, in percent.
type BaselineConfig struct {
	Stage  string        `mapstructure:"stage" yaml:"stage"`
	Ration []ShareConfig `mapstructure:"ration" yaml:"ration"`
}

// ShareConfig is one line of a baseline ration.
type ShareConfig struct {
	Ingredient string  `mapstructure:"ingredient" yaml:"ingredient"`
	Percent    float64 `mapstructure:"percent" yaml:"percent"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("solver.timeout", constants.DefaultSolveTimeout)
	v.SetDefault("solver.workers", constants.DefaultWorkers)
	v.SetDefault("diagnose.always", false)
	v.SetDefault("diagnose.poolSource", constants.PoolSourceStage)
	v.SetDefault("diagnose.applyInclusionBounds", true)
	v.SetDefault("output.format", constants.OutputFormatPretty)
	v.SetDefault("output.currencySymbol", constants.DefaultCurrencySymbol)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	return v
}

// LoadConfiguration takes a file path as input and loads the configuration
// there. JSON and TOML files are recognized by extension; anything else,
// config.yaml.example included, is read as YAML.
// Environment variables prefixed RATION_ override scalar settings, e.g.
// RATION_SOLVER_WORKERS=4.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType(typeFromPath(configPath))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %w", err)
	}
	return decode(v)
}

// LoadConfigurationFromReader loads configuration of the given type (yaml,
// json, toml) from r.
func LoadConfigurationFromReader(r io.Reader, configType string) (*Configuration, error) {
	if configType == "" {
		configType = "yaml"
	}
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config data, %w", err)
	}
	return decode(v)
}

func typeFromPath(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "json", "toml", "yaml", "yml":
		return ext
	}
	return "yaml"
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	configuration.ApplyDefaults()
	return &configuration, nil
}

// ApplyDefaults fills zero-valued settings. It is applied on load and may be
// called on configurations built in code.
func (c *Configuration) ApplyDefaults() {
	if c.Solver.Timeout <= 0 {
		c.Solver.Timeout = constants.DefaultSolveTimeout
	}
	if c.Solver.Workers < 1 {
		c.Solver.Workers = constants.DefaultWorkers
	}
	if strings.TrimSpace(c.Output.Format) == "" {
		c.Output.Format = constants.OutputFormatPretty
	}
	if c.Output.CurrencySymbol == "" {
		c.Output.CurrencySymbol = constants.DefaultCurrencySymbol
	}
	if strings.TrimSpace(c.Diagnose.PoolSource) == "" {
		c.Diagnose.PoolSource = constants.PoolSourceStage
	}
}
