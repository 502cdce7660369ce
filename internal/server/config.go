package server

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/ration-optimizer/internal/config"
	"github.com/iwvelando/ration-optimizer/pkg/constants"
	"github.com/spf13/viper"
)

// Config holds the settings of the ration API process. The ration data itself
// arrives with each request; this only bounds what a request may ask for.
type Config struct {
	Address       string `mapstructure:"address"`
	MaxUploadSize string `mapstructure:"maxUploadSize"`
	// RequestTimeout bounds a whole optimize request, all stage solves included.
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	// MaxWorkers caps solver.workers of uploaded configurations.
	MaxWorkers int `mapstructure:"maxWorkers"`
	// MaxStages rejects requests that would solve more stages; 0 disables the check.
	MaxStages int                  `mapstructure:"maxStages"`
	Logging   config.LoggingConfig `mapstructure:"logging"`

	uploadSizeBytes int64
}

// Limits bounds the work a single request can cause.
type Limits struct {
	MaxUploadBytes int64
	MaxWorkers     int
	MaxStages      int
}

// LoadConfig reads the server settings from a YAML file. A missing file
// yields the defaults. Variables prefixed RATION_SERVER_ override the file,
// e.g. RATION_SERVER_MAXWORKERS=2.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix + "_SERVER")
	v.AutomaticEnv()
	v.SetDefault("address", constants.DefaultServerAddress)
	v.SetDefault("maxUploadSize", strconv.FormatInt(constants.DefaultMaxUploadSizeBytes, 10))
	v.SetDefault("requestTimeout", constants.DefaultRequestTimeout)
	v.SetDefault("maxWorkers", constants.DefaultServerMaxWorkers)
	v.SetDefault("maxStages", 0)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read server config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode server config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UploadSizeBytes returns the parsed upload limit.
func (c *Config) UploadSizeBytes() int64 {
	return c.uploadSizeBytes
}

// Limits returns the per-request bounds handed to NewHandler.
func (c *Config) Limits() Limits {
	return Limits{
		MaxUploadBytes: c.uploadSizeBytes,
		MaxWorkers:     c.MaxWorkers,
		MaxStages:      c.MaxStages,
	}
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = constants.DefaultServerAddress
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = constants.DefaultRequestTimeout
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = constants.DefaultServerMaxWorkers
	}
	if c.MaxStages < 0 {
		return fmt.Errorf("maxStages must not be negative, got %d", c.MaxStages)
	}

	size, err := ParseSize(c.MaxUploadSize)
	if err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("maxUploadSize must be positive")
	}
	c.uploadSizeBytes = size
	return nil
}

var sizeUnits = map[string]int64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
}

// ParseSize converts a byte count with an optional binary unit ("256K",
// "10MB") into bytes. An empty string means the default upload limit.
func ParseSize(value string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(value))
	if s == "" {
		return constants.DefaultMaxUploadSizeBytes, nil
	}

	split := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if split == -1 {
		split = len(s)
	}
	if split == 0 {
		return 0, fmt.Errorf("invalid size: %s", value)
	}

	n, err := strconv.ParseInt(s[:split], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", value, err)
	}
	unit := strings.TrimSpace(s[split:])
	multiplier, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported size unit %q", unit)
	}
	if n > math.MaxInt64/multiplier {
		return 0, fmt.Errorf("size overflow for value %s", value)
	}
	return n * multiplier, nil
}
