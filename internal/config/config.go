// Package config handles run configuration loading with validation.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the immutable per-run configuration of the arbitrage bot.
// It is created once when a run starts and never mutated afterwards.
type Config struct {
	// Assigned at run start, not read from the file.
	ID             string `yaml:"-" json:"id"`
	StartTimestamp int64  `yaml:"-" json:"start_timestamp"`

	Exchange1     string `yaml:"exchange1" json:"exchange1"`
	Exchange2     string `yaml:"exchange2" json:"exchange2"`
	Exchange1Pair string `yaml:"exchange1_pair" json:"exchange1_pair"`
	Exchange2Pair string `yaml:"exchange2_pair" json:"exchange2_pair"`

	UseTestAPI bool `yaml:"use_test_api" json:"use_test_api"`

	DryRun        bool    `yaml:"dryrun" json:"dryrun"`
	DryRunE1Base  float64 `yaml:"dryrun_e1_base" json:"dryrun_e1_base"`
	DryRunE1Quote float64 `yaml:"dryrun_e1_quote" json:"dryrun_e1_quote"`
	DryRunE2Base  float64 `yaml:"dryrun_e2_base" json:"dryrun_e2_base"`
	DryRunE2Quote float64 `yaml:"dryrun_e2_quote" json:"dryrun_e2_quote"`

	// Historical spread ceilings in percent, one per direction.
	HToE1Max float64 `yaml:"h_to_e1_max" json:"h_to_e1_max"`
	HToE2Max float64 `yaml:"h_to_e2_max" json:"h_to_e2_max"`

	VolMin       float64 `yaml:"vol_min" json:"vol_min"`
	SpreadMin    float64 `yaml:"spread_min" json:"spread_min"`
	MaxTradeSize float64 `yaml:"max_trade_size" json:"max_trade_size"`
	Slippage     float64 `yaml:"slippage" json:"slippage"`

	// Poll intervals in seconds. The short interval is used while a chunked
	// trade is still in flight.
	PollWaitDefault int `yaml:"poll_wait_default" json:"poll_wait_default"`
	PollWaitShort   int `yaml:"poll_wait_short" json:"poll_wait_short"`

	EmailCfgPath  string `yaml:"email_cfg_path" json:"email_cfg_path"`
	TwilioCfgPath string `yaml:"twilio_cfg_path" json:"twilio_cfg_path"`
}

// requiredKeys are the configuration keys a run cannot start without.
var requiredKeys = []string{
	"max_trade_size", "spread_min", "vol_min", "h_to_e1_max", "h_to_e2_max",
	"slippage", "poll_wait_default", "poll_wait_short",
	"exchange1", "exchange2", "exchange1_pair", "exchange2_pair",
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads a run configuration from a YAML file with environment variable
// expansion. Unknown keys and missing required keys are errors.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse([]byte(expandEnvVars(string(data))))
}

// Parse decodes and validates a run configuration from raw YAML.
func Parse(data []byte) (*Config, error) {
	if err := checkRequiredKeys(data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.ID = uuid.NewString()
	cfg.StartTimestamp = time.Now().Unix()
	return &cfg, nil
}

func checkRequiredKeys(data []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return ValidationError{
			Field:   strings.Join(missing, ", "),
			Message: "required configuration keys are missing",
		}
	}
	return nil
}

// Validate performs semantic validation of the configuration values.
func (c *Config) Validate() error {
	if c.Exchange1 == c.Exchange2 {
		return ValidationError{
			Field:   "exchange2",
			Value:   c.Exchange2,
			Message: "the two exchanges must differ",
		}
	}
	if c.MaxTradeSize <= 0 {
		return ValidationError{
			Field:   "max_trade_size",
			Value:   c.MaxTradeSize,
			Message: "must be positive",
		}
	}
	if c.VolMin <= 0 {
		return ValidationError{
			Field:   "vol_min",
			Value:   c.VolMin,
			Message: "must be positive",
		}
	}
	if c.SpreadMin <= 0 {
		return ValidationError{
			Field:   "spread_min",
			Value:   c.SpreadMin,
			Message: "must be positive",
		}
	}
	if c.Slippage < 0 || c.Slippage >= 1 {
		return ValidationError{
			Field:   "slippage",
			Value:   c.Slippage,
			Message: "must be a ratio in [0, 1)",
		}
	}
	if c.PollWaitDefault <= 0 || c.PollWaitShort <= 0 {
		return ValidationError{
			Field:   "poll_wait_default/poll_wait_short",
			Value:   fmt.Sprintf("%d/%d", c.PollWaitDefault, c.PollWaitShort),
			Message: "poll intervals must be positive",
		}
	}
	if c.PollWaitShort > c.PollWaitDefault {
		return ValidationError{
			Field:   "poll_wait_short",
			Value:   c.PollWaitShort,
			Message: "shortened interval must not exceed the default interval",
		}
	}
	for _, pair := range []struct {
		field string
		value string
	}{
		{"exchange1_pair", c.Exchange1Pair},
		{"exchange2_pair", c.Exchange2Pair},
	} {
		if !strings.Contains(pair.value, "/") {
			return ValidationError{
				Field:   pair.field,
				Value:   pair.value,
				Message: "market symbol must be of the form BASE/QUOTE",
			}
		}
	}
	if c.DryRun {
		for field, v := range map[string]float64{
			"dryrun_e1_base":  c.DryRunE1Base,
			"dryrun_e1_quote": c.DryRunE1Quote,
			"dryrun_e2_base":  c.DryRunE2Base,
			"dryrun_e2_quote": c.DryRunE2Quote,
		} {
			if v < 0 {
				return ValidationError{
					Field:   field,
					Value:   v,
					Message: "dryrun seed balance must not be negative",
				}
			}
		}
	}
	return nil
}

// String returns a YAML rendering of the configuration.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

// DefaultConfig returns a populated configuration for tests.
func DefaultConfig() *Config {
	return &Config{
		ID:              uuid.NewString(),
		StartTimestamp:  time.Now().Unix(),
		Exchange1:       "gemini",
		Exchange2:       "binance",
		Exchange1Pair:   "ETH/USD",
		Exchange2Pair:   "ETH/USDT",
		DryRun:          true,
		DryRunE1Base:    20,
		DryRunE1Quote:   10000,
		DryRunE2Base:    20,
		DryRunE2Quote:   10000,
		HToE1Max:        4,
		HToE2Max:        4,
		VolMin:          1000,
		SpreadMin:       1,
		MaxTradeSize:    2000,
		Slippage:        0.03,
		PollWaitDefault: 60,
		PollWaitShort:   6,
	}
}
