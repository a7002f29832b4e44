// Package config loads the engine configuration from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calder-ops/vigil/internal/alerting"
	"github.com/calder-ops/vigil/internal/notify"
	"github.com/calder-ops/vigil/internal/series"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SamplingConfig controls metric collection cadence and retention.
type SamplingConfig struct {
	// Intervals maps a source category to its collection interval.
	Intervals map[string]Duration `yaml:"intervals"`
	Retention Duration            `yaml:"retention"`
}

// Interval returns the configured interval for a category, falling back to
// the custom-category default.
func (s SamplingConfig) Interval(category string) time.Duration {
	if d, ok := s.Intervals[category]; ok {
		return d.Std()
	}
	if d, ok := s.Intervals["custom"]; ok {
		return d.Std()
	}
	return 30 * time.Second
}

// EvaluationConfig controls the rule evaluation loop.
type EvaluationConfig struct {
	Interval      Duration `yaml:"interval"`
	DefaultWindow Duration `yaml:"default_window"`
}

// AlertingConfig controls lifecycle, correlation, and dispatch timing.
type AlertingConfig struct {
	DedupWindow       Duration `yaml:"dedup_window"`
	CorrelationWindow Duration `yaml:"correlation_window"`
	CorrelationSweep  Duration `yaml:"correlation_sweep"`
	SuppressionSweep  Duration `yaml:"suppression_sweep"`
	RetrySweep        Duration `yaml:"retry_sweep"`
	ResolvedRetention Duration `yaml:"resolved_retention"`
	AutoRemediation   bool     `yaml:"auto_remediation"`
}

// RetrySpec mirrors alerting.RetryPolicy for YAML declaration.
type RetrySpec struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialBackoff string  `yaml:"initial_backoff"`
	Multiplier     float64 `yaml:"multiplier"`
	MaxBackoff     string  `yaml:"max_backoff"`
	Jitter         *bool   `yaml:"jitter"`
}

// ActionSpec declares one rule action in the config file.
type ActionSpec struct {
	Type         string     `yaml:"type"`
	Channel      string     `yaml:"channel"`
	URL          string     `yaml:"url"`
	Command      string     `yaml:"command"`
	DelaySeconds int        `yaml:"delay_seconds"`
	Retry        *RetrySpec `yaml:"retry"`
}

// RuleSpec declares one alerting rule in the config file.
type RuleSpec struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Category    string       `yaml:"category"`
	Severity    string       `yaml:"severity"`
	Metric      string       `yaml:"metric"`
	Operator    string       `yaml:"operator"`
	Threshold   float64      `yaml:"threshold"`
	Aggregation string       `yaml:"aggregation"`
	Duration    string       `yaml:"duration"`
	Window      string       `yaml:"window"`
	Actions     []ActionSpec `yaml:"actions"`
	Enabled     *bool        `yaml:"enabled"`
}

// Rule converts the spec into an alerting rule. Enabled defaults to true.
func (r RuleSpec) Rule() alerting.Rule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	actions := make([]alerting.Action, 0, len(r.Actions))
	for _, a := range r.Actions {
		action := alerting.Action{
			Type:         a.Type,
			ChannelID:    a.Channel,
			URL:          a.URL,
			Command:      a.Command,
			DelaySeconds: a.DelaySeconds,
		}
		if a.Retry != nil {
			action.RetryPolicy = &alerting.RetryPolicy{
				MaxAttempts:    a.Retry.MaxAttempts,
				InitialBackoff: a.Retry.InitialBackoff,
				Multiplier:     a.Retry.Multiplier,
				MaxBackoff:     a.Retry.MaxBackoff,
				Jitter:         a.Retry.Jitter,
			}
		}
		actions = append(actions, action)
	}

	return alerting.Rule{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Severity:    alerting.Severity(r.Severity),
		Condition: alerting.Condition{
			Metric:           r.Metric,
			Operator:         r.Operator,
			Threshold:        r.Threshold,
			Aggregation:      series.Aggregation(r.Aggregation),
			Duration:         r.Duration,
			EvaluationWindow: r.Window,
		},
		Actions: actions,
		Enabled: enabled,
	}
}

// FilterSpec declares one channel filter in the config file.
type FilterSpec struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

// ChannelSpec declares one notification channel in the config file.
type ChannelSpec struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Settings map[string]string `yaml:"settings"`
	Filters  []FilterSpec      `yaml:"filters"`
	Enabled  *bool             `yaml:"enabled"`
}

// ChannelConfig converts the spec into a dispatcher channel configuration.
func (c ChannelSpec) ChannelConfig() notify.ChannelConfig {
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	filters := make([]notify.Filter, 0, len(c.Filters))
	for _, f := range c.Filters {
		filters = append(filters, notify.Filter{Field: f.Field, Op: f.Op, Value: f.Value})
	}
	return notify.ChannelConfig{
		Name:     c.Name,
		Type:     c.Type,
		Settings: c.Settings,
		Filters:  filters,
		Enabled:  enabled,
	}
}

// Config is the full engine configuration.
type Config struct {
	Listen       string `yaml:"listen"`
	DataDir      string `yaml:"data_dir"`
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	Sampling   SamplingConfig   `yaml:"sampling"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Alerting   AlertingConfig   `yaml:"alerting"`

	Rules    []RuleSpec    `yaml:"rules"`
	Channels []ChannelSpec `yaml:"channels"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Sampling: SamplingConfig{
			Intervals: map[string]Duration{
				"system":      Duration(10 * time.Second),
				"application": Duration(30 * time.Second),
				"service":     Duration(60 * time.Second),
				"custom":      Duration(30 * time.Second),
			},
			Retention: Duration(7 * 24 * time.Hour),
		},
		Evaluation: EvaluationConfig{
			Interval:      Duration(30 * time.Second),
			DefaultWindow: Duration(30 * time.Second),
		},
		Alerting: AlertingConfig{
			DedupWindow:       Duration(5 * time.Minute),
			CorrelationWindow: Duration(5 * time.Minute),
			CorrelationSweep:  Duration(60 * time.Second),
			SuppressionSweep:  Duration(30 * time.Second),
			RetrySweep:        Duration(5 * time.Second),
			ResolvedRetention: Duration(24 * time.Hour),
		},
	}
}

// Load reads the config file at path over the defaults, then applies VIGIL_*
// environment overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VIGIL_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("VIGIL_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("VIGIL_OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv("VIGIL_EVALUATION_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIGIL_EVALUATION_INTERVAL: %w", err)
		}
		c.Evaluation.Interval = Duration(d)
	}
	if v := os.Getenv("VIGIL_DEDUP_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIGIL_DEDUP_WINDOW: %w", err)
		}
		c.Alerting.DedupWindow = Duration(d)
	}
	if v := os.Getenv("VIGIL_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIGIL_RETENTION: %w", err)
		}
		c.Sampling.Retention = Duration(d)
	}
	if v := os.Getenv("VIGIL_AUTO_REMEDIATION"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("VIGIL_AUTO_REMEDIATION: %w", err)
		}
		c.Alerting.AutoRemediation = enabled
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address required")
	}
	for category, d := range c.Sampling.Intervals {
		if d.Std() <= 0 {
			return fmt.Errorf("sampling interval for %q must be positive", category)
		}
	}
	if c.Sampling.Retention.Std() <= 0 {
		return fmt.Errorf("sampling retention must be positive")
	}
	if c.Evaluation.Interval.Std() <= 0 {
		return fmt.Errorf("evaluation interval must be positive")
	}
	if c.Alerting.DedupWindow.Std() <= 0 {
		return fmt.Errorf("dedup window must be positive")
	}
	if c.Alerting.RetrySweep.Std() <= 0 {
		return fmt.Errorf("retry sweep interval must be positive")
	}
	for i, rule := range c.Rules {
		converted := rule.Rule()
		if err := converted.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}
