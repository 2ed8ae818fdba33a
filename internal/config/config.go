// Package config provides configuration loading and validation for the
// admission control and cost-anomaly-detection service.
//
// Configuration file: /etc/admissionctl/config.yaml (default)
// Schema version: 1
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. pattern.max_adjustment in [0, 1]).
//   - Invalid config on startup: the service refuses to start (fatal error).
//
// Grounded on octoreflex's internal/config/config.go: the same
// Defaults/Load/Validate shape and yaml.v3 tagging, generalized from the
// eBPF agent's sections to the admission/detection/query-façade domain.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are set at build time via -ldflags -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this process instance in logs and metrics.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	Admission     AdmissionConfig     `yaml:"admission"`
	Pattern       PatternConfig       `yaml:"pattern"`
	Detection     DetectionConfig     `yaml:"detection"`
	Registry      RegistryConfig      `yaml:"registry"`
	TimeSeries    TimeSeriesConfig    `yaml:"timeseries"`
	Pushgateway   PushgatewayConfig   `yaml:"pushgateway"`
	Observability ObservabilityConfig `yaml:"observability"`
	RPC           RPCConfig           `yaml:"rpc"`
}

// AdmissionConfig holds the admission controller's wait-time estimate
// bounds (spec.md §6: DEFAULT_WAIT_SECONDS, MAX_WAIT_SECONDS).
type AdmissionConfig struct {
	DefaultWaitSeconds int `yaml:"default_wait_seconds"`
	MaxWaitSeconds     int `yaml:"max_wait_seconds"`
}

// PatternConfig holds the pattern chain's enable switch and attenuation
// cap (spec.md §6: PATTERN_RECOGNITION, PATTERN_MAX_ADJUSTMENT).
type PatternConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MaxAdjustment float64 `yaml:"max_adjustment"` // magnitude, e.g. 0.40; applied as -MaxAdjustment
}

// DetectionConfig holds the ensemble detector's per-detector thresholds
// plus the health-evaluator poller's schedule.
type DetectionConfig struct {
	RatioThreshold         float64 `yaml:"ratio_threshold"`
	RatioDecreaseThreshold float64 `yaml:"ratio_decrease_threshold"`
	StddevMultiplier       float64 `yaml:"stddev_multiplier"`
	TrendConsecutiveDays   int     `yaml:"trend_consecutive_days"`
	TrendMinIncreaseRate   float64 `yaml:"trend_min_increase_rate"`

	// PollInterval is how often the poller queries the time-series façade
	// for a fresh metric window (spec.md §2: "a poller queries C6 for a
	// metric window").
	PollInterval time.Duration `yaml:"poll_interval"`
	// Namespace scopes the per-namespace queries (pod restarts, resource
	// usage). Empty means "all namespaces" (passed through verbatim to the
	// provider, which treats "" as unscoped).
	Namespace string `yaml:"namespace"`
}

// RegistryConfig holds storage provider selection and table/bucket names
// (spec.md §6: PROVIDER, REGISTRY_TABLE, LIMITS_TABLE).
type RegistryConfig struct {
	// Provider selects "bolt" (durable) or "mock" (in-memory).
	Provider      string `yaml:"provider"`
	DBPath        string `yaml:"db_path"`
	RegistryTable string `yaml:"registry_table"`
	LimitsTable   string `yaml:"limits_table"`
}

// TimeSeriesConfig holds the query façade's backend selection
// (spec.md §6: TIMESERIES_ENDPOINT, PROVIDER).
type TimeSeriesConfig struct {
	Provider     string        `yaml:"provider"` // "real" or "mock"
	Endpoint     string        `yaml:"endpoint"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// PushgatewayConfig holds the metric injector's target
// (spec.md §6: PUSHGATEWAY_ENDPOINT).
type PushgatewayConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// RPCConfig holds the admission entry point's Unix socket parameters.
type RPCConfig struct {
	SocketPath string `yaml:"socket_path"`
	Enabled    bool   `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Admission: AdmissionConfig{
			DefaultWaitSeconds: 30,
			MaxWaitSeconds:     300,
		},
		Pattern: PatternConfig{
			Enabled:       true,
			MaxAdjustment: 0.40,
		},
		Detection: DetectionConfig{
			RatioThreshold:         0.5,
			RatioDecreaseThreshold: 0.3,
			StddevMultiplier:       2.0,
			TrendConsecutiveDays:   3,
			TrendMinIncreaseRate:   0.05,
			PollInterval:           60 * time.Second,
			Namespace:              "",
		},
		Registry: RegistryConfig{
			Provider:      "bolt",
			DBPath:        DefaultDBPath,
			RegistryTable: "registrations",
			LimitsTable:   "limits",
		},
		TimeSeries: TimeSeriesConfig{
			Provider:     "mock",
			Endpoint:     "http://127.0.0.1:9090",
			QueryTimeout: 10 * time.Second,
		},
		Pushgateway: PushgatewayConfig{
			Endpoint: "http://127.0.0.1:9091",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9095",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		RPC: RPCConfig{
			Enabled:    true,
			SocketPath: "/run/admissionctl/admission.sock",
		},
	}
}

// DefaultDBPath is the default BoltDB file location.
const DefaultDBPath = "/var/lib/admissionctl/admissionctl.db"

// Load reads and validates a config file from the given path, merging it
// over Defaults().
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	applyEnv(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays the environment-variable surface documented in
// spec.md §6, taking precedence over file values.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("PATTERN_RECOGNITION"); ok {
		cfg.Pattern.Enabled = v == "true"
	}
	if v, ok := lookupFloat("PATTERN_MAX_ADJUSTMENT"); ok {
		cfg.Pattern.MaxAdjustment = v
	}
	if v, ok := lookupInt("DEFAULT_WAIT_SECONDS"); ok {
		cfg.Admission.DefaultWaitSeconds = v
	}
	if v, ok := lookupInt("MAX_WAIT_SECONDS"); ok {
		cfg.Admission.MaxWaitSeconds = v
	}
	if v, ok := os.LookupEnv("REGISTRY_TABLE"); ok {
		cfg.Registry.RegistryTable = v
	}
	if v, ok := os.LookupEnv("LIMITS_TABLE"); ok {
		cfg.Registry.LimitsTable = v
	}
	if v, ok := os.LookupEnv("TIMESERIES_ENDPOINT"); ok {
		cfg.TimeSeries.Endpoint = v
	}
	if v, ok := os.LookupEnv("PUSHGATEWAY_ENDPOINT"); ok {
		cfg.Pushgateway.Endpoint = v
	}
	if v, ok := os.LookupEnv("PROVIDER"); ok {
		cfg.Registry.Provider = providerName(v, "bolt")
		cfg.TimeSeries.Provider = providerName(v, "real")
	}
	if v, ok := lookupInt("POLL_INTERVAL_SECONDS"); ok {
		cfg.Detection.PollInterval = time.Duration(v) * time.Second
	}
}

// providerName translates spec.md §6's shared PROVIDER=real|mock toggle
// into each subsystem's own vocabulary ("bolt"/"mock" for the registry,
// "real"/"mock" for the query façade). realValue is the subsystem's name
// for its non-mock provider.
func providerName(v, realValue string) string {
	if v == "mock" {
		return "mock"
	}
	return realValue
}

func lookupInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(name string) (float64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return 0, false
	}
	return f, true
}

// Validate checks all config fields for correctness, returning a
// descriptive error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Admission.DefaultWaitSeconds < 1 {
		errs = append(errs, fmt.Sprintf("admission.default_wait_seconds must be >= 1, got %d", cfg.Admission.DefaultWaitSeconds))
	}
	if cfg.Admission.MaxWaitSeconds < cfg.Admission.DefaultWaitSeconds {
		errs = append(errs, "admission.max_wait_seconds must be >= admission.default_wait_seconds")
	}
	if cfg.Pattern.MaxAdjustment < 0 || cfg.Pattern.MaxAdjustment > 1 {
		errs = append(errs, fmt.Sprintf("pattern.max_adjustment must be in [0, 1], got %f", cfg.Pattern.MaxAdjustment))
	}
	if cfg.Detection.RatioThreshold <= 0 {
		errs = append(errs, "detection.ratio_threshold must be > 0")
	}
	if cfg.Detection.StddevMultiplier <= 0 {
		errs = append(errs, "detection.stddev_multiplier must be > 0")
	}
	if cfg.Detection.TrendConsecutiveDays < 1 {
		errs = append(errs, "detection.trend_consecutive_days must be >= 1")
	}
	if cfg.Detection.PollInterval < time.Second {
		errs = append(errs, "detection.poll_interval must be >= 1s")
	}
	switch cfg.Registry.Provider {
	case "bolt", "mock":
	default:
		errs = append(errs, fmt.Sprintf("registry.provider must be \"bolt\" or \"mock\", got %q", cfg.Registry.Provider))
	}
	if cfg.Registry.Provider == "bolt" && cfg.Registry.DBPath == "" {
		errs = append(errs, "registry.db_path must not be empty when registry.provider is \"bolt\"")
	}
	switch cfg.TimeSeries.Provider {
	case "real", "mock":
	default:
		errs = append(errs, fmt.Sprintf("timeseries.provider must be \"real\" or \"mock\", got %q", cfg.TimeSeries.Provider))
	}
	if cfg.TimeSeries.Provider == "real" && cfg.TimeSeries.Endpoint == "" {
		errs = append(errs, "timeseries.endpoint must not be empty when timeseries.provider is \"real\"")
	}
	if cfg.RPC.Enabled && cfg.RPC.SocketPath == "" {
		errs = append(errs, "rpc.socket_path must not be empty when rpc.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
