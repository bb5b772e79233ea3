// Package config provides configuration loading, validation, and hot-reload
// for the nous autonomic kernel core.
//
// Configuration file: /etc/nous/kernel.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - The host process listens for SIGHUP and calls Load again.
//   - cmd/kernel applies only the policy gate's bounds from the reloaded
//     config (confidence threshold, memory min-dwell, oscillation window and
//     limit); every other field, including log level and learning/shadow
//     settings, takes effect only on restart.
//   - Destructive changes (CBS CPU count, storage paths, model registry
//     root) require restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The kernel does NOT disable the autonomy loop on
//     invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. confidence thresholds in [0,1000]).
//   - Invalid config on startup: the process refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the autonomic kernel core.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this kernel instance in traces and incident bundles.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	Autonomy      AutonomyConfig      `yaml:"autonomy"`
	Learning      LearningConfig      `yaml:"learning"`
	Shadow        ShadowConfig        `yaml:"shadow"`
	Policy        PolicyConfig        `yaml:"policy"`
	RT            RTConfig            `yaml:"rt"`
	Trace         TraceConfig         `yaml:"trace"`
	Model         ModelConfig         `yaml:"model"`
	Agent         AgentConfig         `yaml:"agent"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// AutonomyConfig controls the A→B→C→D→E decision loop.
type AutonomyConfig struct {
	// Enabled is the master switch for the closed loop.
	Enabled bool `yaml:"enabled"`

	// TickPeriodNS is the CBS period for the autonomy reservation server.
	// Default: 10ms (100 Hz tick).
	TickPeriodNS int64 `yaml:"tick_period_ns"`

	// TickBudgetNS must be > 0 and <= TickPeriodNS. Default: 2ms. It is
	// validated but not passed to the tick: kernel.New admits the autonomy
	// reservation server with a budget of 80% of the tick period.
	TickBudgetNS int64 `yaml:"tick_budget_ns"`

	// ConfidenceThreshold is the minimum confidence (0..1000) required for
	// high-impact directives. Directives below this are denied by the
	// safety policy gate with ConfidenceBelowThreshold.
	ConfidenceThreshold int32 `yaml:"confidence_threshold"`
}

// LearningConfig controls bounded online parameter updates in the
// inference runtime (component B).
type LearningConfig struct {
	Enabled bool `yaml:"enabled"`

	// Limit caps the number of admitted (input, target) pairs per period.
	Limit int `yaml:"limit"`

	// Period is the window over which Limit is enforced. Default: 1s.
	Period time.Duration `yaml:"period"`

	// KLThreshold bounds the natural-gradient step: a step that would shift
	// the policy distribution by more than this many milli-nats is aborted.
	KLThreshold int32 `yaml:"kl_threshold"`
}

// ShadowConfig controls the shadow/canary controller (component F).
type ShadowConfig struct {
	// Mode is one of: disabled, log_only, compare, canary_partial, canary_full.
	Mode string `yaml:"mode"`

	// DivergenceThreshold is the running divergence count that triggers a
	// Rollback signal to the model life-cycle manager.
	DivergenceThreshold int `yaml:"divergence_threshold"`

	// ConfidenceDelta (δ_conf) is the confidence-gap threshold, in the same
	// 0..1000 units as Directive.Confidence, above which a tick is counted
	// as divergent even when the top-1 action agrees.
	ConfidenceDelta int32 `yaml:"confidence_delta"`

	// CanaryPercent is the p% of real decisions routed to the shadow model
	// while Mode == canary_partial. Range [0,100].
	CanaryPercent int `yaml:"canary_percent"`

	// DryRun suppresses divergence counters and rollback so operators can
	// sample shadow behavior safely.
	DryRun bool `yaml:"dry_run"`

	// QuorumMin is the minimum number of corroborating replicas required
	// before a divergence counts toward DivergenceThreshold. 1 means every
	// replica's observation counts on its own (the default, single-replica
	// behavior).
	QuorumMin int `yaml:"quorum_min"`

	// DriftBaseline is the rolling confidence-drift monitor's initial
	// baseline (0..1000 scale). Default: 800.
	DriftBaseline int32 `yaml:"drift_baseline"`

	// DriftWarningThreshold and DriftAlertThreshold bound how far the
	// recent confidence average may move from DriftBaseline before
	// `driftctl status` reports warning/alert. Defaults: 100 and 200.
	DriftWarningThreshold int32 `yaml:"drift_warning_threshold"`
	DriftAlertThreshold   int32 `yaml:"drift_alert_threshold"`
}

// PolicyConfig controls the safety policy gate (component C) and the
// directive dispatcher's anti-oscillation hysteresis (component D).
type PolicyConfig struct {
	// MemoryMinDwellMS is the minimum time between memory-strategy changes.
	MemoryMinDwellMS int64 `yaml:"memory_min_dwell_ms"`

	// MemoryHysteresis is the directive delta (milli-units) a new strategy
	// target must clear past the last chosen strategy's boundary before a
	// change is accepted.
	MemoryHysteresis int32 `yaml:"memory_hysteresis"`

	// MaxDirectiveMilliUnits bounds every signed sub-directive field.
	MaxDirectiveMilliUnits int32 `yaml:"max_directive_milli_units"`

	// OscillationWindow is the sliding window used to detect strategy
	// churn. More than OscillationLimit changes within this window denies
	// further changes with OscillationDetected.
	OscillationWindow time.Duration `yaml:"oscillation_window"`
	OscillationLimit  int           `yaml:"oscillation_limit"`
}

// RTConfig controls the CBS+EDF real-time admission core (component H).
type RTConfig struct {
	// MaxUtilization caps Σ(budget/period) per CPU. Default: 1.0.
	MaxUtilization float64 `yaml:"max_utilization"`

	// CPUCount is the number of simulated CPUs in the schedulable set.
	CPUCount int `yaml:"cpu_count"`
}

// TraceConfig controls the decision-trace recorder (component E).
type TraceConfig struct {
	// Capacity is the fixed ring-buffer size. Default: 1024.
	Capacity int `yaml:"capacity"`

	// TopK bounds the number of alternative actions captured per trace.
	TopK int `yaml:"top_k"`

	// ArchiveOverwritten persists ring entries to bbolt before they are
	// overwritten, so find_by_id can still answer for evicted traces.
	ArchiveOverwritten bool `yaml:"archive_overwritten"`
}

// ModelConfig controls the model life-cycle manager (component G).
type ModelConfig struct {
	// RegistryPath is the root directory holding /models/<version>/.
	RegistryPath string `yaml:"registry_path"`

	// LoadTimeout bounds register/load/swap operations.
	LoadTimeout time.Duration `yaml:"load_timeout"`

	// HealthCheck thresholds.
	MaxLatencyP99 time.Duration `yaml:"max_latency_p99"`
	MaxFootprintKB int64        `yaml:"max_footprint_kb"`
	MinAccuracyPPM int32        `yaml:"min_accuracy_ppm"`

	// WatchFS is not read by cmd/kernel. The fsnotify watcher on
	// RegistryPath is Manager.Watch (internal/model), which reports rewrites
	// of the active/shadow pointer files and does not register new versions.
	WatchFS bool `yaml:"watch_fs"`
}

// AgentConfig controls the capability/audit engine (component I).
type AgentConfig struct {
	// MaxFrameBytes bounds a single length-prefixed agent frame: the whole
	// encoded frame (12-byte header, opcode, payload length, payload).
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	// DefaultRateLimitPerMin is the default per-agent token-bucket refill.
	DefaultRateLimitPerMin int `yaml:"default_rate_limit_per_min"`

	// OpTimeout is the per-opcode default timeout.
	OpTimeout time.Duration `yaml:"op_timeout"`

	// SocketPath is the Unix domain socket agent frames arrive on.
	SocketPath string `yaml:"socket_path"`
}

// StorageConfig holds bbolt parameters shared by the trace archive, audit
// ledger, and model registry journal.
type StorageConfig struct {
	// DBPath is the absolute path to the bbolt file.
	DBPath string `yaml:"db_path"`

	// RetentionDays is the audit-ledger / archived-trace retention period.
	RetentionDays int `yaml:"retention_days"`

	// IncidentDir is where incident bundles (component J) are written.
	IncidentDir string `yaml:"incident_dir"`
}

// ObservabilityConfig holds metrics, tracing, and logging parameters.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	// TracingEnabled turns on the OTel tracer provider for per-tick spans.
	TracingEnabled bool `yaml:"tracing_enabled"`

	// HealthAddr is the gRPC health-service listen address consulted by
	// the external shell's `autoctl status`.
	HealthAddr string `yaml:"health_addr"`
}

// OperatorConfig holds operator override socket parameters.
type OperatorConfig struct {
	SocketPath string `yaml:"socket_path"`
	Enabled    bool   `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Autonomy: AutonomyConfig{
			Enabled:             true,
			TickPeriodNS:        10_000_000,
			TickBudgetNS:        2_000_000,
			ConfidenceThreshold: 600,
		},
		Learning: LearningConfig{
			Enabled:     false,
			Limit:       16,
			Period:      time.Second,
			KLThreshold: 50,
		},
		Shadow: ShadowConfig{
			Mode:                  "disabled",
			DivergenceThreshold:   50,
			ConfidenceDelta:       200,
			CanaryPercent:         0,
			QuorumMin:             1,
			DriftBaseline:         800,
			DriftWarningThreshold: 100,
			DriftAlertThreshold:   200,
		},
		Policy: PolicyConfig{
			MemoryMinDwellMS:       1000,
			MemoryHysteresis:       100,
			MaxDirectiveMilliUnits: 1000,
			OscillationWindow:      10 * time.Second,
			OscillationLimit:       3,
		},
		RT: RTConfig{
			MaxUtilization: 1.0,
			CPUCount:       4,
		},
		Trace: TraceConfig{
			Capacity:           1024,
			TopK:               5,
			ArchiveOverwritten: true,
		},
		Model: ModelConfig{
			RegistryPath:   "/models",
			LoadTimeout:    5 * time.Second,
			MaxLatencyP99:  2 * time.Millisecond,
			MaxFootprintKB: 8192,
			MinAccuracyPPM: 800_000,
			WatchFS:        true,
		},
		Agent: AgentConfig{
			MaxFrameBytes:          65535,
			DefaultRateLimitPerMin: 120,
			OpTimeout:              2 * time.Second,
			SocketPath:             "/run/nous/agent.sock",
		},
		Storage: StorageConfig{
			DBPath:        "/var/lib/nous/nous.db",
			RetentionDays: 30,
			IncidentDir:   "/incidents",
		},
		Observability: ObservabilityConfig{
			MetricsAddr:    "127.0.0.1:9091",
			LogLevel:       "info",
			LogFormat:      "json",
			TracingEnabled: true,
			HealthAddr:     "127.0.0.1:9092",
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/nous/operator.sock",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Autonomy.TickBudgetNS <= 0 || cfg.Autonomy.TickBudgetNS > cfg.Autonomy.TickPeriodNS {
		errs = append(errs, fmt.Sprintf(
			"autonomy.tick_budget_ns must be in (0, tick_period_ns=%d], got %d",
			cfg.Autonomy.TickPeriodNS, cfg.Autonomy.TickBudgetNS))
	}
	if cfg.Autonomy.ConfidenceThreshold < 0 || cfg.Autonomy.ConfidenceThreshold > 1000 {
		errs = append(errs, fmt.Sprintf(
			"autonomy.confidence_threshold must be in [0,1000], got %d", cfg.Autonomy.ConfidenceThreshold))
	}
	if cfg.Learning.Limit < 0 {
		errs = append(errs, "learning.limit must be >= 0")
	}
	if cfg.Learning.Period <= 0 {
		errs = append(errs, "learning.period must be > 0")
	}
	switch cfg.Shadow.Mode {
	case "disabled", "log_only", "compare", "canary_partial", "canary_full":
	default:
		errs = append(errs, fmt.Sprintf("shadow.mode %q is not one of disabled|log_only|compare|canary_partial|canary_full", cfg.Shadow.Mode))
	}
	if cfg.Shadow.CanaryPercent < 0 || cfg.Shadow.CanaryPercent > 100 {
		errs = append(errs, "shadow.canary_percent must be in [0,100]")
	}
	if cfg.Shadow.QuorumMin < 1 {
		errs = append(errs, "shadow.quorum_min must be >= 1")
	}
	if cfg.Shadow.DriftBaseline < 0 || cfg.Shadow.DriftBaseline > 1000 {
		errs = append(errs, "shadow.drift_baseline must be in [0,1000]")
	}
	if cfg.Shadow.DriftWarningThreshold < 0 || cfg.Shadow.DriftAlertThreshold < 0 {
		errs = append(errs, "shadow.drift_warning_threshold and drift_alert_threshold must be >= 0")
	}
	if cfg.Shadow.DriftAlertThreshold < cfg.Shadow.DriftWarningThreshold {
		errs = append(errs, "shadow.drift_alert_threshold must be >= drift_warning_threshold")
	}
	if cfg.Policy.MemoryMinDwellMS < 0 {
		errs = append(errs, "policy.memory_min_dwell_ms must be >= 0")
	}
	if cfg.RT.MaxUtilization <= 0 || cfg.RT.MaxUtilization > 1.0 {
		errs = append(errs, fmt.Sprintf("rt.max_utilization must be in (0,1.0], got %f", cfg.RT.MaxUtilization))
	}
	if cfg.RT.CPUCount < 1 {
		errs = append(errs, "rt.cpu_count must be >= 1")
	}
	if cfg.Trace.Capacity < 1 {
		errs = append(errs, "trace.capacity must be >= 1")
	}
	if cfg.Trace.TopK < 0 {
		errs = append(errs, "trace.top_k must be >= 0")
	}
	if cfg.Model.RegistryPath == "" {
		errs = append(errs, "model.registry_path must not be empty")
	}
	if cfg.Model.LoadTimeout <= 0 {
		errs = append(errs, "model.load_timeout must be > 0")
	}
	if cfg.Agent.MaxFrameBytes < 15 {
		errs = append(errs, "agent.max_frame_bytes must be >= 15 (minimum encoded frame: 12-byte header + opcode + payload length)")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
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
