package control

import (
	"context"
	"fmt"
)

// AutonomyController is the subset of the autonomy tick loop autoctl needs.
type AutonomyController interface {
	SetEnabled(enabled bool)
	Enabled() bool
	LastDecisions(n int) any
	Explain(traceID string) (any, error)
	WhatIf(traceID, modelVersion string) (any, error)
}

// AutoctlHandler builds the autoctl command family: on|off|status|audit|
// explain <trace-id>|preview|whatif.
func AutoctlHandler(c AutonomyController) Handler {
	return func(_ context.Context, args []string) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("autoctl: missing subcommand")
		}
		switch args[0] {
		case "on":
			c.SetEnabled(true)
			return map[string]any{"enabled": true}, nil
		case "off":
			c.SetEnabled(false)
			return map[string]any{"enabled": false}, nil
		case "status":
			return map[string]any{"enabled": c.Enabled()}, nil
		case "audit":
			return c.LastDecisions(50), nil
		case "explain":
			if len(args) < 2 {
				return nil, fmt.Errorf("autoctl explain: missing trace-id")
			}
			return c.Explain(args[1])
		case "preview", "whatif":
			if len(args) < 3 {
				return nil, fmt.Errorf("autoctl %s: usage <trace-id> <model-version>", args[0])
			}
			return c.WhatIf(args[1], args[2])
		default:
			return nil, fmt.Errorf("autoctl: unknown subcommand %q", args[0])
		}
	}
}

// ModelController is the subset of model.Manager llmctl needs.
type ModelController interface {
	Load(version string) error
	Register(version string, raw, sig []byte) (any, error)
	Swap(version string) error
	Rollback() error
	ShadowLoad(version string) error
	PromoteShadow() error
	Status() any
	RemainingBudget() int
	Learn(actionIdx int, target float64) (any, error)
}

// LlmctlHandler builds the llmctl command family: load|status|swap|
// rollback|shadow-load|shadow-promote|budget|learn. There is no register
// subcommand; "llmctl register" fails as an unknown subcommand.
func LlmctlHandler(c ModelController) Handler {
	return func(_ context.Context, args []string) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("llmctl: missing subcommand")
		}
		switch args[0] {
		case "load":
			if len(args) < 2 {
				return nil, fmt.Errorf("llmctl load: missing version")
			}
			return nil, c.Load(args[1])
		case "status":
			return c.Status(), nil
		case "swap":
			if len(args) < 2 {
				return nil, fmt.Errorf("llmctl swap: missing version")
			}
			return nil, c.Swap(args[1])
		case "rollback":
			return nil, c.Rollback()
		case "shadow-load":
			if len(args) < 2 {
				return nil, fmt.Errorf("llmctl shadow-load: missing version")
			}
			return nil, c.ShadowLoad(args[1])
		case "shadow-promote":
			return nil, c.PromoteShadow()
		case "budget":
			return map[string]any{"remaining": c.RemainingBudget()}, nil
		case "learn":
			if len(args) < 3 {
				return nil, fmt.Errorf("llmctl learn: usage <action-index> <target>")
			}
			var actionIdx int
			if _, err := fmt.Sscanf(args[1], "%d", &actionIdx); err != nil {
				return nil, fmt.Errorf("llmctl learn: invalid action index %q", args[1])
			}
			var target float64
			if _, err := fmt.Sscanf(args[2], "%g", &target); err != nil {
				return nil, fmt.Errorf("llmctl learn: invalid target %q", args[2])
			}
			return c.Learn(actionIdx, target)
		default:
			return nil, fmt.Errorf("llmctl: unknown subcommand %q", args[0])
		}
	}
}

// ShadowController is the subset of shadow.Controller shadowctl needs.
type ShadowController interface {
	SetMode(mode string) error
	Mode() string
	SetDivergenceThreshold(n int)
	Promote() error
}

// ShadowctlHandler builds the shadowctl command family: enable <ver>|
// disable|mode <m>|threshold <n>|promote.
func ShadowctlHandler(c ShadowController, loadVersion func(string) error) Handler {
	return func(_ context.Context, args []string) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("shadowctl: missing subcommand")
		}
		switch args[0] {
		case "enable":
			if len(args) < 2 {
				return nil, fmt.Errorf("shadowctl enable: missing version")
			}
			if err := loadVersion(args[1]); err != nil {
				return nil, err
			}
			return nil, c.SetMode("compare")
		case "disable":
			return nil, c.SetMode("disabled")
		case "mode":
			if len(args) < 2 {
				return c.Mode(), nil
			}
			return nil, c.SetMode(args[1])
		case "threshold":
			if len(args) < 2 {
				return nil, fmt.Errorf("shadowctl threshold: missing value")
			}
			var n int
			if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
				return nil, fmt.Errorf("shadowctl threshold: invalid integer %q", args[1])
			}
			c.SetDivergenceThreshold(n)
			return nil, nil
		case "promote":
			return nil, c.Promote()
		default:
			return nil, fmt.Errorf("shadowctl: unknown subcommand %q", args[0])
		}
	}
}

// MemoryApprovals is the subset of the policy/dispatch layer memctl needs
// for operator gating of memory-strategy directives.
type MemoryApprovals interface {
	PendingApprovals() any
	Approve(id string) error
	Reject(id string) error
	SetApprovalRequired(on bool)
	ApprovalRequired() bool
}

// MemctlHandler builds the memctl command family: approvals|approve|
// reject|approval {on|off|status}.
func MemctlHandler(c MemoryApprovals) Handler {
	return func(_ context.Context, args []string) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("memctl: missing subcommand")
		}
		switch args[0] {
		case "approvals":
			return c.PendingApprovals(), nil
		case "approve":
			if len(args) < 2 {
				return nil, fmt.Errorf("memctl approve: missing id")
			}
			return nil, c.Approve(args[1])
		case "reject":
			if len(args) < 2 {
				return nil, fmt.Errorf("memctl reject: missing id")
			}
			return nil, c.Reject(args[1])
		case "approval":
			if len(args) < 2 {
				return map[string]any{"required": c.ApprovalRequired()}, nil
			}
			switch args[1] {
			case "on":
				c.SetApprovalRequired(true)
			case "off":
				c.SetApprovalRequired(false)
			case "status":
				return map[string]any{"required": c.ApprovalRequired()}, nil
			default:
				return nil, fmt.Errorf("memctl approval: unknown mode %q", args[1])
			}
			return nil, nil
		default:
			return nil, fmt.Errorf("memctl: unknown subcommand %q", args[0])
		}
	}
}

// DriftMonitor is the subset of the shadow/model drift-tracking state
// driftctl needs.
type DriftMonitor interface {
	Status() any
	History(n int) any
	Retrain() error
	ResetBaseline() error
}

// DriftctlHandler builds the driftctl command family: status|history|
// retrain|reset-baseline.
func DriftctlHandler(c DriftMonitor) Handler {
	return func(_ context.Context, args []string) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("driftctl: missing subcommand")
		}
		switch args[0] {
		case "status":
			return c.Status(), nil
		case "history":
			return c.History(50), nil
		case "retrain":
			return nil, c.Retrain()
		case "reset-baseline":
			return nil, c.ResetBaseline()
		default:
			return nil, fmt.Errorf("driftctl: unknown subcommand %q", args[0])
		}
	}
}

// LogLevelSetter is the subset of the zap AtomicLevel wiring logctl needs.
type LogLevelSetter interface {
	SetLevel(level string) error
	Level() string
	SetPreset(preset string) error // production | development | testing
}

// LogctlHandler builds the logctl command family: status|level <lvl>|
// production|development|testing.
func LogctlHandler(c LogLevelSetter) Handler {
	return func(_ context.Context, args []string) (any, error) {
		if len(args) == 0 {
			return map[string]any{"level": c.Level()}, nil
		}
		switch args[0] {
		case "status":
			return map[string]any{"level": c.Level()}, nil
		case "level":
			if len(args) < 2 {
				return nil, fmt.Errorf("logctl level: missing level")
			}
			return nil, c.SetLevel(args[1])
		case "production", "development", "testing":
			return nil, c.SetPreset(args[0])
		default:
			return nil, fmt.Errorf("logctl: unknown subcommand %q", args[0])
		}
	}
}
