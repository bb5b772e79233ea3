package main

import (
	"fmt"
	"time"

	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/inference"
	"github.com/nous-kernel/nous/internal/model"
	"github.com/nous-kernel/nous/internal/shadow"
)

// modelAdapter narrows model.Manager (plus the online-learning budget it
// doesn't itself track) to the shape control.ModelController needs. A
// separate adapter, rather than extending Manager's own API, keeps the
// registry's public surface free of shell-specific return types (Register
// returns a concrete Metadata on the Manager so callers like Load never
// have to type-assert; the control package only ever sees `any`).
type modelAdapter struct {
	mgr     *model.Manager
	learner *inference.Learner
}

func (a modelAdapter) Load(version string) error { return a.mgr.Load(version) }

func (a modelAdapter) Register(version string, raw, sig []byte) (any, error) {
	meta, err := a.mgr.Register(version, raw, sig)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (a modelAdapter) Swap(version string) error { return a.mgr.Swap(version) }
func (a modelAdapter) Rollback() error           { return a.mgr.Rollback() }
func (a modelAdapter) ShadowLoad(version string) error { return a.mgr.ShadowLoad(version) }
func (a modelAdapter) PromoteShadow() error      { return a.mgr.PromoteShadow() }

func (a modelAdapter) Status() any {
	status := map[string]any{}
	if h := a.mgr.Active(); h != nil {
		status["active"] = h.Meta
	}
	if h := a.mgr.Shadow(); h != nil {
		status["shadow"] = h.Meta
	}
	return status
}

func (a modelAdapter) RemainingBudget() int {
	if a.learner == nil {
		return 0
	}
	return a.learner.RemainingBudget(time.Now())
}

// Learn is llmctl learn's entry point: a single bounded online-learning
// step against the currently active model, subject to the learner's rate
// limit and KL safeguard. There is no runtime-ingestion path for this
// operation other than this one — every other caller of Learner.Learn is
// a test.
func (a modelAdapter) Learn(actionIdx int, target float64) (any, error) {
	if a.learner == nil {
		return nil, fmt.Errorf("llmctl learn: online learning is not configured")
	}
	handle := a.mgr.Active()
	if handle == nil {
		return nil, fmt.Errorf("llmctl learn: no active model")
	}
	result, err := a.learner.Learn(handle.Runtime, actionIdx, fixedpoint.FromFloat64(target), time.Now())
	if err != nil {
		return nil, err
	}
	return map[string]any{"applied": result.Applied, "kl_aborted": result.KLAborted}, nil
}

// shadowAdapter narrows shadow.Controller (plus the model manager's
// promotion call, which the controller itself has no handle to) to
// control.ShadowController's string-typed command surface. Controller's
// own Mode/SetMode are typed on shadow.Mode for internal callers (the tick
// loop); the shell only ever deals in strings, hence the conversion here
// rather than on Controller itself.
type shadowAdapter struct {
	ctrl *shadow.Controller
	mgr  *model.Manager
}

func (a shadowAdapter) SetMode(mode string) error {
	switch shadow.Mode(mode) {
	case shadow.ModeDisabled, shadow.ModeLogOnly, shadow.ModeCompare, shadow.ModeCanaryPartial, shadow.ModeCanaryFull:
		a.ctrl.SetMode(shadow.Mode(mode))
		return nil
	default:
		return fmt.Errorf("shadowctl: unknown mode %q", mode)
	}
}

func (a shadowAdapter) Mode() string { return string(a.ctrl.Mode()) }

func (a shadowAdapter) SetDivergenceThreshold(n int) { a.ctrl.SetDivergenceThreshold(n) }

// Promote first makes the shadow model active (model.Manager.PromoteShadow)
// then resets the controller's drift window, so the newly-active model
// doesn't inherit a divergence count measured against its predecessor.
func (a shadowAdapter) Promote() error {
	if err := a.mgr.PromoteShadow(); err != nil {
		return err
	}
	return a.ctrl.Promote()
}
