// Package model implements component G: the model life-cycle manager.
//
// The active and shadow model handles are RCU-style: readers (component B)
// dereference an atomic.Pointer without ever taking a lock; writers
// (register/load/swap/rollback) build a brand-new immutable Handle and
// swap the pointer, so "every inference either entirely observes the old
// model or entirely the new one" holds by construction.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/nous-kernel/nous/internal/errkind"
	"github.com/nous-kernel/nous/internal/inference"
)

// Metadata describes a registered model version, mirroring the on-disk
// model.meta contents.
type Metadata struct {
	Version       string
	Hash          [32]byte
	LayerSizes    []int
	SizeBytes     int64
	RegisteredAt  time.Time
}

// HashHex returns Hash as a hex string.
func (m Metadata) HashHex() string { return fmt.Sprintf("%x", m.Hash) }

// Handle is the immutable, atomically-swappable unit readers observe. Once
// constructed it is never mutated; a new Handle is built for every
// load/swap.
type Handle struct {
	Meta    Metadata
	Runtime *inference.Runtime
	LoadedAt time.Time
}

// ─── Error kinds ────────────────────────────────────────────────────────────────

type HealthCheckFailedError struct {
	Metric string
	Detail string
}

func (e *HealthCheckFailedError) Error() string {
	return fmt.Sprintf("model: health check failed: metric=%s %s", e.Metric, e.Detail)
}
func (e *HealthCheckFailedError) Kind() string { return "HealthCheckFailed" }

type SignatureInvalidError struct{ Version string }

func (e *SignatureInvalidError) Error() string {
	return fmt.Sprintf("model: signature invalid for version %s", e.Version)
}
func (e *SignatureInvalidError) Kind() string { return "SignatureInvalid" }

type RegistryCorruptError struct{ Detail string }

func (e *RegistryCorruptError) Error() string  { return "model: registry corrupt: " + e.Detail }
func (e *RegistryCorruptError) Kind() string   { return "RegistryCorrupt" }

type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("model: %s timed out", e.Op) }
func (e *TimeoutError) Kind() string  { return "Timeout" }

type DivergenceExceededError struct{ Count, Threshold int }

func (e *DivergenceExceededError) Error() string {
	return fmt.Sprintf("model: divergence count %d exceeds threshold %d", e.Count, e.Threshold)
}
func (e *DivergenceExceededError) Kind() string { return "DivergenceExceeded" }

var (
	_ errkind.Kinded = (*HealthCheckFailedError)(nil)
	_ errkind.Kinded = (*SignatureInvalidError)(nil)
	_ errkind.Kinded = (*RegistryCorruptError)(nil)
	_ errkind.Kinded = (*TimeoutError)(nil)
	_ errkind.Kinded = (*DivergenceExceededError)(nil)
)

// HealthThresholds holds the limits of the health check run when a version
// is loaded. Only MaxFootprintKB is checked: a larger payload fails with
// HealthCheckFailedError (metric footprint_kb). MaxLatencyP99 and
// MinAccuracyPPM are carried but not evaluated.
type HealthThresholds struct {
	MaxLatencyP99  time.Duration
	MaxFootprintKB int64
	MinAccuracyPPM int // parts-per-million, to stay integral like the rest of the core
}

func contentHash(b []byte) [32]byte { return sha256.Sum256(b) }
