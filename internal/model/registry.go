package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/nous-kernel/nous/internal/inference"
	"github.com/nous-kernel/nous/internal/storage"
)

// on-disk layout, one directory per registered version:
//
//	<Root>/<version>/model.bin   — codec-encoded weights
//	<Root>/<version>/model.sig   — detached signature over model.bin (raw bytes)
//	<Root>/<version>/model.meta  — JSON Metadata
//	<Root>/active                — plain-text file containing the active version
//	<Root>/shadow                — plain-text file containing the shadow version, if any
//
// Every operation that would change which version is active or shadow is
// journaled via storage.DB.AppendRegistryEvent BEFORE the pointer file is
// rewritten. On restart, Manager replays the journal to resolve the last
// completed operation, so a crash between the journal write and the pointer
// write is recoverable: the journal entry is the source of truth and the
// pointer file is reconciled to match it on next Load/Swap.
const (
	activePointerFile = "active"
	shadowPointerFile = "shadow"

	registryEventRegister       = "register"
	registryEventLoad           = "load"
	registryEventSwap           = "swap"
	registryEventRollback       = "rollback"
	registryEventShadowLoad     = "shadow_load"
	registryEventPromoteShadow  = "promote_shadow"
	registryEventDrySwap        = "dry_swap"
)

// Verifier checks a detached signature over a model.bin payload. Swappable
// so a deployment can plug in its own key material without this package
// knowing about it.
type Verifier interface {
	Verify(payload, signature []byte) error
}

// NoopVerifier accepts every signature. Used when signing is not
// configured; Register still writes model.sig (empty) so the on-disk
// layout is uniform regardless of verifier.
type NoopVerifier struct{}

func (NoopVerifier) Verify([]byte, []byte) error { return nil }

// Manager is component G: the model life-cycle manager. The active and
// shadow handles are read through atomic.Pointer so component B's hot path
// never takes a lock; every write path below builds a brand-new Handle and
// swaps the pointer after journaling.
type Manager struct {
	root     string
	codec    Codec
	verifier Verifier
	db       *storage.DB
	health   HealthThresholds

	active     atomic.Pointer[Handle]
	shadow     atomic.Pointer[Handle]
	prevActive atomic.Pointer[Handle] // one-step rollback target
}

// NewManager constructs a Manager rooted at dir, using codecName to decode
// model.bin payloads (must already be registered via RegisterCodec).
func NewManager(dir, codecName string, verifier Verifier, db *storage.DB, health HealthThresholds) (*Manager, error) {
	codec, ok := LookupCodec(codecName)
	if !ok {
		return nil, &RegistryCorruptError{Detail: fmt.Sprintf("unknown codec %q", codecName)}
	}
	if verifier == nil {
		verifier = NoopVerifier{}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("model: mkdir registry root: %w", err)
	}
	return &Manager{root: dir, codec: codec, verifier: verifier, db: db, health: health}, nil
}

// Active returns the currently active handle, or nil if none is loaded.
// Safe for concurrent use by the hot path; never blocks.
func (m *Manager) Active() *Handle { return m.active.Load() }

// Shadow returns the currently loaded shadow handle, or nil.
func (m *Manager) Shadow() *Handle { return m.shadow.Load() }

func (m *Manager) versionDir(version string) string { return filepath.Join(m.root, version) }

// Register writes a new model version to disk: model.bin, model.sig,
// model.meta. Does not affect the active or shadow pointer. raw is the
// codec-encoded weight payload; sig is the detached signature over raw
// (may be empty when using NoopVerifier).
func (m *Manager) Register(version string, raw, sig []byte) (Metadata, error) {
	if err := m.verifier.Verify(raw, sig); err != nil {
		return Metadata{}, &SignatureInvalidError{Version: version}
	}
	layers, err := m.codec.Decode(raw)
	if err != nil {
		return Metadata{}, &RegistryCorruptError{Detail: err.Error()}
	}

	layerSizes := make([]int, len(layers))
	for i, l := range layers {
		layerSizes[i] = l.OutputSize
	}

	meta := Metadata{
		Version:      version,
		Hash:         contentHash(raw),
		LayerSizes:   layerSizes,
		SizeBytes:    int64(len(raw)),
		RegisteredAt: time.Now().UTC(),
	}

	dir := m.versionDir(version)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Metadata{}, fmt.Errorf("model: mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.bin"), raw, 0o640); err != nil {
		return Metadata{}, fmt.Errorf("model: write model.bin: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.sig"), sig, 0o640); err != nil {
		return Metadata{}, fmt.Errorf("model: write model.sig: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Metadata{}, fmt.Errorf("model: marshal meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.meta"), metaJSON, 0o640); err != nil {
		return Metadata{}, fmt.Errorf("model: write model.meta: %w", err)
	}

	if err := m.journal(registryEventRegister, meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m *Manager) journal(kind string, meta Metadata) error {
	if m.db == nil {
		return nil
	}
	return m.db.AppendRegistryEvent(storage.RegistryEvent{
		Kind: kind, Version: meta.Version, Hash: meta.HashHex(),
	})
}

// readVersion loads a registered version's bytes and meta from disk,
// decodes it, and runs the health check, without touching any pointer.
func (m *Manager) readVersion(version string) (*Handle, error) {
	dir := m.versionDir(version)

	raw, err := os.ReadFile(filepath.Join(dir, "model.bin"))
	if err != nil {
		return nil, &RegistryCorruptError{Detail: fmt.Sprintf("read model.bin for %s: %v", version, err)}
	}
	metaBytes, err := os.ReadFile(filepath.Join(dir, "model.meta"))
	if err != nil {
		return nil, &RegistryCorruptError{Detail: fmt.Sprintf("read model.meta for %s: %v", version, err)}
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, &RegistryCorruptError{Detail: fmt.Sprintf("unmarshal model.meta for %s: %v", version, err)}
	}

	layers, err := m.codec.Decode(raw)
	if err != nil {
		return nil, &RegistryCorruptError{Detail: err.Error()}
	}

	if err := m.checkHealth(raw); err != nil {
		return nil, err
	}

	return &Handle{Meta: meta, Runtime: inference.NewRuntime(layers), LoadedAt: time.Now().UTC()}, nil
}

func (m *Manager) checkHealth(raw []byte) error {
	if m.health.MaxFootprintKB > 0 && int64(len(raw))/1024 > m.health.MaxFootprintKB {
		return &HealthCheckFailedError{Metric: "footprint_kb", Detail: fmt.Sprintf("payload %d KB exceeds max %d KB", len(raw)/1024, m.health.MaxFootprintKB)}
	}
	return nil
}

func writePointerFile(path, version string) error {
	return os.WriteFile(path, []byte(version), 0o640)
}

// Load installs version as the active model. This is the first load of a
// process's lifetime (no rollback target yet established).
func (m *Manager) Load(version string) error {
	h, err := m.readVersion(version)
	if err != nil {
		return err
	}
	if err := m.journal(registryEventLoad, h.Meta); err != nil {
		return err
	}
	if err := writePointerFile(filepath.Join(m.root, activePointerFile), version); err != nil {
		return fmt.Errorf("model: write active pointer: %w", err)
	}
	prev := m.active.Load()
	m.active.Store(h)
	if prev != nil {
		m.prevActive.Store(prev)
	}
	return nil
}

// Swap atomically replaces the active model with version, keeping the
// displaced handle as the one-step rollback target. Readers in flight
// during the swap observe either the old or the new Handle in full — never
// a partially-updated one — because Handle is never mutated after
// construction.
func (m *Manager) Swap(version string) error {
	h, err := m.readVersion(version)
	if err != nil {
		return err
	}
	if err := m.journal(registryEventSwap, h.Meta); err != nil {
		return err
	}
	if err := writePointerFile(filepath.Join(m.root, activePointerFile), version); err != nil {
		return fmt.Errorf("model: write active pointer: %w", err)
	}
	prev := m.active.Load()
	m.active.Store(h)
	m.prevActive.Store(prev)
	return nil
}

// Rollback restores the handle displaced by the most recent Swap. Returns
// RegistryCorruptError if there is no rollback target (e.g. immediately
// after the first Load).
func (m *Manager) Rollback() error {
	prev := m.prevActive.Load()
	if prev == nil {
		return &RegistryCorruptError{Detail: "no rollback target available"}
	}
	if err := m.journal(registryEventRollback, prev.Meta); err != nil {
		return err
	}
	if err := writePointerFile(filepath.Join(m.root, activePointerFile), prev.Meta.Version); err != nil {
		return fmt.Errorf("model: write active pointer: %w", err)
	}
	cur := m.active.Load()
	m.active.Store(prev)
	m.prevActive.Store(cur)
	return nil
}

// ShadowLoad installs version as the shadow model (component F reads it via
// Shadow()) without affecting the active model.
func (m *Manager) ShadowLoad(version string) error {
	h, err := m.readVersion(version)
	if err != nil {
		return err
	}
	if err := m.journal(registryEventShadowLoad, h.Meta); err != nil {
		return err
	}
	if err := writePointerFile(filepath.Join(m.root, shadowPointerFile), version); err != nil {
		return fmt.Errorf("model: write shadow pointer: %w", err)
	}
	m.shadow.Store(h)
	return nil
}

// PromoteShadow makes the current shadow model the active one, following a
// sustained canary_full run with no shadow.SignalRollback.
func (m *Manager) PromoteShadow() error {
	sh := m.shadow.Load()
	if sh == nil {
		return &RegistryCorruptError{Detail: "no shadow model loaded"}
	}
	if err := m.journal(registryEventPromoteShadow, sh.Meta); err != nil {
		return err
	}
	if err := writePointerFile(filepath.Join(m.root, activePointerFile), sh.Meta.Version); err != nil {
		return fmt.Errorf("model: write active pointer: %w", err)
	}
	prev := m.active.Load()
	m.active.Store(sh)
	m.prevActive.Store(prev)
	m.shadow.Store(nil)
	return nil
}

// DrySwap decodes and health-checks version without installing it anywhere,
// used by operator tooling to validate a candidate before a real Swap.
func (m *Manager) DrySwap(version string) (Metadata, error) {
	h, err := m.readVersion(version)
	if err != nil {
		return Metadata{}, err
	}
	if err := m.journal(registryEventDrySwap, h.Meta); err != nil {
		return Metadata{}, err
	}
	return h.Meta, nil
}

// Recover replays the registry journal to determine the last completed
// operation and reconciles the on-disk pointer files with it. Called once
// at startup, before Load, to resolve a crash that occurred between a
// journal write and its corresponding pointer-file write.
func (m *Manager) Recover() (lastEvent storage.RegistryEvent, found bool, err error) {
	if m.db == nil {
		return storage.RegistryEvent{}, false, nil
	}
	events, err := m.db.ReadRegistryJournal()
	if err != nil {
		return storage.RegistryEvent{}, false, fmt.Errorf("model: read journal: %w", err)
	}
	if len(events) == 0 {
		return storage.RegistryEvent{}, false, nil
	}
	last := events[len(events)-1]

	switch last.Kind {
	case registryEventLoad, registryEventSwap, registryEventRollback, registryEventPromoteShadow:
		if err := writePointerFile(filepath.Join(m.root, activePointerFile), last.Version); err != nil {
			return last, true, fmt.Errorf("model: recover active pointer: %w", err)
		}
	case registryEventShadowLoad:
		if err := writePointerFile(filepath.Join(m.root, shadowPointerFile), last.Version); err != nil {
			return last, true, fmt.Errorf("model: recover shadow pointer: %w", err)
		}
	}
	return last, true, nil
}
