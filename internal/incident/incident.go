// Package incident implements component J: the incident exporter. Given a
// list of trace ids (or "all"), it gathers those decision traces, the
// current model metadata, a heap/uptime snapshot, and a compile-time
// configuration fingerprint into one JSON bundle, written through the same
// filesystem collaborator pattern the model registry uses for its own
// on-disk layout.
package incident

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/nous-kernel/nous/internal/model"
	"github.com/nous-kernel/nous/internal/trace"
)

// TraceSource is the subset of trace.Recorder the exporter needs.
type TraceSource interface {
	FindByID(id string) (trace.Record, bool)
	DrainAll() []trace.Record
}

// ModelSource is the subset of model.Manager the exporter needs.
type ModelSource interface {
	Active() *model.Handle
	Shadow() *model.Handle
}

// HeapSnapshot captures a point-in-time view of Go runtime memory stats,
// standing in for the kernel's native heap snapshot.
type HeapSnapshot struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGoroutine    int    `json:"num_goroutine"`
	NumGC           uint32 `json:"num_gc"`
}

func captureHeap() HeapSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return HeapSnapshot{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGoroutine:    runtime.NumGoroutine(),
		NumGC:           m.NumGC,
	}
}

// ConfigFingerprint is a compile-time identity for the running binary,
// embedded in every bundle so an incident can be correlated back to the
// exact build that produced it.
type ConfigFingerprint struct {
	ModulePath  string `json:"module_path"`
	GoVersion   string `json:"go_version"`
	BuildCommit string `json:"build_commit"`
}

// Bundle is the single JSON document an incident export produces.
type Bundle struct {
	IncidentID string            `json:"incident_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Reason      string           `json:"reason"`
	Traces      []trace.Record   `json:"traces"`
	ActiveModel *model.Metadata  `json:"active_model,omitempty"`
	ShadowModel *model.Metadata  `json:"shadow_model,omitempty"`
	Heap        HeapSnapshot     `json:"heap"`
	Fingerprint ConfigFingerprint `json:"fingerprint"`
}

// Exporter writes incident bundles under Dir.
type Exporter struct {
	Dir         string
	Traces      TraceSource
	Models      ModelSource
	Fingerprint ConfigFingerprint

	counter int
}

// NewExporter constructs an Exporter rooted at dir, creating it if needed.
func NewExporter(dir string, traces TraceSource, models ModelSource, fp ConfigFingerprint) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("incident: mkdir %s: %w", dir, err)
	}
	return &Exporter{Dir: dir, Traces: traces, Models: models, Fingerprint: fp}, nil
}

// Export gathers traceIDs (or every live trace when all is true, in which
// case traceIDs is ignored) into a Bundle, writes it to
// <Dir>/INC-<unix_seconds>-<counter>.json, and returns the written path.
func (e *Exporter) Export(traceIDs []string, all bool, reason string, now time.Time) (string, error) {
	var records []trace.Record
	if all {
		records = e.Traces.DrainAll()
	} else {
		records = make([]trace.Record, 0, len(traceIDs))
		for _, id := range traceIDs {
			if rec, ok := e.Traces.FindByID(id); ok {
				records = append(records, rec)
			}
		}
	}

	bundle := Bundle{
		GeneratedAt: now,
		Reason:      reason,
		Traces:      records,
		Heap:        captureHeap(),
		Fingerprint: e.Fingerprint,
	}
	if e.Models != nil {
		if active := e.Models.Active(); active != nil {
			m := active.Meta
			bundle.ActiveModel = &m
		}
		if shadow := e.Models.Shadow(); shadow != nil {
			m := shadow.Meta
			bundle.ShadowModel = &m
		}
	}

	e.counter++
	bundle.IncidentID = fmt.Sprintf("INC-%d-%d", now.Unix(), e.counter)

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("incident: marshal bundle: %w", err)
	}

	path := filepath.Join(e.Dir, bundle.IncidentID+".json")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("incident: write %s: %w", path, err)
	}
	return path, nil
}
