// Package storage — bolt.go
//
// BoltDB-backed persistent storage for the kernel core.
//
// Schema (BoltDB bucket layout):
//
//	/trace_archive
//	    key:   RFC3339Nano timestamp + "_" + trace_id  [monotonic, sortable]
//	    value: JSON-encoded ArchivedTrace (overwritten ring-buffer entries)
//
//	/audit_ledger
//	    key:   RFC3339Nano timestamp + "_" + agent_id  [monotonic, sortable]
//	    value: JSON-encoded AuditEntry
//
//	/model_registry
//	    key:   RFC3339Nano timestamp + "_" + version  [monotonic, sortable]
//	    value: JSON-encoded RegistryEvent (register/load/swap/rollback journal)
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Trace archive and audit ledger entries older than RetentionDays are
//     pruned once on startup (cmd/kernel calls PruneOldEntries); there is
//     no periodic retention goroutine.
//   - The model registry journal is never automatically pruned — it is the
//     crash-safe record a restart reads to recover the active+rollback pair.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error on
//     Open(). The core logs a fatal event and refuses to start; the model
//     life-cycle manager surfaces this as RegistryCorrupt.
//   - Disk full: bbolt.Update() returns an error. The core logs the error
//     and continues without persisting (in-memory state preserved); audit
//     append failures are escalated as fatal for the requesting frame.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/nous/nous.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default archive/ledger retention period.
	DefaultRetentionDays = 30

	bucketTraceArchive  = "trace_archive"
	bucketAuditLedger   = "audit_ledger"
	bucketModelRegistry = "model_registry"
	bucketMeta          = "meta"
)

// ArchivedTrace is the persisted form of a decision-trace ring buffer entry
// that was overwritten before being drained. Stored as JSON in the
// trace_archive bucket when TraceConfig.ArchiveOverwritten is enabled.
type ArchivedTrace struct {
	TraceID        string    `json:"trace_id"`
	Timestamp      time.Time `json:"timestamp"`
	ModelVersion   string    `json:"model_version"`
	ModelHash      string    `json:"model_hash"`
	PayloadJSON    string    `json:"payload_json"` // the full decision-trace JSON document
}

// AuditEntry is a single agent-audit ledger record. Stored as JSON in the
// audit_ledger bucket. Written before the corresponding side effect becomes
// visible, per the agent engine's at-most-once/audit-before-effect contract.
type AuditEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	AgentID    string    `json:"agent_id"`
	Opcode     uint8     `json:"opcode"`
	Resource   string    `json:"resource"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason"`
	Sequence   uint64    `json:"sequence"`
}

// RegistryEvent is one entry in the model life-cycle journal: register,
// load, swap, rollback, shadow_load, promote_shadow, or dry_swap. A crash
// mid-operation leaves the journal with the last completed event, so a
// restart can recover a consistent active+rollback pair.
type RegistryEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Version   string    `json:"version"`
	Hash      string    `json:"hash"`
	Detail    string    `json:"detail"`
}

// DB wraps a BoltDB instance with typed accessors for kernel-core data.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketTraceArchive, bucketAuditLedger, bucketModelRegistry, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, core requires %q. "+
					"Run migration or restore from backup (RegistryCorrupt).",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Trace archive operations ──────────────────────────────────────────────────

func sortableKey(t time.Time, suffix string) []byte {
	return []byte(fmt.Sprintf("%s_%s", t.UTC().Format(time.RFC3339Nano), suffix))
}

// ArchiveTrace persists a ring-buffer entry evicted before it was drained.
func (d *DB) ArchiveTrace(rec ArchivedTrace) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ArchiveTrace marshal: %w", err)
	}
	key := sortableKey(rec.Timestamp, rec.TraceID)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTraceArchive)).Put(key, data)
	})
}

// ReadTraceArchive returns all archived traces in chronological order.
func (d *DB) ReadTraceArchive() ([]ArchivedTrace, error) {
	var out []ArchivedTrace
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTraceArchive)).ForEach(func(_, v []byte) error {
			var rec ArchivedTrace
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// ─── Audit ledger operations ────────────────────────────────────────────────────

// AppendAudit writes a new audit ledger entry using a single ACID write
// transaction. The agent engine calls this before the side effect it
// describes becomes observable; a failure here is fatal to that frame.
func (d *DB) AppendAudit(entry AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendAudit marshal: %w", err)
	}
	key := sortableKey(entry.Timestamp, entry.AgentID)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAuditLedger)).Put(key, data)
	})
}

// ReadAuditLedger returns all audit entries in chronological order.
func (d *DB) ReadAuditLedger() ([]AuditEntry, error) {
	var out []AuditEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAuditLedger)).ForEach(func(_, v []byte) error {
			var rec AuditEntry
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// ─── Model registry journal operations ──────────────────────────────────────────

// AppendRegistryEvent journals one model life-cycle operation.
func (d *DB) AppendRegistryEvent(ev RegistryEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("AppendRegistryEvent marshal: %w", err)
	}
	key := sortableKey(ev.Timestamp, ev.Version)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketModelRegistry)).Put(key, data)
	})
}

// ReadRegistryJournal returns the full model life-cycle journal in
// chronological order, used to recover the active+rollback pair on restart.
func (d *DB) ReadRegistryJournal() ([]RegistryEvent, error) {
	var out []RegistryEvent
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketModelRegistry)).ForEach(func(_, v []byte) error {
			var rec RegistryEvent
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// ─── Retention ──────────────────────────────────────────────────────────────────

// PruneOldEntries deletes trace_archive and audit_ledger entries older than
// retentionDays. Called once by cmd/kernel at startup. Returns the total
// number of entries deleted.
func (d *DB) PruneOldEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := sortableKey(cutoff, "")

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{bucketTraceArchive, bucketAuditLedger} {
			b := tx.Bucket([]byte(bucket))
			c := b.Cursor()

			var toDelete [][]byte
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if string(k) >= string(cutoffKey) {
					break
				}
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
			for _, k := range toDelete {
				if err := b.Delete(k); err != nil {
					return fmt.Errorf("PruneOldEntries delete from %s: %w", bucket, err)
				}
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}
