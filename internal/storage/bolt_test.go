package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "nous.db"), 30)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestArchiveAndReadTrace(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.ArchiveTrace(ArchivedTrace{TraceID: "t-1", ModelVersion: "v1", PayloadJSON: "{}"}))

	traces, err := db.ReadTraceArchive()
	require.NoError(t, err)
	require.Len(t, traces, 1)
	require.Equal(t, "t-1", traces[0].TraceID)
}

func TestAppendAndReadAudit(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AppendAudit(AuditEntry{AgentID: "agent-1", Opcode: 0x31, Allowed: false, Reason: "Unauthorized"}))

	entries, err := db.ReadAuditLedger()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].Allowed)
}

func TestRegistryJournalOrdering(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC()
	require.NoError(t, db.AppendRegistryEvent(RegistryEvent{Timestamp: base, Kind: "register", Version: "v1"}))
	require.NoError(t, db.AppendRegistryEvent(RegistryEvent{Timestamp: base.Add(time.Second), Kind: "swap", Version: "v1"}))

	journal, err := db.ReadRegistryJournal()
	require.NoError(t, err)
	require.Len(t, journal, 2)
	require.Equal(t, "register", journal[0].Kind)
	require.Equal(t, "swap", journal[1].Kind)
}

func TestPruneOldEntries(t *testing.T) {
	db := openTestDB(t)
	old := time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, db.ArchiveTrace(ArchivedTrace{TraceID: "old", Timestamp: old, PayloadJSON: "{}"}))
	require.NoError(t, db.ArchiveTrace(ArchivedTrace{TraceID: "new", PayloadJSON: "{}"}))

	deleted, err := db.PruneOldEntries()
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	traces, err := db.ReadTraceArchive()
	require.NoError(t, err)
	require.Len(t, traces, 1)
	require.Equal(t, "new", traces[0].TraceID)
}

func TestSchemaVersionMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nous.db")
	db, err := Open(path, 30)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening the same, valid database should succeed.
	db2, err := Open(path, 30)
	require.NoError(t, err)
	require.NoError(t, db2.Close())

	// A database whose stored schema version differs must be refused.
	raw, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, raw.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte("schema_version"), []byte("0"))
	}))
	require.NoError(t, raw.Close())

	_, err = Open(path, 30)
	require.Error(t, err)
}
