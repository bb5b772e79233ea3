package model

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePayload(inSize, outSize int) []byte {
	buf := make([]byte, 0, 4+4+4+inSize*outSize*4+outSize*4)
	put32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	put32(1)
	put32(uint32(inSize))
	put32(uint32(outSize))
	for i := 0; i < inSize*outSize; i++ {
		put32(0)
	}
	for i := 0; i < outSize; i++ {
		put32(0)
	}
	return buf
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "q88-dense", nil, nil, HealthThresholds{})
	require.NoError(t, err)
	return m
}

func TestManagerRegisterAndLoad(t *testing.T) {
	m := newTestManager(t)
	payload := encodePayload(6, 4)

	meta, err := m.Register("v1", payload, nil)
	require.NoError(t, err)
	require.Equal(t, "v1", meta.Version)

	require.Nil(t, m.Active())
	require.NoError(t, m.Load("v1"))
	require.NotNil(t, m.Active())
	require.Equal(t, "v1", m.Active().Meta.Version)
}

func TestManagerSwapAndRollback(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Register("v1", encodePayload(6, 4), nil)
	require.NoError(t, err)
	_, err = m.Register("v2", encodePayload(6, 4), nil)
	require.NoError(t, err)

	require.NoError(t, m.Load("v1"))
	require.NoError(t, m.Swap("v2"))
	require.Equal(t, "v2", m.Active().Meta.Version)

	require.NoError(t, m.Rollback())
	require.Equal(t, "v1", m.Active().Meta.Version)
}

func TestManagerRollbackWithoutSwapFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Register("v1", encodePayload(6, 4), nil)
	require.NoError(t, err)
	require.NoError(t, m.Load("v1"))

	err = m.Rollback()
	require.Error(t, err)
	var rce *RegistryCorruptError
	require.ErrorAs(t, err, &rce)
}

func TestManagerShadowLoadAndPromote(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Register("v1", encodePayload(6, 4), nil)
	require.NoError(t, err)
	_, err = m.Register("v2", encodePayload(6, 4), nil)
	require.NoError(t, err)

	require.NoError(t, m.Load("v1"))
	require.NoError(t, m.ShadowLoad("v2"))
	require.Equal(t, "v2", m.Shadow().Meta.Version)

	require.NoError(t, m.PromoteShadow())
	require.Equal(t, "v2", m.Active().Meta.Version)
	require.Nil(t, m.Shadow())
}

func TestManagerDrySwapDoesNotInstall(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Register("v1", encodePayload(6, 4), nil)
	require.NoError(t, err)

	meta, err := m.DrySwap("v1")
	require.NoError(t, err)
	require.Equal(t, "v1", meta.Version)
	require.Nil(t, m.Active())
}

func TestManagerHealthCheckRejectsOversizedPayload(t *testing.T) {
	m, err := NewManager(t.TempDir(), "q88-dense", nil, nil, HealthThresholds{MaxFootprintKB: 1})
	require.NoError(t, err)

	_, err = m.Register("big", encodePayload(200, 200), nil)
	require.NoError(t, err) // Register itself doesn't health-check

	err = m.Load("big")
	require.Error(t, err)
	var hcf *HealthCheckFailedError
	require.ErrorAs(t, err, &hcf)
}
