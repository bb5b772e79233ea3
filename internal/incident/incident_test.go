package incident

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nous-kernel/nous/internal/model"
	"github.com/nous-kernel/nous/internal/trace"
)

type fakeTraces struct {
	byID map[string]trace.Record
	all  []trace.Record
}

func (f fakeTraces) FindByID(id string) (trace.Record, bool) {
	r, ok := f.byID[id]
	return r, ok
}
func (f fakeTraces) DrainAll() []trace.Record { return f.all }

type fakeModels struct{ active, shadow *model.Handle }

func (f fakeModels) Active() *model.Handle { return f.active }
func (f fakeModels) Shadow() *model.Handle { return f.shadow }

func TestExportWritesBundleWithRequestedTraces(t *testing.T) {
	traces := fakeTraces{byID: map[string]trace.Record{
		"t1": {TraceID: "t1", ModelVersion: "v1"},
		"t2": {TraceID: "t2", ModelVersion: "v1"},
	}}
	exp, err := NewExporter(t.TempDir(), traces, fakeModels{}, ConfigFingerprint{ModulePath: "github.com/nous-kernel/nous"})
	require.NoError(t, err)

	path, err := exp.Export([]string{"t1", "missing"}, false, "manual", time.Unix(1000, 0))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var bundle Bundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.Len(t, bundle.Traces, 1)
	require.Equal(t, "t1", bundle.Traces[0].TraceID)
	require.Equal(t, "manual", bundle.Reason)
}

func TestExportAllDrainsEveryTrace(t *testing.T) {
	traces := fakeTraces{all: []trace.Record{{TraceID: "a"}, {TraceID: "b"}}}
	exp, err := NewExporter(t.TempDir(), traces, fakeModels{}, ConfigFingerprint{})
	require.NoError(t, err)

	path, err := exp.Export(nil, true, "all", time.Unix(2000, 0))
	require.NoError(t, err)

	data, _ := os.ReadFile(path)
	var bundle Bundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.Len(t, bundle.Traces, 2)
}

func TestExportIncludesActiveModelMetadata(t *testing.T) {
	active := &model.Handle{Meta: model.Metadata{Version: "v3"}}
	exp, err := NewExporter(t.TempDir(), fakeTraces{}, fakeModels{active: active}, ConfigFingerprint{})
	require.NoError(t, err)

	path, err := exp.Export(nil, true, "x", time.Unix(3000, 0))
	require.NoError(t, err)

	data, _ := os.ReadFile(path)
	var bundle Bundle
	require.NoError(t, json.Unmarshal(data, &bundle))
	require.NotNil(t, bundle.ActiveModel)
	require.Equal(t, "v3", bundle.ActiveModel.Version)
}

func TestExportIncidentIDsAreUnique(t *testing.T) {
	exp, err := NewExporter(t.TempDir(), fakeTraces{}, fakeModels{}, ConfigFingerprint{})
	require.NoError(t, err)

	p1, err := exp.Export(nil, true, "x", time.Unix(4000, 0))
	require.NoError(t, err)
	p2, err := exp.Export(nil, true, "x", time.Unix(4000, 0))
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
}
