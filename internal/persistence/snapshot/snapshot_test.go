package snapshot

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/simtest"
)

func TestWriteAndReadStateExport(t *testing.T) {
	s := simtest.State()
	simtest.AddPatient(s, simtest.Patient("p1", 80000, -10, simtest.At(1, 2)))
	path := filepath.Join(t.TempDir(), "123456", "exports", "0"+Ext)

	require.NoError(t, WriteFile(path, migration.NewStateExport(s, nil, nil)))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, byte('{'), b[0])

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, Header{Type: migration.TypeComplete, FileVersion: migration.CurrentFileVersion, DataVersion: migration.CurrentDataVersion}, h)

	got, err := ReadStateExport(path)
	require.NoError(t, err)
	require.Contains(t, got.CurrentState.Patients, "p1")
	assert.Equal(t, 80000.0, got.CurrentState.Patients["p1"].Health)
	assert.Nil(t, got.History)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDecompressPassesPlainJSON(t *testing.T) {
	raw := []byte(`{"type":"partial"}`)
	got, err := Decompress(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, map[string]string{"type": "partial"}, true))
	got, err = Decompress(buf.Bytes())
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal(got, &m))
	assert.Equal(t, "partial", m["type"])
}

func TestReadPartialExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"partial","fileVersion":3,"dataVersion":5,"vehicleTemplates":[]}`), 0o644))

	got, err := ReadPartialExport(path)
	require.NoError(t, err)
	assert.NotNil(t, got.VehicleTemplates)
	assert.Nil(t, got.PatientCategories)
}
