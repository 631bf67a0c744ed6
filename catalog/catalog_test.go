package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parameterXML = `<?xml version="1.0" encoding="utf-8"?>
<ServoParameters>
  <ServoParameterTable>
    <id>98</id>
    <name>Pn098</name>
    <description>Servo enable</description>
    <valueMin>0</valueMin>
    <valueMax>1</valueMax>
    <defaultValue>0</defaultValue>
    <type>uint16</type>
    <accessType>RW</accessType>
  </ServoParameterTable>
  <ServoParameterTable>
    <id>reserved</id>
    <name>placeholder</name>
  </ServoParameterTable>
  <ServoParameterTable>
    <id>5</id>
    <name>Pn005</name>
    <description>Speed loop gain</description>
    <valueMin>1</valueMin>
    <valueMax>2000</valueMax>
    <defaultValue>40</defaultValue>
    <type>uint16</type>
    <accessType>RW</accessType>
  </ServoParameterTable>
</ServoParameters>`

const statusXML = `<?xml version="1.0" encoding="utf-8"?>
<ServoStatus>
  <ServoStatusTable>
    <id>20</id>
    <name>Un020</name>
    <description>Bus voltage</description>
    <units>V</units>
  </ServoStatusTable>
  <ServoStatusTable>
    <id>10</id>
    <name>Un010</name>
    <description>Motor speed</description>
    <units>rpm</units>
  </ServoStatusTable>
  <ServoStatusTable>
    <id>11</id>
    <name>Un011</name>
    <description>Speed reference</description>
    <units>rpm</units>
  </ServoStatusTable>
</ServoStatus>`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParameters(t *testing.T) {
	path := writeFile(t, t.TempDir(), "params.xml", parameterXML)
	params, err := LoadParameters(path)
	require.NoError(t, err)
	// The placeholder row with a non-numeric id is skipped.
	require.Len(t, params, 2)
	assert.Equal(t, uint16(98), params[0].Address)
	assert.Equal(t, "Pn098", params[0].Name)

	min, max, ok := params[1].Bounds()
	require.True(t, ok)
	assert.Equal(t, int64(1), min)
	assert.Equal(t, int64(2000), max)
}

func TestBoundsMissing(t *testing.T) {
	_, _, ok := Parameter{Min: "", Max: "10"}.Bounds()
	assert.False(t, ok)
}

func TestLoadStatusSorted(t *testing.T) {
	path := writeFile(t, t.TempDir(), "status.xml", statusXML)
	entries, err := LoadStatus(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []uint16{10, 11, 20}, Addresses(entries))
	assert.Equal(t, "rpm", entries[0].Units)
}

func TestLoadParametersMalformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.xml", "<ServoParameters><unclosed>")
	_, err := LoadParameters(path)
	assert.Error(t, err)
}

func TestCacheReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "params.xml", parameterXML)

	cache := NewCache()
	first, err := cache.Parameters(path)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Unchanged file: served from cache (same backing slice).
	second, err := cache.Parameters(path)
	require.NoError(t, err)
	assert.Equal(t, &first[0], &second[0])

	// Rewrite with one entry and a bumped mtime: reloaded.
	trimmed := `<ServoParameters><ServoParameterTable><id>7</id><name>Pn007</name></ServoParameterTable></ServoParameters>`
	require.NoError(t, os.WriteFile(path, []byte(trimmed), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	third, err := cache.Parameters(path)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, uint16(7), third[0].Address)
}
