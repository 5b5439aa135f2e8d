package stats

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelate_PerfectLinear(t *testing.T) {
	points := []SizePoint{
		{APK: "a", SizeMB: 1, Findings: 2},
		{APK: "b", SizeMB: 2, Findings: 4},
		{APK: "c", SizeMB: 3, Findings: 6},
		{APK: "d", SizeMB: 4, Findings: 8},
		{APK: "huge", SizeMB: 500, Findings: 0},
	}

	c := Correlate(points, 1.5)
	assert.Equal(t, 1, c.Removed)
	assert.Len(t, c.Points, 4)
	assert.True(t, c.Defined)
	assert.InDelta(t, 1.0, c.Pearson, 1e-9)
}

func TestCorrelate_Undefined(t *testing.T) {
	c := Correlate([]SizePoint{{APK: "a", SizeMB: 1, Findings: 1}}, 1.5)
	assert.False(t, c.Defined)

	flat := Correlate([]SizePoint{
		{APK: "a", SizeMB: 1, Findings: 5},
		{APK: "b", SizeMB: 2, Findings: 5},
	}, 1.5)
	assert.False(t, flat.Defined, "zero variance in findings")

	assert.False(t, Correlate(nil, 1.5).Defined)
}

func writeAPK(t *testing.T, entries map[string]int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.apk")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, size := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(make([]byte, size))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestDexSizeMB(t *testing.T) {
	path := writeAPK(t, map[string]int{
		"classes.dex":            1024 * 1024,
		"classes2.dex":           512 * 1024,
		"assets/plugin/code.dex": 512 * 1024,
		"res/raw/big.bin":        4 * 1024 * 1024,
	})

	size, err := DexSizeMB(path)
	require.NoError(t, err)
	assert.Equal(t, 2.0, size)

	_, err = DexSizeMB(filepath.Join(t.TempDir(), "none.apk"))
	assert.Error(t, err)
}

func TestAPKSizeMB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.apk")
	require.NoError(t, os.WriteFile(path, make([]byte, 1536*1024), 0o644))

	size, err := APKSizeMB(path)
	require.NoError(t, err)
	assert.Equal(t, 1.5, size)

	m, err := ParseSizeMeasure("APK")
	require.NoError(t, err)
	size, err = m.Measure(path)
	require.NoError(t, err)
	assert.Equal(t, 1.5, size)

	_, err = ParseSizeMeasure("inode")
	assert.Error(t, err)
}

func TestRoundMB(t *testing.T) {
	assert.Equal(t, 0.01, RoundMB(10*1024))
	assert.Equal(t, 0.0, RoundMB(0))
}
