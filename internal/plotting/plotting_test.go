package plotting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apk-analysis/apk-toolbench/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestHistogram_WritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statistics", "apkid_runtimes.png")

	err := Histogram(path, "apkid runtimes", "seconds", []float64{1.2, 1.5, 2.0, 2.2, 3.1}, 5)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngMagic, data[:4])
}

func TestScatter_WritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mobsf_size.png")
	points := []stats.SizePoint{
		{APK: "a.apk", SizeMB: 1.5, Findings: 3},
		{APK: "b.apk", SizeMB: 4.0, Findings: 9},
	}

	require.NoError(t, Scatter(path, "mobsf", "APK size (MB)", "findings", points))
	assert.FileExists(t, path)
}

func TestPlot_NoData(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorIs(t, Histogram(filepath.Join(dir, "h.png"), "", "", nil, 10), ErrNoData)
	assert.ErrorIs(t, Scatter(filepath.Join(dir, "s.png"), "", "", "", nil), ErrNoData)
}
