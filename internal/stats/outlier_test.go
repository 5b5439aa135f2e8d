package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile_LinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 100}

	assert.Equal(t, 2.0, Percentile(sorted, 25))
	assert.Equal(t, 3.0, Percentile(sorted, 50))
	assert.Equal(t, 4.0, Percentile(sorted, 75))
	assert.Equal(t, 1.0, Percentile(sorted, 0))
	assert.Equal(t, 100.0, Percentile(sorted, 100))

	assert.InDelta(t, 1.75, Percentile([]float64{1, 2, 3, 4}, 25), 1e-9)
	assert.InDelta(t, 3.25, Percentile([]float64{1, 2, 3, 4}, 75), 1e-9)
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 90))
}

func TestFilterOutliers_Literal(t *testing.T) {
	kept := FilterOutliers([]float64{1, 2, 3, 4, 100}, 1.5)
	assert.Equal(t, []float64{1, 2, 3, 4}, kept)

	fences := ComputeFences([]float64{1, 2, 3, 4, 100}, 0)
	assert.Equal(t, 2.0, fences.Q1)
	assert.Equal(t, 4.0, fences.Q3)
	assert.Equal(t, -1.0, fences.Lower)
	assert.Equal(t, 7.0, fences.Upper)
}

func TestFilterOutliers_KeepsOrderAndFenceValues(t *testing.T) {
	kept := FilterOutliers([]float64{100, 4, 3, 2, 1}, 1.5)
	assert.Equal(t, []float64{4, 3, 2, 1}, kept)

	// IQR 为 0 时只保留与四分位相等的样本
	assert.Equal(t, []float64{5, 5, 5, 5}, FilterOutliers([]float64{5, 5, 9, 5, 5}, 1.5))
}

func TestFilterOutliers_Empty(t *testing.T) {
	assert.Empty(t, FilterOutliers(nil, 1.5))
	assert.Equal(t, []float64{42}, FilterOutliers([]float64{42}, 1.5))
}

func TestFilterOutliersBy_SingleDimension(t *testing.T) {
	points := []SizePoint{
		{APK: "a", SizeMB: 1, Findings: 1000},
		{APK: "b", SizeMB: 2, Findings: 1},
		{APK: "c", SizeMB: 3, Findings: 2},
		{APK: "d", SizeMB: 4, Findings: 3},
		{APK: "e", SizeMB: 100, Findings: 4},
	}

	kept := FilterOutliersBy(points, 1.5, func(p SizePoint) float64 { return p.SizeMB })

	names := []string{}
	for _, p := range kept {
		names = append(names, p.APK)
	}
	// 发现数的极端值不影响按体积过滤
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}

func TestFences_BoundaryIsInside(t *testing.T) {
	f := Fences{Lower: -1, Upper: 7}

	assert.True(t, f.Contains(-1))
	assert.True(t, f.Contains(7))
	assert.False(t, f.Contains(7.0001))
	assert.False(t, f.Contains(-1.0001))

	// 所有样本都落在栅栏上
	assert.Equal(t, []float64{5, 5, 5, 5}, FilterOutliers([]float64{5, 5, 5, 5}, 1.5))
}
