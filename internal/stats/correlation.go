package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SizePoint 单个 APK 的体积与发现数
type SizePoint struct {
	APK      string  `json:"apk"`
	SizeMB   float64 `json:"size_mb"`
	Findings int     `json:"findings"`
}

// Correlation 体积与发现数的相关性
type Correlation struct {
	Points  []SizePoint `json:"points"`
	Removed int         `json:"removed"`
	Fences  Fences      `json:"fences"`
	Pearson float64     `json:"pearson"`
	Defined bool        `json:"defined"` // 少于 2 个点或方差为 0 时为 false
}

// Correlate 仅按体积过滤异常值, 然后计算 Pearson 相关系数
func Correlate(points []SizePoint, k float64) Correlation {
	kept := FilterOutliersBy(points, k, func(p SizePoint) float64 { return p.SizeMB })

	c := Correlation{
		Points:  kept,
		Removed: len(points) - len(kept),
	}
	if len(points) > 0 {
		sizes := make([]float64, len(points))
		for i, p := range points {
			sizes[i] = p.SizeMB
		}
		c.Fences = ComputeFences(sizes, k)
	}

	if len(kept) < 2 {
		return c
	}

	xs := make([]float64, len(kept))
	ys := make([]float64, len(kept))
	for i, p := range kept {
		xs[i] = p.SizeMB
		ys[i] = float64(p.Findings)
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return c
	}
	c.Pearson = r
	c.Defined = true
	return c
}
