package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary 样本描述统计
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
}

// Summarize 计算描述统计; 空样本返回零值
func Summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := sortedCopy(samples)

	s := Summary{
		Count:  len(sorted),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Mean:   stat.Mean(sorted, nil),
		Median: Percentile(sorted, 50),
		Q1:     Percentile(sorted, 25),
		Q3:     Percentile(sorted, 75),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// Bin 直方图区间 [Low, High)
type Bin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// Histogram 等宽分箱
func Histogram(samples []float64, bins int) []Bin {
	if len(samples) == 0 || bins <= 0 {
		return []Bin{}
	}
	sorted := sortedCopy(samples)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		hi = lo + 1
	}

	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// 最大值落在最后一个区间内
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, sorted, nil)

	out := make([]Bin, bins)
	for i := range out {
		out[i] = Bin{Low: dividers[i], High: dividers[i+1], Count: int(counts[i])}
	}
	return out
}

// Distribution 过滤异常值后的分布
type Distribution struct {
	Fences  Fences    `json:"fences"`
	Total   int       `json:"total"`
	Removed int       `json:"removed"`
	Kept    []float64 `json:"kept"`
	Summary Summary   `json:"summary"`
	Bins    []Bin     `json:"bins"`
}

// Distribute 过滤异常值并统计
func Distribute(samples []float64, k float64, bins int) Distribution {
	kept := FilterOutliers(samples, k)
	d := Distribution{
		Total:   len(samples),
		Removed: len(samples) - len(kept),
		Kept:    kept,
		Summary: Summarize(kept),
		Bins:    Histogram(kept, bins),
	}
	if len(samples) > 0 {
		d.Fences = ComputeFences(samples, k)
	}
	return d
}
