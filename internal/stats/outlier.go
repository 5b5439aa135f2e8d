package stats

import (
	"math"
	"sort"
)

// DefaultFenceFactor Q1/Q3 之外的 IQR 倍数
const DefaultFenceFactor = 1.5

// Percentile 线性插值分位数（p 取 0-100）, sorted 必须已升序
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(n-1)
	if rank <= 0 {
		return sorted[0]
	}
	if rank >= float64(n-1) {
		return sorted[n-1]
	}

	lo := int(math.Floor(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

// Fences 四分位栅栏
type Fences struct {
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
	IQR   float64 `json:"iqr"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains 栅栏为闭区间: 恰好等于 Lower 或 Upper 的样本保留, 不按开区间剔除.
// IQR 为 0 时与中位数相同的样本因此不会被全部去掉
func (f Fences) Contains(v float64) bool {
	return v >= f.Lower && v <= f.Upper
}

// ComputeFences 计算 Q1 - k·IQR 和 Q3 + k·IQR; k <= 0 时使用 1.5
func ComputeFences(samples []float64, k float64) Fences {
	if k <= 0 {
		k = DefaultFenceFactor
	}
	sorted := sortedCopy(samples)
	q1 := Percentile(sorted, 25)
	q3 := Percentile(sorted, 75)
	iqr := q3 - q1
	return Fences{
		Q1:    q1,
		Q3:    q3,
		IQR:   iqr,
		Lower: q1 - k*iqr,
		Upper: q3 + k*iqr,
	}
}

// FilterOutliers 去除栅栏外的样本, 保持原始顺序
func FilterOutliers(samples []float64, k float64) []float64 {
	return FilterOutliersBy(samples, k, func(v float64) float64 { return v })
}

// FilterOutliersBy 按 key 提取的单一维度过滤复合样本
func FilterOutliersBy[T any](items []T, k float64, key func(T) float64) []T {
	if len(items) == 0 {
		return []T{}
	}

	values := make([]float64, len(items))
	for i, item := range items {
		values[i] = key(item)
	}
	fences := ComputeFences(values, k)

	kept := make([]T, 0, len(items))
	for i, item := range items {
		if fences.Contains(values[i]) {
			kept = append(kept, item)
		}
	}
	return kept
}

func sortedCopy(samples []float64) []float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return sorted
}
