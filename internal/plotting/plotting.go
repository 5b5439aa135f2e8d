package plotting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apk-analysis/apk-toolbench/internal/stats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoData 没有可绘制的样本
var ErrNoData = errors.New("no data to plot")

const (
	width  = 8 * vg.Inch
	height = 5 * vg.Inch
)

// 同一时间只渲染一张图
var renderMu sync.Mutex

// Histogram 把样本绘制为直方图 PNG
func Histogram(path, title, xLabel string, samples []float64, bins int) error {
	if len(samples) == 0 {
		return ErrNoData
	}
	if bins <= 0 {
		bins = 20
	}

	renderMu.Lock()
	defer renderMu.Unlock()

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Frequency"

	h, err := plotter.NewHist(plotter.Values(samples), bins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	p.Add(h)

	return save(p, path)
}

// Scatter 绘制大小与发现数的散点图
func Scatter(path, title, xLabel, yLabel string, points []stats.SizePoint) error {
	if len(points) == 0 {
		return ErrNoData
	}

	renderMu.Lock()
	defer renderMu.Unlock()

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X = pt.SizeMB
		xys[i].Y = float64(pt.Findings)
	}
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("build scatter: %w", err)
	}
	s.GlyphStyle.Radius = vg.Points(2)
	p.Add(s, plotter.NewGrid())

	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
