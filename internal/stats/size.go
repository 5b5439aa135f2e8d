package stats

import (
	"archive/zip"
	"fmt"
	"math"
	"os"
	"strings"
)

const bytesPerMB = 1024 * 1024

// RoundMB 保留两位小数
func RoundMB(bytes int64) float64 {
	return math.Round(float64(bytes)/bytesPerMB*100) / 100
}

// APKSizeMB APK 文件大小（MB）
func APKSizeMB(path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat apk: %w", err)
	}
	return RoundMB(info.Size()), nil
}

// DexSizeMB APK 内所有 .dex 条目解压后的大小之和（MB）
func DexSizeMB(path string) (float64, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open apk: %w", err)
	}
	defer r.Close()

	var total uint64
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".dex") {
			continue
		}
		total += f.UncompressedSize64
	}
	return RoundMB(int64(total)), nil
}

// SizeMeasure 体积度量方式
type SizeMeasure string

const (
	MeasureAPK SizeMeasure = "apk"
	MeasureDex SizeMeasure = "dex"
)

// ParseSizeMeasure 解析 "apk" / "dex"
func ParseSizeMeasure(s string) (SizeMeasure, error) {
	switch SizeMeasure(strings.ToLower(s)) {
	case "", MeasureAPK:
		return MeasureAPK, nil
	case MeasureDex:
		return MeasureDex, nil
	}
	return "", fmt.Errorf("unknown size measure %q", s)
}

// Measure 按度量方式计算体积
func (m SizeMeasure) Measure(path string) (float64, error) {
	if m == MeasureDex {
		return DexSizeMB(path)
	}
	return APKSizeMB(path)
}
