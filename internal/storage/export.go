package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

type ExportData struct {
	Run   *RunMetadata `json:"run"`
	Steps int          `json:"steps"`
	Trace []TracePoint `json:"trace"`
}

func ExportJSON(w io.Writer, meta *RunMetadata, trace []TracePoint) error {
	data := ExportData{Run: meta, Steps: len(trace), Trace: trace}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// ErrorSeries returns log10 of the squared error per tick, clamped at floor
// so that an exact zero stays plottable.
func ErrorSeries(trace []TracePoint, floor float64) []float64 {
	out := make([]float64, len(trace))
	for i, p := range trace {
		out[i] = math.Log10(math.Max(p.ErrorSquared, floor))
	}
	return out
}

// ErrorCurveSVG draws the log error curve of a run as an SVG path.
func ErrorCurveSVG(trace []TracePoint, width, height int, strokeColor string) string {
	series := ErrorSeries(trace, 1e-16)
	if len(series) < 2 {
		return ""
	}

	minY, maxY := series[0], series[0]
	for _, v := range series {
		minY = math.Min(minY, v)
		maxY = math.Max(maxY, v)
	}
	rangeY := maxY - minY
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	rangeY *= 1.2
	rangeX := float64(len(series) - 1)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height, strokeColor))

	for i, v := range series {
		x := float64(i) / rangeX * float64(width)
		y := float64(height) - (v-minY)/rangeY*float64(height)
		if i > 0 {
			sb.WriteString(" L")
		}
		sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}
