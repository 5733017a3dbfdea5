package scene

import (
	"fmt"

	"github.com/san-kum/momentservo/internal/moments"
)

// DefaultThreshold is the coverage above which a pixel belongs to the object.
const DefaultThreshold uint8 = 128

// Extractor reduces a frame to a moment set.
type Extractor interface {
	Extract(f *Frame) (*moments.Set, error)
}

// PolygonExtractor integrates the projected polygon in closed form.
type PolygonExtractor struct {
	Order int
}

// Extract returns the exact moments of the frame's polygon.
func (e PolygonExtractor) Extract(f *Frame) (*moments.Set, error) {
	set, err := moments.FromPolygon(f.Polygon, e.Order)
	if err != nil {
		return nil, fmt.Errorf("polygon extraction: %w", err)
	}
	return set, nil
}

// ImageExtractor computes dense moments from the frame's raster. Each pixel
// above Threshold contributes its centre in normalized coordinates, weighted
// by the pixel area 1/(px·py).
type ImageExtractor struct {
	Order     int
	Threshold uint8
}

// Extract thresholds the raster and accumulates the moments.
func (e ImageExtractor) Extract(f *Frame) (*moments.Set, error) {
	img := f.Raster()
	cam := f.Camera
	w := 1 / (cam.Px * cam.Py)
	acc := moments.NewAccumulator(e.Order)
	b := img.Bounds()
	for v := b.Min.Y; v < b.Max.Y; v++ {
		row := img.Pix[(v-b.Min.Y)*img.Stride:]
		for u := b.Min.X; u < b.Max.X; u++ {
			if row[u-b.Min.X] <= e.Threshold {
				continue
			}
			p := cam.ToNormalized(float64(u)+0.5, float64(v)+0.5)
			acc.Add(p.X, p.Y, w)
		}
	}
	set, err := acc.Set()
	if err != nil {
		return nil, fmt.Errorf("image extraction: %w", err)
	}
	return set, nil
}
