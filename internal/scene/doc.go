// Package scene is the thin adapter between the servo loop and the world:
// a planar target seen by a pinhole camera, rendered for a pose and reduced
// to image moments.
//
// The pipeline per tick is
//
//	frame, _ := renderer.Render(pose)
//	set, _ := extractor.Extract(frame)
//
// [PolygonExtractor] integrates the projected polygon exactly;
// [ImageExtractor] rasterizes it and sums the pixels above a threshold the
// way a camera-based pipeline would.
package scene
