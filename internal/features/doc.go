// Package features turns image moments into the visual features driven by the
// servo task.
//
// A [Composer] owns four sub-features, always in this order:
//
//   - centroid (xn, yn): normalized centre of gravity
//   - area (an): normalized area, proportional to depth
//   - invariants (sx, sy, px, py, qx, qy): rotation, scale and translation
//     invariant combinations of central moments
//   - orientation (alpha): principal axis angle
//
// Values are refreshed with [Composer.UpdateMoments]; interaction rows need
// the plane of the observed region and are refreshed with
// [Composer.UpdatePlane]. Rows are obtained by chaining a numerical Jacobian of
// each feature with respect to the raw moments with the raw-moment interaction
// matrix.
package features
