package geo

import (
	"math"

	"github.com/ardhilink/plotsync/internal/models"
)

// Area magnitudes below this are treated as degenerate (collinear ring).
const areaEpsilon = 1e-12

// Centroid derives a representative point for label placement from a linear
// ring using the signed-area (shoelace) weighted centroid. Degenerate rings
// with near-zero area fall back to the arithmetic mean of the vertices.
// Malformed input never panics; an uncomputable centroid returns the origin.
func Centroid(ring models.Ring) (float64, float64) {
	if len(ring) == 0 {
		return 0, 0
	}

	var area, cx, cy float64
	for i := 0; i < len(ring); i++ {
		x0, y0 := ring[i][0], ring[i][1]
		x1, y1 := ring[(i+1)%len(ring)][0], ring[(i+1)%len(ring)][1]
		cross := x0*y1 - x1*y0
		area += cross
		cx += (x0 + x1) * cross
		cy += (y0 + y1) * cross
	}
	area /= 2

	if math.Abs(area) < areaEpsilon {
		return vertexMean(ring)
	}

	cx /= 6 * area
	cy /= 6 * area
	if !isFinite(cx) || !isFinite(cy) {
		return 0, 0
	}
	return cx, cy
}

// PlotCentroid returns the centroid of a plot's outer ring.
// For a MultiPolygon this is the first ring of the first part.
func PlotCentroid(g models.Geometry) (float64, float64) {
	return Centroid(g.OuterRing())
}

// vertexMean averages the distinct vertices of the ring. The closing point
// duplicates the first, so it is skipped when present to avoid double weight.
func vertexMean(ring models.Ring) (float64, float64) {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n == 0 {
		return 0, 0
	}
	var sx, sy float64
	for i := 0; i < n; i++ {
		sx += ring[i][0]
		sy += ring[i][1]
	}
	mx, my := sx/float64(n), sy/float64(n)
	if !isFinite(mx) || !isFinite(my) {
		return 0, 0
	}
	return mx, my
}
