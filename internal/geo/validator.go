package geo

import (
	"math"

	"github.com/ardhilink/plotsync/internal/models"
)

// Minimum number of coordinate pairs in a linear ring (closed quadrilateral
// degenerate case: three distinct points plus the closing point).
const minRingPoints = 4

// Validator checks plot geometry against structural rules and the operating
// region. A plot whose geometry fails validation is excluded from the
// renderable set but kept in the raw set for diagnostics.
type Validator struct {
	region Region
}

// NewValidator creates a Validator bound to the given operating region.
func NewValidator(region Region) *Validator {
	return &Validator{region: region}
}

// Validate checks the geometry, short-circuiting on the first failed rule:
//
//  1. Type must be Polygon or MultiPolygon with non-empty coordinates.
//  2. Every ring must contain at least 4 coordinate pairs.
//  3. Every ring must be closed (first and last point coincident). Rings
//     are never auto-closed; an open ring is an upstream data defect.
//  4. Every coordinate must be two finite numbers.
//  5. Every coordinate must fall inside the operating region.
func (v *Validator) Validate(g models.Geometry) bool {
	if g.Type != models.GeometryPolygon && g.Type != models.GeometryMultiPolygon {
		return false
	}
	if g.IsEmpty() {
		return false
	}

	for _, poly := range g.Polygons {
		if len(poly) == 0 {
			return false
		}
		for _, ring := range poly {
			if len(ring) < minRingPoints {
				return false
			}
			if ring[0] != ring[len(ring)-1] {
				return false
			}
			for _, pt := range ring {
				lng, lat := pt[0], pt[1]
				if !isFinite(lng) || !isFinite(lat) {
					return false
				}
				if !v.region.Contains(lng, lat) {
					return false
				}
			}
		}
	}

	return true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
