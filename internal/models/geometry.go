package models

import (
	"encoding/json"
	"fmt"
)

// Geometry type names accepted from the remote source.
const (
	GeometryPolygon      = "Polygon"
	GeometryMultiPolygon = "MultiPolygon"
)

// Ring is a linear ring: an ordered sequence of (longitude, latitude) pairs.
// A well-formed ring is closed (first and last point coincident) and has at
// least 4 points, but Ring itself does not enforce that; see geo.Validator.
type Ring [][2]float64

// Geometry represents a parcel boundary as GeoJSON Polygon or MultiPolygon.
// Coordinates are stored uniformly as a list of polygon parts, each part a
// list of rings: [polygons][rings][points][lon,lat]. A plain Polygon is
// stored as a single-part list and marshalled back out as a Polygon.
// SRID 4326 (WGS84) lon/lat coordinates are assumed throughout.
type Geometry struct {
	Type     string
	Polygons [][]Ring
}

// IsEmpty reports whether the geometry carries no coordinates at all.
func (g Geometry) IsEmpty() bool {
	return len(g.Polygons) == 0
}

// OuterRing returns the first ring of the first polygon part, which is the
// ring used for centroid and label placement. Returns nil for empty geometry.
func (g Geometry) OuterRing() Ring {
	if len(g.Polygons) == 0 || len(g.Polygons[0]) == 0 {
		return nil
	}
	return g.Polygons[0][0]
}

// Rings returns every ring of every polygon part in order.
func (g Geometry) Rings() []Ring {
	var rings []Ring
	for _, poly := range g.Polygons {
		rings = append(rings, poly...)
	}
	return rings
}

// MarshalJSON implements json.Marshaler for API responses.
// Returns GeoJSON-compliant format for frontend consumption, preserving the
// original Polygon vs MultiPolygon type.
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Type == GeometryPolygon && len(g.Polygons) > 0 {
		return json.Marshal(struct {
			Type        string `json:"type"`
			Coordinates []Ring `json:"coordinates"`
		}{
			Type:        GeometryPolygon,
			Coordinates: g.Polygons[0],
		})
	}
	return json.Marshal(struct {
		Type        string   `json:"type"`
		Coordinates [][]Ring `json:"coordinates"`
	}{
		Type:        g.Type,
		Coordinates: g.Polygons,
	})
}

// UnmarshalJSON implements json.Unmarshaler for parsing GeoJSON input.
// Unknown geometry types are kept with empty coordinates rather than
// rejected here; geometry acceptance is the validator's decision.
func (g *Geometry) UnmarshalJSON(data []byte) error {
	var head struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("failed to unmarshal geometry: %w", err)
	}

	g.Type = head.Type
	g.Polygons = nil

	if len(head.Coordinates) == 0 {
		return nil
	}

	switch head.Type {
	case GeometryPolygon:
		var rings []Ring
		if err := json.Unmarshal(head.Coordinates, &rings); err != nil {
			return fmt.Errorf("failed to unmarshal polygon coordinates: %w", err)
		}
		g.Polygons = [][]Ring{rings}
	case GeometryMultiPolygon:
		var polys [][]Ring
		if err := json.Unmarshal(head.Coordinates, &polys); err != nil {
			return fmt.Errorf("failed to unmarshal multipolygon coordinates: %w", err)
		}
		g.Polygons = polys
	}

	return nil
}
