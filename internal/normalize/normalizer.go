package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ardhilink/plotsync/internal/logger"
	"github.com/ardhilink/plotsync/internal/models"
	"github.com/ardhilink/plotsync/internal/source"
)

// Default for absent free-text location fields.
const unknownField = "Unknown"

// Timestamp layouts accepted from the source, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer turns raw source records into canonical Plot entities.
// It is tolerant by design: a partially invalid response still yields a
// usable plot set. Records missing identity fields or geometry coordinates
// are dropped and logged, never fatal.
type Normalizer struct {
	log *logger.Logger
	now func() time.Time
}

// New creates a Normalizer.
func New(log *logger.Logger) *Normalizer {
	return &Normalizer{log: log, now: time.Now}
}

// WithClock overrides the normalization clock. Used by tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize converts records to plots, returning the plots and the number
// of records dropped for missing identity or geometry.
func (n *Normalizer) Normalize(records []source.RawRecord) ([]models.Plot, int) {
	plots := make([]models.Plot, 0, len(records))
	dropped := 0

	for i, record := range records {
		plot, ok := n.normalizeOne(record)
		if !ok {
			dropped++
			n.log.Warn("Dropped unusable plot record", map[string]interface{}{
				"index": i,
				"id":    record["id"],
			})
			continue
		}
		plots = append(plots, plot)
	}

	return plots, dropped
}

// normalizeOne builds a canonical Plot from one record. Returns false when
// the record lacks the identity fields or geometry coordinates that make a
// plot addressable at all.
func (n *Normalizer) normalizeOne(record source.RawRecord) (models.Plot, bool) {
	id := asString(record["id"])
	code := asString(record["plot_code"])
	if id == "" || code == "" {
		return models.Plot{}, false
	}

	geometry := parseGeometry(record["geometry"])
	if geometry.IsEmpty() {
		return models.Plot{}, false
	}

	now := n.now().UTC()
	createdAt := parseTime(record["created_at"], now)
	updatedAt := parseTime(record["updated_at"], now)
	if updatedAt.Before(createdAt) {
		updatedAt = createdAt
	}

	plot := models.Plot{
		ID:           id,
		PlotCode:     code,
		Status:       normalizeStatus(record["status"]),
		AreaHectares: normalizeArea(record["area_hectares"]),
		District:     stringOrUnknown(record["district"]),
		Ward:         stringOrUnknown(record["ward"]),
		Village:      stringOrUnknown(record["village"]),
		Geometry:     geometry,
		Attributes:   normalizeAttributes(record["attributes"]),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}

	return plot, true
}

// normalizeStatus maps the raw status onto the known set, defaulting to
// pending. The default is deliberately fail-closed: an unrecognized status
// must never surface as orderable.
func normalizeStatus(value interface{}) models.PlotStatus {
	status := models.PlotStatus(strings.ToLower(strings.TrimSpace(asString(value))))
	if models.KnownStatus(status) {
		return status
	}
	return models.StatusPending
}

// normalizeArea coerces the raw area to a non-negative number; anything
// unparseable becomes 0.
func normalizeArea(value interface{}) float64 {
	area, ok := asFloat(value)
	if !ok || math.IsNaN(area) || math.IsInf(area, 0) || area < 0 {
		return 0
	}
	return area
}

func normalizeAttributes(value interface{}) models.Attributes {
	raw, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return models.NewAttributes(raw)
}

// parseGeometry coerces the raw geometry value into a models.Geometry.
// Structural sins (short rings, non-finite coordinates) are preserved
// rather than repaired: the geometry validator decides acceptance.
func parseGeometry(value interface{}) models.Geometry {
	raw, ok := value.(map[string]interface{})
	if !ok {
		return models.Geometry{}
	}

	geomType := asString(raw["type"])
	coords, ok := raw["coordinates"].([]interface{})
	if !ok || len(coords) == 0 {
		return models.Geometry{Type: geomType}
	}

	switch geomType {
	case models.GeometryPolygon:
		rings := parseRings(coords)
		if len(rings) == 0 {
			return models.Geometry{Type: geomType}
		}
		return models.Geometry{Type: geomType, Polygons: [][]models.Ring{rings}}
	case models.GeometryMultiPolygon:
		var polys [][]models.Ring
		for _, part := range coords {
			ringsRaw, ok := part.([]interface{})
			if !ok {
				continue
			}
			if rings := parseRings(ringsRaw); len(rings) > 0 {
				polys = append(polys, rings)
			}
		}
		return models.Geometry{Type: geomType, Polygons: polys}
	default:
		return models.Geometry{Type: geomType}
	}
}

func parseRings(raw []interface{}) []models.Ring {
	var rings []models.Ring
	for _, ringRaw := range raw {
		points, ok := ringRaw.([]interface{})
		if !ok {
			continue
		}
		ring := make(models.Ring, 0, len(points))
		for _, pointRaw := range points {
			pair, ok := pointRaw.([]interface{})
			if !ok || len(pair) < 2 {
				continue
			}
			lng, okLng := asFloat(pair[0])
			lat, okLat := asFloat(pair[1])
			if !okLng {
				lng = math.NaN()
			}
			if !okLat {
				lat = math.NaN()
			}
			ring = append(ring, [2]float64{lng, lat})
		}
		if len(ring) > 0 {
			rings = append(rings, ring)
		}
	}
	return rings
}

func parseTime(value interface{}, fallback time.Time) time.Time {
	s := asString(value)
	if s == "" {
		return fallback
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func stringOrUnknown(value interface{}) string {
	if s := strings.TrimSpace(asString(value)); s != "" {
		return s
	}
	return unknownField
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
