package geo

// Region is the operating region's bounding box: a closed rectangle in
// longitude/latitude. Coordinates outside the region are rejected even when
// structurally valid, as a guard against corrupt or mis-projected data.
type Region struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

// Contains reports whether the (lng, lat) pair falls inside the region,
// boundary included.
func (r Region) Contains(lng, lat float64) bool {
	return lng >= r.MinLng && lng <= r.MaxLng && lat >= r.MinLat && lat <= r.MaxLat
}
