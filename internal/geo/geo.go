// Package geo provides great-circle helpers for report coordinates.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Box is an axis-aligned latitude/longitude rectangle.
// Longitudes lie in [-180, 180]; MinLon > MaxLon means the box crosses the antimeridian.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// LonRange is a closed longitude interval with Min <= Max.
type LonRange struct {
	Min, Max float64
}

// BoundingBox returns a box that contains every point within radiusMeters of center.
// It over-approximates; callers filter the result with Haversine.
func BoundingBox(center Point, radiusMeters float64) Box {
	angular := radiusMeters / EarthRadiusMeters
	dLat := toDegrees(angular)
	dLon := 180.0
	if s := math.Sin(angular) / math.Cos(toRadians(center.Lat)); s < 1 {
		dLon = toDegrees(math.Asin(s))
	}
	box := Box{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
		MinLon: -180,
		MaxLon: 180,
	}
	if dLon < 180 {
		box.MinLon = wrapLon(center.Lon - dLon)
		box.MaxLon = wrapLon(center.Lon + dLon)
	}
	return box
}

// Wraps reports whether the box crosses the antimeridian.
func (b Box) Wraps() bool {
	return b.MinLon > b.MaxLon
}

// LonRanges returns the longitude span as one interval, or two when the box wraps.
func (b Box) LonRanges() []LonRange {
	if b.Wraps() {
		return []LonRange{{Min: b.MinLon, Max: 180}, {Min: -180, Max: b.MaxLon}}
	}
	return []LonRange{{Min: b.MinLon, Max: b.MaxLon}}
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	for _, r := range b.LonRanges() {
		if p.Lon >= r.Min && p.Lon <= r.Max {
			return true
		}
	}
	return false
}

// Centroid returns the arithmetic mean of the points. It returns the zero Point for no input.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p.Lat
		sumLon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: sumLat / n, Lon: sumLon / n}
}

func wrapLon(lon float64) float64 {
	switch {
	case lon < -180:
		return lon + 360
	case lon > 180:
		return lon - 360
	}
	return lon
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
