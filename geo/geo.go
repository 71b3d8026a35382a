// Package geo implements the small amount of planar and geodesic math the
// game loop performs in memory: distances, circle synthesis, trail segment
// intersection, and point-in-polygon tests.
//
// Everything polygonal-boolean (union, difference, validity repair) is done
// by the spatial database, not here. Coordinates are WGS-84 lng/lat degrees;
// distances are meters.
package geo

import "math"

// earthRadius is the mean earth radius in meters.
const earthRadius = 6371008.8

// Point is a WGS-84 coordinate.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Path is an ordered sequence of GPS points.
type Path []Point

// Ring is a closed linear ring: the first and last points are equal.
type Ring []Point

// Polygon is one exterior ring per element. Interior rings (holes) only
// exist inside the spatial database and never round-trip through here.
type Polygon []Ring

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	latA := radians(a.Lat)
	latB := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Destination returns the point reached by travelling meters from p along
// the given initial bearing (degrees clockwise from north).
func Destination(p Point, bearingDeg, meters float64) Point {
	lat := radians(p.Lat)
	lng := radians(p.Lng)
	brg := radians(bearingDeg)
	d := meters / earthRadius

	lat2 := math.Asin(math.Sin(lat)*math.Cos(d) + math.Cos(lat)*math.Sin(d)*math.Cos(brg))
	lng2 := lng + math.Atan2(
		math.Sin(brg)*math.Sin(d)*math.Cos(lat),
		math.Cos(d)-math.Sin(lat)*math.Sin(lat2),
	)
	return Point{Lng: degrees(lng2), Lat: degrees(lat2)}
}

// Circle approximates a circle of the given radius around center as a closed
// ring with segments vertices. Vertices wind counterclockwise.
func Circle(center Point, radiusM float64, segments int) Ring {
	if segments < 3 {
		segments = 3
	}
	ring := make(Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := 360 - float64(i)*360/float64(segments)
		ring = append(ring, Destination(center, bearing, radiusM))
	}
	ring = append(ring, ring[0])
	return ring
}

// Length returns the total geodesic length of the path in meters.
func Length(p Path) float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += Distance(p[i-1], p[i])
	}
	return total
}

// CloseRing closes a trail into a ring by appending the first point.
// The input must have at least 3 points.
func CloseRing(p Path) Ring {
	ring := make(Ring, len(p), len(p)+1)
	copy(ring, p)
	if len(p) > 0 && p[0] != p[len(p)-1] {
		ring = append(ring, p[0])
	}
	return ring
}

// orientation of the ordered triplet (a, b, c):
// 0 collinear, 1 clockwise, 2 counterclockwise.
// At GPS segment scales a planar test on raw degrees is accurate enough.
func orientation(a, b, c Point) int {
	v := (b.Lat-a.Lat)*(c.Lng-b.Lng) - (b.Lng-a.Lng)*(c.Lat-b.Lat)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return 2
	default:
		return 0
	}
}

// onSegment reports whether collinear point p lies on segment ab.
func onSegment(a, b, p Point) bool {
	return p.Lng <= math.Max(a.Lng, b.Lng) && p.Lng >= math.Min(a.Lng, b.Lng) &&
		p.Lat <= math.Max(a.Lat, b.Lat) && p.Lat >= math.Min(a.Lat, b.Lat)
}

// SegmentsIntersect reports whether segments a1-a2 and b1-b2 intersect,
// including touching and collinear overlap.
func SegmentsIntersect(a1, a2, b1, b2 Point) bool {
	o1 := orientation(a1, a2, b1)
	o2 := orientation(a1, a2, b2)
	o3 := orientation(b1, b2, a1)
	o4 := orientation(b1, b2, a2)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(a1, a2, b1) {
		return true
	}
	if o2 == 0 && onSegment(a1, a2, b2) {
		return true
	}
	if o3 == 0 && onSegment(b1, b2, a1) {
		return true
	}
	if o4 == 0 && onSegment(b1, b2, a2) {
		return true
	}
	return false
}

// PathIntersectsSegment reports whether any segment of path crosses s1-s2.
func PathIntersectsSegment(path Path, s1, s2 Point) bool {
	for i := 1; i < len(path); i++ {
		if SegmentsIntersect(path[i-1], path[i], s1, s2) {
			return true
		}
	}
	return false
}

// Contains reports whether p is inside the ring using a ray cast.
// Points exactly on the boundary may report either way.
func (r Ring) Contains(p Point) bool {
	inside := false
	n := len(r)
	if n < 4 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, yj := r[i].Lat, r[j].Lat
		xi, xj := r[i].Lng, r[j].Lng
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lng < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Area returns the approximate geodesic area of the ring in square meters,
// computed with the shoelace formula on an equirectangular projection
// centered on the ring. Accurate to well under a percent at play scales.
func (r Ring) Area() float64 {
	if len(r) < 4 {
		return 0
	}
	var latSum float64
	for _, p := range r {
		latSum += p.Lat
	}
	cosLat := math.Cos(radians(latSum / float64(len(r))))
	mPerDegLat := radians(earthRadius)
	mPerDegLng := mPerDegLat * cosLat

	var sum float64
	for i := 1; i < len(r); i++ {
		x1, y1 := r[i-1].Lng*mPerDegLng, r[i-1].Lat*mPerDegLat
		x2, y2 := r[i].Lng*mPerDegLng, r[i].Lat*mPerDegLat
		sum += x1*y2 - x2*y1
	}
	return math.Abs(sum) / 2
}

// Centroid returns the area-weighted centroid of the largest ring in the
// polygon. Degenerate rings fall back to the vertex mean.
func Centroid(poly Polygon) Point {
	var best Ring
	var bestArea float64
	for _, ring := range poly {
		if a := ring.Area(); a >= bestArea {
			best, bestArea = ring, a
		}
	}
	if len(best) == 0 {
		return Point{}
	}

	// planar centroid on raw degrees is fine at territory scales
	var cx, cy, a float64
	for i := 1; i < len(best); i++ {
		cross := best[i-1].Lng*best[i].Lat - best[i].Lng*best[i-1].Lat
		cx += (best[i-1].Lng + best[i].Lng) * cross
		cy += (best[i-1].Lat + best[i].Lat) * cross
		a += cross
	}
	if a == 0 {
		var sum Point
		for _, p := range best[:len(best)-1] {
			sum.Lng += p.Lng
			sum.Lat += p.Lat
		}
		n := float64(len(best) - 1)
		return Point{Lng: sum.Lng / n, Lat: sum.Lat / n}
	}
	return Point{Lng: cx / (3 * a), Lat: cy / (3 * a)}
}

// MaxDistance returns the greatest distance in meters from p to any vertex
// of the polygon.
func MaxDistance(p Point, poly Polygon) float64 {
	var max float64
	for _, ring := range poly {
		for _, v := range ring {
			if d := Distance(p, v); d > max {
				max = d
			}
		}
	}
	return max
}
