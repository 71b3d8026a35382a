package geo_test

import (
	"math"
	"testing"

	"github.com/landrun/landrun/geo"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b geo.Point
		want float64 // meters
		tol  float64
	}{
		{"zero", geo.Point{}, geo.Point{}, 0, 0.001},
		{"one degree longitude at equator", geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 1, Lat: 0}, 111195, 50},
		{"one degree latitude", geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 0, Lat: 1}, 111195, 50},
		{"short hop", geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 0.0001, Lat: 0}, 11.1, 0.1},
	}
	for _, tt := range tests {
		got := geo.Distance(tt.a, tt.b)
		if math.Abs(got-tt.want) > tt.tol {
			t.Errorf("%s: Distance = %.2f, want %.2f ± %.2f", tt.name, got, tt.want, tt.tol)
		}
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	start := geo.Point{Lng: -0.1276, Lat: 51.5072}
	for _, bearing := range []float64{0, 45, 90, 180, 270} {
		dest := geo.Destination(start, bearing, 500)
		if d := geo.Distance(start, dest); math.Abs(d-500) > 0.5 {
			t.Errorf("bearing %v: moved %.2f m, want 500", bearing, d)
		}
	}
}

func TestCircleArea(t *testing.T) {
	circle := geo.Circle(geo.Point{Lng: 0, Lat: 0}, 30, 32)
	if circle[0] != circle[len(circle)-1] {
		t.Fatal("circle ring is not closed")
	}
	want := math.Pi * 30 * 30
	// a 32-gon underestimates the circle slightly
	if got := circle.Area(); math.Abs(got-want) > want*0.01 {
		t.Errorf("Area = %.1f, want ≈ %.1f", got, want)
	}
}

func TestSegmentsIntersect(t *testing.T) {
	tests := []struct {
		name           string
		a1, a2, b1, b2 geo.Point
		want           bool
	}{
		{
			"crossing",
			geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 1, Lat: 1},
			geo.Point{Lng: 0, Lat: 1}, geo.Point{Lng: 1, Lat: 0},
			true,
		},
		{
			"parallel",
			geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 1, Lat: 0},
			geo.Point{Lng: 0, Lat: 1}, geo.Point{Lng: 1, Lat: 1},
			false,
		},
		{
			"touching endpoint",
			geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 1, Lat: 0},
			geo.Point{Lng: 1, Lat: 0}, geo.Point{Lng: 2, Lat: 1},
			true,
		},
		{
			"collinear overlap",
			geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 2, Lat: 0},
			geo.Point{Lng: 1, Lat: 0}, geo.Point{Lng: 3, Lat: 0},
			true,
		},
		{
			"collinear disjoint",
			geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 1, Lat: 0},
			geo.Point{Lng: 2, Lat: 0}, geo.Point{Lng: 3, Lat: 0},
			false,
		},
		{
			"near miss",
			geo.Point{Lng: 0, Lat: 0}, geo.Point{Lng: 1, Lat: 1},
			geo.Point{Lng: 1.001, Lat: 0}, geo.Point{Lng: 2, Lat: 0.5},
			false,
		},
	}
	for _, tt := range tests {
		if got := geo.SegmentsIntersect(tt.a1, tt.a2, tt.b1, tt.b2); got != tt.want {
			t.Errorf("%s: SegmentsIntersect = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRingContains(t *testing.T) {
	square := geo.Ring{
		{Lng: 0, Lat: 0}, {Lng: 1, Lat: 0}, {Lng: 1, Lat: 1}, {Lng: 0, Lat: 1}, {Lng: 0, Lat: 0},
	}
	if !square.Contains(geo.Point{Lng: 0.5, Lat: 0.5}) {
		t.Error("center should be inside")
	}
	if square.Contains(geo.Point{Lng: 1.5, Lat: 0.5}) {
		t.Error("point east of the square should be outside")
	}
	if square.Contains(geo.Point{Lng: -0.5, Lat: -0.5}) {
		t.Error("point southwest of the square should be outside")
	}
}

func TestCloseRing(t *testing.T) {
	trail := geo.Path{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 0}, {Lng: 0, Lat: 1}}
	ring := geo.CloseRing(trail)
	if len(ring) != 4 {
		t.Fatalf("ring length = %d, want 4", len(ring))
	}
	if ring[0] != ring[3] {
		t.Error("ring is not closed")
	}
	// closing an already closed path must not double the join point
	closed := geo.CloseRing(geo.Path(ring))
	if len(closed) != 4 {
		t.Errorf("re-closing changed length to %d", len(closed))
	}
}

func TestParsePolygonRoundTrip(t *testing.T) {
	ring := geo.Ring{
		{Lng: 0, Lat: 0}, {Lng: 0.001, Lat: 0}, {Lng: 0.001, Lat: 0.001}, {Lng: 0, Lat: 0.001}, {Lng: 0, Lat: 0},
	}
	poly, err := geo.ParsePolygon(ring.WKT())
	if err != nil {
		t.Fatal(err)
	}
	if len(poly) != 1 || len(poly[0]) != 5 {
		t.Fatalf("unexpected shape: %v", poly)
	}
	if poly[0][2] != ring[2] {
		t.Errorf("vertex mismatch: %v != %v", poly[0][2], ring[2])
	}
}

func TestParsePolygonVariants(t *testing.T) {
	tests := []struct {
		name  string
		wkt   string
		rings int
		err   bool
	}{
		{"empty", "POLYGON EMPTY", 0, false},
		{"multipolygon", "MULTIPOLYGON(((0 0,1 0,1 1,0 0)),((2 2,3 2,3 3,2 2)))", 2, false},
		{"polygon with hole keeps exterior only", "POLYGON((0 0,4 0,4 4,0 4,0 0),(1 1,2 1,2 2,1 2,1 1))", 1, false},
		{"linestring rejected", "LINESTRING(0 0,1 1)", 0, true},
		{"garbage", "POLYGON((a b))", 0, true},
	}
	for _, tt := range tests {
		poly, err := geo.ParsePolygon(tt.wkt)
		if (err != nil) != tt.err {
			t.Errorf("%s: err = %v, want error %v", tt.name, err, tt.err)
			continue
		}
		if len(poly) != tt.rings {
			t.Errorf("%s: got %d rings, want %d", tt.name, len(poly), tt.rings)
		}
	}
}

func TestCentroid(t *testing.T) {
	square := geo.Polygon{{
		{Lng: 0, Lat: 0}, {Lng: 2, Lat: 0}, {Lng: 2, Lat: 2}, {Lng: 0, Lat: 2}, {Lng: 0, Lat: 0},
	}}
	c := geo.Centroid(square)
	if math.Abs(c.Lng-1) > 1e-9 || math.Abs(c.Lat-1) > 1e-9 {
		t.Errorf("Centroid = %v, want (1,1)", c)
	}
}

func TestSimilarity(t *testing.T) {
	ref := line(geo.Point{Lng: 0, Lat: 0}, 90, 500, 50)

	t.Run("identical paths score 1", func(t *testing.T) {
		if s := geo.Similarity(ref, ref, 50); s != 1 {
			t.Errorf("Similarity = %v, want 1", s)
		}
	})

	t.Run("15m offset scores 0.7", func(t *testing.T) {
		lap := make(geo.Path, len(ref))
		for i, p := range ref {
			lap[i] = geo.Destination(p, 0, 15)
		}
		s := geo.Similarity(ref, lap, 50)
		if math.Abs(s-0.7) > 0.005 {
			t.Errorf("Similarity = %v, want ≈ 0.7", s)
		}
	})

	t.Run("distant path scores 0", func(t *testing.T) {
		lap := make(geo.Path, len(ref))
		for i, p := range ref {
			lap[i] = geo.Destination(p, 0, 500)
		}
		if s := geo.Similarity(ref, lap, 50); s != 0 {
			t.Errorf("Similarity = %v, want 0", s)
		}
	})
}

// line builds a path of n points heading along bearing for meters total.
func line(start geo.Point, bearing, meters float64, n int) geo.Path {
	path := make(geo.Path, 0, n)
	for i := 0; i < n; i++ {
		path = append(path, geo.Destination(start, bearing, meters*float64(i)/float64(n-1)))
	}
	return path
}
