package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// EmptyPolygonWKT is the canonical representation for a territory with no
// remaining land. Territories are never stored as NULL.
const EmptyPolygonWKT = "POLYGON EMPTY"

// WKT encodes the point as POINT(lng lat).
func (p Point) WKT() string {
	return fmt.Sprintf("POINT(%s %s)", coord(p.Lng), coord(p.Lat))
}

// WKT encodes the path as a LINESTRING.
func (p Path) WKT() string {
	return "LINESTRING(" + joinCoords([]Point(p)) + ")"
}

// WKT encodes the ring as a single-ring POLYGON.
func (r Ring) WKT() string {
	if len(r) == 0 {
		return EmptyPolygonWKT
	}
	return "POLYGON((" + joinCoords([]Point(r)) + "))"
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinCoords(pts []Point) string {
	var b strings.Builder
	for i, p := range pts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(coord(p.Lng))
		b.WriteByte(' ')
		b.WriteString(coord(p.Lat))
	}
	return b.String()
}

// ParsePoint parses POINT(lng lat).
func ParsePoint(wkt string) (Point, error) {
	s := strings.TrimSpace(wkt)
	if !strings.HasPrefix(s, "POINT") {
		return Point{}, fmt.Errorf("geo.ParsePoint: not a point: %q", wkt)
	}
	s = strings.TrimPrefix(s, "POINT")
	s = strings.Trim(strings.TrimSpace(s), "()")
	pt, err := parseCoord(s)
	if err != nil {
		return Point{}, fmt.Errorf("geo.ParsePoint: %w", err)
	}
	return pt, nil
}

// ParsePolygon parses POLYGON and MULTIPOLYGON text into exterior rings.
// Interior rings are dropped: callers only need outlines for arena geometry
// and rendering, never for area math. POLYGON EMPTY parses to nil.
func ParsePolygon(wkt string) (Polygon, error) {
	s := strings.TrimSpace(wkt)
	multi := false
	switch {
	case strings.HasPrefix(s, "MULTIPOLYGON"):
		multi = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "MULTIPOLYGON"))
	case strings.HasPrefix(s, "POLYGON"):
		s = strings.TrimSpace(strings.TrimPrefix(s, "POLYGON"))
	default:
		return nil, fmt.Errorf("geo.ParsePolygon: not a polygon: %q", truncate(wkt))
	}
	if s == "EMPTY" {
		return nil, nil
	}
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("geo.ParsePolygon: malformed text: %q", truncate(wkt))
	}
	s = s[1 : len(s)-1]

	// a polygon body is a ring list "(ext),(hole),..."; a multipolygon body
	// is a list of parenthesized polygon bodies
	bodies := []string{s}
	if multi {
		bodies = bodies[:0]
		for _, group := range splitGroups(s) {
			if len(group) >= 2 && group[0] == '(' && group[len(group)-1] == ')' {
				group = group[1 : len(group)-1]
			}
			bodies = append(bodies, group)
		}
	}
	var poly Polygon
	for _, body := range bodies {
		// first ring is the exterior; holes are dropped
		ring, err := parseRing(splitGroups(body)[0])
		if err != nil {
			return nil, fmt.Errorf("geo.ParsePolygon: %w", err)
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

// splitGroups splits "(a),(b),(c)" at depth zero, tolerating a bare "a"
// with no parens.
func splitGroups(s string) []string {
	var groups []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				groups = append(groups, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	groups = append(groups, strings.TrimSpace(s[start:]))
	return groups
}

func parseRing(s string) (Ring, error) {
	s = strings.Trim(strings.TrimSpace(s), "()")
	parts := strings.Split(s, ",")
	ring := make(Ring, 0, len(parts))
	for _, part := range parts {
		pt, err := parseCoord(part)
		if err != nil {
			return nil, err
		}
		ring = append(ring, pt)
	}
	return ring, nil
}

func parseCoord(s string) (Point, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return Point{}, fmt.Errorf("bad coordinate %q", s)
	}
	lng, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("bad longitude %q", fields[0])
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("bad latitude %q", fields[1])
	}
	return Point{Lng: lng, Lat: lat}, nil
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
