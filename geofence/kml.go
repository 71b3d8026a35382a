package geofence

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/Travis-Britz/structures/stack"

	"github.com/landrun/landrun/geo"
)

// NamedRing is one polygon outline lifted from a KML placemark.
type NamedRing struct {
	Name string
	Ring geo.Ring
}

type kmlDoc struct {
	Document kmlFolder `xml:"Document"`
}

type kmlFolder struct {
	Name       string         `xml:"name"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name     string       `xml:"name"`
	Polygons []kmlPolygon `xml:"Polygon"`
	Multi    struct {
		Polygons []kmlPolygon `xml:"Polygon"`
	} `xml:"MultiGeometry"`
}

type kmlPolygon struct {
	Coordinates string `xml:"outerBoundaryIs>LinearRing>coordinates"`
}

// ParseKML extracts every polygon placemark from a KML document,
// walking nested folders iteratively. Interior boundaries are ignored.
func ParseKML(doc []byte) ([]NamedRing, error) {
	var parsed kmlDoc
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("geofence.ParseKML: %w", err)
	}

	var rings []NamedRing
	frontier := &stack.Stack[*kmlFolder]{}
	for current, more := &parsed.Document, true; more; current, more = frontier.Pop() {
		for i := range current.Folders {
			frontier.Push(&current.Folders[i])
		}
		for _, pm := range current.Placemarks {
			polys := append(pm.Polygons, pm.Multi.Polygons...)
			for _, poly := range polys {
				ring, err := parseCoordinates(poly.Coordinates)
				if err != nil {
					return nil, fmt.Errorf("geofence.ParseKML: placemark %q: %w", pm.Name, err)
				}
				rings = append(rings, NamedRing{Name: pm.Name, Ring: ring})
			}
		}
	}
	return rings, nil
}

// parseCoordinates decodes the KML "lng,lat[,alt]" whitespace-separated
// coordinate list and closes the ring if the source left it open.
func parseCoordinates(s string) (geo.Ring, error) {
	var ring geo.Ring
	for _, tok := range strings.Fields(s) {
		parts := strings.Split(tok, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate %q", tok)
		}
		lng, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q", parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q", parts[1])
		}
		ring = append(ring, geo.Point{Lng: lng, Lat: lat})
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("ring has %d points, need at least 3", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring, nil
}
