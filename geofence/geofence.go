// Package geofence gates play to admin-defined zones. A point is valid
// only when it lies inside at least one allowed zone and outside every
// blocked zone; with no allowed zones configured nothing is valid.
package geofence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/store"
)

// Store is the zone persistence the service needs.
type Store interface {
	InsertZone(ctx context.Context, name string, kind landrun.ZoneKind, wkt string) (landrun.ZoneID, error)
	DeleteZone(ctx context.Context, id landrun.ZoneID) error
	ListZones(ctx context.Context) ([]store.ZoneRow, error)
}

type zone struct {
	row  store.ZoneRow
	poly geo.Polygon
}

type Service struct {
	store Store
	log   *slog.Logger

	mu      sync.RWMutex
	allowed []zone
	blocked []zone
	rows    []store.ZoneRow
}

func NewService(s Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, log: log}
}

// Load replaces the cached zone set from the store. Called at startup and
// after every zone mutation.
func (s *Service) Load(ctx context.Context) error {
	rows, err := s.store.ListZones(ctx)
	if err != nil {
		return fmt.Errorf("geofence.Load: %w", err)
	}
	var allowed, blocked []zone
	for _, row := range rows {
		poly, err := geo.ParsePolygon(row.Geom)
		if err != nil {
			// validated on insert, so this zone is corrupt; skipping an
			// allowed zone only shrinks the playable area
			s.log.Error("unparseable geofence zone skipped", "zone", row.ID, "error", err)
			continue
		}
		z := zone{row: row, poly: poly}
		if row.Kind == landrun.ZoneBlocked {
			blocked = append(blocked, z)
		} else {
			allowed = append(allowed, z)
		}
	}
	s.mu.Lock()
	s.allowed, s.blocked, s.rows = allowed, blocked, rows
	s.mu.Unlock()
	s.log.Info("geofence zones loaded", "allowed", len(allowed), "blocked", len(blocked))
	return nil
}

// IsValid reports whether play is permitted at the point. Fails closed.
func (s *Service) IsValid(p geo.Point) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allowed) == 0 {
		return false
	}
	inside := false
	for _, z := range s.allowed {
		if contains(z.poly, p) {
			inside = true
			break
		}
	}
	if !inside {
		return false
	}
	for _, z := range s.blocked {
		if contains(z.poly, p) {
			return false
		}
	}
	return true
}

// Zones returns the cached zone rows for the geofenceUpdate broadcast.
func (s *Service) Zones() []store.ZoneRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ZoneRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// AddFromKML parses an uploaded KML document and stores every polygon
// placemark as a zone of the given kind, then refreshes the cache.
func (s *Service) AddFromKML(ctx context.Context, kind landrun.ZoneKind, doc []byte) ([]landrun.ZoneID, error) {
	polys, err := ParseKML(doc)
	if err != nil {
		return nil, fmt.Errorf("geofence.AddFromKML: %w", err)
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("geofence.AddFromKML: document contains no polygons")
	}
	var ids []landrun.ZoneID
	for _, p := range polys {
		id, err := s.store.InsertZone(ctx, p.Name, kind, p.Ring.WKT())
		if err != nil {
			return ids, fmt.Errorf("geofence.AddFromKML: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, s.Load(ctx)
}

// Remove deletes a zone and refreshes the cache.
func (s *Service) Remove(ctx context.Context, id landrun.ZoneID) error {
	if err := s.store.DeleteZone(ctx, id); err != nil {
		return fmt.Errorf("geofence.Remove: %w", err)
	}
	return s.Load(ctx)
}

func contains(poly geo.Polygon, p geo.Point) bool {
	for _, ring := range poly {
		if ring.Contains(p) {
			return true
		}
	}
	return false
}
