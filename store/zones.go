package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
)

// ZoneRow is a geofence zone boundary.
type ZoneRow struct {
	ID   landrun.ZoneID
	Name string
	Kind landrun.ZoneKind
	Geom string // WKT multipolygon
}

// InsertZone stores a geofence zone parsed from KML.
func (s *Store) InsertZone(ctx context.Context, name string, kind landrun.ZoneKind, wkt string) (landrun.ZoneID, error) {
	id := landrun.ZoneID(uuid.NewString())
	_, err := s.pool.Exec(ctx, `
INSERT INTO geofence_zones (id, name, kind, geom)
VALUES ($1, $2, $3, ST_Multi(ST_CollectionExtract(ST_MakeValid(ST_GeomFromText($4, 4326)), 3)))`,
		string(id), name, kind.String(), wkt)
	if err != nil {
		return "", geomErr("InsertZone", err)
	}
	return id, nil
}

// DeleteZone removes a zone.
func (s *Store) DeleteZone(ctx context.Context, id landrun.ZoneID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM geofence_zones WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("store.DeleteZone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.DeleteZone: zone %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListZones returns every geofence zone with its boundary text.
func (s *Store) ListZones(ctx context.Context) ([]ZoneRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, kind, ST_AsText(geom) FROM geofence_zones ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store.ListZones: %w", err)
	}
	defer rows.Close()
	var zones []ZoneRow
	for rows.Next() {
		var z ZoneRow
		var id, kind string
		if err := rows.Scan(&id, &z.Name, &kind, &z.Geom); err != nil {
			return nil, fmt.Errorf("store.ListZones: %w", err)
		}
		z.ID = landrun.ZoneID(id)
		if z.Kind, err = landrun.ParseZoneKind(kind); err != nil {
			return nil, fmt.Errorf("store.ListZones: %w", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.ListZones: %w", err)
	}
	return zones, nil
}

// ChestRow is a spawned treasure chest.
type ChestRow struct {
	ID       landrun.ChestID
	Location geo.Point
	Active   bool
}

// SpawnChest places a new active chest.
func (s *Store) SpawnChest(ctx context.Context, at geo.Point) (landrun.ChestID, error) {
	id := landrun.ChestID(uuid.NewString())
	_, err := s.pool.Exec(ctx, `
INSERT INTO chests (id, location) VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326))`,
		string(id), at.Lng, at.Lat)
	if err != nil {
		return "", fmt.Errorf("store.SpawnChest: %w", err)
	}
	return id, nil
}

// ActiveChests lists unclaimed chests.
func (s *Store) ActiveChests(ctx context.Context) ([]ChestRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ST_X(location), ST_Y(location) FROM chests WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store.ActiveChests: %w", err)
	}
	defer rows.Close()
	var chests []ChestRow
	for rows.Next() {
		c := ChestRow{Active: true}
		var id string
		if err := rows.Scan(&id, &c.Location.Lng, &c.Location.Lat); err != nil {
			return nil, fmt.Errorf("store.ActiveChests: %w", err)
		}
		c.ID = landrun.ChestID(id)
		chests = append(chests, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.ActiveChests: %w", err)
	}
	return chests, nil
}

// ClaimChest atomically deactivates a chest for the claiming player and
// reports whether this claim got there first.
func (s *Store) ClaimChest(ctx context.Context, id landrun.ChestID, by landrun.PlayerID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE chests SET active = false, claimed_by = $2, claimed_at = now()
WHERE id = $1 AND active`, string(id), string(by))
	if err != nil {
		return false, fmt.Errorf("store.ClaimChest: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
