package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
)

// OwnerKind distinguishes the two territory tables.
type OwnerKind uint8

const (
	OwnerPlayer OwnerKind = iota
	OwnerClan
)

func (k OwnerKind) String() string {
	if k == OwnerClan {
		return "clan"
	}
	return "player"
}

// TerritoryRow is one owner's territory, locked FOR UPDATE when read inside
// a claim transaction.
type TerritoryRow struct {
	Owner        landrun.PlayerID
	Name         string
	Geom         string // WKT, MULTIPOLYGON EMPTY when wiped out
	Area         float64
	Base         geo.Point
	HasBase      bool
	LapsRequired int
}

// Victim is a territory holder whose land intersects a claim region. The
// shield flag is read from the owning player or clan under the same lock.
type Victim struct {
	ID           string
	Kind         OwnerKind
	Name         string
	Color        string // identity color, only filled by AllTerritories
	Geom         string
	Area         float64
	ShieldActive bool
	LapsRequired int
}

// PlayerID returns the victim id as a player id. Only valid for OwnerPlayer.
func (v Victim) PlayerID() landrun.PlayerID { return landrun.PlayerID(v.ID) }

// ClanID returns the victim id as a clan id. Only valid for OwnerClan.
func (v Victim) ClanID() landrun.ClanID { return landrun.ClanID(v.ID) }

// Clean repairs and normalizes input geometry, returning the polygonal
// component as multipolygon WKT together with its geographic area in m².
// Non-polygonal or unrepairable input comes back as ErrInvalidGeometry.
func (s *Store) Clean(ctx context.Context, tx pgx.Tx, wkt string) (string, float64, error) {
	const q = `
SELECT ST_AsText(g), ST_Area(g::geography)
FROM (SELECT ST_Multi(ST_CollectionExtract(ST_MakeValid(ST_GeomFromText($1, 4326)), 3)) AS g) s`
	var out string
	var area float64
	if err := tx.QueryRow(ctx, q, wkt).Scan(&out, &area); err != nil {
		return "", 0, geomErr("Clean", err)
	}
	return out, area, nil
}

// Union returns a ∪ b as multipolygon WKT with its area.
func (s *Store) Union(ctx context.Context, tx pgx.Tx, a, b string) (string, float64, error) {
	const q = `
SELECT ST_AsText(g), ST_Area(g::geography)
FROM (SELECT ST_Multi(ST_CollectionExtract(ST_MakeValid(
          ST_Union(ST_GeomFromText($1, 4326), ST_GeomFromText($2, 4326))), 3)) AS g) s`
	var out string
	var area float64
	if err := tx.QueryRow(ctx, q, a, b).Scan(&out, &area); err != nil {
		return "", 0, geomErr("Union", err)
	}
	return out, area, nil
}

// Difference returns a \ b as multipolygon WKT with its area.
func (s *Store) Difference(ctx context.Context, tx pgx.Tx, a, b string) (string, float64, error) {
	const q = `
SELECT ST_AsText(g), ST_Area(g::geography)
FROM (SELECT ST_Multi(ST_CollectionExtract(ST_MakeValid(
          ST_Difference(ST_GeomFromText($1, 4326), ST_GeomFromText($2, 4326))), 3)) AS g) s`
	var out string
	var area float64
	if err := tx.QueryRow(ctx, q, a, b).Scan(&out, &area); err != nil {
		return "", 0, geomErr("Difference", err)
	}
	return out, area, nil
}

// Intersects reports whether the two geometries share any interior or boundary.
func (s *Store) Intersects(ctx context.Context, tx pgx.Tx, a, b string) (bool, error) {
	const q = `SELECT ST_Intersects(ST_GeomFromText($1, 4326), ST_GeomFromText($2, 4326))`
	var ok bool
	if err := tx.QueryRow(ctx, q, a, b).Scan(&ok); err != nil {
		return false, geomErr("Intersects", err)
	}
	return ok, nil
}

// Area returns the geographic area of the WKT geometry in m².
func (s *Store) Area(ctx context.Context, tx pgx.Tx, wkt string) (float64, error) {
	const q = `SELECT ST_Area(ST_GeomFromText($1, 4326)::geography)`
	var area float64
	if err := tx.QueryRow(ctx, q, wkt).Scan(&area); err != nil {
		return 0, geomErr("Area", err)
	}
	return area, nil
}

// Territory loads and locks a player's territory row. ErrNotFound when the
// player has never claimed.
func (s *Store) Territory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID) (TerritoryRow, error) {
	const q = `
SELECT name, ST_AsText(geom), area_m2,
       COALESCE(ST_X(base), 0), COALESCE(ST_Y(base), 0), base IS NOT NULL,
       laps_required
FROM territories WHERE owner_id = $1 FOR UPDATE`
	row := TerritoryRow{Owner: owner}
	err := tx.QueryRow(ctx, q, string(owner)).Scan(
		&row.Name, &row.Geom, &row.Area,
		&row.Base.Lng, &row.Base.Lat, &row.HasBase,
		&row.LapsRequired,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return TerritoryRow{}, ErrNotFound
	}
	if err != nil {
		return TerritoryRow{}, fmt.Errorf("store.Territory: %w", err)
	}
	return row, nil
}

// FindIntersecting locks and returns every player and clan territory that
// intersects region, excluding the attacker and the attacker's clan. Rows
// come back ordered by owner id so concurrent claims always lock victims in
// the same order.
func (s *Store) FindIntersecting(ctx context.Context, tx pgx.Tx, region string, excludePlayer landrun.PlayerID, excludeClan landrun.ClanID) ([]Victim, error) {
	const players = `
SELECT t.owner_id, t.name, ST_AsText(t.geom), t.area_m2, p.shield_active, t.laps_required
FROM territories t
JOIN players p ON p.id = t.owner_id
WHERE t.owner_id <> $2
  AND NOT ST_IsEmpty(t.geom)
  AND ST_Intersects(t.geom, ST_GeomFromText($1, 4326))
ORDER BY t.owner_id
FOR UPDATE`
	const clans = `
SELECT t.clan_id, c.name, ST_AsText(t.geom), t.area_m2, c.shield_active, t.laps_required
FROM clan_territories t
JOIN clans c ON c.id = t.clan_id
WHERE t.clan_id <> $2
  AND NOT ST_IsEmpty(t.geom)
  AND ST_Intersects(t.geom, ST_GeomFromText($1, 4326))
ORDER BY t.clan_id
FOR UPDATE`

	var victims []Victim
	collect := func(q, exclude string, kind OwnerKind) error {
		rows, err := tx.Query(ctx, q, region, exclude)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			v := Victim{Kind: kind}
			if err := rows.Scan(&v.ID, &v.Name, &v.Geom, &v.Area, &v.ShieldActive, &v.LapsRequired); err != nil {
				return err
			}
			victims = append(victims, v)
		}
		return rows.Err()
	}
	if err := collect(players, string(excludePlayer), OwnerPlayer); err != nil {
		return nil, geomErr("FindIntersecting", err)
	}
	if err := collect(clans, string(excludeClan), OwnerClan); err != nil {
		return nil, geomErr("FindIntersecting", err)
	}
	return victims, nil
}

// AnyTerritoryWithin reports whether any territory (player or clan) comes
// within meters of the point. Used to keep new clan bases clear of existing
// land.
func (s *Store) AnyTerritoryWithin(ctx context.Context, tx pgx.Tx, p geo.Point, meters float64) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM territories
    WHERE NOT ST_IsEmpty(geom)
      AND ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
) OR EXISTS (
    SELECT 1 FROM clan_territories
    WHERE NOT ST_IsEmpty(geom)
      AND ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
)`
	var ok bool
	if err := tx.QueryRow(ctx, q, p.Lng, p.Lat, meters).Scan(&ok); err != nil {
		return false, fmt.Errorf("store.AnyTerritoryWithin: %w", err)
	}
	return ok, nil
}

// InitialTerritory creates (or resets) a player's territory row with a base.
func (s *Store) InitialTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, name, geom string, area float64, base geo.Point) error {
	const q = `
INSERT INTO territories (owner_id, name, geom, area_m2, base, laps_required)
VALUES ($1, $2, ST_Multi(ST_GeomFromText($3, 4326)), $4, ST_SetSRID(ST_MakePoint($5, $6), 4326), 1)
ON CONFLICT (owner_id) DO UPDATE
SET name = EXCLUDED.name, geom = EXCLUDED.geom, area_m2 = EXCLUDED.area_m2,
    base = EXCLUDED.base, laps_required = 1`
	if _, err := tx.Exec(ctx, q, string(owner), name, geom, area, base.Lng, base.Lat); err != nil {
		return geomErr("InitialTerritory", err)
	}
	return nil
}

// ReplaceTerritory overwrites a player's territory geometry and area.
func (s *Store) ReplaceTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, geom string, area float64) error {
	tag, err := tx.Exec(ctx, `
UPDATE territories SET geom = ST_Multi(ST_GeomFromText($2, 4326)), area_m2 = $3
WHERE owner_id = $1`, string(owner), geom, area)
	if err != nil {
		return geomErr("ReplaceTerritory", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.ReplaceTerritory: player %s: %w", owner, ErrNotFound)
	}
	return nil
}

// SetLapsRequired updates the conquest lap count for a player's territory.
func (s *Store) SetLapsRequired(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, laps int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE territories SET laps_required = $2 WHERE owner_id = $1`,
		string(owner), laps)
	if err != nil {
		return fmt.Errorf("store.SetLapsRequired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.SetLapsRequired: player %s: %w", owner, ErrNotFound)
	}
	return nil
}

// AllTerritories returns every non-empty territory without locking. Used by
// map snapshots and rendering, never inside a claim transaction.
func (s *Store) AllTerritories(ctx context.Context) ([]Victim, error) {
	const q = `
SELECT t.owner_id, t.name, p.identity_color, ST_AsText(t.geom), t.area_m2, p.shield_active, t.laps_required
FROM territories t
JOIN players p ON p.id = t.owner_id
WHERE NOT ST_IsEmpty(t.geom)
ORDER BY t.owner_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store.AllTerritories: %w", err)
	}
	defer rows.Close()
	var all []Victim
	for rows.Next() {
		v := Victim{Kind: OwnerPlayer}
		if err := rows.Scan(&v.ID, &v.Name, &v.Color, &v.Geom, &v.Area, &v.ShieldActive, &v.LapsRequired); err != nil {
			return nil, fmt.Errorf("store.AllTerritories: %w", err)
		}
		all = append(all, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.AllTerritories: %w", err)
	}
	return all, nil
}
