package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
)

// ErrBaseAlreadySet is returned when a clan base placement races another and
// loses.
var ErrBaseAlreadySet = errors.New("store: clan base already set")

// ClanRow is a clan's identity and shared state.
type ClanRow struct {
	ID           landrun.ClanID
	Name         string
	Tag          string
	Leader       landrun.PlayerID
	Base         geo.Point
	HasBase      bool
	ShieldActive bool
}

// CreateClan registers a clan led by leader, who becomes its first member.
func (s *Store) CreateClan(ctx context.Context, name, tag string, leader landrun.PlayerID) (landrun.ClanID, error) {
	id := landrun.ClanID(uuid.NewString())
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO clans (id, name, tag, leader_id) VALUES ($1, $2, $3, $4)`,
			string(id), name, tag, string(leader)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO clan_members (clan_id, player_id) VALUES ($1, $2)`,
			string(id), string(leader))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("store.CreateClan: %w", err)
	}
	return id, nil
}

// Clan loads and locks a clan row.
func (s *Store) Clan(ctx context.Context, tx pgx.Tx, id landrun.ClanID) (ClanRow, error) {
	const q = `
SELECT name, tag, leader_id,
       COALESCE(ST_X(base), 0), COALESCE(ST_Y(base), 0), base IS NOT NULL,
       shield_active
FROM clans WHERE id = $1 FOR UPDATE`
	row := ClanRow{ID: id}
	var leader string
	err := tx.QueryRow(ctx, q, string(id)).Scan(
		&row.Name, &row.Tag, &leader,
		&row.Base.Lng, &row.Base.Lat, &row.HasBase,
		&row.ShieldActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClanRow{}, ErrNotFound
	}
	if err != nil {
		return ClanRow{}, fmt.Errorf("store.Clan: %w", err)
	}
	row.Leader = landrun.PlayerID(leader)
	return row, nil
}

// MemberClan returns the clan a player belongs to, or ok=false.
func (s *Store) MemberClan(ctx context.Context, tx pgx.Tx, player landrun.PlayerID) (landrun.ClanID, bool, error) {
	var id string
	err := tx.QueryRow(ctx,
		`SELECT clan_id FROM clan_members WHERE player_id = $1`, string(player)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store.MemberClan: %w", err)
	}
	return landrun.ClanID(id), true, nil
}

// AddMember adds a player to a clan. A player belongs to at most one clan.
func (s *Store) AddMember(ctx context.Context, clan landrun.ClanID, player landrun.PlayerID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clan_members (clan_id, player_id) VALUES ($1, $2)`,
		string(clan), string(player))
	if err != nil {
		return fmt.Errorf("store.AddMember: %w", err)
	}
	return nil
}

// ClanMembers lists a clan's member ids.
func (s *Store) ClanMembers(ctx context.Context, clan landrun.ClanID) ([]landrun.PlayerID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id FROM clan_members WHERE clan_id = $1 ORDER BY joined_at`, string(clan))
	if err != nil {
		return nil, fmt.Errorf("store.ClanMembers: %w", err)
	}
	defer rows.Close()
	var members []landrun.PlayerID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store.ClanMembers: %w", err)
		}
		members = append(members, landrun.PlayerID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.ClanMembers: %w", err)
	}
	return members, nil
}

// SetClanBase records the clan's base exactly once. A second placement,
// racing or otherwise, gets ErrBaseAlreadySet.
func (s *Store) SetClanBase(ctx context.Context, tx pgx.Tx, id landrun.ClanID, base geo.Point) error {
	tag, err := tx.Exec(ctx, `
UPDATE clans SET base = ST_SetSRID(ST_MakePoint($2, $3), 4326)
WHERE id = $1 AND base IS NULL`, string(id), base.Lng, base.Lat)
	if err != nil {
		return fmt.Errorf("store.SetClanBase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBaseAlreadySet
	}
	return nil
}

// SetClanShield toggles the clan-wide shield flag.
func (s *Store) SetClanShield(ctx context.Context, tx pgx.Tx, id landrun.ClanID, active bool) error {
	tag, err := tx.Exec(ctx,
		`UPDATE clans SET shield_active = $2 WHERE id = $1`, string(id), active)
	if err != nil {
		return fmt.Errorf("store.SetClanShield: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.SetClanShield: clan %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClanTerritory loads and locks a clan's territory. ErrNotFound before the
// first claim.
func (s *Store) ClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID) (TerritoryRow, error) {
	const q = `
SELECT ST_AsText(geom), area_m2, laps_required
FROM clan_territories WHERE clan_id = $1 FOR UPDATE`
	var row TerritoryRow
	err := tx.QueryRow(ctx, q, string(id)).Scan(&row.Geom, &row.Area, &row.LapsRequired)
	if errors.Is(err, pgx.ErrNoRows) {
		return TerritoryRow{}, ErrNotFound
	}
	if err != nil {
		return TerritoryRow{}, fmt.Errorf("store.ClanTerritory: %w", err)
	}
	return row, nil
}

// InitialClanTerritory creates (or resets) a clan's territory row.
func (s *Store) InitialClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID, geom string, area float64) error {
	const q = `
INSERT INTO clan_territories (clan_id, geom, area_m2, laps_required)
VALUES ($1, ST_Multi(ST_GeomFromText($2, 4326)), $3, 1)
ON CONFLICT (clan_id) DO UPDATE
SET geom = EXCLUDED.geom, area_m2 = EXCLUDED.area_m2, laps_required = 1`
	if _, err := tx.Exec(ctx, q, string(id), geom, area); err != nil {
		return geomErr("InitialClanTerritory", err)
	}
	return nil
}

// ReplaceClanTerritory overwrites a clan's territory geometry and area.
func (s *Store) ReplaceClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID, geom string, area float64) error {
	tag, err := tx.Exec(ctx, `
UPDATE clan_territories SET geom = ST_Multi(ST_GeomFromText($2, 4326)), area_m2 = $3
WHERE clan_id = $1`, string(id), geom, area)
	if err != nil {
		return geomErr("ReplaceClanTerritory", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.ReplaceClanTerritory: clan %s: %w", id, ErrNotFound)
	}
	return nil
}
