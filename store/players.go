package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
)

// PlayerRow is the mutable per-player state outside territory geometry.
type PlayerRow struct {
	ID                landrun.PlayerID
	Name              string
	IdentityColor     string
	ShieldOwned       bool
	ShieldActive      bool
	ShieldActivatedAt *time.Time
	CarveMode         bool
	BannedUntil       *time.Time
}

// Banned reports whether the player is banned as of now.
func (p PlayerRow) Banned(now time.Time) bool {
	return p.BannedUntil != nil && p.BannedUntil.After(now)
}

// UpsertPlayer registers a player on first connect and refreshes the display
// name on later ones.
func (s *Store) UpsertPlayer(ctx context.Context, id landrun.PlayerID, name string) error {
	const q = `
INSERT INTO players (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`
	if _, err := s.pool.Exec(ctx, q, string(id), name); err != nil {
		return fmt.Errorf("store.UpsertPlayer: %w", err)
	}
	return nil
}

// Player reads player state without locking.
func (s *Store) Player(ctx context.Context, id landrun.PlayerID) (PlayerRow, error) {
	return scanPlayer(s.pool.QueryRow(ctx, playerQuery, string(id)), id)
}

// PlayerForUpdate reads and locks player state inside a claim transaction.
// Locking the player row first gives every writer touching the same player a
// single serialization point.
func (s *Store) PlayerForUpdate(ctx context.Context, tx pgx.Tx, id landrun.PlayerID) (PlayerRow, error) {
	return scanPlayer(tx.QueryRow(ctx, playerQuery+" FOR UPDATE", string(id)), id)
}

const playerQuery = `
SELECT name, identity_color, shield_owned, shield_active, shield_activated_at, carve_mode, banned_until
FROM players WHERE id = $1`

func scanPlayer(row pgx.Row, id landrun.PlayerID) (PlayerRow, error) {
	p := PlayerRow{ID: id}
	err := row.Scan(&p.Name, &p.IdentityColor, &p.ShieldOwned, &p.ShieldActive,
		&p.ShieldActivatedAt, &p.CarveMode, &p.BannedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlayerRow{}, ErrNotFound
	}
	if err != nil {
		return PlayerRow{}, fmt.Errorf("store: scan player %s: %w", id, err)
	}
	return p, nil
}

// OwnedPowers lists the superpowers a player currently holds.
func (s *Store) OwnedPowers(ctx context.Context, tx pgx.Tx, id landrun.PlayerID) ([]landrun.Power, error) {
	rows, err := tx.Query(ctx,
		`SELECT power FROM superpowers WHERE owner_id = $1 ORDER BY power`, string(id))
	if err != nil {
		return nil, fmt.Errorf("store.OwnedPowers: %w", err)
	}
	defer rows.Close()
	var powers []landrun.Power
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store.OwnedPowers: %w", err)
		}
		p, err := landrun.ParsePower(name)
		if err != nil {
			return nil, fmt.Errorf("store.OwnedPowers: %w", err)
		}
		powers = append(powers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.OwnedPowers: %w", err)
	}
	return powers, nil
}

// HasPower reports whether the player holds the given power.
func (s *Store) HasPower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM superpowers WHERE owner_id = $1 AND power = $2)`,
		string(id), p.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("store.HasPower: %w", err)
	}
	return ok, nil
}

// GrantPower gives the player a power. Granting an already-held power is a
// no-op, so payment callbacks can be delivered more than once.
func (s *Store) GrantPower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) error {
	_, err := tx.Exec(ctx, `
INSERT INTO superpowers (owner_id, power) VALUES ($1, $2)
ON CONFLICT (owner_id, power) DO NOTHING`, string(id), p.String())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return fmt.Errorf("store.GrantPower: player %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("store.GrantPower: %w", err)
	}
	return nil
}

// RemovePower consumes a power and reports whether the player actually held it.
func (s *Store) RemovePower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error) {
	tag, err := tx.Exec(ctx,
		`DELETE FROM superpowers WHERE owner_id = $1 AND power = $2`,
		string(id), p.String())
	if err != nil {
		return false, fmt.Errorf("store.RemovePower: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetShield writes both shield flags and the activation timestamp.
func (s *Store) SetShield(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, owned, active bool, activatedAt *time.Time) error {
	tag, err := tx.Exec(ctx, `
UPDATE players SET shield_owned = $2, shield_active = $3, shield_activated_at = $4
WHERE id = $1`, string(id), owned, active, activatedAt)
	if err != nil {
		return fmt.Errorf("store.SetShield: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.SetShield: player %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetCarveMode toggles the infiltrator carve flag.
func (s *Store) SetCarveMode(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, on bool) error {
	tag, err := tx.Exec(ctx,
		`UPDATE players SET carve_mode = $2 WHERE id = $1`, string(id), on)
	if err != nil {
		return fmt.Errorf("store.SetCarveMode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.SetCarveMode: player %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetIdentityColor stores a player's chosen map color.
func (s *Store) SetIdentityColor(ctx context.Context, id landrun.PlayerID, color string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET identity_color = $2 WHERE id = $1`, string(id), color)
	if err != nil {
		return fmt.Errorf("store.SetIdentityColor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.SetIdentityColor: player %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetBanned bans a player until the given time; a nil until lifts the ban.
func (s *Store) SetBanned(ctx context.Context, id landrun.PlayerID, until *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET banned_until = $2 WHERE id = $1`, string(id), until)
	if err != nil {
		return fmt.Errorf("store.SetBanned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store.SetBanned: player %s: %w", id, ErrNotFound)
	}
	return nil
}

// ExpireShields deactivates every shield activated before cutoff and removes
// the backing power, returning the ids whose shields dropped. Runs in its own
// transaction since the ticker calls it outside any claim.
func (s *Store) ExpireShields(ctx context.Context, cutoff time.Time) ([]landrun.PlayerID, error) {
	var expired []landrun.PlayerID
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
UPDATE players SET shield_owned = false, shield_active = false, shield_activated_at = NULL
WHERE shield_active AND shield_activated_at < $1
RETURNING id`, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			expired = append(expired, landrun.PlayerID(id))
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range expired {
			if _, err := s.RemovePower(ctx, tx, id, landrun.LastStand); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store.ExpireShields: %w", err)
	}
	return expired, nil
}

// SavePosition appends a position snapshot for trail audit history.
func (s *Store) SavePosition(ctx context.Context, id landrun.PlayerID, lng, lat float64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO position_snapshots (player_id, location, recorded_at)
VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326), $4)`, string(id), lng, lat, at)
	if err != nil {
		return fmt.Errorf("store.SavePosition: %w", err)
	}
	return nil
}
