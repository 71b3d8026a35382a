package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
)

// ErrAlreadyOwned is returned when a player orders a power they already hold.
var ErrAlreadyOwned = errors.New("store: power already owned")

// OrderRow is a pending or fulfilled superpower purchase.
type OrderRow struct {
	ID        string
	Player    landrun.PlayerID
	Power     landrun.Power
	Fulfilled bool
}

// CreateOrder opens a purchase order for a power the player does not yet
// hold. The ownership check and insert share a transaction so double
// ordering under concurrency still yields one grant.
func (s *Store) CreateOrder(ctx context.Context, player landrun.PlayerID, power landrun.Power) (string, error) {
	id := uuid.NewString()
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.PlayerForUpdate(ctx, tx, player); err != nil {
			return err
		}
		owned, err := s.HasPower(ctx, tx, player, power)
		if err != nil {
			return err
		}
		if owned {
			return ErrAlreadyOwned
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO orders (id, player_id, power) VALUES ($1, $2, $3)`,
			id, string(player), power.String())
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyOwned) || errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("store.CreateOrder: %w", err)
	}
	return id, nil
}

// Order loads an order by id.
func (s *Store) Order(ctx context.Context, tx pgx.Tx, id string) (OrderRow, error) {
	row := OrderRow{ID: id}
	var player, power string
	err := tx.QueryRow(ctx, `
SELECT player_id, power, fulfilled_at IS NOT NULL
FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&player, &power, &row.Fulfilled)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderRow{}, ErrNotFound
	}
	if err != nil {
		return OrderRow{}, fmt.Errorf("store.Order: %w", err)
	}
	row.Player = landrun.PlayerID(player)
	if row.Power, err = landrun.ParsePower(power); err != nil {
		return OrderRow{}, fmt.Errorf("store.Order: %w", err)
	}
	return row, nil
}

// MarkFulfilled stamps an order as paid. Idempotent.
func (s *Store) MarkFulfilled(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx,
		`UPDATE orders SET fulfilled_at = now() WHERE id = $1 AND fulfilled_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("store.MarkFulfilled: %w", err)
	}
	return nil
}
