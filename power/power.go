// Package power manages the superpower inventory: purchase orders, payment
// grants, activation, and chest pickups. Every mutation locks the owner row
// first so concurrent activations and grants serialize per player.
package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/store"
)

var (
	ErrNotOwned           = errors.New("power: not owned")
	ErrAlreadyOwned       = errors.New("power: already owned")
	ErrPaymentNotVerified = errors.New("power: payment not verified")
)

// Store is the persistence surface the inventory needs.
type Store interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	PlayerForUpdate(ctx context.Context, tx pgx.Tx, id landrun.PlayerID) (store.PlayerRow, error)
	OwnedPowers(ctx context.Context, tx pgx.Tx, id landrun.PlayerID) ([]landrun.Power, error)
	HasPower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error)
	GrantPower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) error
	RemovePower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error)
	SetShield(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, owned, active bool, activatedAt *time.Time) error

	CreateOrder(ctx context.Context, player landrun.PlayerID, power landrun.Power) (string, error)
	Order(ctx context.Context, tx pgx.Tx, id string) (store.OrderRow, error)
	MarkFulfilled(ctx context.Context, tx pgx.Tx, id string) error
	ClaimChest(ctx context.Context, id landrun.ChestID, by landrun.PlayerID) (bool, error)
}

// Activation is the outcome of activating a power. ShieldRaised means a
// last stand went live; RunScoped powers hand a session flag back to the
// caller.
type Activation struct {
	Power        landrun.Power
	ShieldRaised bool
	RunScoped    bool
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
	randn func(n int) int
}

func NewService(s Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, log: log, now: time.Now, randn: rand.Intn}
}

// CreateOrder opens a purchase order. Ordering an owned power is rejected.
func (s *Service) CreateOrder(ctx context.Context, player landrun.PlayerID, p landrun.Power) (string, error) {
	id, err := s.store.CreateOrder(ctx, player, p)
	if errors.Is(err, store.ErrAlreadyOwned) {
		return "", ErrAlreadyOwned
	}
	if err != nil {
		return "", fmt.Errorf("power.CreateOrder: %w", err)
	}
	s.log.Info("superpower order created", "order", id, "player", player, "power", p)
	return id, nil
}

// GrantAfterPayment fulfills an order once the payment boundary verified it.
// Redelivered callbacks are harmless: the grant is idempotent.
func (s *Service) GrantAfterPayment(ctx context.Context, orderID string, verified bool) (landrun.PlayerID, landrun.Power, error) {
	if !verified {
		return "", landrun.PowerUnknown, ErrPaymentNotVerified
	}
	var player landrun.PlayerID
	var p landrun.Power
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		order, err := s.store.Order(ctx, tx, orderID)
		if err != nil {
			return err
		}
		player, p = order.Player, order.Power
		if err := s.store.MarkFulfilled(ctx, tx, orderID); err != nil {
			return err
		}
		return s.store.GrantPower(ctx, tx, player, p)
	})
	if err != nil {
		return "", landrun.PowerUnknown, fmt.Errorf("power.GrantAfterPayment: %w", err)
	}
	s.log.Info("superpower granted", "order", orderID, "player", player, "power", p)
	return player, p, nil
}

// Activate turns an owned power on. A last stand raises the shield and
// stays owned until a hit consumes it; every other power leaves the
// inventory now and lives as a run-scoped session flag.
func (s *Service) Activate(ctx context.Context, player landrun.PlayerID, p landrun.Power) (Activation, error) {
	act := Activation{Power: p}
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.store.PlayerForUpdate(ctx, tx, player); err != nil {
			return err
		}
		owned, err := s.store.HasPower(ctx, tx, player, p)
		if err != nil {
			return err
		}
		if !owned {
			return ErrNotOwned
		}
		if p == landrun.LastStand {
			now := s.now()
			act.ShieldRaised = true
			return s.store.SetShield(ctx, tx, player, true, true, &now)
		}
		act.RunScoped = true
		_, err = s.store.RemovePower(ctx, tx, player, p)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotOwned) {
			return Activation{}, ErrNotOwned
		}
		return Activation{}, fmt.Errorf("power.Activate: %w", err)
	}
	return act, nil
}

// PickupChest claims a chest for the player and grants one or two random
// powers they do not already hold. ok is false when another player claimed
// the chest first.
func (s *Service) PickupChest(ctx context.Context, chest landrun.ChestID, player landrun.PlayerID) ([]landrun.Power, bool, error) {
	got, err := s.store.ClaimChest(ctx, chest, player)
	if err != nil {
		return nil, false, fmt.Errorf("power.PickupChest: %w", err)
	}
	if !got {
		return nil, false, nil
	}

	var granted []landrun.Power
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		granted = granted[:0]
		if _, err := s.store.PlayerForUpdate(ctx, tx, player); err != nil {
			return err
		}
		owned, err := s.store.OwnedPowers(ctx, tx, player)
		if err != nil {
			return err
		}
		held := map[landrun.Power]bool{}
		for _, p := range owned {
			held[p] = true
		}
		var pool []landrun.Power
		for _, p := range landrun.AllPowers() {
			if !held[p] {
				pool = append(pool, p)
			}
		}
		count := 1 + s.randn(2)
		for len(granted) < count && len(pool) > 0 {
			i := s.randn(len(pool))
			p := pool[i]
			pool = append(pool[:i], pool[i+1:]...)
			if err := s.store.GrantPower(ctx, tx, player, p); err != nil {
				return err
			}
			granted = append(granted, p)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("power.PickupChest: %w", err)
	}
	s.log.Info("chest claimed", "chest", chest, "player", player, "granted", len(granted))
	return granted, true, nil
}
