package power_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/power"
	"github.com/landrun/landrun/store"
)

type fakePlayer struct {
	powers       map[landrun.Power]bool
	shieldOwned  bool
	shieldActive bool
}

type fakeOrder struct {
	player    landrun.PlayerID
	power     landrun.Power
	fulfilled bool
}

type fakeStore struct {
	players map[landrun.PlayerID]*fakePlayer
	orders  map[string]*fakeOrder
	chests  map[landrun.ChestID]bool
	nextID  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players: map[landrun.PlayerID]*fakePlayer{},
		orders:  map[string]*fakeOrder{},
		chests:  map[landrun.ChestID]bool{},
	}
}

func (f *fakeStore) addPlayer(id landrun.PlayerID, powers ...landrun.Power) {
	p := &fakePlayer{powers: map[landrun.Power]bool{}}
	for _, pw := range powers {
		p.powers[pw] = true
	}
	f.players[id] = p
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) PlayerForUpdate(_ context.Context, _ pgx.Tx, id landrun.PlayerID) (store.PlayerRow, error) {
	if _, ok := f.players[id]; !ok {
		return store.PlayerRow{}, store.ErrNotFound
	}
	return store.PlayerRow{ID: id}, nil
}

func (f *fakeStore) OwnedPowers(_ context.Context, _ pgx.Tx, id landrun.PlayerID) ([]landrun.Power, error) {
	var out []landrun.Power
	for _, p := range landrun.AllPowers() {
		if f.players[id].powers[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) HasPower(_ context.Context, _ pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error) {
	return f.players[id].powers[p], nil
}

func (f *fakeStore) GrantPower(_ context.Context, _ pgx.Tx, id landrun.PlayerID, p landrun.Power) error {
	pl, ok := f.players[id]
	if !ok {
		return store.ErrNotFound
	}
	pl.powers[p] = true
	return nil
}

func (f *fakeStore) RemovePower(_ context.Context, _ pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error) {
	pl := f.players[id]
	held := pl.powers[p]
	delete(pl.powers, p)
	return held, nil
}

func (f *fakeStore) SetShield(_ context.Context, _ pgx.Tx, id landrun.PlayerID, owned, active bool, _ *time.Time) error {
	pl := f.players[id]
	pl.shieldOwned, pl.shieldActive = owned, active
	return nil
}

func (f *fakeStore) CreateOrder(_ context.Context, player landrun.PlayerID, p landrun.Power) (string, error) {
	if f.players[player].powers[p] {
		return "", store.ErrAlreadyOwned
	}
	f.nextID++
	id := string(rune('a' + f.nextID))
	f.orders[id] = &fakeOrder{player: player, power: p}
	return id, nil
}

func (f *fakeStore) Order(_ context.Context, _ pgx.Tx, id string) (store.OrderRow, error) {
	o, ok := f.orders[id]
	if !ok {
		return store.OrderRow{}, store.ErrNotFound
	}
	return store.OrderRow{ID: id, Player: o.player, Power: o.power, Fulfilled: o.fulfilled}, nil
}

func (f *fakeStore) MarkFulfilled(_ context.Context, _ pgx.Tx, id string) error {
	f.orders[id].fulfilled = true
	return nil
}

func (f *fakeStore) ClaimChest(_ context.Context, id landrun.ChestID, _ landrun.PlayerID) (bool, error) {
	if !f.chests[id] {
		return false, nil
	}
	f.chests[id] = false
	return true, nil
}

func TestOrderAndGrant(t *testing.T) {
	f := newFakeStore()
	f.addPlayer("a")
	svc := power.NewService(f, nil)
	ctx := context.Background()

	id, err := svc.CreateOrder(ctx, "a", landrun.Infiltrator)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.GrantAfterPayment(ctx, id, false); !errors.Is(err, power.ErrPaymentNotVerified) {
		t.Fatalf("unverified payment err = %v", err)
	}
	player, p, err := svc.GrantAfterPayment(ctx, id, true)
	if err != nil {
		t.Fatal(err)
	}
	if player != "a" || p != landrun.Infiltrator {
		t.Errorf("granted %s to %s", p, player)
	}
	if !f.players["a"].powers[landrun.Infiltrator] {
		t.Error("power not in inventory after grant")
	}

	// redelivered payment callback changes nothing
	if _, _, err := svc.GrantAfterPayment(ctx, id, true); err != nil {
		t.Errorf("redelivery err = %v", err)
	}

	if _, err := svc.CreateOrder(ctx, "a", landrun.Infiltrator); !errors.Is(err, power.ErrAlreadyOwned) {
		t.Errorf("reorder err = %v, want ErrAlreadyOwned", err)
	}
}

func TestActivateLastStand(t *testing.T) {
	f := newFakeStore()
	f.addPlayer("a", landrun.LastStand)
	svc := power.NewService(f, nil)

	act, err := svc.Activate(context.Background(), "a", landrun.LastStand)
	if err != nil {
		t.Fatal(err)
	}
	if !act.ShieldRaised || act.RunScoped {
		t.Errorf("activation = %+v, want shield raised", act)
	}
	pl := f.players["a"]
	if !pl.shieldOwned || !pl.shieldActive {
		t.Error("shield flags not set")
	}
	// last stand stays owned until a hit consumes it
	if !pl.powers[landrun.LastStand] {
		t.Error("last stand left the inventory on activation")
	}
}

func TestActivateRunScoped(t *testing.T) {
	f := newFakeStore()
	f.addPlayer("a", landrun.GhostRunner)
	svc := power.NewService(f, nil)

	act, err := svc.Activate(context.Background(), "a", landrun.GhostRunner)
	if err != nil {
		t.Fatal(err)
	}
	if !act.RunScoped || act.ShieldRaised {
		t.Errorf("activation = %+v, want run scoped", act)
	}
	if f.players["a"].powers[landrun.GhostRunner] {
		t.Error("run-scoped power still owned after activation")
	}

	if _, err := svc.Activate(context.Background(), "a", landrun.TrailDefense); !errors.Is(err, power.ErrNotOwned) {
		t.Errorf("unowned activation err = %v", err)
	}
}

func TestPickupChest(t *testing.T) {
	f := newFakeStore()
	f.addPlayer("a", landrun.LastStand, landrun.Infiltrator)
	f.chests["box"] = true
	svc := power.NewService(f, nil)

	granted, ok, err := svc.PickupChest(context.Background(), "box", "a")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("pickup lost a race with nobody")
	}
	if len(granted) < 1 || len(granted) > 2 {
		t.Fatalf("granted %d powers, want 1 or 2", len(granted))
	}
	for _, p := range granted {
		if p == landrun.LastStand || p == landrun.Infiltrator {
			t.Errorf("granted already-owned power %s", p)
		}
		if !f.players["a"].powers[p] {
			t.Errorf("granted power %s missing from inventory", p)
		}
	}

	if _, ok, _ := svc.PickupChest(context.Background(), "box", "a"); ok {
		t.Error("claimed the same chest twice")
	}
}

func TestPickupChestAllOwned(t *testing.T) {
	f := newFakeStore()
	f.addPlayer("a", landrun.AllPowers()...)
	f.chests["box"] = true
	svc := power.NewService(f, nil)

	granted, ok, err := svc.PickupChest(context.Background(), "box", "a")
	if err != nil || !ok {
		t.Fatalf("pickup = %v, %v", ok, err)
	}
	if len(granted) != 0 {
		t.Errorf("granted %v to a player who owns everything", granted)
	}
}
