package claim_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/claim"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/store"
)

// The fake store rasterizes every polygon onto a 2 m grid near the equator
// and runs union/difference/area as cell-set operations, so resolver logic
// can be exercised without PostGIS. Areas are therefore approximate; tests
// assert within a few percent.

const (
	cellM   = 2.0
	mPerDeg = 111194.9
)

type cell [2]int

type cellSet map[cell]struct{}

type fakeTerr struct {
	name string
	geom string
	area float64
	base geo.Point
	laps int
}

type fakeStore struct {
	nextID   int
	geoms    map[string]cellSet
	players  map[landrun.PlayerID]store.PlayerRow
	powers   map[landrun.PlayerID]map[landrun.Power]struct{}
	terr     map[landrun.PlayerID]fakeTerr
	clans    map[landrun.ClanID]store.ClanRow
	members  map[landrun.PlayerID]landrun.ClanID
	clanTerr map[landrun.ClanID]fakeTerr
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		geoms:    map[string]cellSet{},
		players:  map[landrun.PlayerID]store.PlayerRow{},
		powers:   map[landrun.PlayerID]map[landrun.Power]struct{}{},
		terr:     map[landrun.PlayerID]fakeTerr{},
		clans:    map[landrun.ClanID]store.ClanRow{},
		members:  map[landrun.PlayerID]landrun.ClanID{},
		clanTerr: map[landrun.ClanID]fakeTerr{},
	}
}

func (f *fakeStore) snapshot() *fakeStore {
	c := newFakeStore()
	c.nextID = f.nextID
	for k, v := range f.geoms {
		c.geoms[k] = v
	}
	for k, v := range f.players {
		c.players[k] = v
	}
	for k, v := range f.powers {
		set := map[landrun.Power]struct{}{}
		for p := range v {
			set[p] = struct{}{}
		}
		c.powers[k] = set
	}
	for k, v := range f.terr {
		c.terr[k] = v
	}
	for k, v := range f.clans {
		c.clans[k] = v
	}
	for k, v := range f.members {
		c.members[k] = v
	}
	for k, v := range f.clanTerr {
		c.clanTerr[k] = v
	}
	return c
}

func (f *fakeStore) restore(snap *fakeStore) { *f = *snap }

func (f *fakeStore) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	snap := f.snapshot()
	if err := fn(nil); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) register(cells cellSet) string {
	f.nextID++
	key := fmt.Sprintf("g%d", f.nextID)
	f.geoms[key] = cells
	return key
}

func (f *fakeStore) cells(g string) cellSet {
	if set, ok := f.geoms[g]; ok {
		return set
	}
	if g == geo.EmptyPolygonWKT || g == "" {
		return cellSet{}
	}
	poly, err := geo.ParsePolygon(g)
	if err != nil {
		panic("fake store: unparseable geometry " + g)
	}
	return rasterize(poly)
}

func rasterize(poly geo.Polygon) cellSet {
	set := cellSet{}
	for _, ring := range poly {
		minX, minY := math.MaxInt32, math.MaxInt32
		maxX, maxY := math.MinInt32, math.MinInt32
		for _, p := range ring {
			x, y := int(math.Floor(p.Lng*mPerDeg/cellM)), int(math.Floor(p.Lat*mPerDeg/cellM))
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				center := geo.Point{
					Lng: (float64(x) + 0.5) * cellM / mPerDeg,
					Lat: (float64(y) + 0.5) * cellM / mPerDeg,
				}
				if ring.Contains(center) {
					set[cell{x, y}] = struct{}{}
				}
			}
		}
	}
	return set
}

func area(set cellSet) float64 { return float64(len(set)) * cellM * cellM }

func (f *fakeStore) Clean(ctx context.Context, tx pgx.Tx, wkt string) (string, float64, error) {
	set := f.cells(wkt)
	return f.register(set), area(set), nil
}

func (f *fakeStore) Union(ctx context.Context, tx pgx.Tx, a, b string) (string, float64, error) {
	out := cellSet{}
	for c := range f.cells(a) {
		out[c] = struct{}{}
	}
	for c := range f.cells(b) {
		out[c] = struct{}{}
	}
	return f.register(out), area(out), nil
}

func (f *fakeStore) Difference(ctx context.Context, tx pgx.Tx, a, b string) (string, float64, error) {
	sub := f.cells(b)
	out := cellSet{}
	for c := range f.cells(a) {
		if _, hit := sub[c]; !hit {
			out[c] = struct{}{}
		}
	}
	return f.register(out), area(out), nil
}

func (f *fakeStore) Intersects(ctx context.Context, tx pgx.Tx, a, b string) (bool, error) {
	bs := f.cells(b)
	for c := range f.cells(a) {
		if _, hit := bs[c]; hit {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) PlayerForUpdate(ctx context.Context, tx pgx.Tx, id landrun.PlayerID) (store.PlayerRow, error) {
	p, ok := f.players[id]
	if !ok {
		return store.PlayerRow{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) Territory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID) (store.TerritoryRow, error) {
	t, ok := f.terr[owner]
	if !ok {
		return store.TerritoryRow{}, store.ErrNotFound
	}
	return store.TerritoryRow{
		Owner: owner, Name: t.name, Geom: t.geom, Area: t.area,
		Base: t.base, HasBase: true, LapsRequired: t.laps,
	}, nil
}

func (f *fakeStore) FindIntersecting(ctx context.Context, tx pgx.Tx, region string, excludePlayer landrun.PlayerID, excludeClan landrun.ClanID) ([]store.Victim, error) {
	var victims []store.Victim
	for id, t := range f.terr {
		if id == excludePlayer || t.area == 0 {
			continue
		}
		if hit, _ := f.Intersects(ctx, tx, t.geom, region); hit {
			victims = append(victims, store.Victim{
				ID: string(id), Kind: store.OwnerPlayer, Name: t.name,
				Geom: t.geom, Area: t.area,
				ShieldActive: f.players[id].ShieldActive,
			})
		}
	}
	for id, t := range f.clanTerr {
		if (excludeClan != "" && id == excludeClan) || t.area == 0 {
			continue
		}
		if hit, _ := f.Intersects(ctx, tx, t.geom, region); hit {
			victims = append(victims, store.Victim{
				ID: string(id), Kind: store.OwnerClan, Name: f.clans[id].Name,
				Geom: t.geom, Area: t.area,
				ShieldActive: f.clans[id].ShieldActive,
			})
		}
	}
	// deterministic victim order, players before clans, ascending id
	for i := range victims {
		for j := i + 1; j < len(victims); j++ {
			less := victims[j].Kind < victims[i].Kind ||
				(victims[j].Kind == victims[i].Kind && victims[j].ID < victims[i].ID)
			if less {
				victims[i], victims[j] = victims[j], victims[i]
			}
		}
	}
	return victims, nil
}

func (f *fakeStore) InitialTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, name, geom string, a float64, base geo.Point) error {
	f.terr[owner] = fakeTerr{name: name, geom: geom, area: a, base: base, laps: 1}
	return nil
}

func (f *fakeStore) ReplaceTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, geom string, a float64) error {
	t, ok := f.terr[owner]
	if !ok {
		return store.ErrNotFound
	}
	t.geom, t.area = geom, a
	f.terr[owner] = t
	return nil
}

func (f *fakeStore) SetShield(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, owned, active bool, at *time.Time) error {
	p, ok := f.players[id]
	if !ok {
		return store.ErrNotFound
	}
	p.ShieldOwned, p.ShieldActive, p.ShieldActivatedAt = owned, active, at
	f.players[id] = p
	return nil
}

func (f *fakeStore) SetCarveMode(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, on bool) error {
	p, ok := f.players[id]
	if !ok {
		return store.ErrNotFound
	}
	p.CarveMode = on
	f.players[id] = p
	return nil
}

func (f *fakeStore) RemovePower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error) {
	set, ok := f.powers[id]
	if !ok {
		return false, nil
	}
	if _, held := set[p]; !held {
		return false, nil
	}
	delete(set, p)
	return true, nil
}

func (f *fakeStore) MemberClan(ctx context.Context, tx pgx.Tx, player landrun.PlayerID) (landrun.ClanID, bool, error) {
	id, ok := f.members[player]
	return id, ok, nil
}

func (f *fakeStore) Clan(ctx context.Context, tx pgx.Tx, id landrun.ClanID) (store.ClanRow, error) {
	c, ok := f.clans[id]
	if !ok {
		return store.ClanRow{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) SetClanBase(ctx context.Context, tx pgx.Tx, id landrun.ClanID, base geo.Point) error {
	c, ok := f.clans[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.HasBase {
		return store.ErrBaseAlreadySet
	}
	c.Base, c.HasBase = base, true
	f.clans[id] = c
	return nil
}

func (f *fakeStore) SetClanShield(ctx context.Context, tx pgx.Tx, id landrun.ClanID, active bool) error {
	c, ok := f.clans[id]
	if !ok {
		return store.ErrNotFound
	}
	c.ShieldActive = active
	f.clans[id] = c
	return nil
}

func (f *fakeStore) ClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID) (store.TerritoryRow, error) {
	t, ok := f.clanTerr[id]
	if !ok {
		return store.TerritoryRow{}, store.ErrNotFound
	}
	return store.TerritoryRow{Geom: t.geom, Area: t.area, LapsRequired: t.laps}, nil
}

func (f *fakeStore) InitialClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID, geom string, a float64) error {
	f.clanTerr[id] = fakeTerr{geom: geom, area: a, laps: 1}
	return nil
}

func (f *fakeStore) ReplaceClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID, geom string, a float64) error {
	t, ok := f.clanTerr[id]
	if !ok {
		return store.ErrNotFound
	}
	t.geom, t.area = geom, a
	f.clanTerr[id] = t
	return nil
}

// test helpers

func addPlayer(f *fakeStore, id landrun.PlayerID) {
	f.players[id] = store.PlayerRow{ID: id, Name: strings.ToUpper(string(id))}
	f.powers[id] = map[landrun.Power]struct{}{}
}

func shield(f *fakeStore, id landrun.PlayerID) {
	p := f.players[id]
	p.ShieldOwned, p.ShieldActive = true, true
	f.players[id] = p
	f.powers[id][landrun.LastStand] = struct{}{}
}

// rect builds a closed ring covering [x1,x2]×[y1,y2] in meters east/north of
// the origin.
func rect(x1, y1, x2, y2 float64) geo.Ring {
	pt := func(x, y float64) geo.Point {
		return geo.Point{Lng: x / mPerDeg, Lat: y / mPerDeg}
	}
	return geo.Ring{pt(x1, y1), pt(x2, y1), pt(x2, y2), pt(x1, y2), pt(x1, y1)}
}

func seedTerritory(f *fakeStore, id landrun.PlayerID, r geo.Ring) {
	set := rasterize(geo.Polygon{r})
	f.terr[id] = fakeTerr{name: strings.ToUpper(string(id)), geom: f.register(set), area: area(set), laps: 1}
}

func seedClanTerritory(f *fakeStore, id landrun.ClanID, r geo.Ring) {
	set := rasterize(geo.Polygon{r})
	f.clanTerr[id] = fakeTerr{geom: f.register(set), area: area(set), laps: 1}
}

func approx(t *testing.T, label string, got, want, pct float64) {
	t.Helper()
	tol := want * pct / 100
	if tol < 4*cellM*cellM {
		tol = 4 * cellM * cellM
	}
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.1f, want ≈ %.1f (±%.1f)", label, got, want, tol)
	}
}

func resolve(t *testing.T, f *fakeStore, req claim.Request) claim.Result {
	t.Helper()
	res, err := claim.NewResolver(f, nil, nil).Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return res
}

func TestFirstBase(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")

	res := resolve(t, f, claim.Request{
		Player: "a", Name: "A", Mode: landrun.ModeSolo,
		Base: &claim.BaseClaim{Point: geo.Point{}, Radius: 30},
	})
	if !res.Accepted {
		t.Fatalf("rejected: %s", res.Reason)
	}
	approx(t, "new total area", res.NewTotalArea, math.Pi*30*30, 5)
	if len(res.Updates) != 1 || res.Updates[0].Owner != "a" {
		t.Errorf("updates = %+v, want one entry for a", res.Updates)
	}
	approx(t, "stored area", f.terr["a"].area, math.Pi*30*30, 5)
}

func TestInputRejections(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	seedTerritory(f, "a", rect(0, -50, 100, 50))

	tests := []struct {
		name   string
		req    claim.Request
		reason string
	}{
		{
			"zero radius",
			claim.Request{Player: "a", Base: &claim.BaseClaim{Radius: 0}},
			"radius",
		},
		{
			"two point trail",
			claim.Request{Player: "a", Trail: geo.Path(rect(0, 0, 1, 1)[:2])},
			"too short",
		},
		{
			"empty request",
			claim.Request{Player: "a"},
			"neither",
		},
		{
			"area below minimum",
			claim.Request{Player: "a", Trail: geo.Path(rect(99, 0, 104, 5))},
			"minimum",
		},
		{
			"disconnected expansion",
			claim.Request{Player: "a", Trail: geo.Path(rect(500, 0, 600, 100))},
			"touch",
		},
	}
	for _, tt := range tests {
		res := resolve(t, f, tt.req)
		if res.Accepted {
			t.Errorf("%s: accepted, want rejection", tt.name)
			continue
		}
		if !strings.Contains(res.Reason, tt.reason) {
			t.Errorf("%s: reason %q, want substring %q", tt.name, res.Reason, tt.reason)
		}
	}
}

func TestExpandWithoutTerritory(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")

	res := resolve(t, f, claim.Request{Player: "a", Trail: geo.Path(rect(0, 0, 100, 100))})
	if res.Accepted || !strings.Contains(res.Reason, "base") {
		t.Errorf("result = %+v, want base-first rejection", res)
	}
}

func TestPartialHit(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	seedTerritory(f, "a", rect(0, -50, 100, 50))    // 10000 m²
	seedTerritory(f, "b", rect(140, -60, 260, 60))  // 14400 m²

	// loop 80..160 × -40..40 overlaps b by 20×80 = 1600 m²
	res := resolve(t, f, claim.Request{Player: "a", Trail: geo.Path(rect(80, -40, 160, 40))})
	if !res.Accepted {
		t.Fatalf("rejected: %s", res.Reason)
	}
	approx(t, "attacker area", f.terr["a"].area, 14800, 3)
	approx(t, "victim area", f.terr["b"].area, 12800, 3)
	if len(res.Updates) != 2 {
		t.Fatalf("updates = %d entries, want 2", len(res.Updates))
	}
	if res.Updates[0].Owner != "a" || res.Updates[1].Owner != "b" {
		t.Errorf("update order = %s, %s; want attacker first", res.Updates[0].Owner, res.Updates[1].Owner)
	}
	approx(t, "area claimed", res.AreaClaimed, 4800, 5)
}

func TestShieldedHitCreatesIsland(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	seedTerritory(f, "a", rect(0, -50, 100, 50))
	seedTerritory(f, "b", rect(140, -60, 260, 60))
	shield(f, "b")
	victimBefore := f.terr["b"].area

	res := resolve(t, f, claim.Request{Player: "a", Trail: geo.Path(rect(80, -40, 160, 40))})
	if !res.Accepted {
		t.Fatalf("rejected: %s", res.Reason)
	}
	if f.terr["b"].area != victimBefore {
		t.Errorf("shielded victim area changed: %.1f -> %.1f", victimBefore, f.terr["b"].area)
	}
	if p := f.players["b"]; p.ShieldActive || p.ShieldOwned {
		t.Errorf("shield not consumed: %+v", p)
	}
	if _, held := f.powers["b"][landrun.LastStand]; held {
		t.Error("last stand power not removed with the shield")
	}
	if len(res.ShieldBroken) != 1 || res.ShieldBroken[0].Owner != "b" {
		t.Errorf("ShieldBroken = %+v", res.ShieldBroken)
	}
	// attacker keeps the union minus the victim's full geometry
	approx(t, "attacker area", f.terr["a"].area, 14800-1600, 3)
	// untouched victim geometry is not in the public batch
	for _, u := range res.Updates {
		if u.Owner == "b" {
			t.Error("shielded victim should not appear in updates")
		}
	}
}

func TestWipeout(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	seedTerritory(f, "a", rect(0, -50, 100, 50))
	seedTerritory(f, "b", rect(104, 4, 124, 24)) // 400 m², fully inside the loop

	res := resolve(t, f, claim.Request{Player: "a", Trail: geo.Path(rect(80, -40, 160, 40))})
	if !res.Accepted {
		t.Fatalf("rejected: %s", res.Reason)
	}
	if f.terr["b"].area != 0 {
		t.Errorf("victim area = %.1f, want 0 after wipeout", f.terr["b"].area)
	}
	if f.terr["b"].geom != geo.EmptyPolygonWKT {
		t.Errorf("victim geom = %q, want canonical empty", f.terr["b"].geom)
	}
}

func TestClaimNullifiedRollsBack(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	// attacker is an island inside b's shielded land
	seedTerritory(f, "a", rect(10, 0, 20, 10))
	seedTerritory(f, "b", rect(0, -100, 200, 100))
	shield(f, "b")

	res := resolve(t, f, claim.Request{Player: "a", Trail: geo.Path(rect(14, 0, 50, 30))})
	if res.Accepted || !strings.Contains(res.Reason, "nullified") {
		t.Fatalf("result = %+v, want nullified rejection", res)
	}
	// the rejection aborts the transaction, so the victim's shield survives
	if p := f.players["b"]; !p.ShieldActive {
		t.Error("victim shield consumed by a rolled-back claim")
	}
	approx(t, "attacker area", f.terr["a"].area, 100, 10)
}

func TestVictimOrdering(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	addPlayer(f, "c")
	seedTerritory(f, "a", rect(0, -50, 100, 50))
	seedTerritory(f, "c", rect(140, 20, 200, 60))
	seedTerritory(f, "b", rect(140, -60, 200, -20))

	res := resolve(t, f, claim.Request{Player: "a", Trail: geo.Path(rect(80, -40, 160, 40))})
	if !res.Accepted {
		t.Fatalf("rejected: %s", res.Reason)
	}
	if len(res.Updates) != 3 {
		t.Fatalf("updates = %d entries, want 3", len(res.Updates))
	}
	if res.Updates[1].Owner != "b" || res.Updates[2].Owner != "c" {
		t.Errorf("victim order = %s, %s; want ascending ids", res.Updates[1].Owner, res.Updates[2].Owner)
	}
}

func TestInfiltratorCarve(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	seedTerritory(f, "b", rect(0, -100, 200, 100)) // 40000 m²

	res := resolve(t, f, claim.Request{
		Player: "a", Name: "A",
		Base:              &claim.BaseClaim{Point: geo.Point{Lng: 100 / mPerDeg}, Radius: 30},
		InfiltratorActive: true,
	})
	if !res.Accepted {
		t.Fatalf("rejected: %s", res.Reason)
	}
	circle := math.Pi * 30 * 30
	approx(t, "attacker area", f.terr["a"].area, circle, 5)
	approx(t, "victim area", f.terr["b"].area, 40000-circle, 3)
	if !f.players["a"].CarveMode {
		t.Error("carve mode not set after infiltration")
	}
	if !res.InfiltratorConsumed {
		t.Error("infiltrator flag not reported consumed")
	}
}

func TestInfiltratorAgainstShield(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	seedTerritory(f, "b", rect(0, -100, 200, 100))
	shield(f, "b")
	victimBefore := f.terr["b"].area

	res := resolve(t, f, claim.Request{
		Player: "a", Name: "A",
		Base:              &claim.BaseClaim{Point: geo.Point{Lng: 100 / mPerDeg}, Radius: 30},
		InfiltratorActive: true,
	})
	if res.Accepted {
		t.Fatal("accepted, want shield-block rejection")
	}
	if !strings.Contains(res.Reason, "shield") {
		t.Errorf("reason = %q", res.Reason)
	}
	// both sides pay: the shield drops and the power is spent, and that
	// outcome commits even though the claim failed
	if p := f.players["b"]; p.ShieldActive || p.ShieldOwned {
		t.Errorf("shield not consumed: %+v", p)
	}
	if !res.InfiltratorConsumed {
		t.Error("infiltrator flag not reported consumed")
	}
	if f.terr["b"].area != victimBefore {
		t.Error("victim geometry changed")
	}
	if _, ok := f.terr["a"]; ok {
		t.Error("attacker gained territory through a blocked infiltration")
	}
}

func TestInfiltratorMustBeInside(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	seedTerritory(f, "b", rect(0, -100, 200, 100))

	// circle at the edge pokes out of b
	res := resolve(t, f, claim.Request{
		Player: "a", Name: "A",
		Base:              &claim.BaseClaim{Point: geo.Point{Lng: 195 / mPerDeg}, Radius: 30},
		InfiltratorActive: true,
	})
	if res.Accepted || !strings.Contains(res.Reason, "inside") {
		t.Errorf("result = %+v, want fully-inside rejection", res)
	}
}

func TestBaseOverlapRejected(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "a")
	addPlayer(f, "b")
	seedTerritory(f, "b", rect(0, -100, 200, 100))

	res := resolve(t, f, claim.Request{
		Player: "a", Name: "A",
		Base: &claim.BaseClaim{Point: geo.Point{Lng: 100 / mPerDeg}, Radius: 30},
	})
	if res.Accepted || !strings.Contains(res.Reason, "overlaps") {
		t.Errorf("result = %+v, want overlap rejection", res)
	}
}

func addClan(f *fakeStore, id landrun.ClanID, leader landrun.PlayerID, members ...landrun.PlayerID) {
	f.clans[id] = store.ClanRow{ID: id, Name: strings.ToUpper(string(id)), Leader: leader}
	f.members[leader] = id
	for _, m := range members {
		f.members[m] = id
	}
}

func TestClanBase(t *testing.T) {
	f := newFakeStore()
	addPlayer(f, "leader")
	addPlayer(f, "member")
	addClan(f, "club", "leader", "member")

	t.Run("member cannot place", func(t *testing.T) {
		res := resolve(t, f, claim.Request{
			Player: "member", Mode: landrun.ModeClan,
			Trail: geo.Path{geo.Point{}},
		})
		if res.Accepted || !strings.Contains(res.Reason, "leader") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("leader places once", func(t *testing.T) {
		res := resolve(t, f, claim.Request{
			Player: "leader", Mode: landrun.ModeClan,
			Trail: geo.Path{geo.Point{}},
		})
		if !res.Accepted {
			t.Fatalf("rejected: %s", res.Reason)
		}
		approx(t, "clan area", f.clanTerr["club"].area, math.Pi*landrun.ClanBaseRadius*landrun.ClanBaseRadius, 5)

		again := resolve(t, f, claim.Request{
			Player: "leader", Mode: landrun.ModeClan,
			Trail: geo.Path{geo.Point{Lng: 1000 / mPerDeg}},
		})
		if again.Accepted || !strings.Contains(again.Reason, "already") {
			t.Errorf("second base: %+v", again)
		}
	})
}

func TestClanExpansion(t *testing.T) {
	setup := func() *fakeStore {
		f := newFakeStore()
		addPlayer(f, "leader")
		addPlayer(f, "member")
		addPlayer(f, "rival")
		addClan(f, "club", "leader", "member")
		c := f.clans["club"]
		c.Base, c.HasBase = geo.Point{}, true
		f.clans["club"] = c
		seedClanTerritory(f, "club", rect(-50, -50, 50, 50))
		return f
	}

	t.Run("member expands", func(t *testing.T) {
		f := setup()
		res := resolve(t, f, claim.Request{
			Player: "member", Mode: landrun.ModeClan,
			Trail: geo.Path(rect(30, -40, 130, 40)),
		})
		if !res.Accepted {
			t.Fatalf("rejected: %s", res.Reason)
		}
		approx(t, "clan area", f.clanTerr["club"].area, 10000+8000-1600, 3)
	})

	t.Run("start too far from base", func(t *testing.T) {
		f := setup()
		far := geo.Path(rect(100, -40, 200, 40)) // starts 100 m east
		res := resolve(t, f, claim.Request{Player: "member", Mode: landrun.ModeClan, Trail: far})
		if res.Accepted || !strings.Contains(res.Reason, "70 m") {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("friendly member territory skipped", func(t *testing.T) {
		f := setup()
		seedTerritory(f, "member", rect(60, -30, 120, 30))
		before := f.terr["member"].area
		res := resolve(t, f, claim.Request{
			Player: "leader", Mode: landrun.ModeClan,
			Trail: geo.Path(rect(30, -40, 130, 40)),
		})
		if !res.Accepted {
			t.Fatalf("rejected: %s", res.Reason)
		}
		if f.terr["member"].area != before {
			t.Error("clan claim damaged a member's solo territory")
		}
	})

	t.Run("enemy solo loses ground", func(t *testing.T) {
		f := setup()
		seedTerritory(f, "rival", rect(60, -30, 120, 30))
		res := resolve(t, f, claim.Request{
			Player: "leader", Mode: landrun.ModeClan,
			Trail: geo.Path(rect(30, -40, 130, 40)),
		})
		if !res.Accepted {
			t.Fatalf("rejected: %s", res.Reason)
		}
		if f.terr["rival"].area >= 3600 {
			t.Errorf("rival area = %.1f, want reduced below 3600", f.terr["rival"].area)
		}
	})

	t.Run("shielded clan rejects whole claim", func(t *testing.T) {
		f := setup()
		addPlayer(f, "enemyboss")
		addClan(f, "enemy", "enemyboss")
		c := f.clans["enemy"]
		c.ShieldActive = true
		f.clans["enemy"] = c
		seedClanTerritory(f, "enemy", rect(60, -30, 120, 30))
		before := f.clanTerr["club"].area

		res := resolve(t, f, claim.Request{
			Player: "leader", Mode: landrun.ModeClan,
			Trail: geo.Path(rect(30, -40, 130, 40)),
		})
		if res.Accepted || !strings.Contains(res.Reason, "shielded") {
			t.Fatalf("result = %+v", res)
		}
		if f.clanTerr["club"].area != before {
			t.Error("rejected claim changed attacker clan territory")
		}
		if !f.clans["enemy"].ShieldActive {
			t.Error("clan shield consumed by a rejected claim")
		}
	})
}
