// Package claim resolves territory claims: initial bases, expansion loops,
// infiltrator carves, and their clan variants. A claim runs in exactly one
// database transaction; every read of a contested row is locked FOR UPDATE
// and all broadcasts are built from the result only after commit.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/quest"
	"github.com/landrun/landrun/store"
)

// circleSegments is the vertex count used when synthesizing base circles.
const circleSegments = 64

// Store is the persistence surface the resolver drives. *store.Store
// satisfies it; tests substitute an in-memory geometry engine.
type Store interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error

	PlayerForUpdate(ctx context.Context, tx pgx.Tx, id landrun.PlayerID) (store.PlayerRow, error)
	Territory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID) (store.TerritoryRow, error)
	FindIntersecting(ctx context.Context, tx pgx.Tx, region string, excludePlayer landrun.PlayerID, excludeClan landrun.ClanID) ([]store.Victim, error)
	InitialTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, name, geom string, area float64, base geo.Point) error
	ReplaceTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, geom string, area float64) error

	Clean(ctx context.Context, tx pgx.Tx, wkt string) (string, float64, error)
	Union(ctx context.Context, tx pgx.Tx, a, b string) (string, float64, error)
	Difference(ctx context.Context, tx pgx.Tx, a, b string) (string, float64, error)
	Intersects(ctx context.Context, tx pgx.Tx, a, b string) (bool, error)

	SetShield(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, owned, active bool, activatedAt *time.Time) error
	SetCarveMode(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, on bool) error
	RemovePower(ctx context.Context, tx pgx.Tx, id landrun.PlayerID, p landrun.Power) (bool, error)

	MemberClan(ctx context.Context, tx pgx.Tx, player landrun.PlayerID) (landrun.ClanID, bool, error)
	Clan(ctx context.Context, tx pgx.Tx, id landrun.ClanID) (store.ClanRow, error)
	SetClanBase(ctx context.Context, tx pgx.Tx, id landrun.ClanID, base geo.Point) error
	SetClanShield(ctx context.Context, tx pgx.Tx, id landrun.ClanID, active bool) error
	ClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID) (store.TerritoryRow, error)
	InitialClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID, geom string, area float64) error
	ReplaceClanTerritory(ctx context.Context, tx pgx.Tx, id landrun.ClanID, geom string, area float64) error
}

// QuestTracker advances sponsored quests inside the claim transaction.
type QuestTracker interface {
	Advance(ctx context.Context, tx pgx.Tx, player landrun.PlayerID, kind landrun.QuestKind, delta float64) ([]quest.Note, error)
}

// BaseClaim requests a circular initial territory around a point.
type BaseClaim struct {
	Point  geo.Point
	Radius float64 // meters; the transport layer defaults this to 30
}

// Request is one claim attempt. Exactly one of Base or Trail is set.
type Request struct {
	Player landrun.PlayerID
	Name   string // display name for a first territory
	Mode   landrun.Mode
	Base   *BaseClaim
	Trail  geo.Path

	// InfiltratorActive is the session's run-scoped flag set when the player
	// activated an infiltrator before this claim.
	InfiltratorActive bool
}

// TerritoryUpdate is one owner's post-claim geometry for the public batch
// broadcast.
type TerritoryUpdate struct {
	Owner string
	Kind  store.OwnerKind
	Name  string
	Geom  string
	Area  float64
}

// ShieldBreak records a victim whose shield absorbed this claim.
type ShieldBreak struct {
	Owner string
	Kind  store.OwnerKind
}

// Result is the committed outcome of a claim. When Accepted is false, Reason
// is a player-facing rejection string; state changed only if ShieldBroken is
// non-empty (an infiltrator stopped by a shield still consumes both).
type Result struct {
	Accepted     bool
	Reason       string
	AreaClaimed  float64
	NewTotalArea float64

	Updates      []TerritoryUpdate
	ShieldBroken []ShieldBreak

	// InfiltratorConsumed tells the session to clear its run-scoped flag.
	InfiltratorConsumed bool

	QuestNotes []quest.Note
}

type Resolver struct {
	store  Store
	quests QuestTracker
	log    *slog.Logger
}

func NewResolver(s Store, q QuestTracker, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: s, quests: q, log: log}
}

// rejection aborts the claim transaction and surfaces reason to the player.
type rejection struct{ reason string }

func (r rejection) Error() string { return "claim rejected: " + r.reason }

func reject(reason string) error { return rejection{reason: reason} }

// Resolve runs one claim to completion. A returned error is internal; player
// mistakes come back as an unaccepted Result.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	var res Result
	run := r.resolveSolo
	if req.Mode == landrun.ModeClan {
		run = r.resolveClan
	}
	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		res = Result{}
		return run(ctx, tx, req, &res)
	})

	var rej rejection
	if errors.As(err, &rej) {
		r.log.Info("claim rejected",
			"player", req.Player, "mode", req.Mode, "reason", rej.reason)
		return Result{Reason: rej.reason}, nil
	}
	if err != nil {
		if errors.Is(err, store.ErrInvalidGeometry) {
			r.log.Warn("claim carried invalid geometry", "player", req.Player, "error", err)
			return Result{Reason: "invalid claim geometry"}, nil
		}
		return Result{}, fmt.Errorf("claim.Resolve: %w", err)
	}
	return res, nil
}

// proposedRegion validates the request shape and returns the cleaned claim
// polygon with its area.
func (r *Resolver) proposedRegion(ctx context.Context, tx pgx.Tx, req Request) (string, float64, error) {
	switch {
	case req.Base != nil:
		if req.Base.Radius <= 0 {
			return "", 0, reject("base radius must be positive")
		}
		ring := geo.Circle(req.Base.Point, req.Base.Radius, circleSegments)
		return r.store.Clean(ctx, tx, ring.WKT())
	case len(req.Trail) >= 3:
		ring := geo.CloseRing(req.Trail)
		return r.store.Clean(ctx, tx, ring.WKT())
	case len(req.Trail) > 0:
		return "", 0, reject("trail too short to close into a loop")
	default:
		return "", 0, reject("claim carries neither a base point nor a trail")
	}
}
