// Package trail maintains the in-memory trails of every drawing player,
// detects trail-on-trail cuts and chest pickups, and relays the resulting
// events. All trail state is process-local; only its consequences (chest
// claims, quest progress) touch the database.
package trail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
)

var (
	ErrAlreadyDrawing = errors.New("trail: already drawing")
	ErrNotDrawing     = errors.New("trail: not drawing")
	ErrNotPlaying     = errors.New("trail: mode cannot draw")
)

// Events receives trail lifecycle broadcasts. Implementations must not
// block; the hub enqueues and drops slow receivers.
type Events interface {
	TrailStarted(player landrun.PlayerID)
	TrailPointAdded(player landrun.PlayerID, p geo.Point)
	TrailCleared(player landrun.PlayerID)
	RunTerminated(player landrun.PlayerID, reason string)
	ChestClaimed(chest landrun.ChestID, by landrun.PlayerID, granted []landrun.Power)
}

// PickupFunc atomically claims a chest for a player and grants 1–2 random
// unowned powers, returning what was granted. ok is false when another
// player got the chest first.
type PickupFunc func(ctx context.Context, chest landrun.ChestID, by landrun.PlayerID) (granted []landrun.Power, ok bool, err error)

// QuestAdvancer credits trail-cut quest progress outside any claim
// transaction. Best effort; failures are logged, not surfaced.
type QuestAdvancer interface {
	TrailCut(ctx context.Context, player landrun.PlayerID)
}

type run struct {
	name         string
	mode         landrun.Mode
	points       geo.Path
	ghost        bool
	trailDefense bool
	grace        *time.Timer
}

type Engine struct {
	mu     sync.Mutex
	runs   map[landrun.PlayerID]*run
	chests map[landrun.ChestID]geo.Point

	events Events
	pickup PickupFunc
	quests QuestAdvancer
	grace  time.Duration
	log    *slog.Logger
}

func NewEngine(events Events, pickup PickupFunc, quests QuestAdvancer, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		runs:   map[landrun.PlayerID]*run{},
		chests: map[landrun.ChestID]geo.Point{},
		events: events,
		pickup: pickup,
		quests: quests,
		grace:  landrun.DisconnectGrace,
		log:    log,
	}
}

// SetChests replaces the in-memory chest index, typically at startup from
// the store's active set.
func (e *Engine) SetChests(chests map[landrun.ChestID]geo.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chests = make(map[landrun.ChestID]geo.Point, len(chests))
	for id, p := range chests {
		e.chests[id] = p
	}
}

// AddChest registers a freshly spawned chest.
func (e *Engine) AddChest(id landrun.ChestID, at geo.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chests[id] = at
}

// StartDrawing opens a new trail. Ghost runners draw without the public
// trailStarted broadcast.
func (e *Engine) StartDrawing(player landrun.PlayerID, name string, mode landrun.Mode, ghost, trailDefense bool) error {
	if !mode.IsPlaying() {
		return ErrNotPlaying
	}
	e.mu.Lock()
	if r, ok := e.runs[player]; ok {
		if r.grace == nil {
			e.mu.Unlock()
			return ErrAlreadyDrawing
		}
		// reconnect during grace resumes nothing; the old trail is gone
		r.grace.Stop()
		delete(e.runs, player)
	}
	e.runs[player] = &run{name: name, mode: mode, ghost: ghost, trailDefense: trailDefense}
	e.mu.Unlock()

	if !ghost {
		e.events.TrailStarted(player)
	}
	return nil
}

// AppendPoint advances a trail by one GPS point. Within one call the chest
// check runs first, then cut detection, then the append and its broadcast.
// Database work (chest claims, cut quest credit) runs with the engine lock
// released so one player's round-trip never stalls everyone else's points.
func (e *Engine) AppendPoint(ctx context.Context, player landrun.PlayerID, p geo.Point) error {
	e.mu.Lock()
	r, ok := e.runs[player]
	if !ok || r.grace != nil {
		e.mu.Unlock()
		return ErrNotDrawing
	}
	pickups := e.chestsNear(p)
	e.mu.Unlock()

	e.claimChests(ctx, player, pickups)

	e.mu.Lock()
	r, ok = e.runs[player]
	if !ok || r.grace != nil {
		// the run ended while the chest claim was in flight
		e.mu.Unlock()
		return ErrNotDrawing
	}
	deflected, cuts := false, 0
	if len(r.points) > 0 {
		last := r.points[len(r.points)-1]
		deflected, cuts = e.checkCuts(player, r, last, p)
	}
	if !deflected {
		r.points = append(r.points, p)
	}
	ghost := r.ghost
	e.mu.Unlock()

	for ; cuts > 0; cuts-- {
		if e.quests != nil {
			e.quests.TrailCut(ctx, player)
		}
	}
	if deflected {
		return nil
	}
	if !ghost {
		e.events.TrailPointAdded(player, p)
	}
	return nil
}

// chestsNear lists active chests within pickup range. Caller holds mu.
func (e *Engine) chestsNear(p geo.Point) []landrun.ChestID {
	var ids []landrun.ChestID
	for id, at := range e.chests {
		if geo.Distance(p, at) <= landrun.ChestPickupRadius {
			ids = append(ids, id)
		}
	}
	return ids
}

// claimChests runs the atomic store claim for each candidate chest. The
// store decides races; the loser just sees the chest vanish.
func (e *Engine) claimChests(ctx context.Context, player landrun.PlayerID, ids []landrun.ChestID) {
	for _, id := range ids {
		granted, ok, err := e.pickup(ctx, id, player)
		if err != nil {
			// chest stays in the index; retried on the next point
			e.log.Error("chest pickup failed", "chest", id, "player", player, "error", err)
			continue
		}
		e.mu.Lock()
		delete(e.chests, id)
		e.mu.Unlock()
		if !ok {
			continue
		}
		e.events.ChestClaimed(id, player, granted)
	}
}

// checkCuts tests the new segment against every other drawing trail in the
// same mode. deflected means the attacker hit a defended trail and the point
// must not land; cuts counts the victims whose quest credit the caller owes
// once the lock is released. Caller holds mu.
func (e *Engine) checkCuts(attacker landrun.PlayerID, ar *run, last, p geo.Point) (deflected bool, cuts int) {
	for victim, vr := range e.runs {
		if victim == attacker || vr.mode != ar.mode || vr.grace != nil || len(vr.points) < 2 {
			continue
		}
		if !geo.PathIntersectsSegment(vr.points, last, p) {
			continue
		}
		if vr.trailDefense {
			ar.points = nil
			delete(e.runs, attacker)
			e.events.RunTerminated(attacker, "deflected by trail defense")
			e.events.TrailCleared(attacker)
			return true, cuts
		}
		vr.points = nil
		delete(e.runs, victim)
		e.events.RunTerminated(victim, "cut by "+ar.name)
		e.events.TrailCleared(victim)
		cuts++
	}
	return false, cuts
}

// StopDrawing ends a run normally and hands the recorded trail back for the
// claim attempt.
func (e *Engine) StopDrawing(player landrun.PlayerID) (geo.Path, error) {
	e.mu.Lock()
	r, ok := e.runs[player]
	if !ok || r.grace != nil {
		e.mu.Unlock()
		return nil, ErrNotDrawing
	}
	points := r.points
	delete(e.runs, player)
	e.mu.Unlock()

	e.events.TrailCleared(player)
	return points, nil
}

// Trail returns a copy of the player's current trail.
func (e *Engine) Trail(player landrun.PlayerID) (geo.Path, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[player]
	if !ok || r.grace != nil {
		return nil, false
	}
	out := make(geo.Path, len(r.points))
	copy(out, r.points)
	return out, true
}

// Drawing reports whether the player currently has an open trail.
func (e *Engine) Drawing(player landrun.PlayerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[player]
	return ok && r.grace == nil
}

// Disconnect starts the grace window for a drawing player. If the grace
// expires without a rebind the trail is cleared and broadcast as such.
func (e *Engine) Disconnect(player landrun.PlayerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[player]
	if !ok || r.grace != nil {
		return
	}
	r.grace = time.AfterFunc(e.grace, func() { e.expireGrace(player) })
}

// Rebind cancels a pending grace window after a reconnect. The trail
// survives and drawing continues where it left off.
func (e *Engine) Rebind(player landrun.PlayerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[player]
	if !ok || r.grace == nil {
		return
	}
	r.grace.Stop()
	r.grace = nil
}

func (e *Engine) expireGrace(player landrun.PlayerID) {
	e.mu.Lock()
	r, ok := e.runs[player]
	if !ok || r.grace == nil {
		e.mu.Unlock()
		return
	}
	delete(e.runs, player)
	e.mu.Unlock()

	e.log.Info("disconnect grace expired; trail dropped", "player", player)
	e.events.TrailCleared(player)
}

// SetGrace overrides the disconnect grace window. Tests use this.
func (e *Engine) SetGrace(d time.Duration) { e.grace = d }
