// Package conquest runs the arena/conquest state machine: an attacker opens
// an arena around a target territory, enters it, then retraces laps of their
// own first lap until the territory transfers. One manager goroutine owns
// all conquest state; sessions talk to it through queued commands and
// queries.
package conquest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/store"
)

// Store is the persistence surface conquest finalization needs.
type Store interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	Territory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID) (store.TerritoryRow, error)
	InitialTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, name, geom string, area float64, base geo.Point) error
	ReplaceTerritory(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, geom string, area float64) error
	SetLapsRequired(ctx context.Context, tx pgx.Tx, owner landrun.PlayerID, laps int) error
	Union(ctx context.Context, tx pgx.Tx, a, b string) (string, float64, error)
}

// Transfer describes a finalized conquest for the public broadcast.
type Transfer struct {
	Attacker     landrun.PlayerID
	Victim       landrun.PlayerID
	AttackerGeom string
	AttackerArea float64
	LapsRequired int
}

// Events receives conquest lifecycle broadcasts.
type Events interface {
	ArenaCreated(attacker, target landrun.PlayerID, center geo.Point, radiusM float64)
	ArenaEntered(attacker, target landrun.PlayerID)
	ArenaTimeout(attacker, target landrun.PlayerID)
	ConquestStarted(attacker, target landrun.PlayerID, lapsRequired int)
	ConquestProgress(attacker, target landrun.PlayerID, laps, lapsRequired int)
	ConquestFailed(attacker, target landrun.PlayerID, reason string)
	ConquestSucceeded(t Transfer)
}

// Arena is the zone an attacker must reach before starting a conquest.
type Arena struct {
	Target  landrun.PlayerID
	Center  geo.Point
	RadiusM float64
}

type phase uint8

const (
	phaseWaiting phase = iota // arena created, attacker not yet inside
	phaseReady                // attacker inside the arena
	phaseRunning              // laps underway
)

type conquestState struct {
	attacker     landrun.PlayerID
	target       landrun.PlayerID
	targetName   string
	phase        phase
	center       geo.Point
	radiusM      float64
	lapsRequired int
	laps         int
	reference    geo.Path
	deadline     time.Time
}

var (
	ErrArenaActive  = errors.New("conquest: arena already active")
	ErrNoArena      = errors.New("conquest: no arena ready to start from")
	ErrNotRunning   = errors.New("conquest: no conquest in progress")
	errUnavailable  = errors.New("conquest: manager is not running")
	ErrEmptyTarget  = errors.New("conquest: target holds no territory")
	ErrSelfTarget   = errors.New("conquest: cannot target yourself")
	ErrOutsideArena = errors.New("conquest: enter the arena first")
	ErrLapTooSparse = errors.New("conquest: lap path needs at least two points")
)

type Manager struct {
	store  Store
	events Events
	log    *slog.Logger

	queryQueue  chan query
	unavailable chan struct{}

	conquests map[landrun.PlayerID]*conquestState

	arenaTimeout    time.Duration
	conquestTimeout time.Duration
	sweepEvery      time.Duration
	now             func() time.Time
}

func New(s Store, events Events, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:           s,
		events:          events,
		log:             log,
		queryQueue:      make(chan query, 64),
		unavailable:     make(chan struct{}),
		conquests:       map[landrun.PlayerID]*conquestState{},
		arenaTimeout:    landrun.ArenaTimeout,
		conquestTimeout: landrun.ConquestTimeout,
		sweepEvery:      5 * time.Second,
		now:             time.Now,
	}
}

// Run owns all conquest state, blocking until ctx is cancelled. Queries and
// timeout sweeps are serialized here; nothing else touches m.conquests.
func (m *Manager) Run(ctx context.Context) {
	sweep := time.NewTicker(m.sweepEvery)
	defer sweep.Stop()
	defer close(m.unavailable)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-m.queryQueue:
			q.Ask(ctx, m)
		case <-sweep.C:
			m.expire()
		}
	}
}

// managerQuery carries a function to run on the manager goroutine and a
// buffered channel for its result.
type managerQuery[T any] struct {
	queryFn func(context.Context, *Manager) T
	result  chan T // must be buffered or the response may get dropped
}

func (q managerQuery[T]) Ask(ctx context.Context, m *Manager) {
	select {
	case q.result <- q.queryFn(ctx, m):
	default:
		m.log.Debug("dropped conquest query result; result channel should be buffered")
	}
}

type query interface {
	Ask(context.Context, *Manager)
}

func ask[T any](ctx context.Context, m *Manager, fn func(context.Context, *Manager) T) (T, error) {
	q := managerQuery[T]{queryFn: fn, result: make(chan T, 1)}
	select {
	case m.queryQueue <- q:
	case <-m.unavailable:
		var zero T
		return zero, errUnavailable
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	select {
	case r := <-q.result:
		return r, nil
	case <-m.unavailable:
		var zero T
		return zero, errUnavailable
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type arenaResult struct {
	arena Arena
	err   error
}

// CreateArena opens an arena around the target's territory. The center is
// the territory centroid; the radius is 1.5 times the farthest boundary
// vertex.
func (m *Manager) CreateArena(ctx context.Context, attacker, target landrun.PlayerID) (Arena, error) {
	r, err := ask(ctx, m, func(ctx context.Context, m *Manager) arenaResult {
		return m.createArena(ctx, attacker, target)
	})
	if err != nil {
		return Arena{}, err
	}
	return r.arena, r.err
}

func (m *Manager) createArena(ctx context.Context, attacker, target landrun.PlayerID) arenaResult {
	if attacker == target {
		return arenaResult{err: ErrSelfTarget}
	}
	if _, busy := m.conquests[attacker]; busy {
		return arenaResult{err: ErrArenaActive}
	}

	var row store.TerritoryRow
	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		row, err = m.store.Territory(ctx, tx, target)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return arenaResult{err: ErrEmptyTarget}
	}
	if err != nil {
		return arenaResult{err: fmt.Errorf("conquest.CreateArena: %w", err)}
	}
	if row.Area <= 0 {
		return arenaResult{err: ErrEmptyTarget}
	}
	outline, err := geo.ParsePolygon(row.Geom)
	if err != nil {
		return arenaResult{err: fmt.Errorf("conquest.CreateArena: %w", err)}
	}
	center := geo.Centroid(outline)
	radius := geo.MaxDistance(center, outline) * landrun.ArenaRadiusFactor

	m.conquests[attacker] = &conquestState{
		attacker:     attacker,
		target:       target,
		targetName:   row.Name,
		phase:        phaseWaiting,
		center:       center,
		radiusM:      radius,
		lapsRequired: row.LapsRequired,
		deadline:     m.now().Add(m.arenaTimeout),
	}
	m.events.ArenaCreated(attacker, target, center, radius)
	return arenaResult{arena: Arena{Target: target, Center: center, RadiusM: radius}}
}

// Location feeds an attacker position update. Entering the arena radius
// arms the conquest for starting. Cheap no-op for players without an arena.
func (m *Manager) Location(ctx context.Context, player landrun.PlayerID, p geo.Point) {
	_, _ = ask(ctx, m, func(_ context.Context, m *Manager) struct{} {
		c, ok := m.conquests[player]
		if ok && c.phase == phaseWaiting && geo.Distance(c.center, p) <= c.radiusM {
			c.phase = phaseReady
			m.events.ArenaEntered(player, c.target)
		}
		return struct{}{}
	})
}

// StartConquest begins the lap phase. The attacker must have entered the
// arena first.
func (m *Manager) StartConquest(ctx context.Context, attacker landrun.PlayerID) error {
	errv, err := ask(ctx, m, func(_ context.Context, m *Manager) error {
		c, ok := m.conquests[attacker]
		if !ok {
			return ErrNoArena
		}
		switch c.phase {
		case phaseWaiting:
			return ErrOutsideArena
		case phaseRunning:
			return nil // already running; idempotent
		}
		c.phase = phaseRunning
		c.laps = 0
		c.deadline = m.now().Add(m.conquestTimeout)
		m.events.ConquestStarted(attacker, c.target, c.lapsRequired)
		return nil
	})
	if err != nil {
		return err
	}
	return errv
}

// RecordLap submits one completed lap. The first lap becomes the reference
// path; later laps must retrace it with similarity of at least the
// threshold or the conquest fails.
func (m *Manager) RecordLap(ctx context.Context, attacker landrun.PlayerID, path geo.Path) error {
	errv, err := ask(ctx, m, func(ctx context.Context, m *Manager) error {
		return m.recordLap(ctx, attacker, path)
	})
	if err != nil {
		return err
	}
	return errv
}

func (m *Manager) recordLap(ctx context.Context, attacker landrun.PlayerID, path geo.Path) error {
	c, ok := m.conquests[attacker]
	if !ok || c.phase != phaseRunning {
		return ErrNotRunning
	}
	if len(path) < 2 {
		return ErrLapTooSparse
	}

	if c.laps == 0 {
		c.reference = path
	} else {
		similarity := geo.Similarity(c.reference, path, landrun.SimilarityKernel)
		if similarity < landrun.SimilarityThreshold {
			delete(m.conquests, attacker)
			m.log.Info("conquest lap rejected",
				"attacker", attacker, "target", c.target, "similarity", similarity)
			m.events.ConquestFailed(attacker, c.target,
				fmt.Sprintf("lap similarity %.2f below required %.2f", similarity, landrun.SimilarityThreshold))
			return nil
		}
	}
	c.laps++
	if c.laps < c.lapsRequired {
		m.events.ConquestProgress(attacker, c.target, c.laps, c.lapsRequired)
		return nil
	}
	return m.finalize(ctx, c)
}

// finalize transfers the target territory to the attacker in one
// transaction, ratcheting the lap requirement, then cancels every competing
// conquest of the same target.
func (m *Manager) finalize(ctx context.Context, c *conquestState) error {
	delete(m.conquests, c.attacker)

	var transfer Transfer
	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		victim, err := m.store.Territory(ctx, tx, c.target)
		if err != nil {
			return err
		}
		if victim.Area <= 0 {
			return ErrEmptyTarget // raced another attacker
		}

		finalGeom, finalArea := victim.Geom, victim.Area
		attacker, err := m.store.Territory(ctx, tx, c.attacker)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := m.store.InitialTerritory(ctx, tx, c.attacker, c.targetName, finalGeom, finalArea, victim.Base); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			finalGeom, finalArea, err = m.store.Union(ctx, tx, attacker.Geom, victim.Geom)
			if err != nil {
				return err
			}
			if err := m.store.ReplaceTerritory(ctx, tx, c.attacker, finalGeom, finalArea); err != nil {
				return err
			}
		}
		laps := victim.LapsRequired + 1
		if err := m.store.SetLapsRequired(ctx, tx, c.attacker, laps); err != nil {
			return err
		}
		if err := m.store.ReplaceTerritory(ctx, tx, c.target, geo.EmptyPolygonWKT, 0); err != nil {
			return err
		}
		transfer = Transfer{
			Attacker:     c.attacker,
			Victim:       c.target,
			AttackerGeom: finalGeom,
			AttackerArea: finalArea,
			LapsRequired: laps,
		}
		return nil
	})
	if errors.Is(err, ErrEmptyTarget) {
		m.events.ConquestFailed(c.attacker, c.target, "territory was already conquered")
		return nil
	}
	if err != nil {
		return fmt.Errorf("conquest.finalize: %w", err)
	}

	m.events.ConquestSucceeded(transfer)
	m.log.Info("conquest finalized",
		"attacker", c.attacker, "target", c.target, "laps_required_next", transfer.LapsRequired)

	for id, other := range m.conquests {
		if other.target == c.target {
			delete(m.conquests, id)
			m.events.ConquestFailed(other.attacker, other.target,
				"territory was conquered by another player")
		}
	}
	return nil
}

// expire drops arenas and conquests past their deadlines.
func (m *Manager) expire() {
	now := m.now()
	for id, c := range m.conquests {
		if now.Before(c.deadline) {
			continue
		}
		delete(m.conquests, id)
		if c.phase == phaseRunning {
			m.events.ConquestFailed(c.attacker, c.target, "conquest timed out")
		} else {
			m.events.ArenaTimeout(c.attacker, c.target)
		}
	}
}

// Active returns a snapshot of the attacker's conquest, if any.
func (m *Manager) Active(ctx context.Context, attacker landrun.PlayerID) (Arena, bool, error) {
	type snap struct {
		arena Arena
		ok    bool
	}
	r, err := ask(ctx, m, func(_ context.Context, m *Manager) snap {
		c, ok := m.conquests[attacker]
		if !ok {
			return snap{}
		}
		return snap{arena: Arena{Target: c.target, Center: c.center, RadiusM: c.radiusM}, ok: true}
	})
	if err != nil {
		return Arena{}, false, err
	}
	return r.arena, r.ok, nil
}

// SetTimeouts overrides the arena and conquest deadlines and the sweep
// cadence. Tests use this; call before Run.
func (m *Manager) SetTimeouts(arena, conquest, sweep time.Duration) {
	m.arenaTimeout, m.conquestTimeout, m.sweepEvery = arena, conquest, sweep
}
