// Package session owns the live player connections: the websocket hub,
// per-connection read/write pumps, the in-memory player registry with
// run-scoped power flags, and the periodic ticker sweeps. The hub is the
// single adapter between the game services and the wire protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/claim"
	"github.com/landrun/landrun/conquest"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/power"
	"github.com/landrun/landrun/quest"
	"github.com/landrun/landrun/store"
	"github.com/landrun/landrun/trail"
	"github.com/landrun/landrun/wire"
)

// Store is the persistence surface the hub itself touches. Claim, conquest
// and power mutations go through their own services.
type Store interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	Player(ctx context.Context, id landrun.PlayerID) (store.PlayerRow, error)
	UpsertPlayer(ctx context.Context, id landrun.PlayerID, name string) error
	AllTerritories(ctx context.Context) ([]store.Victim, error)
	SavePosition(ctx context.Context, id landrun.PlayerID, lng, lat float64, at time.Time) error
	ExpireShields(ctx context.Context, cutoff time.Time) ([]landrun.PlayerID, error)
	CloseExpiredQuests(ctx context.Context) ([]landrun.QuestID, error)
}

// Claimer resolves territory claims.
type Claimer interface {
	Resolve(ctx context.Context, req claim.Request) (claim.Result, error)
}

// Conquests is the arena/conquest manager surface.
type Conquests interface {
	CreateArena(ctx context.Context, attacker, target landrun.PlayerID) (conquest.Arena, error)
	Location(ctx context.Context, player landrun.PlayerID, p geo.Point)
	StartConquest(ctx context.Context, attacker landrun.PlayerID) error
	RecordLap(ctx context.Context, attacker landrun.PlayerID, path geo.Path) error
}

// Powers activates superpowers.
type Powers interface {
	Activate(ctx context.Context, player landrun.PlayerID, p landrun.Power) (power.Activation, error)
}

// Fence is the geofence gate.
type Fence interface {
	IsValid(p geo.Point) bool
	Zones() []store.ZoneRow
}

// QuestBank advances quest progress inside a transaction.
type QuestBank interface {
	Advance(ctx context.Context, tx pgx.Tx, player landrun.PlayerID, kind landrun.QuestKind, delta float64) ([]quest.Note, error)
}

// session is one connected player's registry entry.
type session struct {
	client *client
	name   string
	mode   landrun.Mode
	color  string

	pos    geo.Point
	hasPos bool

	ghostActive        bool
	infiltratorActive  bool
	trailDefenseActive bool
}

type Hub struct {
	log       *slog.Logger
	store     Store
	claims    Claimer
	conquests Conquests
	powers    Powers
	fence     Fence
	quests    QuestBank
	trails    *trail.Engine

	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]bool
	sessions map[landrun.PlayerID]*session
}

func NewHub(s Store, claims Claimer, powers Powers, fence Fence, quests QuestBank, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		store:  s,
		claims: claims,
		powers: powers,
		fence:  fence,
		quests: quests,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:  map[*client]bool{},
		sessions: map[landrun.PlayerID]*session{},
	}
}

// SetTrails and SetConquests bind the engines after construction; both
// broadcast through the hub, so they cannot exist before it.
func (h *Hub) SetTrails(e *trail.Engine) { h.trails = e }

func (h *Hub) SetConquests(c Conquests) { h.conquests = c }

// ServeWS upgrades an HTTP request into a player connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	var player landrun.PlayerID
	if c.player != "" {
		if sess, ok := h.sessions[c.player]; ok && sess.client == c {
			delete(h.sessions, c.player)
			player = c.player
		}
	}
	h.mu.Unlock()

	if player != "" {
		h.trails.Disconnect(player)
		h.log.Info("player disconnected", "player", player)
	}
}

// broadcastEvent fans an event out to every connection. Slow receivers are
// dropped rather than blocking the sender.
func (h *Hub) broadcastEvent(ev wire.Typer) {
	b, err := wire.Marshal(ev)
	if err != nil {
		h.log.Error("marshal broadcast", "event", ev.Type(), "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.trySend(b)
	}
}

// sendTo enqueues an event for a single player, if connected.
func (h *Hub) sendTo(player landrun.PlayerID, ev wire.Typer) {
	b, err := wire.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", "event", ev.Type(), "error", err)
		return
	}
	h.mu.Lock()
	sess, ok := h.sessions[player]
	h.mu.Unlock()
	if ok {
		sess.client.trySend(b)
	}
}

func (h *Hub) sessionOf(player landrun.PlayerID) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[player]
	return sess, ok
}

// join creates or rebinds the player's session and seeds the connection
// with world state.
func (h *Hub) join(ctx context.Context, c *client, ev wire.PlayerJoined) error {
	if ev.ID == "" || !ev.Mode.IsPlaying() && ev.Mode != landrun.ModeSpectator {
		return fmt.Errorf("session.join: bad join for %q", ev.ID)
	}
	row, err := h.store.Player(ctx, ev.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session.join: %w", err)
	}
	if row.Banned(time.Now()) {
		b, _ := wire.Marshal(wire.AccountBanned{Until: *row.BannedUntil})
		c.trySend(b)
		c.close()
		return nil
	}
	if err := h.store.UpsertPlayer(ctx, ev.ID, ev.Name); err != nil {
		return fmt.Errorf("session.join: %w", err)
	}

	h.mu.Lock()
	if old, ok := h.sessions[ev.ID]; ok && old.client != c {
		old.client.close()
	}
	c.player = ev.ID
	h.sessions[ev.ID] = &session{client: c, name: ev.Name, mode: ev.Mode, color: row.IdentityColor}
	h.mu.Unlock()

	// a reconnect during the grace window keeps the open trail
	h.trails.Rebind(ev.ID)

	h.seed(ctx, c)
	h.log.Info("player joined", "player", ev.ID, "mode", ev.Mode)
	return nil
}

func (h *Hub) seed(ctx context.Context, c *client) {
	territories, err := h.store.AllTerritories(ctx)
	if err != nil {
		h.log.Error("seed territories", "error", err)
	} else {
		out := wire.ExistingTerritories{}
		for _, t := range territories {
			out.Territories = append(out.Territories, wire.Territory{
				Owner:    t.ID,
				IsClan:   t.Kind == store.OwnerClan,
				Name:     t.Name,
				Geometry: t.Geom,
				Area:     t.Area,
				Color:    t.Color,
			})
		}
		if b, err := wire.Marshal(out); err == nil {
			c.trySend(b)
		}
	}

	zones := wire.GeofenceUpdate{}
	for _, z := range h.fence.Zones() {
		zones.Zones = append(zones.Zones, wire.Zone{ID: z.ID, Kind: z.Kind, Polygon: z.Geom})
	}
	if b, err := wire.Marshal(zones); err == nil {
		c.trySend(b)
	}
}

// BroadcastZones pushes the current geofence set to everyone. Admin zone
// mutations call this.
func (h *Hub) BroadcastZones() {
	zones := wire.GeofenceUpdate{}
	for _, z := range h.fence.Zones() {
		zones.Zones = append(zones.Zones, wire.Zone{ID: z.ID, Kind: z.Kind, Polygon: z.Geom})
	}
	h.broadcastEvent(zones)
}

// AnnounceChest registers a freshly spawned chest with the trail engine and
// tells every client about it.
func (h *Hub) AnnounceChest(id landrun.ChestID, at geo.Point) {
	h.trails.AddChest(id, at)
	h.broadcastEvent(wire.ChestSpawned{ID: id, At: at})
}

// Kick notifies a banned player and drops their connection.
func (h *Hub) Kick(player landrun.PlayerID, until time.Time) {
	h.sendTo(player, wire.AccountBanned{Until: until})
	h.mu.Lock()
	sess, ok := h.sessions[player]
	h.mu.Unlock()
	if ok {
		sess.client.close()
	}
}
