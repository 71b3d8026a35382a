package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/claim"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/quest"
	"github.com/landrun/landrun/store"
	"github.com/landrun/landrun/trail"
	"github.com/landrun/landrun/wire"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameSize  = 1 << 20
	sendBuffer    = 256
	inboundPerSec = 20
	inboundBurst  = 40
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	limiter *rate.Limiter
	player  landrun.PlayerID // set on join

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(inboundPerSec), inboundBurst),
	}
}

// trySend enqueues a frame without blocking. A receiver whose queue is full
// is dropped; losing one slow spectator beats stalling the whole hub.
// send is never closed, so a send racing a disconnect cannot panic; done
// marks the connection dead instead.
func (c *client) trySend(b []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		c.hub.log.Warn("dropping slow connection", "player", c.player)
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump is the single writer for the connection, which gives every
// recipient in-order delivery of enqueued events.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case b := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-c.done:
			// flush whatever was enqueued before the close, then say goodbye
			for {
				select {
				case b := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("read error", "player", c.player, "error", err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.hub.log.Warn("rate limit exceeded", "player", c.player)
			continue
		}
		var raw wire.Raw
		if err := json.Unmarshal(data, &raw); err != nil {
			c.hub.log.Debug("bad frame", "player", c.player, "error", err)
			continue
		}
		c.dispatch(ctx, raw)
	}
}

// dispatch routes one inbound frame. Frames are handled serially per
// connection, in arrival order.
func (c *client) dispatch(ctx context.Context, raw wire.Raw) {
	ev := raw.Event()
	if ev == nil {
		c.hub.log.Debug("unknown event", "name", raw.EventName, "player", c.player)
		return
	}

	if join, ok := ev.(wire.PlayerJoined); ok {
		if err := c.hub.join(ctx, c, join); err != nil {
			c.hub.log.Error("join failed", "player", join.ID, "error", err)
			c.close()
		}
		return
	}
	if c.player == "" {
		c.hub.log.Debug("event before join dropped", "name", raw.EventName)
		return
	}

	switch ev := ev.(type) {
	case wire.LocationUpdate:
		c.hub.handleLocation(ctx, c.player, ev)
	case wire.StartDrawingTrail:
		c.hub.handleStartDrawing(c.player)
	case wire.StopDrawingTrail:
		c.hub.handleStopDrawing(c.player)
	case wire.ClaimTerritory:
		c.hub.handleClaim(ctx, c.player, ev)
	case wire.ActivatePower:
		c.hub.handleActivate(ctx, c.player, ev.Power)
	case wire.CreateArena:
		if _, err := c.hub.conquests.CreateArena(ctx, c.player, ev.Target); err != nil {
			c.hub.sendTo(c.player, wire.ConquestFailed{Reason: err.Error()})
		}
	case wire.StartConquest:
		if err := c.hub.conquests.StartConquest(ctx, c.player); err != nil {
			c.hub.sendTo(c.player, wire.ConquestFailed{Reason: err.Error()})
		}
	case wire.RecordLap:
		if err := c.hub.conquests.RecordLap(ctx, c.player, ev.Path); err != nil {
			c.hub.sendTo(c.player, wire.ConquestFailed{Reason: err.Error()})
		}
	}
}

// handleLocation gates the point through the geofence, then feeds the trail
// engine, the conquest manager, and the registry snapshot position.
func (h *Hub) handleLocation(ctx context.Context, player landrun.PlayerID, ev wire.LocationUpdate) {
	if !h.fence.IsValid(ev.Point) {
		if h.trails.Drawing(player) {
			h.sendTo(player, wire.RunTerminated{Player: player, Reason: "left the play area"})
			if _, err := h.trails.StopDrawing(player); err != nil {
				h.log.Debug("stop after geofence exit", "player", player, "error", err)
			}
		}
		return
	}

	h.mu.Lock()
	if sess, ok := h.sessions[player]; ok {
		sess.pos, sess.hasPos = ev.Point, true
	}
	h.mu.Unlock()

	if err := h.trails.AppendPoint(ctx, player, ev.Point); err != nil && !errors.Is(err, trail.ErrNotDrawing) {
		h.log.Debug("append point", "player", player, "error", err)
	}
	h.conquests.Location(ctx, player, ev.Point)
}

func (h *Hub) handleStartDrawing(player landrun.PlayerID) {
	sess, ok := h.sessionOf(player)
	if !ok {
		return
	}
	err := h.trails.StartDrawing(player, sess.name, sess.mode, sess.ghostActive, sess.trailDefenseActive)
	if err != nil {
		h.log.Debug("start drawing", "player", player, "error", err)
	}
}

// handleStopDrawing ends the run without a claim and clears run-scoped
// power flags.
func (h *Hub) handleStopDrawing(player landrun.PlayerID) {
	if _, err := h.trails.StopDrawing(player); err != nil {
		h.log.Debug("stop drawing", "player", player, "error", err)
	}
	h.clearRunFlags(player)
}

func (h *Hub) clearRunFlags(player landrun.PlayerID) {
	h.mu.Lock()
	if sess, ok := h.sessions[player]; ok {
		sess.ghostActive = false
		sess.infiltratorActive = false
		sess.trailDefenseActive = false
	}
	h.mu.Unlock()
}

// handleClaim resolves a claim and broadcasts its outcome. The claimer's
// claimSuccessful is enqueued before the public batchTerritoryUpdate, and
// nothing is sent until the transaction has committed.
func (h *Hub) handleClaim(ctx context.Context, player landrun.PlayerID, ev wire.ClaimTerritory) {
	sess, ok := h.sessionOf(player)
	if !ok {
		return
	}
	req := claim.Request{
		Player:            player,
		Name:              sess.name,
		Mode:              sess.mode,
		Trail:             ev.Trail,
		InfiltratorActive: sess.infiltratorActive,
	}
	if ev.Mode != landrun.ModeUnknown {
		req.Mode = ev.Mode
	}
	if ev.Base != nil {
		radius := ev.Base.Radius
		if radius == 0 {
			radius = landrun.BaseRadius
		}
		req.Base = &claim.BaseClaim{Point: geo.Point{Lng: ev.Base.Lng, Lat: ev.Base.Lat}, Radius: radius}
	}
	if req.Base == nil && len(req.Trail) == 0 {
		// no inline trail: claim whatever the engine recorded
		path, err := h.trails.StopDrawing(player)
		if err != nil {
			h.sendTo(player, wire.ClaimRejected{Reason: "no trail to claim"})
			return
		}
		req.Trail = path
	}

	res, err := h.claims.Resolve(ctx, req)
	if err != nil {
		h.log.Error("claim failed", "player", player, "error", err)
		h.sendTo(player, wire.ClaimRejected{Reason: "internal error"})
		return
	}
	if res.InfiltratorConsumed {
		h.mu.Lock()
		if s, ok := h.sessions[player]; ok {
			s.infiltratorActive = false
		}
		h.mu.Unlock()
	}
	for _, sb := range res.ShieldBroken {
		h.broadcastEvent(wire.ShieldBroken{Owner: sb.Owner, IsClan: sb.Kind == store.OwnerClan})
	}
	if !res.Accepted {
		h.sendTo(player, wire.ClaimRejected{Reason: res.Reason})
		return
	}

	h.sendTo(player, wire.ClaimSuccessful{AreaClaimed: res.AreaClaimed, TotalArea: res.NewTotalArea})
	batch := wire.BatchTerritoryUpdate{}
	for _, u := range res.Updates {
		batch.Updates = append(batch.Updates, wire.TerritoryUpdate{
			Owner:    u.Owner,
			IsClan:   u.Kind == store.OwnerClan,
			Geometry: u.Geom,
			Area:     u.Area,
		})
	}
	h.broadcastEvent(batch)
	h.announceQuestNotes(res.QuestNotes)
	// an accepted claim ends the run even when the claim carried its own
	// trail and the engine still has one open
	if h.trails.Drawing(player) {
		h.trails.StopDrawing(player)
	}
	h.clearRunFlags(player)
}

func (h *Hub) announceQuestNotes(notes []quest.Note) {
	for _, n := range notes {
		h.sendTo(n.Player, wire.QuestProgressUpdate{Quest: n.Quest, Current: n.Current, Target: n.Target})
		if n.Completed {
			h.broadcastEvent(wire.QuestCompleted{Quest: n.Quest, Winner: n.Player})
		}
	}
}

// handleActivate activates a power and flips the matching run-scoped flag.
func (h *Hub) handleActivate(ctx context.Context, player landrun.PlayerID, p landrun.Power) {
	act, err := h.powers.Activate(ctx, player, p)
	if err != nil {
		h.log.Debug("activate", "player", player, "power", p, "error", err)
		return
	}
	if act.RunScoped {
		h.mu.Lock()
		if sess, ok := h.sessions[player]; ok {
			switch p {
			case landrun.GhostRunner:
				sess.ghostActive = true
			case landrun.Infiltrator:
				sess.infiltratorActive = true
			case landrun.TrailDefense:
				sess.trailDefenseActive = true
			}
		}
		h.mu.Unlock()
	}
	h.sendTo(player, wire.SuperpowerAcknowledged{Power: p, ShieldRaised: act.ShieldRaised})
}
