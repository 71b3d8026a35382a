package session

import (
	"context"
	"time"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/wire"
)

// Ticker defaults; RunTicker takes overrides for tests.
const (
	positionInterval = 2 * time.Second
	sweepInterval    = time.Minute
)

// RunTicker drives the periodic work: position snapshot broadcasts and the
// shield / quest expiry sweeps. Blocks until ctx is done.
func (h *Hub) RunTicker(ctx context.Context, positionEvery, sweepEvery time.Duration) {
	if positionEvery <= 0 {
		positionEvery = positionInterval
	}
	if sweepEvery <= 0 {
		sweepEvery = sweepInterval
	}
	positions := time.NewTicker(positionEvery)
	sweeps := time.NewTicker(sweepEvery)
	defer positions.Stop()
	defer sweeps.Stop()

	for {
		select {
		case <-positions.C:
			h.snapshotPositions(ctx)
		case <-sweeps.C:
			h.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// snapshotPositions broadcasts where every playing, ghost-free player is
// and persists the snapshot rows.
func (h *Hub) snapshotPositions(ctx context.Context) {
	now := time.Now()
	h.mu.Lock()
	out := wire.PlayerPositions{}
	type persisted struct {
		id       landrun.PlayerID
		lng, lat float64
	}
	var rows []persisted
	for id, sess := range h.sessions {
		if !sess.hasPos || !sess.mode.IsPlaying() {
			continue
		}
		rows = append(rows, persisted{id, sess.pos.Lng, sess.pos.Lat})
		if sess.ghostActive {
			continue
		}
		out.Positions = append(out.Positions, wire.PlayerPosition{Player: id, Point: sess.pos, Mode: sess.mode})
	}
	h.mu.Unlock()

	for _, r := range rows {
		if err := h.store.SavePosition(ctx, r.id, r.lng, r.lat, now); err != nil {
			h.log.Error("save position", "player", r.id, "error", err)
		}
	}
	if len(out.Positions) > 0 {
		h.broadcastEvent(out)
	}
}

// sweep expires stale shields and closes expired quests.
func (h *Hub) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-landrun.ShieldTTL)
	expired, err := h.store.ExpireShields(ctx, cutoff)
	if err != nil {
		h.log.Error("shield expiry sweep", "error", err)
	}
	for _, id := range expired {
		h.broadcastEvent(wire.ShieldExpired{Player: id})
	}

	closed, err := h.store.CloseExpiredQuests(ctx)
	if err != nil {
		h.log.Error("quest expiry sweep", "error", err)
	}
	if len(closed) > 0 {
		h.log.Info("expired quests closed", "count", len(closed))
	}
}
