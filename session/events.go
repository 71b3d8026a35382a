package session

import (
	"context"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/conquest"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/quest"
	"github.com/landrun/landrun/wire"
)

// The hub is the broadcast sink for the trail engine and the conquest
// manager. Trail deltas are public; arena and conquest progress go to the
// attacker only, except the final transfer which everyone sees.

func (h *Hub) TrailStarted(player landrun.PlayerID) {
	h.broadcastEvent(wire.TrailStarted{Player: player})
}

func (h *Hub) TrailPointAdded(player landrun.PlayerID, p geo.Point) {
	h.broadcastEvent(wire.TrailPointAdded{Player: player, Point: p})
}

func (h *Hub) TrailCleared(player landrun.PlayerID) {
	h.broadcastEvent(wire.TrailCleared{Player: player})
}

func (h *Hub) RunTerminated(player landrun.PlayerID, reason string) {
	h.sendTo(player, wire.RunTerminated{Player: player, Reason: reason})
}

func (h *Hub) ChestClaimed(chest landrun.ChestID, by landrun.PlayerID, granted []landrun.Power) {
	h.broadcastEvent(wire.ChestClaimed{ID: chest, By: by})
	if len(granted) > 0 {
		h.sendTo(by, wire.SuperpowersGranted{Powers: granted})
	}
}

// TrailCut advances trail_cut quests for the attacker outside any claim
// transaction. Best effort.
func (h *Hub) TrailCut(ctx context.Context, player landrun.PlayerID) {
	var notes []quest.Note
	err := h.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		notes, err = h.quests.Advance(ctx, tx, player, landrun.QuestTrailCut, 1)
		return err
	})
	if err != nil {
		h.log.Error("trail cut quest", "player", player, "error", err)
		return
	}
	h.announceQuestNotes(notes)
}

// SponsorCheckin credits a sponsor_checkin quest visit reported by the
// sponsor side-channel.
func (h *Hub) SponsorCheckin(ctx context.Context, player landrun.PlayerID) error {
	var notes []quest.Note
	err := h.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		notes, err = h.quests.Advance(ctx, tx, player, landrun.QuestSponsorCheckin, 1)
		return err
	})
	if err != nil {
		return err
	}
	h.announceQuestNotes(notes)
	return nil
}

func (h *Hub) ArenaCreated(attacker, target landrun.PlayerID, center geo.Point, radiusM float64) {
	h.sendTo(attacker, wire.ArenaCreated{Target: target, Center: center, Radius: radiusM})
}

func (h *Hub) ArenaEntered(attacker, target landrun.PlayerID) {
	h.sendTo(attacker, wire.ArenaEntered{})
}

func (h *Hub) ArenaTimeout(attacker, target landrun.PlayerID) {
	h.sendTo(attacker, wire.ArenaTimeout{})
}

func (h *Hub) ConquestStarted(attacker, target landrun.PlayerID, lapsRequired int) {
	h.sendTo(attacker, wire.ConquestStarted{LapsRequired: lapsRequired})
}

func (h *Hub) ConquestProgress(attacker, target landrun.PlayerID, laps, lapsRequired int) {
	h.sendTo(attacker, wire.ConquestProgress{Lap: laps, LapsRequired: lapsRequired})
}

func (h *Hub) ConquestFailed(attacker, target landrun.PlayerID, reason string) {
	h.sendTo(attacker, wire.ConquestFailed{Reason: reason})
}

func (h *Hub) ConquestSucceeded(t conquest.Transfer) {
	h.broadcastEvent(wire.ConquerAttemptSuccessful{Target: t.Victim, Area: t.AttackerArea})
	h.broadcastEvent(wire.BatchTerritoryUpdate{Updates: []wire.TerritoryUpdate{
		{Owner: string(t.Attacker), Geometry: t.AttackerGeom, Area: t.AttackerArea},
		{Owner: string(t.Victim), Geometry: geo.EmptyPolygonWKT, Area: 0},
	}})
}
