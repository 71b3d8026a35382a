package claim

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/store"
)

func (r *Resolver) resolveSolo(ctx context.Context, tx pgx.Tx, req Request, res *Result) error {
	player, err := r.store.PlayerForUpdate(ctx, tx, req.Player)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reject("unknown player")
		}
		return err
	}

	region, regionArea, err := r.proposedRegion(ctx, tx, req)
	if err != nil {
		return err
	}

	current, err := r.store.Territory(ctx, tx, req.Player)
	switch {
	case errors.Is(err, store.ErrNotFound):
		current = store.TerritoryRow{Owner: req.Player, Geom: geo.EmptyPolygonWKT}
	case err != nil:
		return err
	}
	hasLand := current.Area > 0

	if req.Base != nil {
		return r.resolveBase(ctx, tx, req, res, current, hasLand, region, regionArea)
	}
	return r.resolveExpansion(ctx, tx, req, res, player, current, hasLand, region, regionArea)
}

func (r *Resolver) resolveBase(ctx context.Context, tx pgx.Tx, req Request, res *Result, current store.TerritoryRow, hasLand bool, region string, regionArea float64) error {
	// the minimum only applies once the player holds land; a first base of
	// any radius stands on its own
	if hasLand && regionArea < landrun.MinClaimArea {
		return reject("claim area below the 100 m² minimum")
	}

	victims, err := r.store.FindIntersecting(ctx, tx, region, req.Player, "")
	if err != nil {
		return err
	}

	if req.InfiltratorActive {
		return r.resolveInfiltration(ctx, tx, req, res, current, hasLand, region, regionArea, victims)
	}

	if len(victims) > 0 {
		return reject("base overlaps existing territory")
	}
	if hasLand {
		own, err := r.store.Intersects(ctx, tx, current.Geom, region)
		if err != nil {
			return err
		}
		if own {
			return reject("base overlaps your own territory; expand it with a trail instead")
		}
	}

	return r.commitAttacker(ctx, tx, req, res, current, hasLand, region, regionArea, regionArea)
}

// resolveInfiltration handles a base claim with the infiltrator power armed:
// the circle must sit fully inside exactly one foreign territory, which is
// either carved or, when shielded, trades the shield for the power.
func (r *Resolver) resolveInfiltration(ctx context.Context, tx pgx.Tx, req Request, res *Result, current store.TerritoryRow, hasLand bool, region string, regionArea float64, victims []store.Victim) error {
	if len(victims) != 1 {
		return reject("infiltrator base must sit inside a single territory")
	}
	host := victims[0]
	_, outside, err := r.store.Difference(ctx, tx, region, host.Geom)
	if err != nil {
		return err
	}
	if outside >= landrun.WipeoutThreshold {
		return reject("infiltrator base must sit fully inside the territory")
	}

	if host.ShieldActive {
		if err := r.breakShield(ctx, tx, host); err != nil {
			return err
		}
		res.ShieldBroken = append(res.ShieldBroken, ShieldBreak{Owner: host.ID, Kind: host.Kind})
		res.InfiltratorConsumed = true
		res.Reason = "a shield blocked the infiltration"
		return nil // commit: the shield and the power are both spent
	}

	remaining, remainingArea, err := r.store.Difference(ctx, tx, host.Geom, region)
	if err != nil {
		return err
	}
	if err := r.replaceVictim(ctx, tx, res, host, remaining, remainingArea); err != nil {
		return err
	}
	if err := r.store.SetCarveMode(ctx, tx, req.Player, true); err != nil {
		return err
	}
	res.InfiltratorConsumed = true
	return r.commitAttacker(ctx, tx, req, res, current, hasLand, region, regionArea, regionArea)
}

func (r *Resolver) resolveExpansion(ctx context.Context, tx pgx.Tx, req Request, res *Result, player store.PlayerRow, current store.TerritoryRow, hasLand bool, region string, regionArea float64) error {
	if !hasLand {
		return reject("no territory to expand; claim a base first")
	}
	if regionArea < landrun.MinClaimArea {
		return reject("claim area below the 100 m² minimum")
	}
	connected, err := r.store.Intersects(ctx, tx, current.Geom, region)
	if err != nil {
		return err
	}
	if !connected {
		return reject("expansion must touch your territory")
	}

	// a pending infiltrator carve is spent by the first expansion, which
	// then fights like any other
	if player.CarveMode {
		if err := r.store.SetCarveMode(ctx, tx, req.Player, false); err != nil {
			return err
		}
	}

	total, totalArea, err := r.store.Union(ctx, tx, current.Geom, region)
	if err != nil {
		return err
	}
	attackerFinal, finalArea := total, totalArea

	victims, err := r.store.FindIntersecting(ctx, tx, region, req.Player, "")
	if err != nil {
		return err
	}
	for _, v := range victims {
		if v.ShieldActive {
			// the victim survives as an island inside the attacker's land
			attackerFinal, finalArea, err = r.store.Difference(ctx, tx, attackerFinal, v.Geom)
			if err != nil {
				return err
			}
			if err := r.breakShield(ctx, tx, v); err != nil {
				return err
			}
			res.ShieldBroken = append(res.ShieldBroken, ShieldBreak{Owner: v.ID, Kind: v.Kind})
			continue
		}
		remaining, remainingArea, err := r.store.Difference(ctx, tx, v.Geom, total)
		if err != nil {
			return err
		}
		if err := r.replaceVictim(ctx, tx, res, v, remaining, remainingArea); err != nil {
			return err
		}
	}

	if finalArea < landrun.WipeoutThreshold {
		return reject("claim nullified by protected territories")
	}

	if err := r.store.ReplaceTerritory(ctx, tx, req.Player, attackerFinal, finalArea); err != nil {
		return err
	}
	res.Accepted = true
	res.NewTotalArea = finalArea
	res.AreaClaimed = finalArea - current.Area
	res.Updates = append([]TerritoryUpdate{{
		Owner: string(req.Player), Kind: store.OwnerPlayer, Name: current.Name,
		Geom: attackerFinal, Area: finalArea,
	}}, res.Updates...)

	if err := r.advanceQuests(ctx, tx, res, req.Player, landrun.QuestCoverArea, regionArea); err != nil {
		return err
	}
	return r.advanceQuests(ctx, tx, res, req.Player, landrun.QuestRunTrail, geo.Length(req.Trail)/1000)
}

// commitAttacker finishes a base-style claim: insert a first territory
// (which also covers re-basing after a wipeout) or union a detached circle
// into existing land.
func (r *Resolver) commitAttacker(ctx context.Context, tx pgx.Tx, req Request, res *Result, current store.TerritoryRow, hasLand bool, region string, regionArea, claimed float64) error {
	finalGeom, finalArea := region, regionArea
	name := req.Name
	if hasLand {
		var err error
		finalGeom, finalArea, err = r.store.Union(ctx, tx, current.Geom, region)
		if err != nil {
			return err
		}
		name = current.Name
		if err := r.store.ReplaceTerritory(ctx, tx, req.Player, finalGeom, finalArea); err != nil {
			return err
		}
	} else {
		if err := r.store.InitialTerritory(ctx, tx, req.Player, name, finalGeom, finalArea, req.Base.Point); err != nil {
			return err
		}
	}

	res.Accepted = true
	res.NewTotalArea = finalArea
	res.AreaClaimed = claimed
	res.Updates = append([]TerritoryUpdate{{
		Owner: string(req.Player), Kind: store.OwnerPlayer, Name: name,
		Geom: finalGeom, Area: finalArea,
	}}, res.Updates...)

	return r.advanceQuests(ctx, tx, res, req.Player, landrun.QuestCoverArea, regionArea)
}

// replaceVictim writes a victim's post-combat geometry, collapsing slivers
// below the wipeout threshold to empty.
func (r *Resolver) replaceVictim(ctx context.Context, tx pgx.Tx, res *Result, v store.Victim, remaining string, remainingArea float64) error {
	if remainingArea < landrun.WipeoutThreshold {
		remaining, remainingArea = geo.EmptyPolygonWKT, 0
	}
	var err error
	if v.Kind == store.OwnerClan {
		err = r.store.ReplaceClanTerritory(ctx, tx, v.ClanID(), remaining, remainingArea)
	} else {
		err = r.store.ReplaceTerritory(ctx, tx, v.PlayerID(), remaining, remainingArea)
	}
	if err != nil {
		return err
	}
	res.Updates = append(res.Updates, TerritoryUpdate{
		Owner: v.ID, Kind: v.Kind, Name: v.Name, Geom: remaining, Area: remainingArea,
	})
	return nil
}

// breakShield spends a victim's shield. For players the backing power goes
// with it; for clans only the clan flag drops.
func (r *Resolver) breakShield(ctx context.Context, tx pgx.Tx, v store.Victim) error {
	if v.Kind == store.OwnerClan {
		return r.store.SetClanShield(ctx, tx, v.ClanID(), false)
	}
	if err := r.store.SetShield(ctx, tx, v.PlayerID(), false, false, nil); err != nil {
		return err
	}
	_, err := r.store.RemovePower(ctx, tx, v.PlayerID(), landrun.LastStand)
	return err
}

func (r *Resolver) advanceQuests(ctx context.Context, tx pgx.Tx, res *Result, player landrun.PlayerID, kind landrun.QuestKind, delta float64) error {
	if r.quests == nil || delta <= 0 {
		return nil
	}
	notes, err := r.quests.Advance(ctx, tx, player, kind, delta)
	if err != nil {
		return err
	}
	res.QuestNotes = append(res.QuestNotes, notes...)
	return nil
}
