package claim

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/store"
)

func (r *Resolver) resolveClan(ctx context.Context, tx pgx.Tx, req Request, res *Result) error {
	if _, err := r.store.PlayerForUpdate(ctx, tx, req.Player); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reject("unknown player")
		}
		return err
	}
	clanID, member, err := r.store.MemberClan(ctx, tx, req.Player)
	if err != nil {
		return err
	}
	if !member {
		return reject("you are not in a clan")
	}
	clan, err := r.store.Clan(ctx, tx, clanID)
	if err != nil {
		return err
	}

	// a single point (or an explicit base claim) places the clan base;
	// anything longer is an expansion loop
	if req.Base != nil || len(req.Trail) == 1 {
		var point geo.Point
		if req.Base != nil {
			point = req.Base.Point
		} else {
			point = req.Trail[0]
		}
		return r.resolveClanBase(ctx, tx, req, res, clan, point)
	}
	return r.resolveClanExpansion(ctx, tx, req, res, clan)
}

func (r *Resolver) resolveClanBase(ctx context.Context, tx pgx.Tx, req Request, res *Result, clan store.ClanRow, point geo.Point) error {
	if clan.Leader != req.Player {
		return reject("only the clan leader can place the base")
	}
	if clan.HasBase {
		return reject("clan base already set")
	}

	ring := geo.Circle(point, landrun.ClanBaseRadius, circleSegments)
	region, regionArea, err := r.store.Clean(ctx, tx, ring.WKT())
	if err != nil {
		return err
	}
	victims, err := r.store.FindIntersecting(ctx, tx, region, req.Player, clan.ID)
	if err != nil {
		return err
	}
	if len(victims) > 0 {
		return reject("clan base overlaps existing territory")
	}

	if err := r.store.SetClanBase(ctx, tx, clan.ID, point); err != nil {
		if errors.Is(err, store.ErrBaseAlreadySet) {
			return reject("clan base already set")
		}
		return err
	}
	if err := r.store.InitialClanTerritory(ctx, tx, clan.ID, region, regionArea); err != nil {
		return err
	}

	res.Accepted = true
	res.NewTotalArea = regionArea
	res.AreaClaimed = regionArea
	res.Updates = append(res.Updates, TerritoryUpdate{
		Owner: string(clan.ID), Kind: store.OwnerClan, Name: clan.Name,
		Geom: region, Area: regionArea,
	})
	return r.advanceQuests(ctx, tx, res, req.Player, landrun.QuestCoverArea, regionArea)
}

func (r *Resolver) resolveClanExpansion(ctx context.Context, tx pgx.Tx, req Request, res *Result, clan store.ClanRow) error {
	if len(req.Trail) < 3 {
		return reject("trail too short to close into a loop")
	}
	if !clan.HasBase {
		return reject("clan has no base; the leader must place one first")
	}
	if geo.Distance(req.Trail[0], clan.Base) > landrun.ClanStartDistance {
		return reject("clan runs must start within 70 m of the clan base")
	}

	current, err := r.store.ClanTerritory(ctx, tx, clan.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reject("clan has no territory; the leader must place a base first")
		}
		return err
	}
	if current.Area <= 0 {
		return reject("clan territory was wiped out; the leader must re-base")
	}

	region, regionArea, err := r.store.Clean(ctx, tx, geo.CloseRing(req.Trail).WKT())
	if err != nil {
		return err
	}
	if regionArea < landrun.MinClaimArea {
		return reject("claim area below the 100 m² minimum")
	}
	connected, err := r.store.Intersects(ctx, tx, current.Geom, region)
	if err != nil {
		return err
	}
	if !connected {
		return reject("expansion must touch clan territory")
	}

	total, totalArea, err := r.store.Union(ctx, tx, current.Geom, region)
	if err != nil {
		return err
	}
	attackerFinal, finalArea := total, totalArea

	victims, err := r.store.FindIntersecting(ctx, tx, region, "", clan.ID)
	if err != nil {
		return err
	}
	for _, v := range victims {
		if v.Kind == store.OwnerClan {
			if v.ShieldActive {
				// a clan shield turns away the whole claim
				return reject("target clan territory is shielded")
			}
		} else {
			victimClan, isMember, err := r.store.MemberClan(ctx, tx, v.PlayerID())
			if err != nil {
				return err
			}
			if isMember && victimClan == clan.ID {
				continue // never fight our own members
			}
			if v.ShieldActive {
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
	if err := r.store.ReplaceClanTerritory(ctx, tx, clan.ID, attackerFinal, finalArea); err != nil {
		return err
	}

	res.Accepted = true
	res.NewTotalArea = finalArea
	res.AreaClaimed = finalArea - current.Area
	res.Updates = append([]TerritoryUpdate{{
		Owner: string(clan.ID), Kind: store.OwnerClan, Name: clan.Name,
		Geom: attackerFinal, Area: finalArea,
	}}, res.Updates...)

	if err := r.advanceQuests(ctx, tx, res, req.Player, landrun.QuestCoverArea, regionArea); err != nil {
		return err
	}
	return r.advanceQuests(ctx, tx, res, req.Player, landrun.QuestRunTrail, geo.Length(req.Trail)/1000)
}
