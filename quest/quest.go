// Package quest tracks progress toward sponsored quests. Progress is
// advanced inside the caller's claim transaction so quest state can never
// drift from the territory change that earned it; each quest is advanced in
// its own savepoint so losing a winner race does not poison the claim.
package quest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/store"
)

// Store is the subset of the persistence layer the tracker needs.
type Store interface {
	ActiveQuests(ctx context.Context, tx pgx.Tx, kind landrun.QuestKind) ([]store.QuestRow, error)
	AddProgress(ctx context.Context, tx pgx.Tx, quest landrun.QuestID, player landrun.PlayerID, delta float64) (float64, error)
	ClaimQuestWinner(ctx context.Context, tx pgx.Tx, quest landrun.QuestID, player landrun.PlayerID) (bool, error)
	Savepoint(ctx context.Context, tx pgx.Tx, fn func(pgx.Tx) error) error
}

// Note is a quest event to broadcast after the enclosing transaction
// commits.
type Note struct {
	Quest     landrun.QuestID
	Kind      landrun.QuestKind
	Player    landrun.PlayerID
	Current   float64
	Target    float64
	Completed bool
}

type Tracker struct {
	store Store
	log   *slog.Logger
}

func NewTracker(s Store, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: s, log: log}
}

// errLostRace aborts a savepoint when another player claimed the win first.
var errLostRace = errors.New("quest: winner already decided")

// Advance adds delta to the player's progress on every active quest of the
// given kind. When progress reaches the target the player is recorded as the
// winner unless someone got there first, in which case that quest's
// savepoint is rolled back and the rest continue. Returned notes are for
// post-commit broadcast only.
func (t *Tracker) Advance(ctx context.Context, tx pgx.Tx, player landrun.PlayerID, kind landrun.QuestKind, delta float64) ([]Note, error) {
	if delta <= 0 {
		return nil, nil
	}
	quests, err := t.store.ActiveQuests(ctx, tx, kind)
	if err != nil {
		return nil, fmt.Errorf("quest.Advance: %w", err)
	}

	var notes []Note
	for _, q := range quests {
		note := Note{Quest: q.ID, Kind: kind, Player: player, Target: q.Target}
		err := t.store.Savepoint(ctx, tx, func(tx pgx.Tx) error {
			current, err := t.store.AddProgress(ctx, tx, q.ID, player, delta)
			if err != nil {
				return err
			}
			note.Current = current
			if current < q.Target {
				return nil
			}
			won, err := t.store.ClaimQuestWinner(ctx, tx, q.ID, player)
			if err != nil {
				return err
			}
			if !won {
				return errLostRace
			}
			note.Completed = true
			return nil
		})
		if errors.Is(err, errLostRace) {
			t.log.Debug("quest already won", "quest", q.ID, "player", player)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("quest.Advance: quest %s: %w", q.ID, err)
		}
		notes = append(notes, note)
	}
	return notes, nil
}
