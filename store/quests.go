package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/landrun/landrun"
)

// QuestRow is an active quest definition.
type QuestRow struct {
	ID        landrun.QuestID
	Kind      landrun.QuestKind
	Target    float64
	ExpiresAt time.Time
}

// CreateQuest opens a new quest of the given kind.
func (s *Store) CreateQuest(ctx context.Context, kind landrun.QuestKind, target float64, expiresAt time.Time) (landrun.QuestID, error) {
	id := landrun.QuestID(uuid.NewString())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quests (id, kind, target, expires_at) VALUES ($1, $2, $3, $4)`,
		string(id), kind.String(), target, expiresAt)
	if err != nil {
		return "", fmt.Errorf("store.CreateQuest: %w", err)
	}
	return id, nil
}

// ActiveQuests lists unexpired, unwon quests of a kind. No locks are taken;
// winner claims re-check under FOR UPDATE.
func (s *Store) ActiveQuests(ctx context.Context, tx pgx.Tx, kind landrun.QuestKind) ([]QuestRow, error) {
	rows, err := tx.Query(ctx, `
SELECT id, kind, target, expires_at FROM quests
WHERE kind = $1 AND active AND winner_id IS NULL AND expires_at > now()
ORDER BY created_at`, kind.String())
	if err != nil {
		return nil, fmt.Errorf("store.ActiveQuests: %w", err)
	}
	defer rows.Close()
	var quests []QuestRow
	for rows.Next() {
		var q QuestRow
		var id, kindName string
		if err := rows.Scan(&id, &kindName, &q.Target, &q.ExpiresAt); err != nil {
			return nil, fmt.Errorf("store.ActiveQuests: %w", err)
		}
		q.ID = landrun.QuestID(id)
		if q.Kind, err = landrun.ParseQuestKind(kindName); err != nil {
			return nil, fmt.Errorf("store.ActiveQuests: %w", err)
		}
		quests = append(quests, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.ActiveQuests: %w", err)
	}
	return quests, nil
}

// AddProgress accumulates delta onto a player's quest progress and returns
// the new total.
func (s *Store) AddProgress(ctx context.Context, tx pgx.Tx, quest landrun.QuestID, player landrun.PlayerID, delta float64) (float64, error) {
	const q = `
INSERT INTO quest_progress (quest_id, player_id, current) VALUES ($1, $2, $3)
ON CONFLICT (quest_id, player_id) DO UPDATE
SET current = quest_progress.current + EXCLUDED.current
RETURNING current`
	var current float64
	if err := tx.QueryRow(ctx, q, string(quest), string(player), delta).Scan(&current); err != nil {
		return 0, fmt.Errorf("store.AddProgress: %w", err)
	}
	return current, nil
}

// ClaimQuestWinner marks player as the quest winner if nobody beat them to
// it. The quest row is locked first so exactly one claimant wins.
func (s *Store) ClaimQuestWinner(ctx context.Context, tx pgx.Tx, quest landrun.QuestID, player landrun.PlayerID) (bool, error) {
	var winner *string
	err := tx.QueryRow(ctx,
		`SELECT winner_id FROM quests WHERE id = $1 FOR UPDATE`, string(quest)).Scan(&winner)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("store.ClaimQuestWinner: quest %s: %w", quest, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("store.ClaimQuestWinner: %w", err)
	}
	if winner != nil {
		return false, nil
	}
	if _, err := tx.Exec(ctx,
		`UPDATE quests SET winner_id = $2, active = false WHERE id = $1`,
		string(quest), string(player)); err != nil {
		return false, fmt.Errorf("store.ClaimQuestWinner: %w", err)
	}
	return true, nil
}

// CloseExpiredQuests deactivates quests past their deadline and returns their
// ids for the expiry broadcast.
func (s *Store) CloseExpiredQuests(ctx context.Context) ([]landrun.QuestID, error) {
	rows, err := s.pool.Query(ctx, `
UPDATE quests SET active = false
WHERE active AND winner_id IS NULL AND expires_at <= now()
RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("store.CloseExpiredQuests: %w", err)
	}
	defer rows.Close()
	var ids []landrun.QuestID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store.CloseExpiredQuests: %w", err)
		}
		ids = append(ids, landrun.QuestID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.CloseExpiredQuests: %w", err)
	}
	return ids, nil
}
