package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// DuelRepository stores duel challenges, resolved matches and the scripted
// opponent cooldown gate.
type DuelRepository interface {
	CreateChallenge(ctx context.Context, challenge *models.DuelChallenge) error
	GetChallenge(ctx context.Context, id int64) (*models.DuelChallenge, error)
	// OpenChallengeForTarget finds the newest open challenge addressed to the
	// player, or ErrNotFound.
	OpenChallengeForTarget(ctx context.Context, communityID, targetID string) (*models.DuelChallenge, error)
	// HasOpenChallenge reports whether the challenger already has an open
	// challenge in the community.
	HasOpenChallenge(ctx context.Context, communityID, challengerID string) (bool, error)
	// SetChallengeStatus flips from -> to; false means the challenge left the
	// from status first.
	SetChallengeStatus(ctx context.Context, id int64, from, to models.ChallengeStatus) (bool, error)
	// ExpireOpenChallenges flips stale open challenges to expired and returns
	// how many were flipped.
	ExpireOpenChallenges(ctx context.Context, before time.Time) (int64, error)

	RecordMatch(ctx context.Context, match *models.DuelMatch) error
	RecentMatches(ctx context.Context, communityID, playerID string, limit int) ([]*models.DuelMatch, error)

	Cooldown(ctx context.Context, communityID, playerID string) (time.Time, error)
	SetCooldown(ctx context.Context, communityID, playerID string, nextAt time.Time) error
}

type duelRepository struct {
	db *bun.DB
}

func NewDuelRepository(db *bun.DB) DuelRepository {
	return &duelRepository{db: db}
}

func (r *duelRepository) CreateChallenge(ctx context.Context, challenge *models.DuelChallenge) error {
	challenge.CreatedAt = time.Now()
	challenge.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(challenge).Exec(ctx)
	return err
}

func (r *duelRepository) GetChallenge(ctx context.Context, id int64) (*models.DuelChallenge, error) {
	challenge := new(models.DuelChallenge)
	err := r.db.NewSelect().
		Model(challenge).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return challenge, nil
}

func (r *duelRepository) OpenChallengeForTarget(ctx context.Context, communityID, targetID string) (*models.DuelChallenge, error) {
	challenge := new(models.DuelChallenge)
	err := r.db.NewSelect().
		Model(challenge).
		Where("community_id = ? AND target_id = ? AND status = ?",
			communityID, targetID, models.ChallengeOpen).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return challenge, nil
}

func (r *duelRepository) HasOpenChallenge(ctx context.Context, communityID, challengerID string) (bool, error) {
	return r.db.NewSelect().
		Model((*models.DuelChallenge)(nil)).
		Where("community_id = ? AND challenger_id = ? AND status = ?",
			communityID, challengerID, models.ChallengeOpen).
		Exists(ctx)
}

func (r *duelRepository) SetChallengeStatus(ctx context.Context, id int64, from, to models.ChallengeStatus) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.DuelChallenge)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *duelRepository) ExpireOpenChallenges(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*models.DuelChallenge)(nil)).
		Set("status = ?", models.ChallengeExpired).
		Set("updated_at = ?", time.Now()).
		Where("status = ? AND created_at < ?", models.ChallengeOpen, before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *duelRepository) RecordMatch(ctx context.Context, match *models.DuelMatch) error {
	match.CreatedAt = time.Now()
	_, err := r.db.NewInsert().Model(match).Exec(ctx)
	return err
}

func (r *duelRepository) RecentMatches(ctx context.Context, communityID, playerID string, limit int) ([]*models.DuelMatch, error) {
	var matches []*models.DuelMatch
	err := r.db.NewSelect().
		Model(&matches).
		Where("community_id = ?", communityID).
		Where("player_a = ? OR player_b = ?", playerID, playerID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return matches, err
}

func (r *duelRepository) Cooldown(ctx context.Context, communityID, playerID string) (time.Time, error) {
	cooldown := new(models.DuelCooldown)
	err := r.db.NewSelect().
		Model(cooldown).
		Where("community_id = ? AND player_id = ?", communityID, playerID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return cooldown.NextAt, nil
}

func (r *duelRepository) SetCooldown(ctx context.Context, communityID, playerID string, nextAt time.Time) error {
	cooldown := &models.DuelCooldown{
		CommunityID: communityID,
		PlayerID:    playerID,
		NextAt:      nextAt,
	}
	_, err := r.db.NewInsert().
		Model(cooldown).
		On("CONFLICT (community_id, player_id) DO UPDATE").
		Set("next_at = EXCLUDED.next_at").
		Exec(ctx)
	return err
}
