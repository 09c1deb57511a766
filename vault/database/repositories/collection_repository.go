package repositories

import (
	"context"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// CollectionRepository tracks card ownership. Give and Remove are the only
// mutations; both are single statements so a card moving between players (or
// into market escrow) is decided row-by-row without explicit locks.
type CollectionRepository interface {
	Has(ctx context.Context, communityID, playerID string, cardID int64) (bool, error)
	// Give records ownership. Returns false when the player already owns the
	// card; no row is written in that case.
	Give(ctx context.Context, communityID, playerID string, cardID int64) (bool, error)
	// Remove deletes the ownership row. Returns false when the player did not
	// own the card, which callers treat as losing an ownership race.
	Remove(ctx context.Context, communityID, playerID string, cardID int64) (bool, error)
	OwnedCardIDs(ctx context.Context, communityID, playerID string) ([]int64, error)
	Count(ctx context.Context, communityID, playerID string) (int, error)
}

type collectionRepository struct {
	db *bun.DB
}

func NewCollectionRepository(db *bun.DB) CollectionRepository {
	return &collectionRepository{db: db}
}

func (r *collectionRepository) Has(ctx context.Context, communityID, playerID string, cardID int64) (bool, error) {
	return r.db.NewSelect().
		Model((*models.OwnedCard)(nil)).
		Where("community_id = ? AND player_id = ? AND card_id = ?", communityID, playerID, cardID).
		Exists(ctx)
}

func (r *collectionRepository) Give(ctx context.Context, communityID, playerID string, cardID int64) (bool, error) {
	owned := &models.OwnedCard{
		CommunityID: communityID,
		PlayerID:    playerID,
		CardID:      cardID,
		ObtainedAt:  time.Now(),
	}
	res, err := r.db.NewInsert().
		Model(owned).
		On("CONFLICT (community_id, player_id, card_id) DO NOTHING").
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

func (r *collectionRepository) Remove(ctx context.Context, communityID, playerID string, cardID int64) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*models.OwnedCard)(nil)).
		Where("community_id = ? AND player_id = ? AND card_id = ?", communityID, playerID, cardID).
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

func (r *collectionRepository) OwnedCardIDs(ctx context.Context, communityID, playerID string) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.OwnedCard)(nil)).
		Column("card_id").
		Where("community_id = ? AND player_id = ?", communityID, playerID).
		Order("card_id ASC").
		Scan(ctx, &ids)
	return ids, err
}

func (r *collectionRepository) Count(ctx context.Context, communityID, playerID string) (int, error) {
	return r.db.NewSelect().
		Model((*models.OwnedCard)(nil)).
		Where("community_id = ? AND player_id = ?", communityID, playerID).
		Count(ctx)
}
