package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// TradeRepository stores 1-for-1 trade offers. Terminal transitions use
// compare-and-set on the open status so accept, decline and cancel cannot
// double-fire.
type TradeRepository interface {
	Create(ctx context.Context, trade *models.TradeOffer) error
	GetByTradeID(ctx context.Context, tradeID string) (*models.TradeOffer, error)
	OpenForPlayer(ctx context.Context, communityID, playerID string) ([]*models.TradeOffer, error)
	// SetStatus flips from -> to; false means another caller won the race.
	SetStatus(ctx context.Context, tradeID string, from, to models.TradeStatus) (bool, error)
}

type tradeRepository struct {
	db *bun.DB
}

func NewTradeRepository(db *bun.DB) TradeRepository {
	return &tradeRepository{db: db}
}

func (r *tradeRepository) Create(ctx context.Context, trade *models.TradeOffer) error {
	trade.CreatedAt = time.Now()
	trade.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(trade).Exec(ctx)
	return err
}

func (r *tradeRepository) GetByTradeID(ctx context.Context, tradeID string) (*models.TradeOffer, error) {
	trade := new(models.TradeOffer)
	err := r.db.NewSelect().
		Model(trade).
		Where("trade_id = ?", tradeID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return trade, nil
}

func (r *tradeRepository) OpenForPlayer(ctx context.Context, communityID, playerID string) ([]*models.TradeOffer, error) {
	var trades []*models.TradeOffer
	err := r.db.NewSelect().
		Model(&trades).
		Where("community_id = ? AND status = ?", communityID, models.TradeOpen).
		Where("proposer_id = ? OR target_id = ?", playerID, playerID).
		Order("created_at DESC").
		Scan(ctx)
	return trades, err
}

func (r *tradeRepository) SetStatus(ctx context.Context, tradeID string, from, to models.TradeStatus) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.TradeOffer)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("trade_id = ? AND status = ?", tradeID, from).
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
