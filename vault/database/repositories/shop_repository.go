package repositories

import (
	"context"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// ShopRepository stores the daily shop slots and purchase records.
type ShopRepository interface {
	SlotsFor(ctx context.Context, communityID string, dayKey int) ([]*models.ShopSlot, error)
	// ReplaceSlots atomically swaps the community's slots for the day.
	// Rows and purchase markers up to and including dayKey are dropped in
	// the same transaction, so a same-day replace starts the shop over.
	ReplaceSlots(ctx context.Context, communityID string, dayKey int, slots []*models.ShopSlot) error
	// DecrementStock takes one unit; false means the slot was out of stock.
	DecrementStock(ctx context.Context, slotID int64) (bool, error)
	// RestockSlot returns one unit after a failed delivery.
	RestockSlot(ctx context.Context, slotID int64) error
	// RecordPurchase inserts the per-player purchase marker. Returns false
	// when the player already bought from this slot today.
	RecordPurchase(ctx context.Context, purchase *models.ShopPurchase) (bool, error)
	DeletePurchase(ctx context.Context, purchase *models.ShopPurchase) error
}

type shopRepository struct {
	db *bun.DB
}

func NewShopRepository(db *bun.DB) ShopRepository {
	return &shopRepository{db: db}
}

func (r *shopRepository) SlotsFor(ctx context.Context, communityID string, dayKey int) ([]*models.ShopSlot, error) {
	var slots []*models.ShopSlot
	err := r.db.NewSelect().
		Model(&slots).
		Where("community_id = ? AND day_key = ?", communityID, dayKey).
		Order("slot_no ASC").
		Scan(ctx)
	return slots, err
}

func (r *shopRepository) ReplaceSlots(ctx context.Context, communityID string, dayKey int, slots []*models.ShopSlot) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.ShopSlot)(nil)).
			Where("community_id = ? AND day_key <= ?", communityID, dayKey).
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewDelete().
			Model((*models.ShopPurchase)(nil)).
			Where("community_id = ? AND day_key <= ?", communityID, dayKey).
			Exec(ctx)
		if err != nil {
			return err
		}

		for _, slot := range slots {
			slot.CommunityID = communityID
			slot.DayKey = dayKey
			slot.CreatedAt = time.Now()
		}
		// A racing generator hits the (community, day, slot) unique index;
		// its duplicate rows are simply skipped and the first writer's shop
		// stands.
		_, err = tx.NewInsert().
			Model(&slots).
			On("CONFLICT (community_id, day_key, slot_no) DO NOTHING").
			Exec(ctx)
		return err
	})
}

func (r *shopRepository) DecrementStock(ctx context.Context, slotID int64) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.ShopSlot)(nil)).
		Set("stock = stock - 1").
		Where("id = ? AND stock > 0", slotID).
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

func (r *shopRepository) RestockSlot(ctx context.Context, slotID int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.ShopSlot)(nil)).
		Set("stock = stock + 1").
		Where("id = ?", slotID).
		Exec(ctx)
	return err
}

func (r *shopRepository) RecordPurchase(ctx context.Context, purchase *models.ShopPurchase) (bool, error) {
	purchase.CreatedAt = time.Now()
	res, err := r.db.NewInsert().
		Model(purchase).
		On("CONFLICT (community_id, player_id, day_key, slot_no) DO NOTHING").
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

func (r *shopRepository) DeletePurchase(ctx context.Context, purchase *models.ShopPurchase) error {
	_, err := r.db.NewDelete().
		Model((*models.ShopPurchase)(nil)).
		Where("community_id = ? AND player_id = ? AND day_key = ? AND slot_no = ?",
			purchase.CommunityID, purchase.PlayerID, purchase.DayKey, purchase.SlotNo).
		Exec(ctx)
	return err
}
