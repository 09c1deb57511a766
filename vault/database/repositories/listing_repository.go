package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// ListingRepository stores market listings. Status transitions go through
// compare-and-set updates keyed on the previous status, so of two concurrent
// buyers (or a buyer racing the expiry sweep) exactly one flips the row.
type ListingRepository interface {
	Create(ctx context.Context, listing *models.Listing) error
	GetByListingID(ctx context.Context, listingID string) (*models.Listing, error)
	Active(ctx context.Context, communityID string) ([]*models.Listing, error)
	ActiveBySeller(ctx context.Context, communityID, sellerID string) ([]*models.Listing, error)
	// MarkSold flips active -> sold and records the buyer; false means the
	// listing was no longer active.
	MarkSold(ctx context.Context, listingID, buyerCommunityID, buyerID string) (bool, error)
	// SetStatus flips from -> to; false means the listing was not in from.
	SetStatus(ctx context.Context, listingID string, from, to models.ListingStatus) (bool, error)
	// ExpiredActive returns active listings past their deadline.
	ExpiredActive(ctx context.Context, now time.Time) ([]*models.Listing, error)
}

type listingRepository struct {
	db *bun.DB
}

func NewListingRepository(db *bun.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) Create(ctx context.Context, listing *models.Listing) error {
	listing.CreatedAt = time.Now()
	listing.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(listing).Exec(ctx)
	return err
}

func (r *listingRepository) GetByListingID(ctx context.Context, listingID string) (*models.Listing, error) {
	listing := new(models.Listing)
	err := r.db.NewSelect().
		Model(listing).
		Where("listing_id = ?", listingID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return listing, nil
}

func (r *listingRepository) Active(ctx context.Context, communityID string) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := r.db.NewSelect().
		Model(&listings).
		Where("seller_community_id = ? AND status = ?", communityID, models.ListingActive).
		Order("created_at DESC").
		Scan(ctx)
	return listings, err
}

func (r *listingRepository) ActiveBySeller(ctx context.Context, communityID, sellerID string) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := r.db.NewSelect().
		Model(&listings).
		Where("seller_community_id = ? AND seller_id = ? AND status = ?",
			communityID, sellerID, models.ListingActive).
		Order("created_at DESC").
		Scan(ctx)
	return listings, err
}

func (r *listingRepository) MarkSold(ctx context.Context, listingID, buyerCommunityID, buyerID string) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("status = ?", models.ListingSold).
		Set("buyer_community_id = ?", buyerCommunityID).
		Set("buyer_id = ?", buyerID).
		Set("updated_at = ?", time.Now()).
		Where("listing_id = ? AND status = ?", listingID, models.ListingActive).
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

func (r *listingRepository) SetStatus(ctx context.Context, listingID string, from, to models.ListingStatus) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now()).
		Where("listing_id = ? AND status = ?", listingID, from).
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

func (r *listingRepository) ExpiredActive(ctx context.Context, now time.Time) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := r.db.NewSelect().
		Model(&listings).
		Where("status = ? AND expires_at <= ?", models.ListingActive, now).
		Scan(ctx)
	return listings, err
}
