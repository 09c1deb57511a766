// Package market runs the buy-it-now card market and peer-to-peer trades. A
// listed card sits in escrow: removed from the seller's collection when the
// listing goes active and re-homed to exactly one collection when the listing
// leaves that status.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/logger"
)

const (
	// Listing lifetimes are clamped to [minExpiry, maxExpiry]; zero means
	// defaultExpiry.
	minExpiryHours     = 1
	maxExpiryHours     = 168
	defaultExpiryHours = 72
)

var (
	ErrNotOwned           = errors.New("card is not in your collection")
	ErrListingUnavailable = errors.New("listing is not available")
	ErrOwnListing         = errors.New("cannot buy your own listing")
	ErrNotSeller          = errors.New("only the seller can cancel a listing")
	ErrBadPrice           = errors.New("price must be positive")
)

// marketLedger is the slice of the ledger the market needs.
type marketLedger interface {
	Spend(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error)
	Grant(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error)
	AdjustEssence(ctx context.Context, communityID, playerID string, delta int64) (*models.Account, error)
}

type Service struct {
	listings   repositories.ListingRepository
	trades     repositories.TradeRepository
	collection repositories.CollectionRepository
	cards      repositories.CardRepository
	ledger     marketLedger
	now        func() time.Time
}

func NewService(
	listings repositories.ListingRepository,
	trades repositories.TradeRepository,
	collection repositories.CollectionRepository,
	cards repositories.CardRepository,
	ledger marketLedger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		listings:   listings,
		trades:     trades,
		collection: collection,
		cards:      cards,
		ledger:     ledger,
		now:        now,
	}
}

func clampExpiry(hours int) time.Duration {
	if hours == 0 {
		hours = defaultExpiryHours
	}
	if hours < minExpiryHours {
		hours = minExpiryHours
	}
	if hours > maxExpiryHours {
		hours = maxExpiryHours
	}
	return time.Duration(hours) * time.Hour
}

// ListCard escrows one of the seller's cards and creates an active listing.
// The escrow removal is the linearization point: if it reports the card gone,
// somebody else already moved it and no listing is created.
func (s *Service) ListCard(ctx context.Context, communityID, sellerID, pack, number string, price int64, currency models.Currency, expiresHours int) (*models.Listing, error) {
	if price <= 0 {
		return nil, ErrBadPrice
	}
	if currency != models.CurrencyTokens && currency != models.CurrencyEssence {
		return nil, fmt.Errorf("unknown currency %q", currency)
	}

	card, err := s.cards.ResolveNumber(ctx, pack, number)
	if err != nil {
		return nil, err
	}

	removed, err := s.collection.Remove(ctx, communityID, sellerID, card.ID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, ErrNotOwned
	}

	now := s.now()
	listing := &models.Listing{
		ListingID:         uuid.NewString(),
		CardID:            card.ID,
		SellerCommunityID: communityID,
		SellerID:          sellerID,
		Price:             price,
		Currency:          currency,
		Status:            models.ListingActive,
		ExpiresAt:         now.Add(clampExpiry(expiresHours)),
	}
	if err := s.listings.Create(ctx, listing); err != nil {
		// Undo the escrow so the card does not vanish with no listing.
		if _, giveErr := s.collection.Give(ctx, communityID, sellerID, card.ID); giveErr != nil {
			logger.LogError("Escrow rollback after failed listing insert", giveErr,
				slog.String("community_id", communityID),
				slog.String("player_id", sellerID),
				slog.Int64("card_id", card.ID))
		}
		return nil, err
	}

	logger.LogSystem("Listing created",
		slog.String("listing_id", listing.ListingID),
		slog.Int64("card_id", card.ID),
		slog.Int64("price", price),
		slog.String("currency", string(currency)))
	return listing, nil
}

// Browse lists the community's active listings.
func (s *Service) Browse(ctx context.Context, communityID string) ([]*models.Listing, error) {
	return s.listings.Active(ctx, communityID)
}

// MyListings lists the seller's own active listings.
func (s *Service) MyListings(ctx context.Context, communityID, sellerID string) ([]*models.Listing, error) {
	return s.listings.ActiveBySeller(ctx, communityID, sellerID)
}

// BuyListing debits the buyer, flips the listing to sold and delivers the
// escrowed card. The sold flip is a compare-and-set, so of two simultaneous
// buyers exactly one pays and receives the card.
func (s *Service) BuyListing(ctx context.Context, buyerCommunityID, buyerID, listingID string) (*models.Listing, *models.Card, error) {
	listing, err := s.listings.GetByListingID(ctx, listingID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, ErrListingUnavailable
		}
		return nil, nil, err
	}
	if listing.Status != models.ListingActive || !listing.ExpiresAt.After(s.now()) {
		return nil, nil, ErrListingUnavailable
	}
	if listing.SellerCommunityID == buyerCommunityID && listing.SellerID == buyerID {
		return nil, nil, ErrOwnListing
	}

	if err := s.debit(ctx, buyerCommunityID, buyerID, listing); err != nil {
		return nil, nil, err
	}

	sold, err := s.listings.MarkSold(ctx, listingID, buyerCommunityID, buyerID)
	if err != nil {
		s.refund(ctx, buyerCommunityID, buyerID, listing)
		return nil, nil, err
	}
	if !sold {
		s.refund(ctx, buyerCommunityID, buyerID, listing)
		return nil, nil, ErrListingUnavailable
	}

	if _, err := s.collection.Give(ctx, buyerCommunityID, buyerID, listing.CardID); err != nil {
		s.refund(ctx, buyerCommunityID, buyerID, listing)
		if _, revertErr := s.listings.SetStatus(ctx, listingID, models.ListingSold, models.ListingActive); revertErr != nil {
			logger.LogError("Listing status rollback after failed delivery", revertErr,
				slog.String("listing_id", listingID))
		}
		return nil, nil, err
	}

	card, err := s.cards.GetByID(ctx, listing.CardID)
	if err != nil {
		card = nil
	}
	logger.LogSystem("Listing sold",
		slog.String("listing_id", listingID),
		slog.String("buyer", buyerID))
	return listing, card, nil
}

func (s *Service) debit(ctx context.Context, communityID, playerID string, listing *models.Listing) error {
	switch listing.Currency {
	case models.CurrencyTokens:
		_, err := s.ledger.Spend(ctx, communityID, playerID, int(listing.Price))
		return err
	default:
		_, err := s.ledger.AdjustEssence(ctx, communityID, playerID, -listing.Price)
		return err
	}
}

func (s *Service) refund(ctx context.Context, communityID, playerID string, listing *models.Listing) {
	var err error
	switch listing.Currency {
	case models.CurrencyTokens:
		_, err = s.ledger.Grant(ctx, communityID, playerID, int(listing.Price))
	default:
		_, err = s.ledger.AdjustEssence(ctx, communityID, playerID, listing.Price)
	}
	if err != nil {
		logger.LogError("Buyer refund failed", err,
			slog.String("listing_id", listing.ListingID),
			slog.String("player_id", playerID))
	}
}

// CancelListing returns the escrowed card to the seller.
func (s *Service) CancelListing(ctx context.Context, communityID, playerID, listingID string) error {
	listing, err := s.listings.GetByListingID(ctx, listingID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrListingUnavailable
		}
		return err
	}
	if listing.SellerCommunityID != communityID || listing.SellerID != playerID {
		return ErrNotSeller
	}

	flipped, err := s.listings.SetStatus(ctx, listingID, models.ListingActive, models.ListingCancelled)
	if err != nil {
		return err
	}
	if !flipped {
		return ErrListingUnavailable
	}

	if _, err := s.collection.Give(ctx, listing.SellerCommunityID, listing.SellerID, listing.CardID); err != nil {
		return err
	}
	logger.LogSystem("Listing cancelled", slog.String("listing_id", listingID))
	return nil
}

// ExpireListings flips every overdue active listing to expired and returns
// each card to its seller. Run from the background sweep.
func (s *Service) ExpireListings(ctx context.Context) (int, error) {
	overdue, err := s.listings.ExpiredActive(ctx, s.now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, listing := range overdue {
		flipped, err := s.listings.SetStatus(ctx, listing.ListingID, models.ListingActive, models.ListingExpired)
		if err != nil {
			return expired, err
		}
		if !flipped {
			// A buyer or the seller beat the sweep to this one.
			continue
		}
		if _, err := s.collection.Give(ctx, listing.SellerCommunityID, listing.SellerID, listing.CardID); err != nil {
			return expired, err
		}
		expired++
	}

	if expired > 0 {
		logger.LogSystem("Expired listings swept", slog.Int("count", expired))
	}
	return expired, nil
}
