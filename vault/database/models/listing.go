package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Currency string

const (
	CurrencyTokens  Currency = "tokens"
	CurrencyEssence Currency = "essence"
)

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

// Listing is a buy-it-now market entry. While status is active the card is in
// escrow: it belongs to no ownership record and returns to exactly one on
// sold/cancelled/expired.
type Listing struct {
	bun.BaseModel `bun:"table:listings,alias:l"`

	ID        int64  `bun:"id,pk,autoincrement"`
	ListingID string `bun:"listing_id,notnull,unique"`
	CardID    int64  `bun:"card_id,notnull"`

	SellerCommunityID string `bun:"seller_community_id,notnull"`
	SellerID          string `bun:"seller_id,notnull"`

	Price    int64    `bun:"price,notnull"`
	Currency Currency `bun:"currency,notnull"`

	Status           ListingStatus `bun:"status,notnull"`
	BuyerCommunityID string        `bun:"buyer_community_id,nullzero"`
	BuyerID          string        `bun:"buyer_id,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
