package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeAccepted  TradeStatus = "accepted"
	TradeDeclined  TradeStatus = "declined"
	TradeCancelled TradeStatus = "cancelled"
)

// TradeOffer is a proposed 1-for-1 card swap. Both cards stay with their
// owners while the offer is open; acceptance swaps them atomically.
type TradeOffer struct {
	bun.BaseModel `bun:"table:trade_offers,alias:t"`

	ID      int64  `bun:"id,pk,autoincrement"`
	TradeID string `bun:"trade_id,notnull,unique"`

	CommunityID    string `bun:"community_id,notnull"`
	ProposerID     string `bun:"proposer_id,notnull"`
	TargetID       string `bun:"target_id,notnull"`
	ProposerCardID int64  `bun:"proposer_card_id,notnull"`
	TargetCardID   int64  `bun:"target_card_id,notnull"`

	Status TradeStatus `bun:"status,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
