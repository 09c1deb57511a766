package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ShopItemKind string

const (
	ShopItemTokens      ShopItemKind = "tokens"
	ShopItemCommonCard  ShopItemKind = "card_common"
	ShopItemRareCard    ShopItemKind = "card_rare"
	ShopItemPremiumPack ShopItemKind = "premium_pack"
)

// ShopSlot is one purchasable position of a community's daily shop. Slots for
// a day are generated together and replaced together when DayKey goes stale;
// stock is decremented with a conditional update so concurrent buyers race on
// the row, not in memory.
type ShopSlot struct {
	bun.BaseModel `bun:"table:shop_slots,alias:ss"`

	ID          int64        `bun:"id,pk,autoincrement"`
	CommunityID string       `bun:"community_id,notnull"`
	DayKey      int          `bun:"day_key,notnull"` // local YYYYMMDD
	SlotNo      int          `bun:"slot_no,notnull"`
	Kind        ShopItemKind `bun:"kind,notnull"`
	BasePrice   int64        `bun:"base_price,notnull"`

	// Payload, one of the three depending on Kind.
	CardID      int64  `bun:"card_id,nullzero"`
	TokenAmount int    `bun:"token_amount,nullzero"`
	Pack        string `bun:"pack,nullzero"`

	Stock     int       `bun:"stock,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ShopPurchase enforces the optional one-purchase-per-slot-per-day rule via
// its unique (community, player, day, slot) index.
type ShopPurchase struct {
	bun.BaseModel `bun:"table:shop_purchases,alias:sp"`

	ID          int64     `bun:"id,pk,autoincrement"`
	CommunityID string    `bun:"community_id,notnull"`
	PlayerID    string    `bun:"player_id,notnull"`
	DayKey      int       `bun:"day_key,notnull"`
	SlotNo      int       `bun:"slot_no,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
