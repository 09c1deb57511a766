package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Card is a row of the static catalog. The engine never writes this table;
// it is loaded by an external import step.
type Card struct {
	bun.BaseModel `bun:"table:cards,alias:c"`

	ID        int64     `bun:"id,pk"`
	Pack      string    `bun:"pack,notnull"`
	Name      string    `bun:"name,notnull"`
	Numbering string    `bun:"numbering"` // pack-local number, e.g. "119/159"
	Kind      string    `bun:"kind"`
	Rarity    string    `bun:"rarity,notnull"`
	ImageURL  string    `bun:"image_url"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// OwnedCard records that a player owns a card in a community. There is no
// amount column: duplicates convert to essence at draw time and are never
// stored.
type OwnedCard struct {
	bun.BaseModel `bun:"table:owned_cards,alias:oc"`

	ID          int64     `bun:"id,pk,autoincrement"`
	CommunityID string    `bun:"community_id,notnull"`
	PlayerID    string    `bun:"player_id,notnull"`
	CardID      int64     `bun:"card_id,notnull"`
	ObtainedAt  time.Time `bun:"obtained_at,notnull,default:current_timestamp"`
}
