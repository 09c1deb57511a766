package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is one player's balances within one community. Token and essence
// never move except through ledger operations; Tokens stays within
// [0, cap] and Essence never goes negative.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID          int64  `bun:"id,pk,autoincrement"`
	CommunityID string `bun:"community_id,notnull"`
	PlayerID    string `bun:"player_id,notnull"`

	Tokens      int   `bun:"tokens,notnull"`
	Essence     int64 `bun:"essence,notnull,default:0"`
	TokensSpent int64 `bun:"tokens_spent,notnull,default:0"`

	FirstSeen   time.Time `bun:"first_seen,notnull"`
	LastAccrual time.Time `bun:"last_accrual,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
