package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ChallengeStatus string

const (
	ChallengeOpen      ChallengeStatus = "open"
	ChallengeAccepted  ChallengeStatus = "accepted"
	ChallengeDeclined  ChallengeStatus = "declined"
	ChallengeCancelled ChallengeStatus = "cancelled"
	ChallengeExpired   ChallengeStatus = "expired"
)

// DuelChallenge is an open player-vs-player invitation with an optional token
// stake paid by both sides on acceptance.
type DuelChallenge struct {
	bun.BaseModel `bun:"table:duel_challenges,alias:dc"`

	ID           int64           `bun:"id,pk,autoincrement"`
	CommunityID  string          `bun:"community_id,notnull"`
	ChallengerID string          `bun:"challenger_id,notnull"`
	TargetID     string          `bun:"target_id,notnull"`
	Stake        int             `bun:"stake,notnull,default:0"`
	Status       ChallengeStatus `bun:"status,notnull"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull"`
}

type DuelKind string

const (
	DuelPvE DuelKind = "pve"
	DuelPvP DuelKind = "pvp"
)

// DuelRound is one scored round, stored with the match for history display.
type DuelRound struct {
	CardsA []int64 `json:"cards_a"`
	CardsB []int64 `json:"cards_b"`
	ScoreA int     `json:"score_a"`
	ScoreB int     `json:"score_b"`
}

// DuelMatch is the immutable record of a resolved duel. PlayerB holds the
// opponent id for PvE matches.
type DuelMatch struct {
	bun.BaseModel `bun:"table:duel_matches,alias:dm"`

	ID          int64    `bun:"id,pk,autoincrement"`
	CommunityID string   `bun:"community_id,notnull"`
	Kind        DuelKind `bun:"kind,notnull"`
	PlayerA     string   `bun:"player_a,notnull"`
	PlayerB     string   `bun:"player_b,notnull"`
	Difficulty  string   `bun:"difficulty,nullzero"`

	Rounds []DuelRound `bun:"rounds,type:jsonb"`
	Result string      `bun:"result,notnull"` // "a", "b" or "draw"
	Stake  int         `bun:"stake,notnull,default:0"`

	RewardTokensA  int       `bun:"reward_tokens_a,notnull,default:0"`
	RewardTokensB  int       `bun:"reward_tokens_b,notnull,default:0"`
	RewardEssenceA int64     `bun:"reward_essence_a,notnull,default:0"`
	RewardEssenceB int64     `bun:"reward_essence_b,notnull,default:0"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// DuelCooldown gates the scripted-opponent path only.
type DuelCooldown struct {
	bun.BaseModel `bun:"table:duel_cooldowns,alias:dcd"`

	ID          int64     `bun:"id,pk,autoincrement"`
	CommunityID string    `bun:"community_id,notnull"`
	PlayerID    string    `bun:"player_id,notnull"`
	NextAt      time.Time `bun:"next_at,notnull"`
}
