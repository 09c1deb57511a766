package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WeeklyEvent pins one modifier to a community for one ISO week. The row is
// replaced wholesale when the week key goes stale.
type WeeklyEvent struct {
	bun.BaseModel `bun:"table:weekly_events,alias:we"`

	CommunityID string    `bun:"community_id,pk"`
	WeekKey     string    `bun:"week_key,notnull"`
	EventID     string    `bun:"event_id,notnull"`
	AssignedAt  time.Time `bun:"assigned_at,notnull"`
}
