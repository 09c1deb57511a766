package ledger

import (
	"fmt"
	"time"
)

// InsufficientTokensError carries the balance and the next refill time so
// callers can tell the player when to come back.
type InsufficientTokensError struct {
	Balance    int
	Needed     int
	NextRefill time.Time
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: have %d, need %d (next refill %s)",
		e.Balance, e.Needed, e.NextRefill.Format(time.RFC3339))
}

type InsufficientEssenceError struct {
	Balance int64
	Needed  int64
}

func (e *InsufficientEssenceError) Error() string {
	return fmt.Sprintf("insufficient essence: have %d, need %d", e.Balance, e.Needed)
}
