// Package ledger owns token and essence movement. Tokens refill on a wall
// clock schedule anchored to the local day, are spent down to zero at most,
// and are granted up to the cap at most; essence is unbounded above and never
// negative.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/packvault/packvault/vault/config"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/economy/events"
	"github.com/packvault/packvault/vault/logger"
)

// accrualRetries bounds the compare-and-set loop when concurrent callers
// accrue the same account.
const accrualRetries = 3

// ModifierSource resolves the community's active weekly modifier.
type ModifierSource interface {
	Current(ctx context.Context, communityID string) (events.Modifier, error)
}

// GambleOutcome reports what the wheel did to the wagered tokens.
type GambleOutcome string

const (
	GambleDouble GambleOutcome = "double"
	GambleRefund GambleOutcome = "refund"
	GambleHalf   GambleOutcome = "half"
)

type Service struct {
	accounts  repositories.AccountRepository
	modifiers ModifierSource
	cfg       config.EconomyConfig
	rng       *rand.Rand
	now       func() time.Time
}

func NewService(accounts repositories.AccountRepository, modifiers ModifierSource, cfg config.EconomyConfig, rng *rand.Rand, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{accounts: accounts, modifiers: modifiers, cfg: cfg, rng: rng, now: now}
}

// anchor returns the latest refill boundary at or before t. Boundaries step
// from local midnight, so a 120 minute interval lands on even local hours.
func anchor(t time.Time, interval time.Duration) time.Time {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	elapsed := t.Sub(dayStart)
	return dayStart.Add(elapsed / interval * interval)
}

// NextRefill reports when the next token lands.
func (s *Service) NextRefill() time.Time {
	interval := s.cfg.RefillInterval()
	return anchor(s.now(), interval).Add(interval)
}

// GetOrCreate loads the account, creating it with the starting balance on
// first contact. The insert may lose to a concurrent creator; the winner's
// row is returned either way.
func (s *Service) GetOrCreate(ctx context.Context, communityID, playerID string) (*models.Account, error) {
	account, err := s.accounts.Get(ctx, communityID, playerID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	initial := s.cfg.TokenInitial
	if s.cfg.ForceMaxTokens {
		initial = s.cfg.TokenCap
	}
	now := s.now()
	account = &models.Account{
		CommunityID: communityID,
		PlayerID:    playerID,
		Tokens:      initial,
		FirstSeen:   now,
		LastAccrual: anchor(now, s.cfg.RefillInterval()),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if existing, getErr := s.accounts.Get(ctx, communityID, playerID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	logger.LogSystem("Account created",
		slog.String("community_id", communityID),
		slog.String("player_id", playerID),
		slog.Int("tokens", initial))
	return account, nil
}

// Accrue credits refill boundaries crossed since the account's last accrual
// and advances last_accrual by exactly the intervals credited. Boundaries
// that do not fit under the cap stay banked: a capped account's last_accrual
// does not move, so the first spend refills from those boundaries
// immediately. Concurrent accruals race on last_accrual; losers re-read and
// retry so no boundary is ever credited twice.
func (s *Service) Accrue(ctx context.Context, communityID, playerID string) (*models.Account, error) {
	interval := s.cfg.RefillInterval()

	for attempt := 0; attempt < accrualRetries; attempt++ {
		account, err := s.GetOrCreate(ctx, communityID, playerID)
		if err != nil {
			return nil, err
		}

		if s.cfg.ForceMaxTokens && account.Tokens < s.cfg.TokenCap {
			return s.accounts.GrantTokens(ctx, communityID, playerID,
				s.cfg.TokenCap-account.Tokens, s.cfg.TokenCap)
		}

		newest := anchor(s.now(), interval)
		prev := anchor(account.LastAccrual, interval)
		if !newest.After(prev) {
			return account, nil
		}
		earned := int(newest.Sub(prev) / interval)
		if room := s.cfg.TokenCap - account.Tokens; earned > room {
			earned = room
		}
		if earned <= 0 {
			return account, nil
		}

		prevAccrual := account.LastAccrual
		account.Tokens += earned
		account.LastAccrual = prev.Add(time.Duration(earned) * interval)

		ok, err := s.accounts.CommitAccrual(ctx, account, prevAccrual)
		if err != nil {
			return nil, err
		}
		if ok {
			return account, nil
		}
	}
	return nil, fmt.Errorf("accrual contention for %s/%s", communityID, playerID)
}

// Spend accrues first so a stale balance never blocks an affordable spend,
// then debits. Insufficient funds surface as *InsufficientTokensError.
func (s *Service) Spend(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("spend amount must be positive, got %d", amount)
	}
	account, err := s.Accrue(ctx, communityID, playerID)
	if err != nil {
		return nil, err
	}

	updated, ok, err := s.accounts.SpendTokens(ctx, communityID, playerID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InsufficientTokensError{
			Balance:    account.Tokens,
			Needed:     amount,
			NextRefill: s.NextRefill(),
		}
	}
	return updated, nil
}

// Grant accrues pending boundaries first, then credits tokens, silently
// discarding anything over the cap.
func (s *Service) Grant(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if _, err := s.Accrue(ctx, communityID, playerID); err != nil {
		return nil, err
	}
	return s.accounts.GrantTokens(ctx, communityID, playerID, amount, s.cfg.TokenCap)
}

// AdjustEssence applies a signed delta. Debits that would go negative surface
// as *InsufficientEssenceError.
func (s *Service) AdjustEssence(ctx context.Context, communityID, playerID string, delta int64) (*models.Account, error) {
	account, err := s.GetOrCreate(ctx, communityID, playerID)
	if err != nil {
		return nil, err
	}
	updated, ok, err := s.accounts.AddEssence(ctx, communityID, playerID, delta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InsufficientEssenceError{Balance: account.Essence, Needed: -delta}
	}
	return updated, nil
}

// SellTokens converts tokens to essence at the fixed rate, scaled by the
// weekly token-sell modifier.
func (s *Service) SellTokens(ctx context.Context, communityID, playerID string, amount int) (int64, *models.Account, error) {
	effect := events.Neutral()
	if s.modifiers != nil {
		m, err := s.modifiers.Current(ctx, communityID)
		if err != nil {
			return 0, nil, err
		}
		effect = m.Effect
	}

	if _, err := s.Spend(ctx, communityID, playerID, amount); err != nil {
		return 0, nil, err
	}

	gained := int64(math.Round(float64(amount*s.cfg.EssencePerToken) * effect.TokenSell))
	account, err := s.AdjustEssence(ctx, communityID, playerID, gained)
	if err != nil {
		// The tokens are gone and the credit failed; put the tokens back so
		// the player is whole.
		if _, grantErr := s.Grant(ctx, communityID, playerID, amount); grantErr != nil {
			logger.LogError("Token refund after failed essence credit", grantErr,
				slog.String("community_id", communityID),
				slog.String("player_id", playerID))
		}
		return 0, nil, err
	}
	return gained, account, nil
}

// Gamble wagers tokens on a three-way wheel: double the stake back, the stake
// back, or half (rounded down) back.
func (s *Service) Gamble(ctx context.Context, communityID, playerID string, stake int) (GambleOutcome, *models.Account, error) {
	if stake <= 0 {
		return "", nil, fmt.Errorf("stake must be positive, got %d", stake)
	}
	if _, err := s.Spend(ctx, communityID, playerID, stake); err != nil {
		return "", nil, err
	}

	var outcome GambleOutcome
	var back int
	switch s.rng.Intn(3) {
	case 0:
		outcome, back = GambleDouble, stake*2
	case 1:
		outcome, back = GambleRefund, stake
	default:
		outcome, back = GambleHalf, stake/2
	}

	account, err := s.accounts.Get(ctx, communityID, playerID)
	if back > 0 {
		account, err = s.Grant(ctx, communityID, playerID, back)
	}
	if err != nil {
		return outcome, nil, err
	}

	logger.LogSystem("Gamble resolved",
		slog.String("community_id", communityID),
		slog.String("player_id", playerID),
		slog.Int("stake", stake),
		slog.String("outcome", string(outcome)),
		slog.Int("returned", back))
	return outcome, account, nil
}
