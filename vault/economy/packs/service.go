package packs

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/packvault/packvault/vault/config"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/economy/events"
	"github.com/packvault/packvault/vault/economy/rarity"
	"github.com/packvault/packvault/vault/logger"
)

// ShopOnlyPackError rejects token opens of packs that are only sold in the
// daily shop.
type ShopOnlyPackError struct {
	Pack string
}

func (e *ShopOnlyPackError) Error() string {
	return fmt.Sprintf("pack %q is shop-only and cannot be opened with tokens", e.Pack)
}

// tokenLedger is the slice of the ledger pack opening needs.
type tokenLedger interface {
	Spend(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error)
	Grant(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error)
}

// ModifierSource resolves the community's active weekly modifier.
type ModifierSource interface {
	Current(ctx context.Context, communityID string) (events.Modifier, error)
}

// OpenResult is one token-funded pack opening, fully resolved.
type OpenResult struct {
	Opened   *Opened
	Delivery *Delivery
	// TokenRefunded is true when the weekly modifier returned the spent
	// token.
	TokenRefunded bool
	Modifier      events.Modifier
}

// Service ties the opener and resolver to the token ledger.
type Service struct {
	opener    *Opener
	resolver  *Resolver
	ledger    tokenLedger
	modifiers ModifierSource
	cfg       config.EconomyConfig
	// premiumPack is the shop-only pack name, rejected on token opens.
	premiumPack string
	rng         *rand.Rand
}

func NewService(opener *Opener, resolver *Resolver, ledger tokenLedger, modifiers ModifierSource, cfg config.EconomyConfig, premiumPack string, rng *rand.Rand) *Service {
	return &Service{
		opener:      opener,
		resolver:    resolver,
		ledger:      ledger,
		modifiers:   modifiers,
		cfg:         cfg,
		premiumPack: premiumPack,
		rng:         rng,
	}
}

func (s *Service) tokenPack(name string) (string, bool) {
	for _, p := range s.cfg.TokenPacks {
		if strings.EqualFold(p, name) {
			return p, true
		}
	}
	return "", false
}

// OpenWithToken spends one token, opens the pack and resolves the cards
// against the player's collection. The token comes back when the opening
// itself fails, and may come back again by weekly-modifier luck.
func (s *Service) OpenWithToken(ctx context.Context, communityID, playerID, pack string) (*OpenResult, error) {
	name, ok := s.tokenPack(pack)
	if !ok {
		if strings.EqualFold(pack, s.premiumPack) {
			return nil, &ShopOnlyPackError{Pack: s.premiumPack}
		}
		return nil, &UnknownPackError{Pack: pack, Suggestion: Suggest(pack, s.cfg.TokenPacks)}
	}

	modifier, err := s.modifiers.Current(ctx, communityID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Spend(ctx, communityID, playerID, 1); err != nil {
		return nil, err
	}

	opened, err := s.opener.Open(ctx, name)
	if err != nil {
		if _, refundErr := s.ledger.Grant(ctx, communityID, playerID, 1); refundErr != nil {
			logger.LogError("Token refund after failed pack open", refundErr,
				slog.String("community_id", communityID),
				slog.String("player_id", playerID),
				slog.String("pack", name))
		}
		return nil, err
	}

	delivery, err := s.resolver.Deliver(ctx, communityID, playerID, opened.Cards, modifier.Effect.DupeEssence)
	if err != nil {
		return nil, err
	}

	result := &OpenResult{Opened: opened, Delivery: delivery, Modifier: modifier}
	if chance := modifier.Effect.TokenRefundChance; chance > 0 && s.rng.Float64() < chance {
		if _, err := s.ledger.Grant(ctx, communityID, playerID, 1); err != nil {
			return nil, err
		}
		result.TokenRefunded = true
	}

	logger.LogSystem("Pack opened",
		slog.String("community_id", communityID),
		slog.String("player_id", playerID),
		slog.String("pack", name),
		slog.String("hit", opened.HitRarity.String()),
		slog.Int("new_cards", delivery.NewCards),
		slog.Int64("dupe_essence", delivery.DupeEssence))
	return result, nil
}

// OpenPurchased opens a shop-bought pack and resolves the cards. No token
// moves and duplicate essence is unscaled.
func (s *Service) OpenPurchased(ctx context.Context, communityID, playerID, pack string) (*Opened, *Delivery, error) {
	opened, err := s.opener.Open(ctx, pack)
	if err != nil {
		return nil, nil, err
	}
	delivery, err := s.resolver.Deliver(ctx, communityID, playerID, opened.Cards, 1.0)
	if err != nil {
		return nil, nil, err
	}
	return opened, delivery, nil
}

// Simulation tallies rarities across repeated free openings.
type Simulation struct {
	Packs    int
	Hits     int
	ByRarity map[rarity.Rarity]int
}

// Simulate opens the pack n times without touching any balances or
// collections.
func (s *Service) Simulate(ctx context.Context, pack string, n int) (*Simulation, error) {
	if n < 1 {
		n = 1
	}
	sim := &Simulation{Packs: n, ByRarity: make(map[rarity.Rarity]int)}
	for i := 0; i < n; i++ {
		opened, err := s.opener.Open(ctx, pack)
		if err != nil {
			return nil, err
		}
		if opened.Hit {
			sim.Hits++
		}
		for _, c := range opened.Cards {
			if r, err := rarity.Parse(c.Rarity); err == nil {
				sim.ByRarity[r]++
			}
		}
	}
	return sim, nil
}
