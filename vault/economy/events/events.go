// Package events assigns one economy modifier to each community per ISO week
// and exposes its knobs to the rest of the engine. Every knob defaults to
// neutral, so code multiplies by the active effect unconditionally.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/logger"
)

// Effect is the set of knobs a weekly modifier applies. A zero-valued Effect
// is NOT neutral; build from Neutral().
type Effect struct {
	// DupeEssence scales essence from duplicate pulls.
	DupeEssence float64
	// TokenRefundChance is the probability a pack opening refunds its token.
	TokenRefundChance float64
	// TokenSell scales essence gained from selling tokens.
	TokenSell float64
	// ShopPrice scales every shop slot's price.
	ShopPrice float64
	// PremiumShopPrice additionally scales the premium pack slot.
	PremiumShopPrice float64
	// DuelReward scales scripted-duel token and essence rewards.
	DuelReward float64
	// NPCBias scales scripted opponents' round scores.
	NPCBias float64
}

// Neutral returns the do-nothing effect.
func Neutral() Effect {
	return Effect{
		DupeEssence:      1,
		TokenSell:        1,
		ShopPrice:        1,
		PremiumShopPrice: 1,
		DuelReward:       1,
		NPCBias:          1,
	}
}

// Modifier is one entry of the weekly catalog.
type Modifier struct {
	ID          string
	Name        string
	Description string
	Effect      Effect
}

func modifier(id, name, description string, mutate func(*Effect)) Modifier {
	effect := Neutral()
	mutate(&effect)
	return Modifier{ID: id, Name: name, Description: description, Effect: effect}
}

// Catalog is the fixed pool the weekly draw picks from.
var Catalog = []Modifier{
	modifier("double_essence_dupes", "Essence Surge",
		"Duplicate card pulls give 2x essence.",
		func(e *Effect) { e.DupeEssence = 2.0 }),
	modifier("triple_essence_dupes", "Essence Explosion",
		"Duplicate card pulls give 3x essence.",
		func(e *Effect) { e.DupeEssence = 3.0 }),
	modifier("lucky_tokens", "Lucky Tokens Week",
		"Each pack open has a 35% chance to refund the token.",
		func(e *Effect) { e.TokenRefundChance = 0.35 }),
	modifier("token_smelter", "Token Smelter",
		"Selling tokens gives 2x essence.",
		func(e *Effect) { e.TokenSell = 2.0 }),
	modifier("bargain_shop", "Bargain Bazaar",
		"All shop items are 20% off.",
		func(e *Effect) { e.ShopPrice = 0.8 }),
	modifier("stormfront_frenzy", "Stormfront Frenzy",
		"Premium packs in the shop are 40% off.",
		func(e *Effect) { e.PremiumShopPrice = 0.6 }),
	modifier("duel_jackpot", "Duel Jackpot",
		"Scripted duel rewards are doubled.",
		func(e *Effect) { e.DuelReward = 2.0 }),
	modifier("duel_training", "Duel Training Camp",
		"Scripted opponents are slightly weaker and rewards are 1.5x.",
		func(e *Effect) { e.NPCBias = 0.9; e.DuelReward = 1.5 }),
	modifier("essence_fever", "Essence Fever",
		"Duplicates give 1.5x essence and duels give 1.25x rewards.",
		func(e *Effect) { e.DupeEssence = 1.5; e.DuelReward = 1.25 }),
	modifier("collector_sale", "Collector's Sale",
		"Shop is 10% off and selling tokens gives 1.5x essence.",
		func(e *Effect) { e.ShopPrice = 0.9; e.TokenSell = 1.5 }),
}

func byID(id string) (Modifier, bool) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, true
		}
	}
	return Modifier{}, false
}

// WeekKey formats t's ISO week as "2026-W35". ISO year, not calendar year, so
// the turn of the year does not split a week.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Selector resolves the active modifier, assigning one on first use each
// week.
type Selector struct {
	events repositories.EventRepository
	rng    *rand.Rand
	now    func() time.Time
}

func NewSelector(events repositories.EventRepository, rng *rand.Rand, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{events: events, rng: rng, now: now}
}

// Current returns this week's modifier for the community. A stale or missing
// assignment triggers a fresh draw; concurrent draws both upsert and then
// re-read, so every caller converges on whichever write landed last.
func (s *Selector) Current(ctx context.Context, communityID string) (Modifier, error) {
	key := WeekKey(s.now())

	stored, err := s.events.Get(ctx, communityID)
	if err != nil && err != repositories.ErrNotFound {
		return Modifier{}, err
	}
	if stored != nil && stored.WeekKey == key {
		if m, ok := byID(stored.EventID); ok {
			return m, nil
		}
		// Unknown id means the catalog shrank under a stored row; redraw.
	}

	picked := Catalog[s.rng.Intn(len(Catalog))]
	err = s.events.Replace(ctx, &models.WeeklyEvent{
		CommunityID: communityID,
		WeekKey:     key,
		EventID:     picked.ID,
		AssignedAt:  s.now(),
	})
	if err != nil {
		return Modifier{}, err
	}

	stored, err = s.events.Get(ctx, communityID)
	if err != nil {
		return Modifier{}, err
	}
	winner, ok := byID(stored.EventID)
	if !ok {
		return Modifier{}, fmt.Errorf("weekly event %q not in catalog", stored.EventID)
	}

	logger.LogSystem("Weekly modifier assigned",
		slog.String("community_id", communityID),
		slog.String("week", key),
		slog.String("event", winner.ID))
	return winner, nil
}
