// Package packs implements pack opening: eight draws from the base pool plus
// one hit slot rolled over a fixed tier ladder, with holiday-boosted odds.
package packs

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/economy/holiday"
	"github.com/packvault/packvault/vault/economy/rarity"
	"github.com/sahilm/fuzzy"
)

// baseDraws is the number of guaranteed base-pool slots before the hit slot.
const baseDraws = 8

// hitTier is one rung of the hit ladder. The ladder is rolled top to bottom;
// the first 1-in-denom success decides the hit rarity. Several rungs can
// share a rarity, which widens that rarity's effective odds.
type hitTier struct {
	target rarity.Rarity
	denom  int
	// boosted rungs get their denominator halved on holidays.
	boosted bool
}

var hitLadder = []hitTier{
	{rarity.HyperRare, 20, true},
	{rarity.HyperRare, 20, true},
	{rarity.HyperRare, 20, true},
	{rarity.HyperRare, 20, true},

	{rarity.UltraRare, 17, true},
	{rarity.UltraRare, 17, true},
	{rarity.SpecialIllus, 18, true},
	{rarity.Illustration, 15, true},

	{rarity.DoubleRare, 10, true},
	{rarity.DoubleRare, 10, true},

	{rarity.Rare, 5, false},
}

// hitFallthrough is the pool search order once a tier is rolled: the rolled
// rarity first, then every rarer-to-commoner rung below it.
var hitFallthrough = []rarity.Rarity{
	rarity.HyperRare,
	rarity.UltraRare,
	rarity.SpecialIllus,
	rarity.Illustration,
	rarity.DoubleRare,
	rarity.Rare,
}

// UnknownPackError reports a pack name the catalog does not carry, with a
// fuzzy-matched suggestion when one is close enough.
type UnknownPackError struct {
	Pack       string
	Suggestion string
}

func (e *UnknownPackError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown pack %q (did you mean %q?)", e.Pack, e.Suggestion)
	}
	return fmt.Sprintf("unknown pack %q", e.Pack)
}

// Suggest returns the closest candidate to name, or "".
func Suggest(name string, candidates []string) string {
	matches := fuzzy.Find(strings.ToLower(name), lowered(candidates))
	if len(matches) == 0 {
		return ""
	}
	return candidates[matches[0].Index]
}

func lowered(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Opened is the outcome of one pack.
type Opened struct {
	Cards []*models.Card
	// HitRarity is the rolled tier, or the drawn card's rarity when no tier
	// hit and the last slot fell back to the base pool.
	HitRarity rarity.Rarity
	// Hit reports whether the ladder rolled a tier above the base pool.
	Hit bool
	// Holiday carries the holiday name when boosted odds were in force.
	Holiday string
}

// Opener draws cards. It is pure randomness over the catalog; tokens,
// ownership and essence are the caller's business.
type Opener struct {
	cards repositories.CardRepository
	rng   *rand.Rand
	now   func() time.Time
}

func NewOpener(cards repositories.CardRepository, rng *rand.Rand, now func() time.Time) *Opener {
	if now == nil {
		now = time.Now
	}
	return &Opener{cards: cards, rng: rng, now: now}
}

// rollHit walks the ladder and returns the first rarity that rolls a 1.
func (o *Opener) rollHit(onHoliday bool) (rarity.Rarity, bool) {
	for _, tier := range hitLadder {
		denom := tier.denom
		if onHoliday && tier.boosted {
			denom = max(1, denom/2)
		}
		if o.rng.Intn(denom) == 0 {
			return tier.target, true
		}
	}
	return "", false
}

// drawFromPool picks k cards, without replacement while the pool (minus
// already-used ids) allows it, then with replacement from the full pool.
func (o *Opener) drawFromPool(pool []*models.Card, k int, used map[int64]bool) []*models.Card {
	if len(pool) == 0 {
		return nil
	}
	fresh := make([]*models.Card, 0, len(pool))
	for _, c := range pool {
		if !used[c.ID] {
			fresh = append(fresh, c)
		}
	}

	if len(fresh) >= k {
		o.rng.Shuffle(len(fresh), func(i, j int) { fresh[i], fresh[j] = fresh[j], fresh[i] })
		return fresh[:k]
	}

	picks := make([]*models.Card, 0, k)
	picks = append(picks, fresh...)
	for len(picks) < k {
		picks = append(picks, pool[o.rng.Intn(len(pool))])
	}
	return picks
}

// Open draws one pack's worth of cards.
func (o *Opener) Open(ctx context.Context, pack string) (*Opened, error) {
	all, err := o.cards.CardsInPack(ctx, pack)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		packs, err := o.cards.Packs(ctx)
		if err != nil {
			return nil, err
		}
		return nil, &UnknownPackError{Pack: pack, Suggestion: Suggest(pack, packs)}
	}

	groups := make(map[rarity.Rarity][]*models.Card)
	for _, c := range all {
		r, err := rarity.Parse(c.Rarity)
		if err != nil {
			continue
		}
		groups[r] = append(groups[r], c)
	}

	basePool := append(append([]*models.Card{}, groups[rarity.Common]...), groups[rarity.Uncommon]...)
	if len(basePool) == 0 {
		basePool = all
	}

	holidayName, onHoliday := holiday.Name(o.now())

	used := make(map[int64]bool)
	picked := o.drawFromPool(basePool, baseDraws, used)
	for _, c := range picked {
		used[c.ID] = true
	}

	opened := &Opened{Cards: picked, Holiday: holidayName}
	if !onHoliday {
		opened.Holiday = ""
	}

	if rolled, ok := o.rollHit(onHoliday); ok {
		start := 0
		for i, r := range hitFallthrough {
			if r == rolled {
				start = i
				break
			}
		}
		for _, r := range hitFallthrough[start:] {
			pool := groups[r]
			if len(pool) == 0 {
				continue
			}
			hit := o.drawFromPool(pool, 1, used)[0]
			opened.Cards = append(opened.Cards, hit)
			opened.HitRarity = r
			opened.Hit = true
			return opened, nil
		}
	}

	// No tier landed (or none had cards); the last slot comes from the base
	// pool and counts as whatever it turns out to be.
	last := o.drawFromPool(basePool, 1, used)[0]
	opened.Cards = append(opened.Cards, last)
	if r, err := rarity.Parse(last.Rarity); err == nil {
		opened.HitRarity = r
	}
	return opened, nil
}
