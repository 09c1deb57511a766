// Package shop runs the per-community daily shop: four common slots (one of
// which secretly carries a token bundle), a rare card slot and a premium pack
// slot, regenerated when the local date rolls over.
package shop

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
	"github.com/packvault/packvault/vault/economy/packs"
	"github.com/packvault/packvault/vault/economy/rarity"
	"github.com/packvault/packvault/vault/logger"
)

var (
	ErrNoSuchSlot       = errors.New("no such shop slot")
	ErrSoldOut          = errors.New("slot is sold out")
	ErrAlreadyPurchased = errors.New("already purchased from this slot today")
	ErrCardUnavailable  = errors.New("no card is attached to this slot")
)

// rareSlotRarities feed the rare card slot, anything above the base pool.
var rareSlotRarities = []rarity.Rarity{
	rarity.Rare,
	rarity.DoubleRare,
	rarity.UltraRare,
	rarity.Illustration,
	rarity.SpecialIllus,
	rarity.HyperRare,
}

// shopLedger is the slice of the ledger the shop needs.
type shopLedger interface {
	Grant(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error)
	AdjustEssence(ctx context.Context, communityID, playerID string, delta int64) (*models.Account, error)
}

// packOpener opens shop-bought packs.
type packOpener interface {
	OpenPurchased(ctx context.Context, communityID, playerID, pack string) (*packs.Opened, *packs.Delivery, error)
}

// ModifierSource resolves the community's active weekly modifier.
type ModifierSource interface {
	Current(ctx context.Context, communityID string) (events.Modifier, error)
}

// PricedSlot is a slot with its effective price after weekly discounts.
type PricedSlot struct {
	*models.ShopSlot
	Price int64
}

// Purchase is the outcome of a successful buy.
type Purchase struct {
	Slot    *models.ShopSlot
	Price   int64
	Account *models.Account

	// Exactly one of the following is populated, by slot kind.
	TokensGranted int
	Card          *models.Card
	PackOpened    *packs.Opened
	PackDelivery  *packs.Delivery
}

type Service struct {
	slots      repositories.ShopRepository
	cards      repositories.CardRepository
	collection repositories.CollectionRepository
	ledger     shopLedger
	opener     packOpener
	modifiers  ModifierSource

	economy config.EconomyConfig
	cfg     config.ShopConfig
	rng     *rand.Rand
	now     func() time.Time
}

func NewService(
	slots repositories.ShopRepository,
	cards repositories.CardRepository,
	collection repositories.CollectionRepository,
	ledger shopLedger,
	opener packOpener,
	modifiers ModifierSource,
	economy config.EconomyConfig,
	cfg config.ShopConfig,
	rng *rand.Rand,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		slots:      slots,
		cards:      cards,
		collection: collection,
		ledger:     ledger,
		opener:     opener,
		modifiers:  modifiers,
		economy:    economy,
		cfg:        cfg,
		rng:        rng,
		now:        now,
	}
}

// DayKey is the local calendar date as YYYYMMDD.
func DayKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// effectivePrice applies weekly discounts; never below 1.
func effectivePrice(base int64, kind models.ShopItemKind, effect events.Effect) int64 {
	factor := effect.ShopPrice
	if kind == models.ShopItemPremiumPack {
		factor *= effect.PremiumShopPrice
	}
	price := int64(math.Round(float64(base) * factor))
	if price < 1 {
		price = 1
	}
	return price
}

// generate builds a fresh day's slots from the default pack's catalog.
func (s *Service) generate(ctx context.Context) ([]*models.ShopSlot, error) {
	all, err := s.cards.CardsInPack(ctx, s.economy.DefaultPack)
	if err != nil {
		return nil, err
	}

	var commons, rares []*models.Card
	for _, c := range all {
		r, err := rarity.Parse(c.Rarity)
		if err != nil {
			continue
		}
		if r.IsBase() {
			commons = append(commons, c)
			continue
		}
		for _, want := range rareSlotRarities {
			if r == want {
				rares = append(rares, c)
				break
			}
		}
	}

	slots := make([]*models.ShopSlot, 0, s.cfg.CommonSlots+2)
	tokenSlot := 1 + s.rng.Intn(s.cfg.CommonSlots)
	for no := 1; no <= s.cfg.CommonSlots; no++ {
		if no == tokenSlot {
			slots = append(slots, &models.ShopSlot{
				SlotNo:      no,
				Kind:        models.ShopItemTokens,
				BasePrice:   s.cfg.TokenBundlePrice,
				TokenAmount: s.cfg.TokenBundleAmount,
				Stock:       1,
			})
			continue
		}
		slot := &models.ShopSlot{
			SlotNo:    no,
			Kind:      models.ShopItemCommonCard,
			BasePrice: s.cfg.CommonCardPrice,
			Stock:     1,
		}
		if len(commons) > 0 {
			slot.CardID = commons[s.rng.Intn(len(commons))].ID
		}
		slots = append(slots, slot)
	}

	rareSlot := &models.ShopSlot{
		SlotNo:    s.cfg.CommonSlots + 1,
		Kind:      models.ShopItemRareCard,
		BasePrice: s.cfg.RareCardPrice,
		Stock:     1,
	}
	if len(rares) > 0 {
		rareSlot.CardID = rares[s.rng.Intn(len(rares))].ID
	}
	slots = append(slots, rareSlot)

	slots = append(slots, &models.ShopSlot{
		SlotNo:    s.cfg.CommonSlots + 2,
		Kind:      models.ShopItemPremiumPack,
		BasePrice: s.cfg.PremiumPackPrice,
		Pack:      s.cfg.PremiumPack,
		Stock:     1,
	})
	return slots, nil
}

// today returns the community's current slots, generating them when the day
// rolled over or none exist yet.
func (s *Service) today(ctx context.Context, communityID string) ([]*models.ShopSlot, error) {
	day := DayKey(s.now())
	slots, err := s.slots.SlotsFor(ctx, communityID, day)
	if err != nil {
		return nil, err
	}
	if len(slots) > 0 {
		return slots, nil
	}

	fresh, err := s.generate(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.slots.ReplaceSlots(ctx, communityID, day, fresh); err != nil {
		return nil, err
	}
	// Re-read so a racing generator and this caller agree on slot ids.
	return s.slots.SlotsFor(ctx, communityID, day)
}

// Today lists the shop with effective prices.
func (s *Service) Today(ctx context.Context, communityID string) ([]PricedSlot, events.Modifier, error) {
	modifier, err := s.modifiers.Current(ctx, communityID)
	if err != nil {
		return nil, events.Modifier{}, err
	}
	slots, err := s.today(ctx, communityID)
	if err != nil {
		return nil, events.Modifier{}, err
	}

	priced := make([]PricedSlot, len(slots))
	for i, slot := range slots {
		priced[i] = PricedSlot{
			ShopSlot: slot,
			Price:    effectivePrice(slot.BasePrice, slot.Kind, modifier.Effect),
		}
	}
	return priced, modifier, nil
}

// Reset force-regenerates today's shop. Stock and purchase markers start
// over.
func (s *Service) Reset(ctx context.Context, communityID string) error {
	fresh, err := s.generate(ctx)
	if err != nil {
		return err
	}
	day := DayKey(s.now())
	if err := s.slots.ReplaceSlots(ctx, communityID, day, fresh); err != nil {
		return err
	}
	logger.LogSystem("Shop reset",
		slog.String("community_id", communityID),
		slog.Int("day", day))
	return nil
}

// Buy purchases one unit from a slot. The essence debit happens before the
// stock decrement; when the decrement loses the last-unit race the debit is
// returned and ErrSoldOut comes back.
func (s *Service) Buy(ctx context.Context, communityID, playerID string, slotNo int) (*Purchase, error) {
	modifier, err := s.modifiers.Current(ctx, communityID)
	if err != nil {
		return nil, err
	}
	slots, err := s.today(ctx, communityID)
	if err != nil {
		return nil, err
	}

	var slot *models.ShopSlot
	for _, candidate := range slots {
		if candidate.SlotNo == slotNo {
			slot = candidate
			break
		}
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSlot, slotNo)
	}
	if slot.Kind == models.ShopItemCommonCard || slot.Kind == models.ShopItemRareCard {
		if slot.CardID == 0 {
			return nil, ErrCardUnavailable
		}
	}

	day := DayKey(s.now())
	marker := &models.ShopPurchase{
		CommunityID: communityID,
		PlayerID:    playerID,
		DayKey:      day,
		SlotNo:      slotNo,
	}
	if s.cfg.LimitPerPlayer {
		recorded, err := s.slots.RecordPurchase(ctx, marker)
		if err != nil {
			return nil, err
		}
		if !recorded {
			return nil, ErrAlreadyPurchased
		}
	}
	undoMarker := func() {
		if !s.cfg.LimitPerPlayer {
			return
		}
		if err := s.slots.DeletePurchase(ctx, marker); err != nil {
			logger.LogError("Purchase marker rollback", err,
				slog.String("community_id", communityID),
				slog.String("player_id", playerID),
				slog.Int("slot", slotNo))
		}
	}

	price := effectivePrice(slot.BasePrice, slot.Kind, modifier.Effect)
	account, err := s.ledger.AdjustEssence(ctx, communityID, playerID, -price)
	if err != nil {
		undoMarker()
		return nil, err
	}
	refund := func() {
		if _, err := s.ledger.AdjustEssence(ctx, communityID, playerID, price); err != nil {
			logger.LogError("Essence refund after failed purchase", err,
				slog.String("community_id", communityID),
				slog.String("player_id", playerID),
				slog.Int("slot", slotNo))
		}
	}

	ok, err := s.slots.DecrementStock(ctx, slot.ID)
	if err != nil {
		refund()
		undoMarker()
		return nil, err
	}
	if !ok {
		refund()
		undoMarker()
		return nil, ErrSoldOut
	}
	// The unit is held from here; any failed delivery must put it back on the
	// shelf along with the refund.
	restock := func() {
		if err := s.slots.RestockSlot(ctx, slot.ID); err != nil {
			logger.LogError("Restock after failed delivery", err,
				slog.Int64("slot_id", slot.ID))
		}
	}

	purchase := &Purchase{Slot: slot, Price: price, Account: account}
	switch slot.Kind {
	case models.ShopItemTokens:
		if purchase.Account, err = s.ledger.Grant(ctx, communityID, playerID, slot.TokenAmount); err != nil {
			refund()
			undoMarker()
			restock()
			return nil, err
		}
		purchase.TokensGranted = slot.TokenAmount

	case models.ShopItemCommonCard, models.ShopItemRareCard:
		card, err := s.cards.GetByID(ctx, slot.CardID)
		if err != nil {
			refund()
			undoMarker()
			restock()
			return nil, err
		}
		// Give is a no-op for a card the player already owns; the purchase
		// still stands.
		if _, err := s.collection.Give(ctx, communityID, playerID, card.ID); err != nil {
			refund()
			undoMarker()
			restock()
			return nil, err
		}
		purchase.Card = card

	case models.ShopItemPremiumPack:
		opened, delivery, err := s.opener.OpenPurchased(ctx, communityID, playerID, slot.Pack)
		if err != nil {
			refund()
			undoMarker()
			restock()
			return nil, err
		}
		purchase.PackOpened = opened
		purchase.PackDelivery = delivery
	}

	logger.LogSystem("Shop purchase",
		slog.String("community_id", communityID),
		slog.String("player_id", playerID),
		slog.Int("slot", slotNo),
		slog.String("kind", string(slot.Kind)),
		slog.Int64("price", price))
	return purchase, nil
}
