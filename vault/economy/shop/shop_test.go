package shop

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packvault/packvault/vault/config"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/economy/events"
	"github.com/packvault/packvault/vault/economy/packs"
)

// fakeShopRepo keeps slots and purchase markers in memory with the same
// conditional-update semantics as the real repository.
type fakeShopRepo struct {
	mu        sync.Mutex
	nextID    int64
	slots     []*models.ShopSlot
	purchases map[string]bool
	restocked int
}

func newFakeShopRepo() *fakeShopRepo {
	return &fakeShopRepo{nextID: 1, purchases: make(map[string]bool)}
}

func purchaseKey(p *models.ShopPurchase) string {
	return fmt.Sprintf("%s/%s/%d/%d", p.CommunityID, p.PlayerID, p.DayKey, p.SlotNo)
}

func (f *fakeShopRepo) SlotsFor(_ context.Context, communityID string, dayKey int) ([]*models.ShopSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ShopSlot
	for _, s := range f.slots {
		if s.CommunityID == communityID && s.DayKey == dayKey {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeShopRepo) ReplaceSlots(_ context.Context, communityID string, dayKey int, slots []*models.ShopSlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.slots[:0]
	for _, s := range f.slots {
		if s.CommunityID != communityID || s.DayKey > dayKey {
			kept = append(kept, s)
		}
	}
	f.slots = kept
	for k := range f.purchases {
		if strings.HasPrefix(k, communityID+"/") {
			delete(f.purchases, k)
		}
	}
	for _, s := range slots {
		s.ID = f.nextID
		f.nextID++
		s.CommunityID = communityID
		s.DayKey = dayKey
		f.slots = append(f.slots, s)
	}
	return nil
}

func (f *fakeShopRepo) DecrementStock(_ context.Context, slotID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.ID == slotID && s.Stock > 0 {
			s.Stock--
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeShopRepo) RestockSlot(_ context.Context, slotID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.ID == slotID {
			s.Stock++
			f.restocked++
		}
	}
	return nil
}

func (f *fakeShopRepo) RecordPurchase(_ context.Context, purchase *models.ShopPurchase) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := purchaseKey(purchase)
	if f.purchases[k] {
		return false, nil
	}
	f.purchases[k] = true
	return true, nil
}

func (f *fakeShopRepo) DeletePurchase(_ context.Context, purchase *models.ShopPurchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.purchases, purchaseKey(purchase))
	return nil
}

// fakeCards serves a fixed catalog.
type fakeCards struct {
	cards []*models.Card
}

func (f *fakeCards) GetByID(_ context.Context, id int64) (*models.Card, error) {
	for _, c := range f.cards {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeCards) CardsInPack(_ context.Context, pack string) ([]*models.Card, error) {
	var out []*models.Card
	for _, c := range f.cards {
		if strings.EqualFold(c.Pack, pack) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCards) Packs(context.Context) ([]string, error) { return nil, nil }

func (f *fakeCards) ResolveNumber(context.Context, string, string) (*models.Card, error) {
	return nil, repositories.ErrNotFound
}

func (f *fakeCards) UpsertMany(_ context.Context, cards []*models.Card) (int, error) {
	f.cards = append(f.cards, cards...)
	return len(cards), nil
}

// fakeCollection only needs Give for shop deliveries.
type fakeCollection struct {
	owned map[string]bool
}

func newFakeCollection() *fakeCollection { return &fakeCollection{owned: make(map[string]bool)} }

func okey(communityID, playerID string, cardID int64) string {
	return fmt.Sprintf("%s/%s/%d", communityID, playerID, cardID)
}

func (f *fakeCollection) Has(_ context.Context, communityID, playerID string, cardID int64) (bool, error) {
	return f.owned[okey(communityID, playerID, cardID)], nil
}

func (f *fakeCollection) Give(_ context.Context, communityID, playerID string, cardID int64) (bool, error) {
	k := okey(communityID, playerID, cardID)
	if f.owned[k] {
		return false, nil
	}
	f.owned[k] = true
	return true, nil
}

func (f *fakeCollection) Remove(_ context.Context, communityID, playerID string, cardID int64) (bool, error) {
	k := okey(communityID, playerID, cardID)
	if !f.owned[k] {
		return false, nil
	}
	delete(f.owned, k)
	return true, nil
}

func (f *fakeCollection) OwnedCardIDs(context.Context, string, string) ([]int64, error) {
	return nil, nil
}

func (f *fakeCollection) Count(context.Context, string, string) (int, error) {
	return len(f.owned), nil
}

// fakeLedger tracks the running essence delta and granted tokens; grantErr
// makes Grant fail.
type fakeLedger struct {
	mu       sync.Mutex
	essence  int64
	tokens   int
	grantErr error
}

func (f *fakeLedger) Grant(_ context.Context, _, _ string, amount int) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	f.tokens += amount
	return &models.Account{Tokens: f.tokens}, nil
}

func (f *fakeLedger) AdjustEssence(_ context.Context, _, _ string, delta int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.essence+delta < 0 {
		return nil, errors.New("insufficient essence")
	}
	f.essence += delta
	return &models.Account{Essence: f.essence}, nil
}

// fakeOpener returns a canned pack or a forced error.
type fakeOpener struct {
	err    error
	opens  int
	packed string
}

func (f *fakeOpener) OpenPurchased(_ context.Context, _, _, pack string) (*packs.Opened, *packs.Delivery, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.opens++
	f.packed = pack
	return &packs.Opened{Cards: []*models.Card{{ID: 900, Pack: pack, Rarity: "Common"}}},
		&packs.Delivery{NewCards: 1, Outcomes: []packs.CardOutcome{{Card: &models.Card{ID: 900}}}}, nil
}

type fixedModifiers struct{ m events.Modifier }

func (f fixedModifiers) Current(context.Context, string) (events.Modifier, error) {
	return f.m, nil
}

func neutral() fixedModifiers {
	return fixedModifiers{m: events.Modifier{ID: "none", Effect: events.Neutral()}}
}

func shopCatalog() *fakeCards {
	f := &fakeCards{}
	id := int64(1)
	add := func(n int, label string) {
		for i := 0; i < n; i++ {
			f.cards = append(f.cards, &models.Card{
				ID: id, Pack: "Black Bolt", Name: fmt.Sprintf("%s #%d", label, i+1), Rarity: label,
			})
			id++
		}
	}
	add(8, "Common")
	add(4, "Uncommon")
	add(3, "Rare")
	add(2, "Ultra Rare")
	return f
}

func marchNoon() time.Time {
	return time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)
}

type testShop struct {
	svc        *Service
	repo       *fakeShopRepo
	cards      *fakeCards
	collection *fakeCollection
	ledger     *fakeLedger
	opener     *fakeOpener
	now        time.Time
}

func newTestShop(t *testing.T, mods ModifierSource, mutate func(*config.ShopConfig)) *testShop {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg.Shop)
	}
	ts := &testShop{
		repo:       newFakeShopRepo(),
		cards:      shopCatalog(),
		collection: newFakeCollection(),
		ledger:     &fakeLedger{essence: 100_000},
		opener:     &fakeOpener{},
		now:        marchNoon(),
	}
	ts.svc = NewService(ts.repo, ts.cards, ts.collection, ts.ledger, ts.opener, mods,
		cfg.Economy, cfg.Shop, rand.New(rand.NewSource(1)), func() time.Time { return ts.now })
	return ts
}

func findSlot(t *testing.T, slots []PricedSlot, kind models.ShopItemKind) PricedSlot {
	t.Helper()
	for _, s := range slots {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("no slot of kind %s", kind)
	return PricedSlot{}
}

func TestDayKey(t *testing.T) {
	if got := DayKey(marchNoon()); got != 20260303 {
		t.Errorf("DayKey = %d, want 20260303", got)
	}
	if got := DayKey(time.Date(2025, time.December, 31, 23, 59, 0, 0, time.UTC)); got != 20251231 {
		t.Errorf("DayKey = %d, want 20251231", got)
	}
}

func TestEffectivePrice(t *testing.T) {
	effect := events.Neutral()
	assert.Equal(t, int64(400), effectivePrice(400, models.ShopItemCommonCard, effect))

	effect.ShopPrice = 0.8
	assert.Equal(t, int64(320), effectivePrice(400, models.ShopItemCommonCard, effect))

	// Premium stacks both discounts.
	effect.PremiumShopPrice = 0.5
	assert.Equal(t, int64(1200), effectivePrice(3000, models.ShopItemPremiumPack, effect))

	// A deep discount never drops below one essence.
	effect.ShopPrice = 0.1
	effect.PremiumShopPrice = 0.1
	assert.Equal(t, int64(1), effectivePrice(3, models.ShopItemPremiumPack, effect))
}

func TestTodayShape(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)

	slots, modifier, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, "none", modifier.ID)
	require.Len(t, slots, 6)

	tokenSlots := 0
	for _, s := range slots[:4] {
		switch s.Kind {
		case models.ShopItemTokens:
			tokenSlots++
			assert.Equal(t, int64(2000), s.Price)
			assert.Equal(t, 5, s.TokenAmount)
		case models.ShopItemCommonCard:
			assert.Equal(t, int64(400), s.Price)
			assert.NotZero(t, s.CardID)
		default:
			t.Errorf("slot %d has kind %s, want tokens or common card", s.SlotNo, s.Kind)
		}
	}
	assert.Equal(t, 1, tokenSlots, "exactly one common slot hides the token bundle")

	rareSlot := slots[4]
	assert.Equal(t, models.ShopItemRareCard, rareSlot.Kind)
	assert.Equal(t, 5, rareSlot.SlotNo)
	require.NotZero(t, rareSlot.CardID)
	card, err := ts.cards.GetByID(context.Background(), rareSlot.CardID)
	require.NoError(t, err)
	assert.Contains(t, []string{"Rare", "Ultra Rare"}, card.Rarity)

	premium := slots[5]
	assert.Equal(t, models.ShopItemPremiumPack, premium.Kind)
	assert.Equal(t, 6, premium.SlotNo)
	assert.Equal(t, "Stormfront", premium.Pack)
	assert.Equal(t, int64(3000), premium.Price)
}

func TestTodayIsStableWithinTheDay(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)

	first, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	second, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "slot %d regenerated", i+1)
		assert.Equal(t, first[i].CardID, second[i].CardID)
	}
}

func TestTodayRegeneratesOnDayRollover(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)

	before, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, before, models.ShopItemTokens)
	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)

	ts.now = ts.now.Add(24 * time.Hour)
	after, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	require.Len(t, after, 6)
	for _, s := range after {
		assert.Equal(t, 20260304, s.DayKey)
		assert.Equal(t, 1, s.Stock, "the new day starts fully stocked")
	}
}

func TestTodayAppliesWeeklyDiscount(t *testing.T) {
	effect := events.Neutral()
	effect.ShopPrice = 0.8
	ts := newTestShop(t, fixedModifiers{m: events.Modifier{ID: "bargain_shop", Effect: effect}}, nil)

	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	common := findSlot(t, slots, models.ShopItemCommonCard)
	assert.Equal(t, int64(320), common.Price)
	premium := findSlot(t, slots, models.ShopItemPremiumPack)
	assert.Equal(t, int64(2400), premium.Price)
}

func TestBuyTokenBundle(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemTokens)

	purchase, err := ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)
	assert.Equal(t, 5, purchase.TokensGranted)
	assert.Equal(t, int64(2000), purchase.Price)
	assert.Equal(t, 5, ts.ledger.tokens)
	assert.Equal(t, int64(100_000-2000), ts.ledger.essence)
}

func TestBuyCommonCardStoresIt(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemCommonCard)

	purchase, err := ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)
	require.NotNil(t, purchase.Card)
	assert.Equal(t, slot.CardID, purchase.Card.ID)

	owned, _ := ts.collection.Has(context.Background(), "g", "p", slot.CardID)
	assert.True(t, owned)
}

func TestBuyPremiumPackOpensIt(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemPremiumPack)

	purchase, err := ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)
	require.NotNil(t, purchase.PackOpened)
	require.NotNil(t, purchase.PackDelivery)
	assert.Equal(t, "Stormfront", ts.opener.packed)
	assert.Equal(t, int64(100_000-3000), ts.ledger.essence)
}

func TestBuySoldOutRefunds(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemTokens)

	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)

	_, err = ts.svc.Buy(context.Background(), "g", "p2", slot.SlotNo)
	require.ErrorIs(t, err, ErrSoldOut)
	// Only the first purchase's debit sticks.
	assert.Equal(t, int64(100_000-2000), ts.ledger.essence)
}

func TestBuyUnknownSlot(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	_, err := ts.svc.Buy(context.Background(), "g", "p", 9)
	assert.ErrorIs(t, err, ErrNoSuchSlot)
}

func TestBuyPremiumOpenFailureRefundsAndRestocks(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	ts.opener.err = errors.New("catalog offline")
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemPremiumPack)

	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.Error(t, err)
	assert.Equal(t, int64(100_000), ts.ledger.essence, "the debit should be returned")
	assert.Equal(t, 1, ts.repo.restocked)

	// The returned unit is buyable once the opener recovers.
	ts.opener.err = nil
	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)
}

func TestBuyTokenGrantFailureRefundsAndRestocks(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	ts.ledger.grantErr = errors.New("accounts offline")
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemTokens)

	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.Error(t, err)
	assert.Equal(t, int64(100_000), ts.ledger.essence, "the debit should be returned")
	assert.Equal(t, 0, ts.ledger.tokens)
	assert.Equal(t, 1, ts.repo.restocked)

	// The returned unit is buyable once the ledger recovers.
	ts.ledger.grantErr = nil
	purchase, err := ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)
	assert.Equal(t, 5, purchase.TokensGranted)
}

func TestBuyMissingCardRefundsAndRestocks(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemCommonCard)

	// The slot's card drops out of the catalog between generation and the buy.
	kept := ts.cards.cards[:0]
	for _, c := range ts.cards.cards {
		if c.ID != slot.CardID {
			kept = append(kept, c)
		}
	}
	ts.cards.cards = kept

	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.ErrorIs(t, err, repositories.ErrNotFound)
	assert.Equal(t, int64(100_000), ts.ledger.essence, "the debit should be returned")
	assert.Equal(t, 1, ts.repo.restocked)
}

func TestBuyLastUnitRaceDebitsOnce(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemTokens)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, player := range []string{"p", "p2"} {
		wg.Add(1)
		go func(player string) {
			defer wg.Done()
			_, err := ts.svc.Buy(context.Background(), "g", player, slot.SlotNo)
			errs <- err
		}(player)
	}
	wg.Wait()
	close(errs)

	var won, soldOut int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSoldOut):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won, "exactly one buyer gets the last unit")
	assert.Equal(t, 1, soldOut)
	assert.Equal(t, int64(100_000-2000), ts.ledger.essence, "the loser's debit must come back")
	assert.Equal(t, 5, ts.ledger.tokens)
}

func TestBuyLimitPerPlayer(t *testing.T) {
	ts := newTestShop(t, neutral(), func(cfg *config.ShopConfig) {
		cfg.LimitPerPlayer = true
	})
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemTokens)

	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)

	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	assert.ErrorIs(t, err, ErrAlreadyPurchased)
	assert.Equal(t, int64(100_000-2000), ts.ledger.essence, "the rejected buy must not debit")
}

func TestResetStartsTheDayOver(t *testing.T) {
	ts := newTestShop(t, neutral(), nil)
	slots, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	slot := findSlot(t, slots, models.ShopItemTokens)

	_, err = ts.svc.Buy(context.Background(), "g", "p", slot.SlotNo)
	require.NoError(t, err)
	_, err = ts.svc.Buy(context.Background(), "g", "p2", slot.SlotNo)
	require.ErrorIs(t, err, ErrSoldOut)

	require.NoError(t, ts.svc.Reset(context.Background(), "g"))

	fresh, _, err := ts.svc.Today(context.Background(), "g")
	require.NoError(t, err)
	require.Len(t, fresh, 6)
	for _, s := range fresh {
		assert.Equal(t, 1, s.Stock, "slot %d should restock on reset", s.SlotNo)
	}
}
