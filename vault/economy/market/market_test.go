package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
)

// fakeListings mirrors the real repository's compare-and-set transitions.
type fakeListings struct {
	mu   sync.Mutex
	rows map[string]*models.Listing
	// loseSoldRace makes the next MarkSold report the row already taken.
	loseSoldRace bool
}

func newFakeListings() *fakeListings {
	return &fakeListings{rows: make(map[string]*models.Listing)}
}

func (f *fakeListings) Create(_ context.Context, listing *models.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *listing
	f.rows[listing.ListingID] = &cp
	return nil
}

func (f *fakeListings) GetByListingID(_ context.Context, listingID string) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[listingID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeListings) Active(_ context.Context, communityID string) ([]*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Listing
	for _, row := range f.rows {
		if row.SellerCommunityID == communityID && row.Status == models.ListingActive {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeListings) ActiveBySeller(_ context.Context, communityID, sellerID string) ([]*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Listing
	for _, row := range f.rows {
		if row.SellerCommunityID == communityID && row.SellerID == sellerID && row.Status == models.ListingActive {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeListings) MarkSold(_ context.Context, listingID, buyerCommunityID, buyerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseSoldRace {
		f.loseSoldRace = false
		return false, nil
	}
	row, ok := f.rows[listingID]
	if !ok || row.Status != models.ListingActive {
		return false, nil
	}
	row.Status = models.ListingSold
	row.BuyerCommunityID = buyerCommunityID
	row.BuyerID = buyerID
	return true, nil
}

func (f *fakeListings) SetStatus(_ context.Context, listingID string, from, to models.ListingStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[listingID]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	return true, nil
}

func (f *fakeListings) ExpiredActive(_ context.Context, now time.Time) ([]*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Listing
	for _, row := range f.rows {
		if row.Status == models.ListingActive && !row.ExpiresAt.After(now) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeTrades keeps offers with the same open->terminal transitions.
type fakeTrades struct {
	mu   sync.Mutex
	rows map[string]*models.TradeOffer
}

func newFakeTrades() *fakeTrades { return &fakeTrades{rows: make(map[string]*models.TradeOffer)} }

func (f *fakeTrades) Create(_ context.Context, trade *models.TradeOffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *trade
	f.rows[trade.TradeID] = &cp
	return nil
}

func (f *fakeTrades) GetByTradeID(_ context.Context, tradeID string) (*models.TradeOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[tradeID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeTrades) OpenForPlayer(_ context.Context, communityID, playerID string) ([]*models.TradeOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TradeOffer
	for _, row := range f.rows {
		if row.CommunityID != communityID || row.Status != models.TradeOpen {
			continue
		}
		if row.ProposerID == playerID || row.TargetID == playerID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTrades) SetStatus(_ context.Context, tradeID string, from, to models.TradeStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[tradeID]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	return true, nil
}

// fakeCollection tracks ownership; removeFail forces Remove to report the
// card gone, simulating a lost ownership race, and giveErr makes Give fail
// for a specific destination.
type fakeCollection struct {
	mu         sync.Mutex
	owned      map[string]bool
	removeFail map[string]bool
	giveErr    map[string]error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{
		owned:      make(map[string]bool),
		removeFail: make(map[string]bool),
		giveErr:    make(map[string]error),
	}
}

func okey(communityID, playerID string, cardID int64) string {
	return fmt.Sprintf("%s/%s/%d", communityID, playerID, cardID)
}

func (f *fakeCollection) give(communityID, playerID string, cardIDs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range cardIDs {
		f.owned[okey(communityID, playerID, id)] = true
	}
}

func (f *fakeCollection) failRemove(communityID, playerID string, cardID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeFail[okey(communityID, playerID, cardID)] = true
}

func (f *fakeCollection) failGive(communityID, playerID string, cardID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.giveErr[okey(communityID, playerID, cardID)] = err
}

func (f *fakeCollection) Has(_ context.Context, communityID, playerID string, cardID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owned[okey(communityID, playerID, cardID)], nil
}

func (f *fakeCollection) Give(_ context.Context, communityID, playerID string, cardID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := okey(communityID, playerID, cardID)
	if err := f.giveErr[k]; err != nil {
		return false, err
	}
	if f.owned[k] {
		return false, nil
	}
	f.owned[k] = true
	return true, nil
}

func (f *fakeCollection) Remove(_ context.Context, communityID, playerID string, cardID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := okey(communityID, playerID, cardID)
	if f.removeFail[k] {
		return false, nil
	}
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

// fakeCards resolves numbering prefixes against a small catalog.
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

func (f *fakeCards) ResolveNumber(_ context.Context, pack, number string) (*models.Card, error) {
	for _, c := range f.cards {
		if strings.EqualFold(c.Pack, pack) && strings.HasPrefix(c.Numbering, number) {
			return c, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeCards) UpsertMany(_ context.Context, cards []*models.Card) (int, error) {
	f.cards = append(f.cards, cards...)
	return len(cards), nil
}

// fakeLedger tracks tokens per player and a shared essence delta.
type fakeLedger struct {
	mu      sync.Mutex
	tokens  map[string]int
	essence map[string]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{tokens: make(map[string]int), essence: make(map[string]int64)}
}

func lkey(communityID, playerID string) string { return communityID + "/" + playerID }

func (f *fakeLedger) fund(communityID, playerID string, tokens int, essence int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[lkey(communityID, playerID)] = tokens
	f.essence[lkey(communityID, playerID)] = essence
}

func (f *fakeLedger) Spend(_ context.Context, communityID, playerID string, amount int) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lkey(communityID, playerID)
	if f.tokens[k] < amount {
		return nil, fmt.Errorf("insufficient tokens: have %d, need %d", f.tokens[k], amount)
	}
	f.tokens[k] -= amount
	return &models.Account{Tokens: f.tokens[k]}, nil
}

func (f *fakeLedger) Grant(_ context.Context, communityID, playerID string, amount int) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lkey(communityID, playerID)
	f.tokens[k] += amount
	return &models.Account{Tokens: f.tokens[k]}, nil
}

func (f *fakeLedger) AdjustEssence(_ context.Context, communityID, playerID string, delta int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := lkey(communityID, playerID)
	if f.essence[k]+delta < 0 {
		return nil, fmt.Errorf("insufficient essence: have %d", f.essence[k])
	}
	f.essence[k] += delta
	return &models.Account{Essence: f.essence[k]}, nil
}

func marketCatalog() *fakeCards {
	return &fakeCards{cards: []*models.Card{
		{ID: 1, Pack: "Black Bolt", Name: "Sparkmouse", Numbering: "12/200", Rarity: "Common"},
		{ID: 2, Pack: "Black Bolt", Name: "Emberwing", Numbering: "45/200", Rarity: "Rare"},
		{ID: 3, Pack: "Black Bolt", Name: "Tidecaller", Numbering: "77/200", Rarity: "Ultra Rare"},
	}}
}

type testMarket struct {
	svc        *Service
	listings   *fakeListings
	trades     *fakeTrades
	collection *fakeCollection
	ledger     *fakeLedger
	now        time.Time
}

func newTestMarket(t *testing.T) *testMarket {
	t.Helper()
	tm := &testMarket{
		listings:   newFakeListings(),
		trades:     newFakeTrades(),
		collection: newFakeCollection(),
		ledger:     newFakeLedger(),
		now:        time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC),
	}
	tm.svc = NewService(tm.listings, tm.trades, tm.collection, marketCatalog(), tm.ledger,
		func() time.Time { return tm.now })
	return tm
}

func TestClampExpiry(t *testing.T) {
	tests := []struct {
		hours int
		want  time.Duration
	}{
		{0, 72 * time.Hour},
		{1, time.Hour},
		{-5, time.Hour},
		{24, 24 * time.Hour},
		{500, 168 * time.Hour},
	}
	for _, tt := range tests {
		if got := clampExpiry(tt.hours); got != tt.want {
			t.Errorf("clampExpiry(%d) = %v, want %v", tt.hours, got, tt.want)
		}
	}
}

func TestListCardEscrowsIt(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)

	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), listing.CardID)
	assert.Equal(t, models.ListingActive, listing.Status)
	assert.Equal(t, tm.now.Add(72*time.Hour), listing.ExpiresAt)

	owned, _ := tm.collection.Has(context.Background(), "g", "seller", 2)
	assert.False(t, owned, "the listed card must leave the seller's collection")

	active, err := tm.svc.Browse(context.Background(), "g")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestListCardRequiresOwnership(t *testing.T) {
	tm := newTestMarket(t)
	_, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 0)
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestListCardRejectsBadPrice(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)
	_, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 0, models.CurrencyTokens, 0)
	assert.ErrorIs(t, err, ErrBadPrice)
	_, err = tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 5, models.Currency("gems"), 0)
	assert.Error(t, err)
}

func TestBuyListingWithTokens(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)
	tm.ledger.fund("g", "buyer", 10, 0)

	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 0)
	require.NoError(t, err)

	sold, card, err := tm.svc.BuyListing(context.Background(), "g", "buyer", listing.ListingID)
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "Emberwing", card.Name)
	assert.Equal(t, 7, tm.ledger.tokens["g/buyer"])

	owned, _ := tm.collection.Has(context.Background(), "g", "buyer", 2)
	assert.True(t, owned)

	stored, _ := tm.listings.GetByListingID(context.Background(), sold.ListingID)
	assert.Equal(t, models.ListingSold, stored.Status)
	assert.Equal(t, "buyer", stored.BuyerID)
}

func TestBuyListingWithEssence(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 1)
	tm.ledger.fund("g", "buyer", 0, 1000)

	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "12", 400, models.CurrencyEssence, 0)
	require.NoError(t, err)

	_, _, err = tm.svc.BuyListing(context.Background(), "g", "buyer", listing.ListingID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), tm.ledger.essence["g/buyer"])
}

func TestBuyOwnListing(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)
	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 0)
	require.NoError(t, err)

	_, _, err = tm.svc.BuyListing(context.Background(), "g", "seller", listing.ListingID)
	assert.ErrorIs(t, err, ErrOwnListing)
}

func TestBuyExpiredListing(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)
	tm.ledger.fund("g", "buyer", 10, 0)
	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 1)
	require.NoError(t, err)

	tm.now = tm.now.Add(2 * time.Hour)
	_, _, err = tm.svc.BuyListing(context.Background(), "g", "buyer", listing.ListingID)
	assert.ErrorIs(t, err, ErrListingUnavailable)
	assert.Equal(t, 10, tm.ledger.tokens["g/buyer"], "no debit for an expired listing")
}

func TestBuyLostRaceRefunds(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)
	tm.ledger.fund("g", "buyer", 10, 0)
	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 0)
	require.NoError(t, err)

	// Another buyer claims the row between the read and the sold flip.
	tm.listings.loseSoldRace = true

	_, _, err = tm.svc.BuyListing(context.Background(), "g", "buyer", listing.ListingID)
	assert.ErrorIs(t, err, ErrListingUnavailable)
	assert.Equal(t, 10, tm.ledger.tokens["g/buyer"], "the loser's debit must come back")
}

func TestCancelListingReturnsCard(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)
	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 0)
	require.NoError(t, err)

	require.NoError(t, tm.svc.CancelListing(context.Background(), "g", "seller", listing.ListingID))

	owned, _ := tm.collection.Has(context.Background(), "g", "seller", 2)
	assert.True(t, owned)

	err = tm.svc.CancelListing(context.Background(), "g", "seller", listing.ListingID)
	assert.ErrorIs(t, err, ErrListingUnavailable, "a second cancel finds nothing active")
}

func TestCancelListingSellerOnly(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 2)
	listing, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 3, models.CurrencyTokens, 0)
	require.NoError(t, err)

	err = tm.svc.CancelListing(context.Background(), "g", "other", listing.ListingID)
	assert.ErrorIs(t, err, ErrNotSeller)
}

func TestMyListings(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 1, 2)
	_, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "12", 3, models.CurrencyTokens, 0)
	require.NoError(t, err)
	_, err = tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 5, models.CurrencyTokens, 0)
	require.NoError(t, err)

	mine, err := tm.svc.MyListings(context.Background(), "g", "seller")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := tm.svc.MyListings(context.Background(), "g", "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExpireListingsReturnsCards(t *testing.T) {
	tm := newTestMarket(t)
	tm.collection.give("g", "seller", 1, 2)
	_, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "12", 3, models.CurrencyTokens, 1)
	require.NoError(t, err)
	long, err := tm.svc.ListCard(context.Background(), "g", "seller", "Black Bolt", "45", 5, models.CurrencyTokens, 48)
	require.NoError(t, err)

	tm.now = tm.now.Add(3 * time.Hour)
	expired, err := tm.svc.ExpireListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	owned, _ := tm.collection.Has(context.Background(), "g", "seller", 1)
	assert.True(t, owned, "the expired card goes home")
	owned, _ = tm.collection.Has(context.Background(), "g", "seller", 2)
	assert.False(t, owned, "the live listing keeps its escrow")

	stored, _ := tm.listings.GetByListingID(context.Background(), long.ListingID)
	assert.Equal(t, models.ListingActive, stored.Status)
}
