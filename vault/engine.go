// Package vault wires the economy engine together: one Engine owns the
// database, the repositories and the domain services, and exposes the
// operations a chat frontend calls. Identities cross this boundary as
// snowflakes and travel the rest of the engine as strings.
package vault

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/packvault/packvault/vault/catalog"
	"github.com/packvault/packvault/vault/config"
	"github.com/packvault/packvault/vault/database"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/economy/duel"
	"github.com/packvault/packvault/vault/economy/events"
	"github.com/packvault/packvault/vault/economy/ledger"
	"github.com/packvault/packvault/vault/economy/market"
	"github.com/packvault/packvault/vault/economy/packs"
	"github.com/packvault/packvault/vault/economy/rarity"
	"github.com/packvault/packvault/vault/economy/shop"
	"github.com/packvault/packvault/vault/logger"
)

// sweepInterval paces the background expiry of listings and challenges.
const sweepInterval = 30 * time.Second

// ErrNotAuthorized is returned for operator surfaces invoked from a
// non-admin community.
var ErrNotAuthorized = errors.New("not authorized")

type Engine struct {
	cfg *config.Config
	db  *database.DB

	cards      repositories.CardRepository
	collection repositories.CollectionRepository

	events *events.Selector
	ledger *ledger.Service
	packs  *packs.Service
	shop   *shop.Service
	market *market.Service
	duels  *duel.Service

	stop chan struct{}
}

// New connects to the database, creates the schema and wires every service.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	if err := db.InitializeSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return fromDB(db, cfg, rng, time.Now), nil
}

// fromDB finishes construction; split out so tests can inject rng and clock.
func fromDB(db *database.DB, cfg *config.Config, rng *rand.Rand, now func() time.Time) *Engine {
	bun := db.BunDB()

	accounts := repositories.NewAccountRepository(bun)
	cards := repositories.NewCardRepository(bun)
	collection := repositories.NewCollectionRepository(bun)
	eventRepo := repositories.NewEventRepository(bun)
	shopRepo := repositories.NewShopRepository(bun)
	listings := repositories.NewListingRepository(bun)
	trades := repositories.NewTradeRepository(bun)
	duelRepo := repositories.NewDuelRepository(bun)

	selector := events.NewSelector(eventRepo, rng, now)
	ledgerSvc := ledger.NewService(accounts, selector, cfg.Economy, rng, now)

	opener := packs.NewOpener(cards, rng, now)
	resolver := packs.NewResolver(collection, ledgerSvc)
	packsSvc := packs.NewService(opener, resolver, ledgerSvc, selector, cfg.Economy, cfg.Shop.PremiumPack, rng)

	shopSvc := shop.NewService(shopRepo, cards, collection, ledgerSvc, packsSvc, selector, cfg.Economy, cfg.Shop, rng, now)
	marketSvc := market.NewService(listings, trades, collection, cards, ledgerSvc, now)
	duelSvc := duel.NewService(duelRepo, collection, cards, ledgerSvc, selector, cfg.Duel, cfg.Economy, rng, now)

	return &Engine{
		cfg:        cfg,
		db:         db,
		cards:      cards,
		collection: collection,
		events:     selector,
		ledger:     ledgerSvc,
		packs:      packsSvc,
		shop:       shopSvc,
		market:     marketSvc,
		duels:      duelSvc,
		stop:       make(chan struct{}),
	}
}

// StartSweeps runs the background expiry loops until Close.
func (e *Engine) StartSweeps(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := e.market.ExpireListings(ctx); err != nil {
					logger.LogError("Listing sweep", err)
				}
				if _, err := e.duels.ExpireChallenges(ctx); err != nil {
					logger.LogError("Challenge sweep", err)
				}
			case <-e.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	logger.LogSystem("Background sweeps started",
		slog.Duration("interval", sweepInterval))
}

func (e *Engine) Close() {
	close(e.stop)
	e.db.Close()
}

// ---- Ledger ----

// Balance accrues any due tokens and returns the account.
func (e *Engine) Balance(ctx context.Context, community, player snowflake.ID) (*models.Account, error) {
	return e.ledger.Accrue(ctx, community.String(), player.String())
}

// NextRefill reports when the next token lands.
func (e *Engine) NextRefill() time.Time {
	return e.ledger.NextRefill()
}

// GrantTokens credits tokens up to the cap. Operator surface.
func (e *Engine) GrantTokens(ctx context.Context, community, player snowflake.ID, amount int) (*models.Account, error) {
	return e.ledger.Grant(ctx, community.String(), player.String(), amount)
}

// SellTokens converts tokens to essence.
func (e *Engine) SellTokens(ctx context.Context, community, player snowflake.ID, amount int) (int64, *models.Account, error) {
	return e.ledger.SellTokens(ctx, community.String(), player.String(), amount)
}

// Gamble wagers tokens on the three-way wheel.
func (e *Engine) Gamble(ctx context.Context, community, player snowflake.ID, stake int) (ledger.GambleOutcome, *models.Account, error) {
	return e.ledger.Gamble(ctx, community.String(), player.String(), stake)
}

// ---- Weekly modifier ----

// WeeklyEvent returns (assigning if needed) this week's modifier.
func (e *Engine) WeeklyEvent(ctx context.Context, community snowflake.ID) (events.Modifier, error) {
	return e.events.Current(ctx, community.String())
}

// ---- Packs ----

// OpenPack spends a token and opens one pack.
func (e *Engine) OpenPack(ctx context.Context, community, player snowflake.ID, pack string) (*packs.OpenResult, error) {
	return e.packs.OpenWithToken(ctx, community.String(), player.String(), pack)
}

// SimulatePack opens n packs with no economic effect.
func (e *Engine) SimulatePack(ctx context.Context, pack string, n int) (*packs.Simulation, error) {
	return e.packs.Simulate(ctx, pack, n)
}

// Packs lists every pack in the catalog.
func (e *Engine) Packs(ctx context.Context) ([]string, error) {
	return e.cards.Packs(ctx)
}

// ImportCatalog loads a TOML card file into the catalog table and returns
// the number of rows written.
func (e *Engine) ImportCatalog(ctx context.Context, path string) (int, error) {
	return catalog.Import(ctx, e.cards, path)
}

// ---- Collection ----

// Collection returns the card ids the player owns.
func (e *Engine) Collection(ctx context.Context, community, player snowflake.ID) ([]int64, error) {
	return e.collection.OwnedCardIDs(ctx, community.String(), player.String())
}

// CollectionScore sums rarity points over the player's collection.
func (e *Engine) CollectionScore(ctx context.Context, community, player snowflake.ID) (int, error) {
	ids, err := e.collection.OwnedCardIDs(ctx, community.String(), player.String())
	if err != nil {
		return 0, err
	}
	score := 0
	for _, id := range ids {
		card, err := e.cards.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if r, err := rarity.Parse(card.Rarity); err == nil {
			score += r.Points()
		}
	}
	return score, nil
}

// ---- Shop ----

// ShopToday lists today's shop with effective prices.
func (e *Engine) ShopToday(ctx context.Context, community snowflake.ID) ([]shop.PricedSlot, events.Modifier, error) {
	return e.shop.Today(ctx, community.String())
}

// ShopBuy purchases one unit from a slot.
func (e *Engine) ShopBuy(ctx context.Context, community, player snowflake.ID, slot int) (*shop.Purchase, error) {
	return e.shop.Buy(ctx, community.String(), player.String(), slot)
}

// ShopReset force-regenerates today's shop. Restricted to admin communities
// when any are configured.
func (e *Engine) ShopReset(ctx context.Context, community snowflake.ID) error {
	if len(e.cfg.Economy.AdminCommunities) > 0 && !e.isAdmin(community) {
		return ErrNotAuthorized
	}
	return e.shop.Reset(ctx, community.String())
}

func (e *Engine) isAdmin(community snowflake.ID) bool {
	for _, id := range e.cfg.Economy.AdminCommunities {
		if id == community {
			return true
		}
	}
	return false
}

// ---- Market ----

// ListCard escrows a card and creates a buy-it-now listing.
func (e *Engine) ListCard(ctx context.Context, community, seller snowflake.ID, pack, number string, price int64, currency models.Currency, expiresHours int) (*models.Listing, error) {
	return e.market.ListCard(ctx, community.String(), seller.String(), pack, number, price, currency, expiresHours)
}

// BrowseListings lists the community's active listings.
func (e *Engine) BrowseListings(ctx context.Context, community snowflake.ID) ([]*models.Listing, error) {
	return e.market.Browse(ctx, community.String())
}

// MyListings lists the player's own active listings.
func (e *Engine) MyListings(ctx context.Context, community, seller snowflake.ID) ([]*models.Listing, error) {
	return e.market.MyListings(ctx, community.String(), seller.String())
}

// BuyListing purchases an active listing.
func (e *Engine) BuyListing(ctx context.Context, community, buyer snowflake.ID, listingID string) (*models.Listing, *models.Card, error) {
	return e.market.BuyListing(ctx, community.String(), buyer.String(), listingID)
}

// CancelListing returns an escrowed card to its seller.
func (e *Engine) CancelListing(ctx context.Context, community, seller snowflake.ID, listingID string) error {
	return e.market.CancelListing(ctx, community.String(), seller.String(), listingID)
}

// ---- Trades ----

// OfferTrade proposes a 1-for-1 card swap.
func (e *Engine) OfferTrade(ctx context.Context, community, proposer, target snowflake.ID, proposerCardID, targetCardID int64) (*models.TradeOffer, error) {
	return e.market.OfferTrade(ctx, community.String(), proposer.String(), target.String(), proposerCardID, targetCardID)
}

// OpenTrades lists the open offers the player is part of.
func (e *Engine) OpenTrades(ctx context.Context, community, player snowflake.ID) ([]*models.TradeOffer, error) {
	return e.market.OpenTrades(ctx, community.String(), player.String())
}

// AcceptTrade executes the swap.
func (e *Engine) AcceptTrade(ctx context.Context, community, player snowflake.ID, tradeID string) (*models.TradeOffer, error) {
	return e.market.AcceptTrade(ctx, community.String(), player.String(), tradeID)
}

// DeclineTrade closes an open offer.
func (e *Engine) DeclineTrade(ctx context.Context, community, player snowflake.ID, tradeID string) error {
	return e.market.DeclineTrade(ctx, community.String(), player.String(), tradeID)
}

// CancelTrade withdraws an open offer.
func (e *Engine) CancelTrade(ctx context.Context, community, player snowflake.ID, tradeID string) error {
	return e.market.CancelTrade(ctx, community.String(), player.String(), tradeID)
}

// ---- Duels ----

// DuelPvE runs a scripted duel.
func (e *Engine) DuelPvE(ctx context.Context, community, player snowflake.ID, opponent, difficulty string) (*duel.Result, error) {
	return e.duels.StartPvE(ctx, community.String(), player.String(), opponent, difficulty)
}

// DuelChallenge opens a staked player-versus-player challenge.
func (e *Engine) DuelChallenge(ctx context.Context, community, challenger, target snowflake.ID, stake int) (*models.DuelChallenge, error) {
	return e.duels.ChallengePvP(ctx, community.String(), challenger.String(), target.String(), stake)
}

// DuelAccept resolves the newest challenge addressed to the player.
func (e *Engine) DuelAccept(ctx context.Context, community, player snowflake.ID) (*duel.Result, error) {
	return e.duels.AcceptPvP(ctx, community.String(), player.String())
}

// DuelDecline declines the newest challenge addressed to the player.
func (e *Engine) DuelDecline(ctx context.Context, community, player snowflake.ID) error {
	return e.duels.DeclinePvP(ctx, community.String(), player.String())
}

// DuelHistory returns the player's most recent matches.
func (e *Engine) DuelHistory(ctx context.Context, community, player snowflake.ID, limit int) ([]*models.DuelMatch, error) {
	return e.duels.History(ctx, community.String(), player.String(), limit)
}
