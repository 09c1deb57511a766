package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// cardCacheSize bounds the per-process card cache. The catalog is static so
// entries never need invalidation, only eviction.
const cardCacheSize = 4096

// CardRepository reads the static card catalog.
type CardRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Card, error)
	CardsInPack(ctx context.Context, pack string) ([]*models.Card, error)
	Packs(ctx context.Context) ([]string, error)
	// ResolveNumber finds a card by its pack-local numbering, accepting both
	// "119/159" and the bare "119" form.
	ResolveNumber(ctx context.Context, pack, number string) (*models.Card, error)
	// UpsertMany loads or refreshes catalog rows, keyed by id.
	UpsertMany(ctx context.Context, cards []*models.Card) (int, error)
}

type cardRepository struct {
	db    *bun.DB
	cache *lru.Cache
}

func NewCardRepository(db *bun.DB) CardRepository {
	cache, _ := lru.New(cardCacheSize)
	return &cardRepository{db: db, cache: cache}
}

func (r *cardRepository) GetByID(ctx context.Context, id int64) (*models.Card, error) {
	if cached, ok := r.cache.Get(id); ok {
		return cached.(*models.Card), nil
	}

	card := new(models.Card)
	err := r.db.NewSelect().
		Model(card).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r.cache.Add(id, card)
	return card, nil
}

func (r *cardRepository) CardsInPack(ctx context.Context, pack string) ([]*models.Card, error) {
	var cards []*models.Card
	err := r.db.NewSelect().
		Model(&cards).
		Where("LOWER(pack) = LOWER(?)", pack).
		Order("id ASC").
		Scan(ctx)
	return cards, err
}

func (r *cardRepository) Packs(ctx context.Context) ([]string, error) {
	var packs []string
	err := r.db.NewSelect().
		Model((*models.Card)(nil)).
		ColumnExpr("DISTINCT pack").
		Order("pack ASC").
		Scan(ctx, &packs)
	return packs, err
}

func (r *cardRepository) ResolveNumber(ctx context.Context, pack, number string) (*models.Card, error) {
	bare := strings.TrimSpace(number)
	if idx := strings.IndexByte(bare, '/'); idx >= 0 {
		bare = bare[:idx]
	}
	if _, err := strconv.Atoi(bare); err != nil {
		return nil, fmt.Errorf("bad card number %q: %w", number, err)
	}

	card := new(models.Card)
	err := r.db.NewSelect().
		Model(card).
		Where("LOWER(pack) = LOWER(?)", pack).
		Where("numbering = ? OR numbering LIKE ?", bare, bare+"/%").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return card, nil
}

func (r *cardRepository) UpsertMany(ctx context.Context, cards []*models.Card) (int, error) {
	if len(cards) == 0 {
		return 0, nil
	}
	res, err := r.db.NewInsert().
		Model(&cards).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("pack = EXCLUDED.pack").
		Set("rarity = EXCLUDED.rarity").
		Set("numbering = EXCLUDED.numbering").
		Set("kind = EXCLUDED.kind").
		Set("image_url = EXCLUDED.image_url").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

