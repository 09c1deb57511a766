package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	"log/slog"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
)

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	// Retry the raw dial first so a booting database doesn't fail the whole start
	var conn net.Conn
	var err error

	tryDial := func() (net.Conn, error) {
		addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
		if c, e := net.DialTimeout("tcp4", addr, defaultConnTimeout); e == nil {
			return c, nil
		}
		return net.DialTimeout("tcp6", addr, defaultConnTimeout)
	}

	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = tryDial()
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	defer conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool, bunDB: newBunDB(cfg)}, nil
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func newBunDB(cfg DBConfig) *bun.DB {
	sslMode := os.Getenv("PG_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode,
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
	if db.bunDB != nil {
		db.bunDB.Close()
	}
}

// InitializeSchema creates all required database tables and indexes
func (db *DB) InitializeSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.Card)(nil),
		(*models.Account)(nil),
		(*models.OwnedCard)(nil),
		(*models.WeeklyEvent)(nil),
		(*models.ShopSlot)(nil),
		(*models.ShopPurchase)(nil),
		(*models.Listing)(nil),
		(*models.TradeOffer)(nil),
		(*models.DuelChallenge)(nil),
		(*models.DuelMatch)(nil),
		(*models.DuelCooldown)(nil),
	}

	for _, model := range tables {
		query := db.bunDB.NewCreateTable().
			Model(model).
			IfNotExists()

		if _, err := query.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cards_pack ON cards(pack);",
		"CREATE INDEX IF NOT EXISTS idx_cards_pack_rarity ON cards(pack, rarity);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_key ON accounts(community_id, player_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_owned_cards_key ON owned_cards(community_id, player_id, card_id);",
		"CREATE INDEX IF NOT EXISTS idx_owned_cards_player ON owned_cards(community_id, player_id);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_shop_slots_key ON shop_slots(community_id, day_key, slot_no);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_shop_purchases_key ON shop_purchases(community_id, player_id, day_key, slot_no);",
		"CREATE INDEX IF NOT EXISTS idx_listings_active ON listings(expires_at) WHERE status = 'active';",
		"CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_id, status);",
		"CREATE INDEX IF NOT EXISTS idx_trade_offers_target ON trade_offers(community_id, target_id, status);",
		"CREATE INDEX IF NOT EXISTS idx_duel_challenges_target ON duel_challenges(community_id, target_id, status);",
		"CREATE INDEX IF NOT EXISTS idx_duel_challenges_open ON duel_challenges(created_at) WHERE status = 'open';",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_duel_cooldowns_key ON duel_cooldowns(community_id, player_id);",
		"CREATE INDEX IF NOT EXISTS idx_duel_matches_player ON duel_matches(community_id, player_a);",
	}

	for _, idx := range indexes {
		if _, err := db.bunDB.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	slog.Info("Database schema initialized",
		slog.String("type", "db"),
		slog.Int("tables", len(tables)),
		slog.Int("indexes", len(indexes)))

	return nil
}
