// Package config loads the engine's TOML configuration. Defaults cover the
// shipped tuning; a config file only needs to override what differs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/pelletier/go-toml/v2"
)

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Default() Config {
	return Config{
		Economy: EconomyConfig{
			TokenCap:        75,
			TokenInitial:    15,
			RefillMinutes:   120,
			EssencePerToken: 200,
			DefaultPack:     "Black Bolt",
			TokenPacks:      []string{"Black Bolt", "Journey Together"},
		},
		Shop: ShopConfig{
			CommonSlots:       4,
			TokenBundleAmount: 5,
			TokenBundlePrice:  2000,
			CommonCardPrice:   400,
			RareCardPrice:     2000,
			PremiumPack:       "Stormfront",
			PremiumPackPrice:  3000,
		},
		Duel: DuelConfig{
			Rounds:              3,
			HandSize:            3,
			CooldownMinutes:     5,
			ChallengeTTLMinutes: 60,
		},
	}
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	DB      DBConfig      `toml:"db"`
	Economy EconomyConfig `toml:"economy"`
	Shop    ShopConfig    `toml:"shop"`
	Duel    DuelConfig    `toml:"duel"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

type EconomyConfig struct {
	TokenCap        int    `toml:"token_cap"`
	TokenInitial    int    `toml:"token_initial"`
	RefillMinutes   int    `toml:"refill_minutes"`
	EssencePerToken int    `toml:"essence_per_token"`
	DefaultPack     string `toml:"default_pack"`

	// Packs openable with tokens; everything else is shop-only.
	TokenPacks []string `toml:"token_packs"`

	// ForceMaxTokens starts and tops accounts up at the cap. Test/dev knob,
	// injected here instead of a process-wide switch.
	ForceMaxTokens bool `toml:"force_max_tokens"`

	// Communities allowed to call admin operations like shop reset.
	AdminCommunities []snowflake.ID `toml:"admin_communities"`
}

func (c EconomyConfig) RefillInterval() time.Duration {
	return time.Duration(c.RefillMinutes) * time.Minute
}

type ShopConfig struct {
	CommonSlots       int    `toml:"common_slots"`
	TokenBundleAmount int    `toml:"token_bundle_amount"`
	TokenBundlePrice  int64  `toml:"token_bundle_price"`
	CommonCardPrice   int64  `toml:"common_card_price"`
	RareCardPrice     int64  `toml:"rare_card_price"`
	PremiumPack       string `toml:"premium_pack"`
	PremiumPackPrice  int64  `toml:"premium_pack_price"`

	// LimitPerPlayer rejects a second purchase of the same slot by the same
	// player within one shop day.
	LimitPerPlayer bool `toml:"limit_per_player"`
}

type DuelConfig struct {
	Rounds              int `toml:"rounds"`
	HandSize            int `toml:"hand_size"`
	CooldownMinutes     int `toml:"cooldown_minutes"`
	ChallengeTTLMinutes int `toml:"challenge_ttl_minutes"`
}

func (c DuelConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

func (c DuelConfig) ChallengeTTL() time.Duration {
	return time.Duration(c.ChallengeTTLMinutes) * time.Minute
}
