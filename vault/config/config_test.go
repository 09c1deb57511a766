package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 75, cfg.Economy.TokenCap)
	assert.Equal(t, 15, cfg.Economy.TokenInitial)
	assert.Equal(t, 2*time.Hour, cfg.Economy.RefillInterval())
	assert.Equal(t, 200, cfg.Economy.EssencePerToken)
	assert.Equal(t, "Black Bolt", cfg.Economy.DefaultPack)
	assert.Contains(t, cfg.Economy.TokenPacks, "Journey Together")
	assert.False(t, cfg.Economy.ForceMaxTokens)

	assert.Equal(t, 4, cfg.Shop.CommonSlots)
	assert.Equal(t, "Stormfront", cfg.Shop.PremiumPack)
	assert.Equal(t, int64(3000), cfg.Shop.PremiumPackPrice)

	assert.Equal(t, 5*time.Minute, cfg.Duel.Cooldown())
	assert.Equal(t, time.Hour, cfg.Duel.ChallengeTTL())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[db]
host = "db.internal"
port = 5432
database = "packvault"

[economy]
token_cap = 100
force_max_tokens = true

[shop]
limit_per_player = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 100, cfg.Economy.TokenCap)
	assert.True(t, cfg.Economy.ForceMaxTokens)
	assert.True(t, cfg.Shop.LimitPerPlayer)

	// Untouched keys keep their defaults.
	assert.Equal(t, 15, cfg.Economy.TokenInitial)
	assert.Equal(t, "Stormfront", cfg.Shop.PremiumPack)
	assert.Equal(t, 3, cfg.Duel.Rounds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
