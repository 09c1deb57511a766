// Package catalog loads card definitions from TOML files into the database.
// The engine treats the cards table as read-only; this is the import step
// that fills it.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/economy/rarity"
)

// File is the on-disk catalog layout:
//
//	[[cards]]
//	id = 1
//	pack = "Black Bolt"
//	name = "Pikachu"
//	numbering = "119/159"
//	rarity = "Common"
type File struct {
	Cards []Entry `toml:"cards"`
}

type Entry struct {
	ID        int64  `toml:"id"`
	Pack      string `toml:"pack"`
	Name      string `toml:"name"`
	Numbering string `toml:"numbering"`
	Kind      string `toml:"kind"`
	Rarity    string `toml:"rarity"`
	ImageURL  string `toml:"image_url"`
}

// Load parses and validates a catalog file. Every rarity label must map to a
// known tier so pack odds stay well defined.
func Load(path string) ([]*models.Card, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file File
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cards := make([]*models.Card, 0, len(file.Cards))
	for i, entry := range file.Cards {
		if entry.ID == 0 || entry.Pack == "" || entry.Name == "" {
			return nil, fmt.Errorf("%s: card %d: id, pack and name are required", path, i)
		}
		if _, err := rarity.Parse(entry.Rarity); err != nil {
			return nil, fmt.Errorf("%s: card %d (%s): %w", path, entry.ID, entry.Name, err)
		}
		cards = append(cards, &models.Card{
			ID:        entry.ID,
			Pack:      entry.Pack,
			Name:      entry.Name,
			Numbering: entry.Numbering,
			Kind:      entry.Kind,
			Rarity:    entry.Rarity,
			ImageURL:  entry.ImageURL,
		})
	}
	return cards, nil
}

// Import loads a file and upserts its cards.
func Import(ctx context.Context, repo repositories.CardRepository, path string) (int, error) {
	cards, err := Load(path)
	if err != nil {
		return 0, err
	}
	return repo.UpsertMany(ctx, cards)
}
