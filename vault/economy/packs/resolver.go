package packs

import (
	"context"
	"math"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/economy/rarity"
)

// CardOutcome describes what happened to one drawn card.
type CardOutcome struct {
	Card *models.Card
	// Duplicate is true when the player already owned the card; Essence then
	// holds the conversion credit.
	Duplicate bool
	Essence   int64
}

// Delivery summarizes resolving a full pack against one collection.
type Delivery struct {
	Outcomes    []CardOutcome
	NewCards    int
	Duplicates  int
	DupeEssence int64
}

// Resolver converts drawn cards into collection entries, turning duplicates
// into essence instead of storing them.
type Resolver struct {
	collection repositories.CollectionRepository
	ledger     essenceCreditor
}

// essenceCreditor is the slice of the ledger the resolver needs.
type essenceCreditor interface {
	AdjustEssence(ctx context.Context, communityID, playerID string, delta int64) (*models.Account, error)
}

func NewResolver(collection repositories.CollectionRepository, ledger essenceCreditor) *Resolver {
	return &Resolver{collection: collection, ledger: ledger}
}

// Deliver gives each card to the player or, for duplicates, credits essence
// scaled by dupeFactor. The Give insert decides new-versus-duplicate, so two
// racing deliveries of the same card cannot both store it.
func (r *Resolver) Deliver(ctx context.Context, communityID, playerID string, cards []*models.Card, dupeFactor float64) (*Delivery, error) {
	delivery := &Delivery{Outcomes: make([]CardOutcome, 0, len(cards))}

	for _, card := range cards {
		stored, err := r.collection.Give(ctx, communityID, playerID, card.ID)
		if err != nil {
			return delivery, err
		}
		if stored {
			delivery.NewCards++
			delivery.Outcomes = append(delivery.Outcomes, CardOutcome{Card: card})
			continue
		}

		var credit int64
		if parsed, err := rarity.Parse(card.Rarity); err == nil {
			credit = int64(math.Round(float64(parsed.Essence()) * dupeFactor))
		}
		if credit > 0 {
			if _, err := r.ledger.AdjustEssence(ctx, communityID, playerID, credit); err != nil {
				return delivery, err
			}
		}
		delivery.Duplicates++
		delivery.DupeEssence += credit
		delivery.Outcomes = append(delivery.Outcomes, CardOutcome{Card: card, Duplicate: true, Essence: credit})
	}
	return delivery, nil
}
