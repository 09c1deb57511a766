// Package rarity defines the closed set of card rarities and the static
// value tables keyed on them. Unknown labels are rejected at the edges so the
// rest of the engine can treat a Rarity as always valid.
package rarity

import (
	"fmt"
	"strings"
)

type Rarity string

const (
	Common       Rarity = "Common"
	Uncommon     Rarity = "Uncommon"
	Rare         Rarity = "Rare"
	DoubleRare   Rarity = "Double Rare"
	UltraRare    Rarity = "Ultra Rare"
	Illustration Rarity = "Illustration Rare"
	SpecialIllus Rarity = "Special Illustration Rare"
	HyperRare    Rarity = "Hyper Rare"
)

// All lists every rarity from most to least frequent.
var All = []Rarity{
	Common, Uncommon, Rare, DoubleRare,
	UltraRare, Illustration, SpecialIllus, HyperRare,
}

// aliases maps normalized catalog labels to canonical rarities. The import
// data carries a few misspelled and combined labels; they are accepted here
// rather than patched upstream.
var aliases = map[string]Rarity{
	"common":   Common,
	"uncommon": Uncommon,
	"rare":     Rare,

	"double rare":              DoubleRare,
	"rare holo":                DoubleRare,
	"double rare or rare holo": DoubleRare,

	"ultra rare":                   UltraRare,
	"rare holo lv.x":               UltraRare,
	"ultra rare or rare holo lv.x": UltraRare,

	"illustration rare": Illustration,
	"illistration rare": Illustration,

	"special illustration rare": SpecialIllus,
	"special illistration rare": SpecialIllus,

	"black white rare": HyperRare,
	"hyper rare":       HyperRare,
	"rare secret":      HyperRare,
	"black white rare or hyper rare or rare secret": HyperRare,
}

// Parse maps a catalog label to its canonical rarity.
func Parse(label string) (Rarity, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if r, ok := aliases[normalized]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown rarity %q", label)
}

// MustParse is Parse for static tables; it panics on unknown labels.
func MustParse(label string) Rarity {
	r, err := Parse(label)
	if err != nil {
		panic(err)
	}
	return r
}

var essence = map[Rarity]int64{
	Common:       100,
	Uncommon:     250,
	Rare:         500,
	DoubleRare:   1000,
	UltraRare:    1250,
	Illustration: 1500,
	SpecialIllus: 2000,
	HyperRare:    5000,
}

var points = map[Rarity]int{
	Common:       1,
	Uncommon:     2,
	Rare:         5,
	DoubleRare:   10,
	UltraRare:    15,
	Illustration: 10,
	SpecialIllus: 20,
	HyperRare:    35,
}

var power = map[Rarity]int{
	Common:       1,
	Uncommon:     2,
	Rare:         4,
	DoubleRare:   7,
	UltraRare:    10,
	Illustration: 8,
	SpecialIllus: 13,
	HyperRare:    20,
}

// Essence is the duplicate-conversion value of a card of this rarity.
func (r Rarity) Essence() int64 { return essence[r] }

// Points is the collection-score contribution.
func (r Rarity) Points() int { return points[r] }

// Power is the duel strength.
func (r Rarity) Power() int { return power[r] }

// IsBase reports whether the rarity belongs to the guaranteed draw pool.
func (r Rarity) IsBase() bool { return r == Common || r == Uncommon }

func (r Rarity) String() string { return string(r) }
