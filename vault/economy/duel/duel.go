// Package duel resolves card duels: a cooldown-gated scripted-opponent path
// and a challenge/accept player-versus-player path with staked tokens. Round
// scores are rarity power sums with uniform noise, so a weak hand still wins
// sometimes.
package duel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/packvault/packvault/vault/config"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/economy/events"
	"github.com/packvault/packvault/vault/economy/rarity"
	"github.com/packvault/packvault/vault/logger"
)

var (
	ErrNoChallenge      = errors.New("no open challenge")
	ErrSelfChallenge    = errors.New("cannot challenge yourself")
	ErrBadStake         = errors.New("stake must not be negative")
	ErrStakeNotCovered  = errors.New("challenger can no longer cover the stake")
	ErrChallengePending = errors.New("you already have an open challenge")
)

// CooldownError reports how long until the next scripted duel.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("duel on cooldown for %s", e.Remaining.Round(time.Second))
}

// Opponent is a scripted rival with a rarity distribution for its hands.
type Opponent struct {
	ID   string
	Name string
	// Weights is the relative rarity mix of the opponent's deck.
	Weights map[rarity.Rarity]int
}

var Opponents = map[string]Opponent{
	"rookie": {
		ID: "rookie", Name: "Rookie Ronin",
		Weights: map[rarity.Rarity]int{
			rarity.Common: 60, rarity.Uncommon: 35, rarity.Rare: 5,
		},
	},
	"veteran": {
		ID: "veteran", Name: "Veteran Vale",
		Weights: map[rarity.Rarity]int{
			rarity.Common: 40, rarity.Uncommon: 35, rarity.Rare: 20, rarity.DoubleRare: 5,
		},
	},
	"master": {
		ID: "master", Name: "Master Myra",
		Weights: map[rarity.Rarity]int{
			rarity.Common: 25, rarity.Uncommon: 30, rarity.Rare: 25,
			rarity.DoubleRare: 10, rarity.UltraRare: 7, rarity.Illustration: 3,
		},
	},
}

// difficulty sets the scripted opponent's score bias and the win rewards.
type difficulty struct {
	bias          float64
	rewardTokens  int
	rewardEssence int64
}

var difficulties = map[string]difficulty{
	"easy":   {bias: 0.90, rewardTokens: 1, rewardEssence: 200},
	"normal": {bias: 0.98, rewardTokens: 2, rewardEssence: 350},
	"hard":   {bias: 1.00, rewardTokens: 3, rewardEssence: 500},
}

// Fixed consolation and draw payouts for the scripted path.
var (
	lossReward = difficulty{rewardTokens: 0, rewardEssence: 100}
	drawReward = difficulty{rewardTokens: 1, rewardEssence: 200}
)

// Fixed essence awards for the player-versus-player path.
const (
	pvpEssenceWin  = 250
	pvpEssenceLoss = 100
	pvpEssenceDraw = 150
)

// duelLedger is the slice of the ledger duels need.
type duelLedger interface {
	Accrue(ctx context.Context, communityID, playerID string) (*models.Account, error)
	Spend(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error)
	Grant(ctx context.Context, communityID, playerID string, amount int) (*models.Account, error)
	AdjustEssence(ctx context.Context, communityID, playerID string, delta int64) (*models.Account, error)
}

// ModifierSource resolves the community's active weekly modifier.
type ModifierSource interface {
	Current(ctx context.Context, communityID string) (events.Modifier, error)
}

// Result is a resolved duel ready for display.
type Result struct {
	Match *models.DuelMatch
	// WinsA / WinsB are the round tallies (A is the player in PvE).
	WinsA, WinsB int
}

type Service struct {
	duels      repositories.DuelRepository
	collection repositories.CollectionRepository
	cards      repositories.CardRepository
	ledger     duelLedger
	modifiers  ModifierSource

	cfg     config.DuelConfig
	economy config.EconomyConfig
	rng     *rand.Rand
	now     func() time.Time
}

func NewService(
	duels repositories.DuelRepository,
	collection repositories.CollectionRepository,
	cards repositories.CardRepository,
	ledger duelLedger,
	modifiers ModifierSource,
	cfg config.DuelConfig,
	economy config.EconomyConfig,
	rng *rand.Rand,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		duels:      duels,
		collection: collection,
		cards:      cards,
		ledger:     ledger,
		modifiers:  modifiers,
		cfg:        cfg,
		economy:    economy,
		rng:        rng,
		now:        now,
	}
}

func (s *Service) powerOf(ctx context.Context, cardID int64) int {
	card, err := s.cards.GetByID(ctx, cardID)
	if err != nil {
		return 1
	}
	r, err := rarity.Parse(card.Rarity)
	if err != nil {
		return 1
	}
	return r.Power()
}

// score sums rarity power and adds uniform noise in [0, 0.75*hand).
func (s *Service) score(ctx context.Context, cardIDs []int64) int {
	total := 0.0
	for _, id := range cardIDs {
		total += float64(s.powerOf(ctx, id))
	}
	total += s.rng.Float64() * float64(len(cardIDs)) * 0.75
	return int(math.Round(total))
}

// defaultPackIDs is the fallback card pool for players with thin collections.
func (s *Service) defaultPackIDs(ctx context.Context) []int64 {
	cards, err := s.cards.CardsInPack(ctx, s.economy.DefaultPack)
	if err != nil {
		return nil
	}
	ids := make([]int64, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

// topHand picks the player's k strongest cards, padding from the default pack
// when they own fewer than k.
func (s *Service) topHand(ctx context.Context, communityID, playerID string, k int) ([]int64, error) {
	owned, err := s.collection.OwnedCardIDs(ctx, communityID, playerID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return s.powerOf(ctx, owned[i]) > s.powerOf(ctx, owned[j])
	})
	hand := owned
	if len(hand) > k {
		hand = hand[:k]
	}
	return s.pad(ctx, hand, k), nil
}

// randomHand samples k owned cards uniformly, padding like topHand.
func (s *Service) randomHand(ctx context.Context, communityID, playerID string, k int) ([]int64, error) {
	owned, err := s.collection.OwnedCardIDs(ctx, communityID, playerID)
	if err != nil {
		return nil, err
	}
	s.rng.Shuffle(len(owned), func(i, j int) { owned[i], owned[j] = owned[j], owned[i] })
	if len(owned) > k {
		owned = owned[:k]
	}
	return s.pad(ctx, owned, k), nil
}

func (s *Service) pad(ctx context.Context, hand []int64, k int) []int64 {
	if len(hand) >= k {
		return hand[:k]
	}
	pool := s.defaultPackIDs(ctx)
	s.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	for _, id := range pool {
		if len(hand) >= k {
			break
		}
		hand = append(hand, id)
	}
	return hand
}

// npcHand draws k cards from the default pack weighted by the opponent's
// rarity mix. Each card of a rarity carries that rarity's weight split across
// its cards, floored at 1.
func (s *Service) npcHand(ctx context.Context, opponent Opponent, k int) []int64 {
	cards, err := s.cards.CardsInPack(ctx, s.economy.DefaultPack)
	if err != nil || len(cards) == 0 {
		return nil
	}

	byRarity := make(map[rarity.Rarity][]int64)
	for _, c := range cards {
		if r, err := rarity.Parse(c.Rarity); err == nil {
			byRarity[r] = append(byRarity[r], c.ID)
		}
	}

	var pop []int64
	var weights []int
	for r, w := range opponent.Weights {
		ids := byRarity[r]
		if len(ids) == 0 {
			continue
		}
		per := max(1, w/len(ids))
		for _, id := range ids {
			pop = append(pop, id)
			weights = append(weights, per)
		}
	}
	if len(pop) == 0 {
		for _, c := range cards {
			pop = append(pop, c.ID)
			weights = append(weights, 1)
		}
	}

	total := 0
	for _, w := range weights {
		total += w
	}
	hand := make([]int64, 0, k)
	for len(hand) < k {
		r := s.rng.Float64() * float64(total)
		upto := 0.0
		for i, w := range weights {
			upto += float64(w)
			if upto >= r {
				hand = append(hand, pop[i])
				break
			}
		}
	}
	return hand
}

// StartPvE runs a full scripted duel and pays out.
func (s *Service) StartPvE(ctx context.Context, communityID, playerID, opponentID, difficultyID string) (*Result, error) {
	opponent, ok := Opponents[opponentID]
	if !ok {
		return nil, fmt.Errorf("unknown opponent %q", opponentID)
	}
	diff, ok := difficulties[difficultyID]
	if !ok {
		return nil, fmt.Errorf("unknown difficulty %q", difficultyID)
	}

	nextAt, err := s.duels.Cooldown(ctx, communityID, playerID)
	if err != nil {
		return nil, err
	}
	if remaining := nextAt.Sub(s.now()); remaining > 0 {
		return nil, &CooldownError{Remaining: remaining}
	}

	modifier, err := s.modifiers.Current(ctx, communityID)
	if err != nil {
		return nil, err
	}
	bias := diff.bias * modifier.Effect.NPCBias

	if _, err := s.ledger.Accrue(ctx, communityID, playerID); err != nil {
		return nil, err
	}

	rounds := make([]models.DuelRound, 0, s.cfg.Rounds)
	winsPlayer, winsNPC := 0, 0
	for i := 0; i < s.cfg.Rounds; i++ {
		playerHand, err := s.topHand(ctx, communityID, playerID, s.cfg.HandSize)
		if err != nil {
			return nil, err
		}
		npcHand := s.npcHand(ctx, opponent, s.cfg.HandSize)

		playerScore := s.score(ctx, playerHand)
		npcScore := int(math.Round(float64(s.score(ctx, npcHand)) * bias))

		if playerScore > npcScore {
			winsPlayer++
		} else if npcScore > playerScore {
			winsNPC++
		}
		rounds = append(rounds, models.DuelRound{
			CardsA: playerHand, CardsB: npcHand,
			ScoreA: playerScore, ScoreB: npcScore,
		})
	}

	var result string
	var payout difficulty
	switch {
	case winsPlayer > winsNPC:
		result, payout = "a", diff
	case winsNPC > winsPlayer:
		result, payout = "b", lossReward
	default:
		result, payout = "draw", drawReward
	}

	mult := modifier.Effect.DuelReward
	tokens := int(math.Round(float64(payout.rewardTokens) * mult))
	essence := int64(math.Round(float64(payout.rewardEssence) * mult))

	if tokens > 0 {
		if _, err := s.ledger.Grant(ctx, communityID, playerID, tokens); err != nil {
			return nil, err
		}
	}
	if essence > 0 {
		if _, err := s.ledger.AdjustEssence(ctx, communityID, playerID, essence); err != nil {
			return nil, err
		}
	}

	match := &models.DuelMatch{
		CommunityID:    communityID,
		Kind:           models.DuelPvE,
		PlayerA:        playerID,
		PlayerB:        opponent.ID,
		Difficulty:     difficultyID,
		Rounds:         rounds,
		Result:         result,
		RewardTokensA:  tokens,
		RewardEssenceA: essence,
	}
	if err := s.duels.RecordMatch(ctx, match); err != nil {
		return nil, err
	}
	if err := s.duels.SetCooldown(ctx, communityID, playerID, s.now().Add(s.cfg.Cooldown())); err != nil {
		return nil, err
	}

	logger.LogSystem("Scripted duel resolved",
		slog.String("community_id", communityID),
		slog.String("player_id", playerID),
		slog.String("opponent", opponent.ID),
		slog.String("result", result))
	return &Result{Match: match, WinsA: winsPlayer, WinsB: winsNPC}, nil
}

// ChallengePvP opens a staked challenge. The stake is only checked here; both
// sides pay when the target accepts. Stale open challenges in the community
// are expired on the way through.
func (s *Service) ChallengePvP(ctx context.Context, communityID, challengerID, targetID string, stake int) (*models.DuelChallenge, error) {
	if challengerID == targetID {
		return nil, ErrSelfChallenge
	}
	if stake < 0 {
		return nil, ErrBadStake
	}

	account, err := s.ledger.Accrue(ctx, communityID, challengerID)
	if err != nil {
		return nil, err
	}
	if stake > account.Tokens {
		return nil, &StakeError{Balance: account.Tokens, Stake: stake}
	}

	if _, err := s.duels.ExpireOpenChallenges(ctx, s.now().Add(-s.cfg.ChallengeTTL())); err != nil {
		return nil, err
	}

	pending, err := s.duels.HasOpenChallenge(ctx, communityID, challengerID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrChallengePending
	}

	challenge := &models.DuelChallenge{
		CommunityID:  communityID,
		ChallengerID: challengerID,
		TargetID:     targetID,
		Stake:        stake,
		Status:       models.ChallengeOpen,
	}
	if err := s.duels.CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	logger.LogSystem("Duel challenge created",
		slog.String("community_id", communityID),
		slog.String("challenger", challengerID),
		slog.String("target", targetID),
		slog.Int("stake", stake))
	return challenge, nil
}

// StakeError reports an unaffordable stake at challenge time.
type StakeError struct {
	Balance int
	Stake   int
}

func (e *StakeError) Error() string {
	return fmt.Sprintf("stake %d exceeds balance %d", e.Stake, e.Balance)
}

// AcceptPvP resolves the newest open challenge addressed to the player. Both
// stakes are debited first; if the challenger can no longer pay, the target
// is refunded and the challenge cancelled.
func (s *Service) AcceptPvP(ctx context.Context, communityID, playerID string) (*Result, error) {
	challenge, err := s.duels.OpenChallengeForTarget(ctx, communityID, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNoChallenge
		}
		return nil, err
	}

	stake := challenge.Stake
	if stake > 0 {
		if _, err := s.ledger.Spend(ctx, communityID, playerID, stake); err != nil {
			return nil, err
		}
		if _, err := s.ledger.Spend(ctx, communityID, challenge.ChallengerID, stake); err != nil {
			if _, refundErr := s.ledger.Grant(ctx, communityID, playerID, stake); refundErr != nil {
				logger.LogError("Stake refund after cancelled challenge", refundErr,
					slog.String("player_id", playerID))
			}
			if _, cancelErr := s.duels.SetChallengeStatus(ctx, challenge.ID, models.ChallengeOpen, models.ChallengeCancelled); cancelErr != nil {
				return nil, cancelErr
			}
			return nil, ErrStakeNotCovered
		}
	}

	// Claim the challenge so a double-accept cannot resolve twice.
	claimed, err := s.duels.SetChallengeStatus(ctx, challenge.ID, models.ChallengeOpen, models.ChallengeAccepted)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if stake > 0 {
			s.refundStakes(ctx, communityID, challenge.ChallengerID, playerID, stake)
		}
		return nil, ErrNoChallenge
	}

	// unwind puts the accepted challenge back to square one: any payouts so
	// far are reversed, both stakes come home and the challenge is cancelled
	// so neither side's tokens are stranded mid-resolution.
	var undo []func()
	unwind := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		if stake > 0 {
			s.refundStakes(ctx, communityID, challenge.ChallengerID, playerID, stake)
		}
		if _, err := s.duels.SetChallengeStatus(ctx, challenge.ID, models.ChallengeAccepted, models.ChallengeCancelled); err != nil {
			logger.LogError("Challenge rollback after failed resolution", err,
				slog.Int64("challenge_id", challenge.ID))
		}
	}

	rounds := make([]models.DuelRound, 0, s.cfg.Rounds)
	winsA, winsB := 0, 0
	for i := 0; i < s.cfg.Rounds; i++ {
		handA, err := s.randomHand(ctx, communityID, challenge.ChallengerID, s.cfg.HandSize)
		if err != nil {
			unwind()
			return nil, err
		}
		handB, err := s.randomHand(ctx, communityID, playerID, s.cfg.HandSize)
		if err != nil {
			unwind()
			return nil, err
		}
		scoreA := s.score(ctx, handA)
		scoreB := s.score(ctx, handB)
		if scoreA > scoreB {
			winsA++
		} else if scoreB > scoreA {
			winsB++
		}
		rounds = append(rounds, models.DuelRound{
			CardsA: handA, CardsB: handB,
			ScoreA: scoreA, ScoreB: scoreB,
		})
	}

	var result string
	var tokensA, tokensB int
	var essenceA, essenceB int64
	switch {
	case winsA > winsB:
		result = "a"
		tokensA = stake * 2
		essenceA, essenceB = pvpEssenceWin, pvpEssenceLoss
	case winsB > winsA:
		result = "b"
		tokensB = stake * 2
		essenceB, essenceA = pvpEssenceWin, pvpEssenceLoss
	default:
		result = "draw"
		tokensA, tokensB = stake, stake
		essenceA, essenceB = pvpEssenceDraw, pvpEssenceDraw
	}

	takeBack := func(playerID string, tokens int, essence int64) func() {
		return func() {
			if tokens > 0 {
				if _, err := s.ledger.Spend(ctx, communityID, playerID, tokens); err != nil {
					logger.LogError("Payout rollback failed", err,
						slog.String("player_id", playerID))
				}
			}
			if essence > 0 {
				if _, err := s.ledger.AdjustEssence(ctx, communityID, playerID, -essence); err != nil {
					logger.LogError("Payout rollback failed", err,
						slog.String("player_id", playerID))
				}
			}
		}
	}

	if tokensA > 0 {
		if _, err := s.ledger.Grant(ctx, communityID, challenge.ChallengerID, tokensA); err != nil {
			unwind()
			return nil, err
		}
		undo = append(undo, takeBack(challenge.ChallengerID, tokensA, 0))
	}
	if tokensB > 0 {
		if _, err := s.ledger.Grant(ctx, communityID, playerID, tokensB); err != nil {
			unwind()
			return nil, err
		}
		undo = append(undo, takeBack(playerID, tokensB, 0))
	}
	if _, err := s.ledger.AdjustEssence(ctx, communityID, challenge.ChallengerID, essenceA); err != nil {
		unwind()
		return nil, err
	}
	undo = append(undo, takeBack(challenge.ChallengerID, 0, essenceA))
	if _, err := s.ledger.AdjustEssence(ctx, communityID, playerID, essenceB); err != nil {
		unwind()
		return nil, err
	}
	undo = append(undo, takeBack(playerID, 0, essenceB))

	match := &models.DuelMatch{
		CommunityID:    communityID,
		Kind:           models.DuelPvP,
		PlayerA:        challenge.ChallengerID,
		PlayerB:        playerID,
		Rounds:         rounds,
		Result:         result,
		Stake:          stake,
		RewardTokensA:  tokensA,
		RewardTokensB:  tokensB,
		RewardEssenceA: essenceA,
		RewardEssenceB: essenceB,
	}
	if err := s.duels.RecordMatch(ctx, match); err != nil {
		unwind()
		return nil, err
	}

	logger.LogSystem("Player duel resolved",
		slog.String("community_id", communityID),
		slog.String("challenger", challenge.ChallengerID),
		slog.String("target", playerID),
		slog.String("result", result))
	return &Result{Match: match, WinsA: winsA, WinsB: winsB}, nil
}

func (s *Service) refundStakes(ctx context.Context, communityID, challengerID, targetID string, stake int) {
	for _, player := range []string{challengerID, targetID} {
		if _, err := s.ledger.Grant(ctx, communityID, player, stake); err != nil {
			logger.LogError("Stake refund failed", err,
				slog.String("community_id", communityID),
				slog.String("player_id", player))
		}
	}
}

// DeclinePvP declines the newest open challenge addressed to the player.
func (s *Service) DeclinePvP(ctx context.Context, communityID, playerID string) error {
	challenge, err := s.duels.OpenChallengeForTarget(ctx, communityID, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrNoChallenge
		}
		return err
	}
	flipped, err := s.duels.SetChallengeStatus(ctx, challenge.ID, models.ChallengeOpen, models.ChallengeDeclined)
	if err != nil {
		return err
	}
	if !flipped {
		return ErrNoChallenge
	}
	return nil
}

// ExpireChallenges flips challenges older than the TTL to expired. Run from
// the background sweep.
func (s *Service) ExpireChallenges(ctx context.Context) (int64, error) {
	return s.duels.ExpireOpenChallenges(ctx, s.now().Add(-s.cfg.ChallengeTTL()))
}

// History returns the player's most recent matches, newest first.
func (s *Service) History(ctx context.Context, communityID, playerID string, limit int) ([]*models.DuelMatch, error) {
	return s.duels.RecentMatches(ctx, communityID, playerID, limit)
}
