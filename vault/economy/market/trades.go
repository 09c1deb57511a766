package market

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/packvault/packvault/vault/database/models"
	"github.com/packvault/packvault/vault/database/repositories"
	"github.com/packvault/packvault/vault/logger"
)

var (
	ErrTradeUnavailable = errors.New("trade is not available")
	ErrNotTradeParty    = errors.New("only trade participants may do that")
	ErrNotTradeTarget   = errors.New("only the trade target can accept")
	ErrSelfTrade        = errors.New("cannot trade with yourself")
)

// OfferTrade proposes a 1-for-1 swap. Both cards stay put while the offer is
// open; ownership is only verified, not moved.
func (s *Service) OfferTrade(ctx context.Context, communityID, proposerID, targetID string, proposerCardID, targetCardID int64) (*models.TradeOffer, error) {
	if proposerID == targetID {
		return nil, ErrSelfTrade
	}

	owns, err := s.collection.Has(ctx, communityID, proposerID, proposerCardID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrNotOwned
	}
	owns, err = s.collection.Has(ctx, communityID, targetID, targetCardID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrNotOwned
	}

	trade := &models.TradeOffer{
		TradeID:        uuid.NewString(),
		CommunityID:    communityID,
		ProposerID:     proposerID,
		TargetID:       targetID,
		ProposerCardID: proposerCardID,
		TargetCardID:   targetCardID,
		Status:         models.TradeOpen,
	}
	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, err
	}

	logger.LogSystem("Trade offered",
		slog.String("trade_id", trade.TradeID),
		slog.String("proposer", proposerID),
		slog.String("target", targetID))
	return trade, nil
}

// OpenTrades lists the open offers the player proposed or is the target of.
func (s *Service) OpenTrades(ctx context.Context, communityID, playerID string) ([]*models.TradeOffer, error) {
	return s.trades.OpenForPlayer(ctx, communityID, playerID)
}

// AcceptTrade swaps the two cards. Ownership is re-verified because either
// side may have moved their card since the offer; any failure mid-swap puts
// the cards back with their original owners and reopens the offer so no card
// vanishes.
func (s *Service) AcceptTrade(ctx context.Context, communityID, playerID, tradeID string) (*models.TradeOffer, error) {
	trade, err := s.trades.GetByTradeID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrTradeUnavailable
		}
		return nil, err
	}
	if trade.CommunityID != communityID || trade.Status != models.TradeOpen {
		return nil, ErrTradeUnavailable
	}
	if playerID != trade.TargetID {
		return nil, ErrNotTradeTarget
	}

	owns, err := s.collection.Has(ctx, communityID, trade.ProposerID, trade.ProposerCardID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrNotOwned
	}
	owns, err = s.collection.Has(ctx, communityID, trade.TargetID, trade.TargetCardID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrNotOwned
	}

	// Claim the offer before moving cards so a double-accept cannot swap
	// twice.
	claimed, err := s.trades.SetStatus(ctx, tradeID, models.TradeOpen, models.TradeAccepted)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrTradeUnavailable
	}
	reopen := func() {
		if _, err := s.trades.SetStatus(ctx, tradeID, models.TradeAccepted, models.TradeOpen); err != nil {
			logger.LogError("Trade status rollback", err, slog.String("trade_id", tradeID))
		}
	}

	removed, err := s.collection.Remove(ctx, communityID, trade.ProposerID, trade.ProposerCardID)
	if err != nil {
		reopen()
		return nil, err
	}
	if !removed {
		reopen()
		return nil, ErrNotOwned
	}

	removed, err = s.collection.Remove(ctx, communityID, trade.TargetID, trade.TargetCardID)
	if err == nil && !removed {
		err = ErrNotOwned
	}
	if err != nil {
		if _, giveErr := s.collection.Give(ctx, communityID, trade.ProposerID, trade.ProposerCardID); giveErr != nil {
			logger.LogError("Trade rollback: restoring proposer card", giveErr,
				slog.String("trade_id", tradeID),
				slog.Int64("card_id", trade.ProposerCardID))
		}
		reopen()
		return nil, err
	}

	// Past this point both cards are out of their owners' collections, so any
	// failed give must put both back before the offer reopens.
	restore := func() {
		if _, err := s.collection.Give(ctx, communityID, trade.ProposerID, trade.ProposerCardID); err != nil {
			logger.LogError("Trade rollback: restoring proposer card", err,
				slog.String("trade_id", tradeID),
				slog.Int64("card_id", trade.ProposerCardID))
		}
		if _, err := s.collection.Give(ctx, communityID, trade.TargetID, trade.TargetCardID); err != nil {
			logger.LogError("Trade rollback: restoring target card", err,
				slog.String("trade_id", tradeID),
				slog.Int64("card_id", trade.TargetCardID))
		}
	}

	if _, err := s.collection.Give(ctx, communityID, trade.TargetID, trade.ProposerCardID); err != nil {
		restore()
		reopen()
		return nil, err
	}
	if _, err := s.collection.Give(ctx, communityID, trade.ProposerID, trade.TargetCardID); err != nil {
		if _, removeErr := s.collection.Remove(ctx, communityID, trade.TargetID, trade.ProposerCardID); removeErr != nil {
			logger.LogError("Trade rollback: reclaiming delivered card", removeErr,
				slog.String("trade_id", tradeID),
				slog.Int64("card_id", trade.ProposerCardID))
		}
		restore()
		reopen()
		return nil, err
	}

	trade.Status = models.TradeAccepted
	logger.LogSystem("Trade completed", slog.String("trade_id", tradeID))
	return trade, nil
}

// DeclineTrade closes an open offer. Either participant can decline.
func (s *Service) DeclineTrade(ctx context.Context, communityID, playerID, tradeID string) error {
	return s.closeTrade(ctx, communityID, playerID, tradeID, models.TradeDeclined)
}

// CancelTrade withdraws an open offer; same participant rule as decline.
func (s *Service) CancelTrade(ctx context.Context, communityID, playerID, tradeID string) error {
	return s.closeTrade(ctx, communityID, playerID, tradeID, models.TradeCancelled)
}

func (s *Service) closeTrade(ctx context.Context, communityID, playerID, tradeID string, to models.TradeStatus) error {
	trade, err := s.trades.GetByTradeID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrTradeUnavailable
		}
		return err
	}
	if trade.CommunityID != communityID || trade.Status != models.TradeOpen {
		return ErrTradeUnavailable
	}
	if playerID != trade.ProposerID && playerID != trade.TargetID {
		return ErrNotTradeParty
	}

	flipped, err := s.trades.SetStatus(ctx, tradeID, models.TradeOpen, to)
	if err != nil {
		return err
	}
	if !flipped {
		return ErrTradeUnavailable
	}
	logger.LogSystem("Trade closed",
		slog.String("trade_id", tradeID),
		slog.String("status", string(to)))
	return nil
}
