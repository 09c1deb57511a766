package repositories

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// ErrNotFound is returned by Get-style repository methods when no row exists.
var ErrNotFound = errors.New("not found")

// AccountRepository persists per-(community, player) balances. Every balance
// mutation is a single conditional UPDATE so that concurrent callers race on
// the row and exactly one wins; the boolean results report whether the
// precondition held.
type AccountRepository interface {
	Get(ctx context.Context, communityID, playerID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	// CommitAccrual writes tokens/last_accrual computed from prevAccrual and
	// reports false when another writer advanced the account first.
	CommitAccrual(ctx context.Context, account *models.Account, prevAccrual time.Time) (bool, error)
	// SpendTokens decrements tokens and bumps the lifetime counter; false
	// means the balance could not cover the amount.
	SpendTokens(ctx context.Context, communityID, playerID string, amount int) (*models.Account, bool, error)
	// GrantTokens adds tokens clamped at cap; overflow is discarded.
	GrantTokens(ctx context.Context, communityID, playerID string, amount, cap int) (*models.Account, error)
	// AddEssence applies a delta; false means a negative delta would have
	// driven the balance below zero.
	AddEssence(ctx context.Context, communityID, playerID string, delta int64) (*models.Account, bool, error)
}

type accountRepository struct {
	db *bun.DB
}

func NewAccountRepository(db *bun.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Get(ctx context.Context, communityID, playerID string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("community_id = ? AND player_id = ?", communityID, playerID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		slog.Error("Database error when getting account",
			slog.String("type", "db"),
			slog.String("operation", "Get"),
			slog.String("community_id", communityID),
			slog.String("player_id", playerID),
			slog.String("error", err.Error()))
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(account).Exec(ctx)
	return err
}

func (r *accountRepository) CommitAccrual(ctx context.Context, account *models.Account, prevAccrual time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set("tokens = ?", account.Tokens).
		Set("last_accrual = ?", account.LastAccrual).
		Set("updated_at = ?", time.Now()).
		Where("community_id = ? AND player_id = ? AND last_accrual = ?",
			account.CommunityID, account.PlayerID, prevAccrual).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *accountRepository) SpendTokens(ctx context.Context, communityID, playerID string, amount int) (*models.Account, bool, error) {
	account := new(models.Account)
	res, err := r.db.NewUpdate().
		Model(account).
		Set("tokens = tokens - ?", amount).
		Set("tokens_spent = tokens_spent + ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("community_id = ? AND player_id = ? AND tokens >= ?", communityID, playerID, amount).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return nil, false, nil
	}
	return account, true, nil
}

func (r *accountRepository) GrantTokens(ctx context.Context, communityID, playerID string, amount, cap int) (*models.Account, error) {
	account := new(models.Account)
	_, err := r.db.NewUpdate().
		Model(account).
		Set("tokens = LEAST(?, tokens + ?)", cap, amount).
		Set("updated_at = ?", time.Now()).
		Where("community_id = ? AND player_id = ?", communityID, playerID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *accountRepository) AddEssence(ctx context.Context, communityID, playerID string, delta int64) (*models.Account, bool, error) {
	account := new(models.Account)
	res, err := r.db.NewUpdate().
		Model(account).
		Set("essence = essence + ?", delta).
		Set("updated_at = ?", time.Now()).
		Where("community_id = ? AND player_id = ? AND essence + ? >= 0", communityID, playerID, delta).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return nil, false, nil
	}
	return account, true, nil
}
