package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/packvault/packvault/vault/database/models"
	"github.com/uptrace/bun"
)

// EventRepository stores the per-community weekly modifier assignment.
type EventRepository interface {
	Get(ctx context.Context, communityID string) (*models.WeeklyEvent, error)
	// Replace upserts the assignment. Concurrent callers for the same week may
	// both write; last write wins and callers re-read to converge on one id.
	Replace(ctx context.Context, event *models.WeeklyEvent) error
}

type eventRepository struct {
	db *bun.DB
}

func NewEventRepository(db *bun.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Get(ctx context.Context, communityID string) (*models.WeeklyEvent, error) {
	event := new(models.WeeklyEvent)
	err := r.db.NewSelect().
		Model(event).
		Where("community_id = ?", communityID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return event, nil
}

func (r *eventRepository) Replace(ctx context.Context, event *models.WeeklyEvent) error {
	_, err := r.db.NewInsert().
		Model(event).
		On("CONFLICT (community_id) DO UPDATE").
		Set("week_key = EXCLUDED.week_key").
		Set("event_id = EXCLUDED.event_id").
		Set("assigned_at = EXCLUDED.assigned_at").
		Exec(ctx)
	return err
}
