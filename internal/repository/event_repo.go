package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/crewsnow/internal/db"
)

// EventRepository is the insert-once ledger of processed webhook events.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new repository bound to the given DB connection.
func NewEventRepository(database *gorm.DB) *EventRepository {
	return &EventRepository{db: database}
}

// ProcessOnce runs apply at most once per event id.
//
// Behavior:
//   - The event id is recorded and apply runs in the same transaction, so an
//     event is either recorded and applied or neither.
//   - A replayed id returns (false, nil) without calling apply.
//   - An error from apply rolls back the record; the sender's retry will
//     process it again.
//
// Example:
//
//	first, err := repo.ProcessOnce(ctx, "evt_1", "customer.subscription.updated", func(tx *gorm.DB) error { ... })
func (r *EventRepository) ProcessOnce(
	ctx context.Context,
	eventID, eventType string,
	apply func(tx *gorm.DB) error,
) (bool, error) {
	first := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev := db.ProcessedEvent{EventID: eventID, EventType: eventType}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&ev)
		if res.Error != nil {
			return fmt.Errorf("record event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		first = true
		if apply == nil {
			return nil
		}
		return apply(tx)
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

// IsProcessed reports whether eventID has been recorded.
func (r *EventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}
