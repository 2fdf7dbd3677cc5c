package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

// MessageRepository provides data access for match messages.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new repository bound to the given DB connection.
func NewMessageRepository(database *gorm.DB) *MessageRepository {
	return &MessageRepository{db: database}
}

// Create inserts m, assigning an id when it has none.
func (r *MessageRepository) Create(ctx context.Context, m *db.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListPage returns page `page` of a match's messages, newest first.
//
// Behavior:
//   - Ordered by created_at DESC, id DESC.
//   - Page n covers rows [n*limit, (n+1)*limit).
//   - One extra row is fetched to report hasMore.
//
// Example:
//
//	repo.ListPage(ctx, matchID, 0, 50) // latest 50 messages
func (r *MessageRepository) ListPage(
	ctx context.Context,
	matchID string,
	page, limit int,
) ([]db.Message, bool, error) {
	var msgs []db.Message
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("created_at DESC, id DESC").
		Offset(pagination.Offset(page, limit)).
		Limit(limit + 1).
		Find(&msgs).Error
	if err != nil {
		return nil, false, err
	}
	return trimPage(msgs, limit)
}

// ListBefore returns a match's messages strictly older than cursor, newest first.
//
// Behavior:
//   - Without cursor.ID every row at or after the cursor instant is excluded.
//   - With cursor.ID, rows sharing the instant are continued by id DESC, so
//     no message is skipped when several share a timestamp.
//
// Example:
//
//	repo.ListBefore(ctx, matchID, pagination.NewTimeCursor(last.CreatedAt, last.ID), 50)
func (r *MessageRepository) ListBefore(
	ctx context.Context,
	matchID string,
	cursor pagination.TimeCursor,
	limit int,
) ([]db.Message, bool, error) {
	ts := cursor.Time()
	query := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	if cursor.ID == "" {
		query = query.Where("created_at < ?", ts)
	} else {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", ts, ts, cursor.ID)
	}

	var msgs []db.Message
	if err := query.Find(&msgs).Error; err != nil {
		return nil, false, err
	}
	return trimPage(msgs, limit)
}

func trimPage(msgs []db.Message, limit int) ([]db.Message, bool, error) {
	if len(msgs) > limit {
		return msgs[:limit], true, nil
	}
	return msgs, false, nil
}
