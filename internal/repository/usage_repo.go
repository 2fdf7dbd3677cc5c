package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/quota"
)

// UsageResult is the outcome of one CheckAndIncrement call.
type UsageResult struct {
	Allowed     bool
	CountsAfter quota.Counts
	Date        string
}

// UsageRepository is the daily usage ledger. It is the only code that
// touches daily_usage rows.
type UsageRepository struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

// NewUsageRepository binds the ledger to a DB, the service timezone and a clock.
// A nil loc means UTC and a nil now means time.Now.
func NewUsageRepository(database *gorm.DB, loc *time.Location, now func() time.Time) *UsageRepository {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &UsageRepository{db: database, loc: loc, now: now}
}

// Today returns the ledger date for the current instant.
func (r *UsageRepository) Today() string {
	return r.now().In(r.loc).Format(time.DateOnly)
}

// CheckAndIncrement attempts to consume deltas of today's quota for userID.
//
// Behavior:
//   - Today's row is created lazily with insert-if-absent, so racing first
//     users of the day end up sharing one row.
//   - The increment is a single conditional UPDATE that only matches when
//     every charged counter stays within its limit after the delta. Either
//     all charged counters move or none does; an uncharged counter that is
//     already over its limit does not block the other.
//   - Allowed is true iff that UPDATE matched the row.
//   - CountsAfter is read inside the same transaction as the UPDATE.
//
// Example:
//
//	repo.CheckAndIncrement(ctx, uid, quota.Counts{Swipe: 10, Message: 50}, quota.Delta(quota.ActionSwipe, 1))
func (r *UsageRepository) CheckAndIncrement(
	ctx context.Context,
	userID string,
	limits, deltas quota.Counts,
) (UsageResult, error) {
	if deltas.Swipe < 0 || deltas.Message < 0 {
		return UsageResult{}, fmt.Errorf("negative usage delta %+v", deltas)
	}

	date := r.Today()
	res := UsageResult{Date: date}

	seed := db.DailyUsage{UserID: userID, Date: date}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return res, fmt.Errorf("create usage row: %w", err)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if deltas.Swipe != 0 || deltas.Message != 0 {
			q := tx.Model(&db.DailyUsage{}).Where("user_id = ? AND date = ?", userID, date)
			// only the counters being charged are bounded
			if deltas.Swipe != 0 {
				q = q.Where("swipe_count + ? <= ?", deltas.Swipe, limits.Swipe)
			}
			if deltas.Message != 0 {
				q = q.Where("message_count + ? <= ?", deltas.Message, limits.Message)
			}
			upd := q.Updates(map[string]any{
				"swipe_count":   gorm.Expr("swipe_count + ?", deltas.Swipe),
				"message_count": gorm.Expr("message_count + ?", deltas.Message),
			})
			if upd.Error != nil {
				return fmt.Errorf("increment usage: %w", upd.Error)
			}
			res.Allowed = upd.RowsAffected == 1
		}

		var cur db.DailyUsage
		if err := tx.Where("user_id = ? AND date = ?", userID, date).Take(&cur).Error; err != nil {
			return fmt.Errorf("read usage: %w", err)
		}
		res.CountsAfter = quota.Counts{Swipe: cur.SwipeCount, Message: cur.MessageCount}

		if deltas.Swipe == 0 && deltas.Message == 0 {
			res.Allowed = cur.SwipeCount <= limits.Swipe && cur.MessageCount <= limits.Message
		}
		return nil
	})
	if err != nil {
		return UsageResult{Date: date}, err
	}

	return res, nil
}
