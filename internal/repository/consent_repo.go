package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/crewsnow/internal/db"
)

// ConsentRepository stores per-purpose consent decisions.
type ConsentRepository struct {
	db *gorm.DB
}

// NewConsentRepository creates a new repository bound to the given DB connection.
func NewConsentRepository(database *gorm.DB) *ConsentRepository {
	return &ConsentRepository{db: database}
}

// Grant records consent for purpose at version.
//
// Behavior:
//   - Upserts the (user, purpose) row: version and granted_at are replaced
//     and any earlier revocation is cleared.
//   - Granting twice is idempotent apart from the timestamps.
//
// Example:
//
//	repo.Grant(ctx, uid, "gps", 2, time.Now())
func (r *ConsentRepository) Grant(ctx context.Context, userID, purpose string, version int, at time.Time) error {
	c := db.Consent{UserID: userID, Purpose: purpose, Version: version, GrantedAt: at}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "purpose"}},
		DoUpdates: clause.Assignments(map[string]any{
			"version":    version,
			"granted_at": at,
			"revoked_at": nil,
			"updated_at": at,
		}),
	}).Create(&c).Error
	if err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	return nil
}

// Revoke stamps an active consent as revoked. It reports false when there
// was no active consent to revoke.
func (r *ConsentRepository) Revoke(ctx context.Context, userID, purpose string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Consent{}).
		Where("user_id = ? AND purpose = ? AND revoked_at IS NULL", userID, purpose).
		Updates(map[string]any{"revoked_at": at, "updated_at": at})
	if res.Error != nil {
		return false, fmt.Errorf("revoke consent: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Has reports whether userID holds an unrevoked consent for purpose at
// minVersion or later.
func (r *ConsentRepository) Has(ctx context.Context, userID, purpose string, minVersion int) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&db.Consent{}).
		Where("user_id = ? AND purpose = ? AND revoked_at IS NULL AND version >= ?", userID, purpose, minVersion).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check consent: %w", err)
	}
	return n > 0, nil
}

// List returns every consent row of userID, keyed by purpose.
func (r *ConsentRepository) List(ctx context.Context, userID string) (map[string]db.Consent, error) {
	var rows []db.Consent
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	out := make(map[string]db.Consent, len(rows))
	for _, c := range rows {
		out[c.Purpose] = c
	}
	return out, nil
}
