package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/crewsnow/internal/db"
)

// UserRepository provides data access for user profiles.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository bound to the given DB connection.
func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// WithTx returns a repository that runs on tx.
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

// Get loads a user by id. A missing row is gorm.ErrRecordNotFound.
func (r *UserRepository) Get(ctx context.Context, userID string) (*db.User, error) {
	var u db.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureProfile guarantees a users row exists for an authenticated identity.
//
// Behavior:
//   - Reads the profile first; an existing one is returned untouched.
//   - Only when it is missing, inserts a minimal, active, not-yet-onboarded
//     profile.
//   - Concurrent first requests of the same user converge on one row.
//   - Returns the stored profile and whether this call created it.
//
// Example:
//
//	u, created, err := repo.EnsureProfile(ctx, sub, "alice@example.com") // username "alice"
func (r *UserRepository) EnsureProfile(ctx context.Context, userID, email string) (*db.User, bool, error) {
	existing, err := r.Get(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("load profile: %w", err)
	}

	u := db.User{
		ID:           userID,
		Email:        email,
		Username:     DefaultUsername(userID, email),
		Level:        "beginner",
		IsActive:     true,
		LastActiveAt: time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&u)
	if res.Error != nil {
		return nil, false, fmt.Errorf("ensure profile: %w", res.Error)
	}

	if res.RowsAffected == 1 {
		return &u, true, nil
	}

	// lost the race to a concurrent first request
	stored, err := r.Get(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("load profile: %w", err)
	}
	return stored, false, nil
}

// DefaultUsername derives a placeholder username: the email local part, or
// user_<first 8 chars of id> when there is no usable email.
func DefaultUsername(userID, email string) string {
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		if len(local) > 64 {
			local = local[:64]
		}
		return local
	}
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "user_" + short
}

// SetPremiumByCustomer applies a subscription state to the user holding the
// payment customer id. It reports false when no user carries that id.
func (r *UserRepository) SetPremiumByCustomer(
	ctx context.Context,
	customerID string,
	premium bool,
	expiresAt *time.Time,
) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("stripe_customer_id = ?", customerID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}

	err := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("stripe_customer_id = ?", customerID).
		Updates(map[string]any{
			"is_premium":         premium,
			"premium_expires_at": expiresAt,
		}).Error
	if err != nil {
		return false, fmt.Errorf("update premium: %w", err)
	}
	return true, nil
}

// ActiveStation returns the station id of the user's active stay, or "" when
// the user has none.
func (r *UserRepository) ActiveStation(ctx context.Context, userID string) (string, error) {
	var st db.UserStationStatus
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("date_from DESC").
		Limit(1).
		Find(&st).Error
	if err != nil {
		return "", err
	}
	return st.StationID, nil
}
