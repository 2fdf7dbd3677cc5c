package db

import (
	"time"
)

// User is the public profile row. Identity itself lives with the external
// auth provider; ID is the provider's subject (UUID).
type User struct {
	ID                  string   `gorm:"primaryKey;type:char(36)"`
	Email               string   `gorm:"size:255;not null;default:''"`
	Username            string   `gorm:"size:64;not null"`
	Bio                 string   `gorm:"type:text"`
	Level               string   `gorm:"size:16;not null;default:'beginner'"`
	RideStyles          []string `gorm:"serializer:json"`
	Languages           []string `gorm:"serializer:json"`
	PhotoURL            *string  `gorm:"size:512"`
	IsActive            bool     `gorm:"not null;default:true;index"`
	IsPremium           bool     `gorm:"not null;default:false"`
	PremiumExpiresAt    *time.Time
	StripeCustomerID    *string `gorm:"size:64;uniqueIndex"`
	OnboardingCompleted bool    `gorm:"not null;default:false"`
	LastActiveAt        time.Time
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// Station is a ski resort; stations are the location clusters candidates
// are grouped by.
type Station struct {
	ID        string  `gorm:"primaryKey;type:char(36)"`
	Name      string  `gorm:"size:128;not null"`
	Latitude  float64 `gorm:"not null"`
	Longitude float64 `gorm:"not null"`
}

// UserStationStatus records where a user is (or will be) riding.
//
// Composite PK: (UserID, StationID). At most one row per user is expected to
// be active at a time; the fallback query takes the first active one.
type UserStationStatus struct {
	UserID    string    `gorm:"primaryKey;type:char(36);index:idx_station_status_user_active,priority:1"`
	StationID string    `gorm:"primaryKey;type:char(36);index:idx_station_status_station_active,priority:1"`
	IsActive  bool      `gorm:"not null;default:true;index:idx_station_status_user_active,priority:2;index:idx_station_status_station_active,priority:2"`
	DateFrom  time.Time `gorm:"not null"`
	DateTo    time.Time `gorm:"not null"`
}

// DailyUsage is the per-user, per-day quota counter.
//
// Composite PK: (UserID, Date)
//   - Guarantees at most one counter per user per calendar day.
//   - Date is YYYY-MM-DD in the service timezone, stored as text so MySQL and
//     SQLite compare it identically.
//
// Rows are only mutated through repository.UsageRepository.CheckAndIncrement.
type DailyUsage struct {
	UserID       string    `gorm:"primaryKey;type:char(36)"`
	Date         string    `gorm:"primaryKey;size:10"`
	SwipeCount   int       `gorm:"not null;default:0"`
	MessageCount int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (DailyUsage) TableName() string { return "daily_usage" }

// Like is a one-way like from Liker to Liked.
//
// Indexes:
//   - ux_likes_pair(liker_id, liked_id) makes the insert idempotent.
//   - idx_likes_liked(liked_id) serves the reciprocal lookup.
type Like struct {
	ID        string    `gorm:"primaryKey;type:char(36)"`
	LikerID   string    `gorm:"type:char(36);not null;uniqueIndex:ux_likes_pair,priority:1"`
	LikedID   string    `gorm:"type:char(36);not null;uniqueIndex:ux_likes_pair,priority:2;index:idx_likes_liked"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Match is a mutual like. User1ID < User2ID always holds, so the unique
// index on the ordered pair is what prevents duplicate matches.
type Match struct {
	ID        string    `gorm:"primaryKey;type:char(36)"`
	User1ID   string    `gorm:"type:char(36);not null;uniqueIndex:ux_matches_pair,priority:1"`
	User2ID   string    `gorm:"type:char(36);not null;uniqueIndex:ux_matches_pair,priority:2;index:idx_matches_user2"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// HasParticipant reports whether userID is one side of the match.
func (m Match) HasParticipant(userID string) bool {
	return m.User1ID == userID || m.User2ID == userID
}

// Message belongs to a match.
//
// Index idx_messages_match_created(match_id, created_at DESC, id DESC) backs
// both offset and created_at-cursor pagination.
type Message struct {
	ID          string    `gorm:"primaryKey;type:char(36);index:idx_messages_match_created,priority:3,sort:desc"`
	MatchID     string    `gorm:"type:char(36);not null;index:idx_messages_match_created,priority:1"`
	SenderID    string    `gorm:"type:char(36);not null"`
	Content     string    `gorm:"type:text;not null"`
	MessageType string    `gorm:"size:16;not null;default:'text'"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_messages_match_created,priority:2,sort:desc"`
}

// Block hides two users from each other in both directions.
type Block struct {
	BlockerID string    `gorm:"primaryKey;type:char(36)"`
	BlockedID string    `gorm:"primaryKey;type:char(36);index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ProcessedEvent is the insert-once ledger of payment webhook event ids.
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;size:255"`
	EventType   string    `gorm:"size:128;not null"`
	ProcessedAt time.Time `gorm:"autoCreateTime"`
}

// Consent is a user's current decision for one processing purpose.
//
// Composite PK: (UserID, Purpose). Granting again overwrites the version
// and clears RevokedAt; revoking stamps RevokedAt and keeps the row.
type Consent struct {
	UserID    string `gorm:"primaryKey;type:char(36)"`
	Purpose   string `gorm:"primaryKey;size:32"`
	Version   int    `gorm:"not null;default:1"`
	GrantedAt time.Time
	RevokedAt *time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Models lists every table, in migration order.
func Models() []any {
	return []any{
		&User{},
		&Station{},
		&UserStationStatus{},
		&DailyUsage{},
		&Like{},
		&Match{},
		&Message{},
		&Block{},
		&ProcessedEvent{},
		&Consent{},
	}
}
