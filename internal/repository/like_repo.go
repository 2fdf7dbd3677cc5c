package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

// LikeOutcome reports what a like produced.
type LikeOutcome struct {
	AlreadyLiked bool
	Matched      bool
	MatchID      string
	MatchCreated bool
}

// LikeRepository provides data access for likes, matches and blocks.
type LikeRepository struct {
	db *gorm.DB
}

// NewLikeRepository creates a new repository bound to the given DB connection.
func NewLikeRepository(database *gorm.DB) *LikeRepository {
	return &LikeRepository{db: database}
}

// LikeAndMatch records liker -> liked and creates the match when the like
// is reciprocated.
//
// Behavior:
//   - The like is inserted once per (liker_id, liked_id); a repeat reports
//     AlreadyLiked and changes nothing.
//   - The like is committed before the reciprocal lookup. Of two racing mutual
//     likes, whichever commits last always sees the other one.
//   - The match is stored as the ordered pair (user1_id < user2_id) with
//     insert-if-absent, then read back. Racing creators converge on one row.
//
// Example:
//
//	repo.LikeAndMatch(ctx, aliceID, bobID) // {Matched: true, MatchID: "..."} if bob liked alice
func (r *LikeRepository) LikeAndMatch(ctx context.Context, likerID, likedID string) (LikeOutcome, error) {
	var out LikeOutcome

	like := db.Like{ID: uuid.NewString(), LikerID: likerID, LikedID: likedID}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "liker_id"}, {Name: "liked_id"}},
			DoNothing: true,
		}).
		Create(&like)
	if res.Error != nil {
		return out, fmt.Errorf("insert like: %w", res.Error)
	}
	out.AlreadyLiked = res.RowsAffected == 0

	reciprocal, err := r.HasLiked(ctx, likedID, likerID)
	if err != nil {
		return out, err
	}
	if !reciprocal {
		return out, nil
	}

	match, created, err := r.ensureMatch(ctx, likerID, likedID)
	if err != nil {
		return out, err
	}
	out.Matched = true
	out.MatchID = match.ID
	out.MatchCreated = created
	return out, nil
}

func (r *LikeRepository) ensureMatch(ctx context.Context, a, b string) (db.Match, bool, error) {
	u1, u2 := db.OrderedPair(a, b)
	m := db.Match{ID: uuid.NewString(), User1ID: u1, User2ID: u2, IsActive: true}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user1_id"}, {Name: "user2_id"}},
			DoNothing: true,
		}).
		Create(&m)
	if res.Error != nil {
		return db.Match{}, false, fmt.Errorf("insert match: %w", res.Error)
	}

	var existing db.Match
	if err := r.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", u1, u2).
		Take(&existing).Error; err != nil {
		return db.Match{}, false, fmt.Errorf("read match: %w", err)
	}
	return existing, res.RowsAffected == 1, nil
}

// HasLiked checks whether liker has liked liked.
//
// Example:
//
//	repo.HasLiked(ctx, a, b) // -> true if a liked b
func (r *LikeRepository) HasLiked(ctx context.Context, likerID, likedID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Like{}).
		Where("liker_id = ? AND liked_id = ?", likerID, likedID).
		Count(&count).Error
	return count > 0, err
}

// IsBlocked reports whether either user blocked the other.
func (r *LikeRepository) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Block{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)", a, b, b, a).
		Count(&count).Error
	return count > 0, err
}

// GetMatch loads a match by id. A missing row is gorm.ErrRecordNotFound.
func (r *LikeRepository) GetMatch(ctx context.Context, matchID string) (*db.Match, error) {
	var m db.Match
	if err := r.db.WithContext(ctx).Where("id = ?", matchID).Take(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// LikerRecord is one incoming like joined with the liker's username.
type LikerRecord struct {
	LikerID   string    `gorm:"column:liker_id"`
	Username  string    `gorm:"column:username"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// likersQuery selects the likes received by userID from active users that
// are not blocked in either direction.
func (r *LikeRepository) likersQuery(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("likes l").
		Joins("JOIN users u ON u.id = l.liker_id AND u.is_active = ?", true).
		Where("l.liked_id = ?", userID).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM blocks b
				WHERE (b.blocker_id = l.liked_id AND b.blocked_id = l.liker_id)
				   OR (b.blocker_id = l.liker_id AND b.blocked_id = l.liked_id)
			)`)
}

// Likers returns the users who liked userID, newest first.
//
// Behavior:
//   - Deactivated likers and likers blocked in either direction are excluded.
//   - With onlyNew, likers that userID already liked back are excluded too.
//   - Ordered by created_at DESC, liker_id DESC; after continues strictly
//     past (after.Time(), after.ID).
//   - One extra row is fetched to report hasMore.
//
// Example:
//
//	repo.Likers(ctx, me, nil, true, 20) // first 20 one-way likes for me
func (r *LikeRepository) Likers(
	ctx context.Context,
	userID string,
	after *pagination.TimeCursor,
	onlyNew bool,
	limit int,
) ([]LikerRecord, bool, error) {
	query := r.likersQuery(ctx, userID).
		Select("l.liker_id, u.username, l.created_at").
		Order("l.created_at DESC, l.liker_id DESC").
		Limit(limit + 1)

	if onlyNew {
		query = query.Where(`
			NOT EXISTS (
				SELECT 1 FROM likes l2
				WHERE l2.liker_id = l.liked_id AND l2.liked_id = l.liker_id
			)`)
	}
	if after != nil {
		ts := after.Time()
		query = query.Where("(l.created_at < ? OR (l.created_at = ? AND l.liker_id < ?))", ts, ts, after.ID)
	}

	var rows []LikerRecord
	if err := query.Scan(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("list likers: %w", err)
	}
	if len(rows) > limit {
		return rows[:limit], true, nil
	}
	return rows, false, nil
}

// CountLikers returns how many visible users liked userID, with the same
// exclusions as Likers without onlyNew.
//
// Example:
//
//	repo.CountLikers(ctx, me) // -> 12
func (r *LikeRepository) CountLikers(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := r.likersQuery(ctx, userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count likers: %w", err)
	}
	return n, nil
}
