package explore

import (
	"context"
	"log/slog"
	"time"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

const (
	defaultLimit = 20
	maxLimit     = 50
	countTTL     = time.Hour
)

// Likers is the incoming-like store.
type Likers interface {
	Likers(ctx context.Context, userID string, after *pagination.TimeCursor, onlyNew bool, limit int) ([]repository.LikerRecord, bool, error)
	CountLikers(ctx context.Context, userID string) (int64, error)
}

// CountCache holds the per-user received-like count.
type CountCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	KeyForLikeCount(userID string) string
}

// Request is the likes-received body.
type Request struct {
	OnlyNew bool   `json:"only_new"`
	Limit   *int   `json:"limit,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
}

// Liker is one user who liked the caller.
type Liker struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	LikedAt  time.Time `json:"liked_at"`
}

// Response is one page of likers plus the total count.
type Response struct {
	Likers     []Liker `json:"likers"`
	TotalCount int64   `json:"total_count"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Service lists the users who liked the caller.
type Service struct {
	likers Likers
	counts CountCache
	log    *slog.Logger
}

// NewExploreService creates the service with dependencies from AppContext:
//   - LikeRepository over DB
//   - RedisCache for the received-like count
func NewExploreService(appCtx *app.AppContext) *Service {
	s := New(repository.NewLikeRepository(appCtx.DB), appCtx.Logger)
	if appCtx.RedisCache != nil {
		s.counts = appCtx.RedisCache
	}
	return s
}

// New wires a service that counts in the DB on every call.
func New(likers Likers, log *slog.Logger) *Service {
	return &Service{likers: likers, log: log}
}

// LikesReceived returns the users who liked the caller, newest first.
//
// Behavior:
//   - limit defaults to 20 and must be within 1..50.
//   - only_new drops likers the caller already liked back.
//   - cursor is the opaque next_cursor of a previous page; a malformed one
//     is InvalidRequest.
//   - total_count ignores only_new and is served cache-first.
//
// Example:
//
//	svc.LikesReceived(ctx, caller, Request{OnlyNew: true})
func (s *Service) LikesReceived(ctx context.Context, caller *auth.Caller, req Request) (*Response, error) {
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}

	limit := defaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > maxLimit {
		return nil, svcErr.InvalidRequest("limit must be between 1 and 50")
	}

	var after *pagination.TimeCursor
	if req.Cursor != "" {
		c, err := pagination.Decode(req.Cursor)
		if err != nil || c.ID == "" {
			return nil, svcErr.InvalidRequest("invalid cursor")
		}
		after = &c
	}

	s.log.Debug("likes received", "user", caller.UserID, "only_new", req.OnlyNew, "cursor", req.Cursor)

	rows, hasMore, err := s.likers.Likers(ctx, caller.UserID, after, req.OnlyNew, limit)
	if err != nil {
		return nil, svcErr.Upstream("failed to load likes", err)
	}

	total, err := s.count(ctx, caller.UserID)
	if err != nil {
		return nil, svcErr.Upstream("failed to count likes", err)
	}

	resp := &Response{Likers: make([]Liker, 0, len(rows)), TotalCount: total, HasMore: hasMore}
	for _, r := range rows {
		resp.Likers = append(resp.Likers, Liker{UserID: r.LikerID, Username: r.Username, LikedAt: r.CreatedAt.UTC()})
	}
	if hasMore {
		last := rows[len(rows)-1]
		token, err := pagination.Encode(pagination.NewTimeCursor(last.CreatedAt, last.LikerID))
		if err != nil {
			return nil, err
		}
		resp.NextCursor = token
	}
	return resp, nil
}

// count is cache-first:
//  1. Reads likes:count:<user> from Redis.
//  2. On a miss or cache error, counts in the DB.
//  3. Stores the DB value for an hour.
func (s *Service) count(ctx context.Context, userID string) (int64, error) {
	if s.counts == nil {
		return s.likers.CountLikers(ctx, userID)
	}

	key := s.counts.KeyForLikeCount(userID)
	var n int64
	hit, err := s.counts.GetJSON(ctx, key, &n)
	if err != nil {
		s.log.Warn("like count cache read failed", "err", err)
	}
	if hit {
		return n, nil
	}

	n, err = s.likers.CountLikers(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.counts.SetJSON(ctx, key, n, countTTL); err != nil {
		s.log.Warn("like count cache write failed", "err", err)
	}
	return n, nil
}
