package swipe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/analytics"
	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/db"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/repository"
)

// Likes is the like/match store.
type Likes interface {
	LikeAndMatch(ctx context.Context, likerID, likedID string) (repository.LikeOutcome, error)
	IsBlocked(ctx context.Context, a, b string) (bool, error)
}

// Users loads profiles.
type Users interface {
	Get(ctx context.Context, userID string) (*db.User, error)
	ActiveStation(ctx context.Context, userID string) (string, error)
}

// Spacer enforces the minimum gap between two likes of the same user.
type Spacer interface {
	AcquireWindow(ctx context.Context, key string, window time.Duration) (bool, error)
	KeyForLikeSpacing(userID string) string
}

// LikeCounts is the cached received-like count, dropped when it changes.
type LikeCounts interface {
	Del(ctx context.Context, keys ...string) error
	KeyForLikeCount(userID string) string
}

// Request is the swipe body.
type Request struct {
	LikerID string `json:"liker_id"`
	LikedID string `json:"liked_id"`
}

// Response reports whether the like produced a match.
type Response struct {
	Matched      bool   `json:"matched"`
	MatchID      string `json:"match_id,omitempty"`
	AlreadyLiked bool   `json:"already_liked,omitempty"`
}

// Service records likes and turns mutual likes into matches.
type Service struct {
	likes   Likes
	users   Users
	spacer  Spacer
	counts  LikeCounts
	window  time.Duration
	log     *slog.Logger
	tracker analytics.Tracker
	now     func() time.Time
}

// NewSwipeService creates the service with dependencies from AppContext:
//   - like and user repositories over DB
//   - RedisCache for the like spacing window and received-like counts
func NewSwipeService(appCtx *app.AppContext) *Service {
	s := New(
		repository.NewLikeRepository(appCtx.DB),
		repository.NewUserRepository(appCtx.DB),
		appCtx.Config.Tuning.Likes.SpacingWindow,
		appCtx.Logger,
		appCtx.Analytics,
	)
	if appCtx.RedisCache != nil {
		s.spacer = appCtx.RedisCache
		s.counts = appCtx.RedisCache
	}
	s.now = appCtx.Now
	return s
}

// New wires a service without spacing; see WithSpacer.
func New(likes Likes, users Users, window time.Duration, log *slog.Logger, tracker analytics.Tracker) *Service {
	return &Service{likes: likes, users: users, window: window, log: log, tracker: tracker, now: time.Now}
}

// WithSpacer enables the like spacing window.
func (s *Service) WithSpacer(sp Spacer) *Service {
	s.spacer = sp
	return s
}

// Like records caller -> liked_id.
//
// Behavior:
//   - Both ids must be UUIDs and differ (InvalidRequest).
//   - liker_id must be the caller (Forbidden).
//   - A like inside the spacing window of the caller's previous one is
//     QuotaExceeded. A spacing store failure is logged and lets the like through.
//   - Likes between users where either blocked the other are Forbidden.
//   - A missing or deactivated target is NotFound.
//   - Repeating a like is not an error; it reports already_liked.
//
// Example:
//
//	svc.Like(ctx, caller, Request{LikerID: caller.UserID, LikedID: bobID})
func (s *Service) Like(ctx context.Context, caller *auth.Caller, req Request) (*Response, error) {
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}
	if _, err := uuid.Parse(req.LikerID); err != nil {
		return nil, svcErr.InvalidRequest("liker_id must be a valid UUID")
	}
	if _, err := uuid.Parse(req.LikedID); err != nil {
		return nil, svcErr.InvalidRequest("liked_id must be a valid UUID")
	}
	if req.LikerID == req.LikedID {
		return nil, svcErr.InvalidRequest("Cannot like yourself")
	}
	if req.LikerID != caller.UserID {
		return nil, svcErr.Forbidden("Cannot like on behalf of another user")
	}

	log := s.log.With("user", caller.UserID, "liked", req.LikedID)

	if s.spacer != nil && s.window > 0 {
		ok, err := s.spacer.AcquireWindow(ctx, s.spacer.KeyForLikeSpacing(caller.UserID), s.window)
		if err != nil {
			log.Warn("like spacing check failed", "err", err)
		} else if !ok {
			return nil, svcErr.QuotaExceeded("Too many requests. Please slow down.")
		}
	}

	blocked, err := s.likes.IsBlocked(ctx, req.LikerID, req.LikedID)
	if err != nil {
		return nil, svcErr.Upstream("failed to check blocks", err)
	}
	if blocked {
		return nil, svcErr.Forbidden("Cannot like this user")
	}

	target, err := s.users.Get(ctx, req.LikedID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !target.IsActive) {
		return nil, svcErr.NotFound("User not found")
	} else if err != nil {
		return nil, svcErr.Upstream("failed to load user", err)
	}

	out, err := s.likes.LikeAndMatch(ctx, req.LikerID, req.LikedID)
	if err != nil {
		return nil, svcErr.Upstream("failed to record like", err)
	}

	if !out.AlreadyLiked {
		if s.counts != nil {
			if err := s.counts.Del(ctx, s.counts.KeyForLikeCount(req.LikedID)); err != nil {
				log.Warn("like count invalidation failed", "err", err)
			}
		}
		props := map[string]any{"liked_id": req.LikedID, "matched": out.Matched}
		if station, err := s.users.ActiveStation(ctx, caller.UserID); err == nil && station != "" {
			props["station_id"] = station
		}
		s.track(analytics.EventLikeSent, caller.UserID, props)
	}
	if out.MatchCreated {
		log.Info("match created", "match", out.MatchID)
		s.track(analytics.EventMatchCreated, caller.UserID, map[string]any{
			"match_id": out.MatchID, "other_user_id": req.LikedID,
		})
	}

	return &Response{Matched: out.Matched, MatchID: out.MatchID, AlreadyLiked: out.AlreadyLiked}, nil
}

func (s *Service) track(name, userID string, props map[string]any) {
	if s.tracker == nil {
		return
	}
	s.tracker.Track(analytics.Event{Name: name, DistinctID: userID, Properties: props, Timestamp: s.now().UTC()})
}
