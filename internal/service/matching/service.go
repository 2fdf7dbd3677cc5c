package matching

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/cache"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

const (
	defaultLimit       = 20
	maxLimit           = 100
	defaultMinScore    = 3.0
	defaultMaxDistance = 100.0
	maxCollaborative   = 10
)

// CandidateSource is where candidates come from.
type CandidateSource interface {
	Scored(ctx context.Context, userID string, after *pagination.ScoreCursor, limit int) ([]repository.CandidateRecord, error)
	SameStation(ctx context.Context, userID, afterID string, limit int) ([]repository.CandidateRecord, error)
	AllActive(ctx context.Context, userID, afterID string, limit int) ([]repository.CandidateRecord, error)
	Collaborative(ctx context.Context, userID string, limit int) ([]repository.CollaborativeRecord, error)
}

// Request is the match-candidates body. Nil fields take their defaults.
type Request struct {
	Limit                *int                    `json:"limit,omitempty"`
	UseCache             *bool                   `json:"use_cache,omitempty"`
	IncludeCollaborative bool                    `json:"include_collaborative,omitempty"`
	MinScore             *float64                `json:"min_score,omitempty"`
	MaxDistanceKm        *float64                `json:"max_distance_km,omitempty"`
	Cursor               *pagination.ScoreCursor `json:"cursor,omitempty"`
}

// Response is one ranked page.
type Response struct {
	Candidates                   []repository.CandidateRecord     `json:"candidates"`
	CollaborativeRecommendations []repository.CollaborativeRecord `json:"collaborative_recommendations,omitempty"`
	HasMore                      bool                             `json:"has_more"`
	NextCursor                   *pagination.ScoreCursor          `json:"next_cursor,omitempty"`
	TotalFound                   int                              `json:"total_found"`
	CacheUsed                    bool                             `json:"cache_used"`
	ProcessingTimeMs             int64                            `json:"processing_time_ms"`
	Stage                        Stage                            `json:"stage"`
}

// Options holds the tunable values of the pipeline.
type Options struct {
	StationFallbackScore float64
	GlobalFallbackScore  float64
	CacheTTL             time.Duration
}

// Service serves ranked candidates with graceful degradation.
type Service struct {
	source CandidateSource
	cache  *cache.RedisCache
	opts   Options
	log    *slog.Logger
}

// NewMatchingService creates the service with dependencies from AppContext:
//   - the candidate repository over DB
//   - RedisCache for raw scored rows
//   - fallback scores and cache TTL from the tuning file
func NewMatchingService(appCtx *app.AppContext) *Service {
	t := appCtx.Config.Tuning.Matching
	return New(repository.NewCandidateRepository(appCtx.DB), appCtx.RedisCache, Options{
		StationFallbackScore: t.StationFallbackScore,
		GlobalFallbackScore:  t.GlobalFallbackScore,
		CacheTTL:             t.CandidateCacheTTL,
	}, appCtx.Logger)
}

// New wires a service from explicit collaborators. rc may be nil, which
// disables caching.
func New(source CandidateSource, rc *cache.RedisCache, opts Options, log *slog.Logger) *Service {
	return &Service{source: source, cache: rc, opts: opts, log: log}
}

// Candidates returns a ranked page of candidates for the caller.
//
// Behavior:
//   - Fetches limit+1 raw scored rows (first page from cache when allowed).
//   - Strict, relaxed and best-effort stages run over the raw rows in order.
//   - When the scored source has nothing, or fails, the same-station and
//     then the all-active population is served with flat scores.
//   - Collaborative recommendations are attached separately when asked for
//     and the page is short. Their errors are logged and yield nothing.
//   - Only a failing population query fails the request (UpstreamUnavailable).
//
// Example:
//
//	svc.Candidates(ctx, caller, Request{Limit: &limit, IncludeCollaborative: true})
func (s *Service) Candidates(ctx context.Context, caller *auth.Caller, req Request) (*Response, error) {
	start := time.Now()
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}

	c, useCache, err := criteria(req)
	if err != nil {
		return nil, err
	}
	log := s.log.With("user", caller.UserID)

	raw, cacheUsed := s.raw(ctx, log, caller.UserID, c, useCache)

	var page Page
	if len(raw) > 0 {
		page = Rank(raw, c)
	} else {
		page, err = s.population(ctx, caller.UserID, c)
		if err != nil {
			return nil, err
		}
	}

	resp := &Response{
		Candidates: page.Candidates,
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
		TotalFound: page.TotalFound,
		CacheUsed:  cacheUsed,
		Stage:      page.Stage,
	}

	if req.IncludeCollaborative && len(page.Candidates) < c.Limit {
		n := min(maxCollaborative, c.Limit-len(page.Candidates))
		recs, err := s.source.Collaborative(ctx, caller.UserID, n)
		if err != nil {
			log.Warn("collaborative recommendations failed", "err", err)
			recs = []repository.CollaborativeRecord{}
		}
		resp.CollaborativeRecommendations = recs
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Debug("candidates served", "stage", page.Stage, "count", len(page.Candidates), "total", page.TotalFound, "cache_used", cacheUsed)
	return resp, nil
}

// raw loads limit+1 scored rows. Only the first page is cached; a cursor
// always goes to the source. Source errors read as no rows.
func (s *Service) raw(ctx context.Context, log *slog.Logger, userID string, c Criteria, useCache bool) ([]repository.CandidateRecord, bool) {
	fetch := c.Limit + 1
	cacheable := useCache && s.cache != nil && c.Cursor == nil
	key := ""

	if cacheable {
		key = s.cache.KeyForCandidates(userID, fetch)
		var cached []repository.CandidateRecord
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			log.Warn("candidate cache read failed", "err", err)
		} else if hit && len(cached) > 0 {
			return cached, true
		}
	}

	rows, err := s.source.Scored(ctx, userID, c.Cursor, fetch)
	if err != nil {
		log.Warn("scored candidates failed, using population fallback", "err", err)
		return nil, false
	}
	if len(rows) == 0 {
		return nil, false
	}

	if cacheable {
		if err := s.cache.SetJSON(ctx, key, rows, s.opts.CacheTTL); err != nil {
			log.Warn("candidate cache write failed", "err", err)
		}
	}
	return rows, useCache
}

// population pages the flat-scored fallback by user id. With a cursor both
// queries resume after its id; a global-population cursor finds the station
// population empty, as it was on the first page.
func (s *Service) population(ctx context.Context, userID string, c Criteria) (Page, error) {
	fetch := c.Limit + 1
	afterID := ""
	if c.Cursor != nil {
		afterID = c.Cursor.ID
	}

	rows, err := s.source.SameStation(ctx, userID, afterID, fetch)
	if err != nil {
		return Page{}, svcErr.Upstream("failed to load candidates", err)
	}
	if len(rows) > 0 {
		return RankPopulation(rows, s.opts.StationFallbackScore, c), nil
	}

	rows, err = s.source.AllActive(ctx, userID, afterID, fetch)
	if err != nil {
		return Page{}, svcErr.Upstream("failed to load candidates", err)
	}
	return RankPopulation(rows, s.opts.GlobalFallbackScore, c), nil
}

func criteria(req Request) (Criteria, bool, error) {
	c := Criteria{
		Limit:         defaultLimit,
		MinScore:      defaultMinScore,
		MaxDistanceKm: defaultMaxDistance,
		Cursor:        req.Cursor,
	}
	if req.Limit != nil {
		c.Limit = *req.Limit
	}
	if c.Limit < 1 || c.Limit > maxLimit {
		return c, false, svcErr.InvalidRequest(fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}
	if req.MinScore != nil {
		c.MinScore = *req.MinScore
	}
	if req.MaxDistanceKm != nil {
		c.MaxDistanceKm = *req.MaxDistanceKm
	}
	if c.MinScore < 0 || c.MaxDistanceKm < 0 {
		return c, false, svcErr.InvalidRequest("min_score and max_distance_km must not be negative")
	}
	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	return c, useCache, nil
}
