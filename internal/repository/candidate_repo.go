package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

const (
	// UnknownDistanceKm ranks a scored candidate without a known location last.
	UnknownDistanceKm = 999999
	// PopulationDistanceKm is reported for population-fallback rows.
	PopulationDistanceKm = 999

	maxDistanceForScoreKm = 200.0
	minScoringPool        = 200
)

var levelRank = map[string]int{
	"beginner":     0,
	"intermediate": 1,
	"advanced":     2,
	"expert":       3,
}

// ScoreBreakdown itemizes a compatibility score. Informational only.
type ScoreBreakdown struct {
	Level     float64 `json:"level_score"`
	Styles    float64 `json:"styles_score"`
	Languages float64 `json:"languages_score"`
	Distance  float64 `json:"distance_score"`
	Overlap   float64 `json:"overlap_score"`
}

// CandidateRecord is one potential match as served to the client.
type CandidateRecord struct {
	CandidateID        string         `json:"candidate_id"`
	Username           string         `json:"username"`
	Bio                string         `json:"bio"`
	Level              string         `json:"level"`
	CompatibilityScore float64        `json:"compatibility_score"`
	DistanceKm         float64        `json:"distance_km"`
	StationName        string         `json:"station_name"`
	ScoreBreakdown     ScoreBreakdown `json:"score_breakdown"`
	IsPremium          bool           `json:"is_premium"`
	LastActiveAt       time.Time      `json:"last_active_at"`
	PhotoURL           *string        `json:"photo_url"`
}

// CollaborativeRecord is a recommendation derived from other users' likes.
type CollaborativeRecord struct {
	UserID           string  `json:"user_id"`
	Username         string  `json:"username"`
	SimilarityScore  float64 `json:"similarity_score"`
	CommonLikesCount int     `json:"common_likes_count"`
	Reason           string  `json:"reason"`
	Type             string  `json:"type"`
}

// stay is a user's active station stay joined with the station.
type stay struct {
	UserID      string
	StationID   string
	StationName string
	Latitude    float64
	Longitude   float64
	DateFrom    time.Time
	DateTo      time.Time
}

// CandidateRepository is the candidate source: scored candidates, population
// fallbacks and collaborative recommendations.
type CandidateRepository struct {
	db *gorm.DB
}

// NewCandidateRepository creates a new repository bound to the given DB connection.
func NewCandidateRepository(database *gorm.DB) *CandidateRepository {
	return &CandidateRepository{db: database}
}

// Scored returns up to limit candidates for userID ranked by compatibility.
//
// Behavior:
//   - Considers active users other than the caller, skipping users the caller
//     already liked and users blocked in either direction.
//   - Scores 0..10: level proximity (2), shared ride styles (3), shared
//     languages (2), station distance (2) and stay overlap (1).
//   - Distance is the haversine distance between active stations; unknown
//     distance is UnknownDistanceKm and scores 0.
//   - Sorted by score DESC, distance ASC, id ASC.
//   - With after set, only candidates ranked strictly after it are returned.
//
// Example:
//
//	repo.Scored(ctx, uid, nil, 21)
func (r *CandidateRepository) Scored(ctx context.Context, userID string, after *pagination.ScoreCursor, limit int) ([]CandidateRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	var me db.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&me).Error; err != nil {
		return nil, fmt.Errorf("load caller: %w", err)
	}

	var pool []db.User
	err := r.eligible(ctx, userID).
		Limit(max(limit*10, minScoringPool)).
		Find(&pool).Error
	if err != nil {
		return nil, fmt.Errorf("load candidate pool: %w", err)
	}
	if len(pool) == 0 {
		return []CandidateRecord{}, nil
	}

	ids := make([]string, 0, len(pool)+1)
	ids = append(ids, userID)
	for _, u := range pool {
		ids = append(ids, u.ID)
	}
	stays, err := r.activeStays(ctx, ids)
	if err != nil {
		return nil, err
	}

	myStay, hasStay := stays[userID]
	out := make([]CandidateRecord, 0, len(pool))
	for _, u := range pool {
		theirStay, ok := stays[u.ID]
		var mine, theirs *stay
		if hasStay {
			mine = &myStay
		}
		if ok {
			theirs = &theirStay
		}
		rec := scoreCandidate(me, u, mine, theirs)
		if after != nil && !after.Admits(rec.CompatibilityScore, rec.DistanceKm, rec.CandidateID) {
			continue
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CompatibilityScore != b.CompatibilityScore {
			return a.CompatibilityScore > b.CompatibilityScore
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.CandidateID < b.CandidateID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SameStation returns active users sharing the caller's active station,
// excluding the caller, in id order starting after afterID. Empty when the
// caller has no active station.
func (r *CandidateRepository) SameStation(ctx context.Context, userID, afterID string, limit int) ([]CandidateRecord, error) {
	var mine db.UserStationStatus
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("date_from DESC").
		Take(&mine).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []CandidateRecord{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("load caller station: %w", err)
	}

	var station db.Station
	if err := r.db.WithContext(ctx).Where("id = ?", mine.StationID).Take(&station).Error; err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load station: %w", err)
	}

	var users []db.User
	err = r.populationPage(ctx, userID, afterID).
		Where("users.id IN (?)", r.db.Model(&db.UserStationStatus{}).
			Select("user_id").
			Where("station_id = ? AND is_active = ?", mine.StationID, true)).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("load station population: %w", err)
	}

	out := make([]CandidateRecord, 0, len(users))
	for _, u := range users {
		out = append(out, populationRecord(u, station.Name))
	}
	return out, nil
}

// AllActive returns any active users other than the caller, in id order
// starting after afterID.
func (r *CandidateRepository) AllActive(ctx context.Context, userID, afterID string, limit int) ([]CandidateRecord, error) {
	var users []db.User
	if err := r.populationPage(ctx, userID, afterID).Limit(limit).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load population: %w", err)
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	stays, err := r.activeStays(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]CandidateRecord, 0, len(users))
	for _, u := range users {
		out = append(out, populationRecord(u, stays[u.ID].StationName))
	}
	return out, nil
}

// Collaborative recommends users liked by people whose likes overlap the
// caller's.
//
// Behavior:
//   - "Similar" users are those who liked at least one user the caller liked.
//   - Candidates are users the similar users liked, excluding the caller and
//     users the caller already liked. Only active users are returned.
//   - similarity_score is the share of similar users that liked the candidate.
//   - Ordered by common_likes_count DESC, then user id.
//
// Example:
//
//	repo.Collaborative(ctx, uid, 10)
func (r *CandidateRepository) Collaborative(ctx context.Context, userID string, limit int) ([]CollaborativeRecord, error) {
	if limit <= 0 {
		return []CollaborativeRecord{}, nil
	}

	var similar int64
	err := r.db.WithContext(ctx).
		Table("likes l1").
		Joins("JOIN likes l2 ON l2.liked_id = l1.liked_id AND l2.liker_id <> l1.liker_id").
		Where("l1.liker_id = ?", userID).
		Distinct("l2.liker_id").
		Count(&similar).Error
	if err != nil {
		return nil, fmt.Errorf("count similar users: %w", err)
	}
	if similar == 0 {
		return []CollaborativeRecord{}, nil
	}

	type row struct {
		UserID      string
		Username    string
		CommonLikes int
	}
	var rows []row
	err = r.db.WithContext(ctx).
		Table("likes l1").
		Select("l3.liked_id AS user_id, u.username AS username, COUNT(DISTINCT l2.liker_id) AS common_likes").
		Joins("JOIN likes l2 ON l2.liked_id = l1.liked_id AND l2.liker_id <> l1.liker_id").
		Joins("JOIN likes l3 ON l3.liker_id = l2.liker_id").
		Joins("JOIN users u ON u.id = l3.liked_id AND u.is_active = ?", true).
		Where("l1.liker_id = ?", userID).
		Where("l3.liked_id <> ?", userID).
		Where("l3.liked_id NOT IN (?)", r.db.Model(&db.Like{}).Select("liked_id").Where("liker_id = ?", userID)).
		Group("l3.liked_id, u.username").
		Order("common_likes DESC, l3.liked_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load collaborative: %w", err)
	}

	out := make([]CollaborativeRecord, 0, len(rows))
	for _, rw := range rows {
		out = append(out, CollaborativeRecord{
			UserID:           rw.UserID,
			Username:         rw.Username,
			SimilarityScore:  round2(float64(rw.CommonLikes) / float64(similar)),
			CommonLikesCount: rw.CommonLikes,
			Reason:           fmt.Sprintf("liked by %d riders with similar taste", rw.CommonLikes),
			Type:             "collaborative",
		})
	}
	return out, nil
}

// eligible selects active users the caller may still like, most recently
// active first.
func (r *CandidateRepository) eligible(ctx context.Context, userID string) *gorm.DB {
	return r.population(ctx, userID).
		Where("users.id NOT IN (?)", r.db.Model(&db.Like{}).Select("liked_id").Where("liker_id = ?", userID)).
		Order("users.last_active_at DESC, users.id ASC")
}

// populationPage orders the population by id, the tie-break of the flat
// fallback score, so a cursor id resumes where the last page stopped.
func (r *CandidateRepository) populationPage(ctx context.Context, userID, afterID string) *gorm.DB {
	q := r.population(ctx, userID).Order("users.id ASC")
	if afterID != "" {
		q = q.Where("users.id > ?", afterID)
	}
	return q
}

// population selects active users other than the caller, minus blocks.
func (r *CandidateRepository) population(ctx context.Context, userID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("users.is_active = ? AND users.id <> ?", true, userID).
		Where("users.id NOT IN (?)", r.db.Model(&db.Block{}).Select("blocked_id").Where("blocker_id = ?", userID)).
		Where("users.id NOT IN (?)", r.db.Model(&db.Block{}).Select("blocker_id").Where("blocked_id = ?", userID))
}

func (r *CandidateRepository) activeStays(ctx context.Context, userIDs []string) (map[string]stay, error) {
	out := make(map[string]stay, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	var rows []stay
	err := r.db.WithContext(ctx).
		Table("user_station_statuses uss").
		Select("uss.user_id, uss.station_id, s.name AS station_name, s.latitude, s.longitude, uss.date_from, uss.date_to").
		Joins("JOIN stations s ON s.id = uss.station_id").
		Where("uss.user_id IN ? AND uss.is_active = ?", userIDs, true).
		Order("uss.date_from ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load stays: %w", err)
	}
	// latest stay wins
	for _, s := range rows {
		out[s.UserID] = s
	}
	return out, nil
}

func scoreCandidate(me, them db.User, mine, theirs *stay) CandidateRecord {
	var b ScoreBreakdown

	diff := levelRank[me.Level] - levelRank[them.Level]
	if diff < 0 {
		diff = -diff
	}
	b.Level = []float64{2, 1.5, 0.5, 0}[diff]
	b.Styles = float64(min(shared(me.RideStyles, them.RideStyles), 3))
	b.Languages = float64(min(shared(me.Languages, them.Languages), 2))

	distance := float64(UnknownDistanceKm)
	if mine != nil && theirs != nil {
		distance = round2(haversineKm(mine.Latitude, mine.Longitude, theirs.Latitude, theirs.Longitude))
		b.Distance = round2(math.Max(0, 2*(1-distance/maxDistanceForScoreKm)))
		if !mine.DateFrom.After(theirs.DateTo) && !theirs.DateFrom.After(mine.DateTo) {
			b.Overlap = 1
		}
	}

	rec := CandidateRecord{
		CandidateID:        them.ID,
		Username:           them.Username,
		Bio:                them.Bio,
		Level:              them.Level,
		CompatibilityScore: round2(b.Level + b.Styles + b.Languages + b.Distance + b.Overlap),
		DistanceKm:         distance,
		ScoreBreakdown:     b,
		IsPremium:          them.IsPremium,
		LastActiveAt:       them.LastActiveAt,
		PhotoURL:           them.PhotoURL,
	}
	if theirs != nil {
		rec.StationName = theirs.StationName
	}
	return rec
}

func populationRecord(u db.User, stationName string) CandidateRecord {
	return CandidateRecord{
		CandidateID:  u.ID,
		Username:     u.Username,
		Bio:          u.Bio,
		Level:        u.Level,
		DistanceKm:   PopulationDistanceKm,
		StationName:  stationName,
		IsPremium:    u.IsPremium,
		LastActiveAt: u.LastActiveAt,
		PhotoURL:     u.PhotoURL,
	}
}

func shared(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	n := 0
	for _, v := range b {
		if _, ok := set[v]; ok {
			n++
			delete(set, v)
		}
	}
	return n
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
