package matching

import (
	"sort"

	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

// Stage names the pipeline step that produced a page.
type Stage string

const (
	StageStrict     Stage = "strict"
	StageRelaxed    Stage = "relaxed"
	StageBestEffort Stage = "best_effort"
	StagePopulation Stage = "population"
	StageEmpty      Stage = "empty"
)

// Criteria are the caller's ranking constraints.
type Criteria struct {
	Limit         int
	MinScore      float64
	MaxDistanceKm float64
	Cursor        *pagination.ScoreCursor
}

// Page is one ranked page.
type Page struct {
	Candidates []repository.CandidateRecord
	HasMore    bool
	NextCursor *pagination.ScoreCursor
	TotalFound int
	Stage      Stage
}

// Rank runs the strict, relaxed and best-effort stages over raw scored rows.
// Each stage runs only when the previous one kept nothing. Raw rows must be
// non-empty; population fallback is handled by the caller.
func Rank(raw []repository.CandidateRecord, c Criteria) Page {
	raw = afterCursor(raw, c.Cursor)

	kept := filter(raw, c.MinScore, c.MaxDistanceKm)
	stage := StageStrict
	if len(kept) == 0 {
		kept = filter(raw, max(0, c.MinScore-1), c.MaxDistanceKm*2)
		stage = StageRelaxed
	}
	if len(kept) == 0 {
		kept = append([]repository.CandidateRecord(nil), raw...)
		stage = StageBestEffort
	}
	if len(kept) == 0 {
		stage = StageEmpty
	}
	return paginate(kept, c.Limit, stage)
}

// RankPopulation ranks population fallback rows, which all carry a flat
// score.
func RankPopulation(rows []repository.CandidateRecord, score float64, c Criteria) Page {
	scored := make([]repository.CandidateRecord, 0, len(rows))
	for _, r := range rows {
		r.CompatibilityScore = score
		scored = append(scored, r)
	}
	scored = afterCursor(scored, c.Cursor)
	if len(scored) == 0 {
		return paginate(nil, c.Limit, StageEmpty)
	}
	return paginate(scored, c.Limit, StagePopulation)
}

func filter(rows []repository.CandidateRecord, minScore, maxDistance float64) []repository.CandidateRecord {
	out := make([]repository.CandidateRecord, 0, len(rows))
	for _, r := range rows {
		if r.CompatibilityScore >= minScore && r.DistanceKm <= maxDistance {
			out = append(out, r)
		}
	}
	return out
}

func afterCursor(rows []repository.CandidateRecord, cur *pagination.ScoreCursor) []repository.CandidateRecord {
	if cur == nil {
		return rows
	}
	out := make([]repository.CandidateRecord, 0, len(rows))
	for _, r := range rows {
		if cur.Admits(r.CompatibilityScore, r.DistanceKm, r.CandidateID) {
			out = append(out, r)
		}
	}
	return out
}

// paginate sorts by score DESC, distance ASC, id ASC and cuts the page.
// TotalFound is the count before truncation.
func paginate(rows []repository.CandidateRecord, limit int, stage Stage) Page {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.CompatibilityScore != b.CompatibilityScore {
			return a.CompatibilityScore > b.CompatibilityScore
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.CandidateID < b.CandidateID
	})

	p := Page{TotalFound: len(rows), Stage: stage, Candidates: rows}
	if p.Candidates == nil {
		p.Candidates = []repository.CandidateRecord{}
	}
	if limit > 0 && len(rows) > limit {
		p.HasMore = true
		p.Candidates = rows[:limit]
		last := p.Candidates[len(p.Candidates)-1]
		p.NextCursor = &pagination.ScoreCursor{Score: last.CompatibilityScore, Distance: last.DistanceKm, ID: last.CandidateID}
	}
	return p
}
