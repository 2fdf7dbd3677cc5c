package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// ScoreCursor is the value cursor of a ranked candidate list: the score,
// distance and id of the last item the client saw. It travels as a plain
// JSON object. ID breaks ties between rows sharing score and distance.
type ScoreCursor struct {
	Score    float64 `json:"score"`
	Distance float64 `json:"distance"`
	ID       string  `json:"id,omitempty"`
}

// Admits reports whether an item ranked (score, distance, id) comes strictly
// after the cursor under score DESC, distance ASC, id ASC ordering. A cursor
// without an id admits no row tied with it on score and distance.
func (c ScoreCursor) Admits(score, distance float64, id string) bool {
	if score != c.Score {
		return score < c.Score
	}
	if distance != c.Distance {
		return distance > c.Distance
	}
	return c.ID != "" && id > c.ID
}

// TimeCursor is the opaque value cursor of a newest-first message list.
// ID breaks ties between rows sharing a timestamp.
type TimeCursor struct {
	CreatedUnix int64  `json:"created_unix"`
	ID          string `json:"id,omitempty"`
}

// NewTimeCursor builds a cursor positioned at a row.
func NewTimeCursor(createdAt time.Time, id string) TimeCursor {
	return TimeCursor{CreatedUnix: createdAt.UnixMicro(), ID: id}
}

// Time returns the cursor instant in UTC.
func (c TimeCursor) Time() time.Time {
	return time.UnixMicro(c.CreatedUnix).UTC()
}

// Encode converts a TimeCursor into a Base64 string.
func Encode(c TimeCursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Decode parses a Base64 string into a TimeCursor.
// Empty token → empty cursor (first page).
func Decode(token string) (TimeCursor, error) {
	if token == "" {
		return TimeCursor{}, nil
	}

	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return TimeCursor{}, fmt.Errorf("invalid pagination token")
	}

	var c TimeCursor
	if err := json.Unmarshal(b, &c); err != nil || c.CreatedUnix <= 0 {
		return TimeCursor{}, fmt.Errorf("invalid pagination token")
	}
	return c, nil
}

// PageFor is the offset cursor a client should request after having loaded
// `loaded` rows at `size` per page.
func PageFor(loaded, size int) int {
	if size <= 0 || loaded <= 0 {
		return 0
	}
	return loaded / size
}

// Offset is the first row index of page n.
func Offset(page, size int) int {
	if page <= 0 || size <= 0 {
		return 0
	}
	return page * size
}
