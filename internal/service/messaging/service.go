package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/analytics"
	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/db"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/quota"
	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

const (
	maxContentChars = 2000
	defaultLimit    = 50
	maxLimit        = 100
)

var messageTypes = map[string]bool{"text": true, "image": true, "location": true, "system": true}

// Matches loads matches.
type Matches interface {
	GetMatch(ctx context.Context, matchID string) (*db.Match, error)
}

// Messages is the message store.
type Messages interface {
	Create(ctx context.Context, m *db.Message) error
	ListPage(ctx context.Context, matchID string, page, limit int) ([]db.Message, bool, error)
	ListBefore(ctx context.Context, matchID string, cursor pagination.TimeCursor, limit int) ([]db.Message, bool, error)
}

// Ledger is the atomic usage counter charged per message.
type Ledger interface {
	CheckAndIncrement(ctx context.Context, userID string, limits, deltas quota.Counts) (repository.UsageResult, error)
}

// SendRequest is the send-message body.
type SendRequest struct {
	MatchID     string `json:"match_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
}

// SendResponse acknowledges a stored message.
type SendResponse struct {
	MessageID string `json:"message_id"`
	Sent      bool   `json:"sent"`
}

// ListRequest is the messages body. Page, Before and Cursor are exclusive.
type ListRequest struct {
	MatchID string `json:"match_id"`
	Limit   *int   `json:"limit,omitempty"`
	Page    *int   `json:"page,omitempty"`
	Before  string `json:"before,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
}

// Message is one message as served to the client.
type Message struct {
	ID          string    `json:"id"`
	MatchID     string    `json:"match_id"`
	SenderID    string    `json:"sender_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListResponse is one page of history, newest first.
type ListResponse struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
	NextPage   *int      `json:"next_page,omitempty"`
}

// Service stores and lists match messages.
type Service struct {
	matches  Matches
	messages Messages
	ledger   Ledger
	policy   quota.Policy
	log      *slog.Logger
	tracker  analytics.Tracker
	now      func() time.Time
}

// NewMessagingService creates the service with dependencies from AppContext:
//   - match and message repositories over DB
//   - the usage ledger in the service timezone with tuned limits
func NewMessagingService(appCtx *app.AppContext) *Service {
	s := New(repository.NewLikeRepository(appCtx.DB), repository.NewMessageRepository(appCtx.DB), appCtx.Logger, appCtx.Analytics)
	s.now = appCtx.Now
	return s.WithQuota(
		repository.NewUsageRepository(appCtx.DB, appCtx.Location(), appCtx.Now),
		quota.PolicyFromTuning(appCtx.Config.Tuning),
	)
}

// New wires a service from explicit collaborators. Without WithQuota sends
// are not metered.
func New(matches Matches, messages Messages, log *slog.Logger, tracker analytics.Tracker) *Service {
	return &Service{matches: matches, messages: messages, log: log, tracker: tracker, now: time.Now}
}

// WithQuota meters Send against ledger under policy.
func (s *Service) WithQuota(ledger Ledger, policy quota.Policy) *Service {
	s.ledger = ledger
	s.policy = policy
	return s
}

// Send stores a message from the caller into one of their matches.
//
// Behavior:
//   - Content is trimmed; it must be non-empty and at most 2000 characters.
//   - message_type defaults to text and must be text, image, location or system.
//   - An absent or inactive match is NotFound; a non-participant is Forbidden.
//   - One message unit is charged on the daily ledger after validation,
//     unless the gatekeeper already charged it for this request. Over the
//     limit is QuotaExceeded and nothing is stored.
//
// Example:
//
//	svc.Send(ctx, caller, SendRequest{MatchID: id, Content: "see you at the lift"})
func (s *Service) Send(ctx context.Context, caller *auth.Caller, req SendRequest) (*SendResponse, error) {
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, svcErr.InvalidRequest("content is required")
	}
	if utf8.RuneCountInString(content) > maxContentChars {
		return nil, svcErr.InvalidRequest(fmt.Sprintf("content must be at most %d characters", maxContentChars))
	}
	kind := req.MessageType
	if kind == "" {
		kind = "text"
	}
	if !messageTypes[kind] {
		return nil, svcErr.InvalidRequest("Invalid message_type")
	}

	if _, err := s.participantMatch(ctx, caller.UserID, req.MatchID); err != nil {
		return nil, err
	}
	if err := s.charge(ctx, caller); err != nil {
		return nil, err
	}

	msg := db.Message{MatchID: req.MatchID, SenderID: caller.UserID, Content: content, MessageType: kind}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return nil, svcErr.Upstream("failed to send message", err)
	}

	s.log.Debug("message sent", "user", caller.UserID, "match", req.MatchID, "message", msg.ID)
	if s.tracker != nil {
		s.tracker.Track(analytics.Event{
			Name:       analytics.EventMessageSent,
			DistinctID: caller.UserID,
			Properties: map[string]any{"match_id": req.MatchID, "message_type": kind, "length": utf8.RuneCountInString(content)},
			Timestamp:  s.now().UTC(),
		})
	}
	return &SendResponse{MessageID: msg.ID, Sent: true}, nil
}

// charge takes one message unit from the caller's daily quota.
func (s *Service) charge(ctx context.Context, caller *auth.Caller) error {
	if s.ledger == nil || caller.Charged(string(quota.ActionMessage)) {
		return nil
	}

	premium := false
	if p := caller.Profile; p != nil {
		premium = quota.IsPremium(p.IsPremium, p.PremiumExpiresAt, s.now())
	}
	limits := s.policy.Limits(premium)

	res, err := s.ledger.CheckAndIncrement(ctx, caller.UserID, limits, quota.Delta(quota.ActionMessage, 1))
	if err != nil {
		return svcErr.Upstream("failed to check quota", err)
	}
	if !res.Allowed {
		s.log.Debug("message quota exhausted", "user", caller.UserID, "current", res.CountsAfter.Message, "limit", limits.Message)
		return svcErr.QuotaExceeded(fmt.Sprintf("Daily message limit reached (%d/%d)", res.CountsAfter.Message, limits.Message))
	}
	return nil
}

// List returns a page of a match's history, newest first.
//
// Behavior:
//   - limit defaults to 50 and must be within 1..100.
//   - page is an offset cursor; before (RFC3339) and cursor (opaque) are
//     value cursors. At most one of them may be set.
//   - A page with more history answers next_cursor, and next_page too
//     unless it was itself fetched by value cursor.
//
// Example:
//
//	svc.List(ctx, caller, ListRequest{MatchID: id, Cursor: prev.NextCursor})
func (s *Service) List(ctx context.Context, caller *auth.Caller, req ListRequest) (*ListResponse, error) {
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}
	limit := defaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > maxLimit {
		return nil, svcErr.InvalidRequest(fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}

	set := 0
	for _, present := range []bool{req.Page != nil, req.Before != "", req.Cursor != ""} {
		if present {
			set++
		}
	}
	if set > 1 {
		return nil, svcErr.InvalidRequest("page, before and cursor are mutually exclusive")
	}
	if req.Page != nil && *req.Page < 0 {
		return nil, svcErr.InvalidRequest("page must not be negative")
	}

	var cursor *pagination.TimeCursor
	switch {
	case req.Before != "":
		t, err := time.Parse(time.RFC3339Nano, req.Before)
		if err != nil {
			return nil, svcErr.InvalidRequest("before must be an RFC3339 timestamp")
		}
		c := pagination.TimeCursor{CreatedUnix: t.UnixMicro()}
		cursor = &c
	case req.Cursor != "":
		c, err := pagination.Decode(req.Cursor)
		if err != nil {
			return nil, svcErr.InvalidRequest("Invalid cursor")
		}
		cursor = &c
	}

	if _, err := s.participantMatch(ctx, caller.UserID, req.MatchID); err != nil {
		return nil, err
	}

	var (
		rows    []db.Message
		hasMore bool
		err     error
		page    int
	)
	if cursor != nil {
		rows, hasMore, err = s.messages.ListBefore(ctx, req.MatchID, *cursor, limit)
	} else {
		if req.Page != nil {
			page = *req.Page
		}
		rows, hasMore, err = s.messages.ListPage(ctx, req.MatchID, page, limit)
	}
	if err != nil {
		return nil, svcErr.Upstream("failed to load messages", err)
	}

	resp := &ListResponse{Messages: make([]Message, 0, len(rows)), HasMore: hasMore}
	for _, m := range rows {
		resp.Messages = append(resp.Messages, Message{
			ID:          m.ID,
			MatchID:     m.MatchID,
			SenderID:    m.SenderID,
			Content:     m.Content,
			MessageType: m.MessageType,
			CreatedAt:   m.CreatedAt.UTC(),
		})
	}

	if hasMore {
		last := rows[len(rows)-1]
		token, err := pagination.Encode(pagination.NewTimeCursor(last.CreatedAt, last.ID))
		if err != nil {
			return nil, err
		}
		resp.NextCursor = token
		if cursor == nil {
			next := pagination.PageFor((page+1)*limit, limit)
			resp.NextPage = &next
		}
	}
	return resp, nil
}

func (s *Service) participantMatch(ctx context.Context, userID, matchID string) (*db.Match, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return nil, svcErr.InvalidRequest("match_id must be a valid UUID")
	}
	m, err := s.matches.GetMatch(ctx, matchID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !m.IsActive) {
		return nil, svcErr.NotFound("Match not found")
	} else if err != nil {
		return nil, svcErr.Upstream("failed to load match", err)
	}
	if !m.HasParticipant(userID) {
		return nil, svcErr.Forbidden("Not a participant of this match")
	}
	return m, nil
}
