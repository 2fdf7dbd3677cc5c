package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oggyb/crewsnow/internal/analytics"
	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/invoker"
	"github.com/oggyb/crewsnow/internal/quota"
	"github.com/oggyb/crewsnow/internal/repository"
)

// maxCount bounds the units a single request may consume.
const maxCount = 1000

// State is a step of the per-request gatekeeper flow. It is only logged.
type State string

const (
	StateResolvingTier State = "RESOLVING_TIER"
	StateCheckingQuota State = "CHECKING_QUOTA"
	StateAllowed       State = "ALLOWED"
	StateDenied        State = "DENIED"
	StateDispatching   State = "DISPATCHING"
	StateResponding    State = "RESPONDING"
)

// Ledger is the atomic usage counter.
type Ledger interface {
	CheckAndIncrement(ctx context.Context, userID string, limits, deltas quota.Counts) (repository.UsageResult, error)
}

// Invoker dispatches the downstream action.
type Invoker interface {
	Invoke(ctx context.Context, target, token, grant string, payload json.RawMessage) (json.RawMessage, error)
}

// GrantIssuer signs the proof that an action was already charged, so the
// target function does not charge it again.
type GrantIssuer interface {
	Issue(userID, action string) (string, error)
}

// Request is the gatekeeper body.
type Request struct {
	Action         string          `json:"action"`
	TargetFunction string          `json:"target_function,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Count          *int            `json:"count,omitempty"`
}

// QuotaStatus is the quota snapshot returned on every decision.
type QuotaStatus struct {
	CurrentCount int  `json:"current_count"`
	DailyLimit   int  `json:"daily_limit"`
	IsPremium    bool `json:"is_premium"`
	Remaining    int  `json:"remaining"`
}

// Response is the gatekeeper decision.
type Response struct {
	Allowed        bool            `json:"allowed"`
	QuotaStatus    QuotaStatus     `json:"quota_status"`
	TargetResponse json.RawMessage `json:"target_response,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// Service decides whether a rate-limited action may proceed and, when it
// may, dispatches the downstream action.
type Service struct {
	ledger  Ledger
	invoker Invoker
	grants  GrantIssuer
	policy  quota.Policy
	now     func() time.Time
	log     *slog.Logger
	tracker analytics.Tracker
}

// NewGatekeeperService creates the service with dependencies from AppContext:
//   - the usage ledger over DB in the service timezone
//   - the downstream HTTP invoker and the quota grant signer
//   - quota limits from the tuning file
func NewGatekeeperService(appCtx *app.AppContext) *Service {
	var inv Invoker
	if appCtx.Invoker != nil {
		inv = appCtx.Invoker
	}
	s := New(
		repository.NewUsageRepository(appCtx.DB, appCtx.Location(), appCtx.Now),
		inv,
		quota.PolicyFromTuning(appCtx.Config.Tuning),
		appCtx.Now,
		appCtx.Logger,
		appCtx.Analytics,
	)
	if appCtx.Grants != nil {
		s.grants = appCtx.Grants
	}
	return s
}

// WithGrants attaches a grant for the charged action to every dispatch.
func (s *Service) WithGrants(g GrantIssuer) *Service {
	s.grants = g
	return s
}

// New wires a service from explicit collaborators.
func New(ledger Ledger, inv Invoker, policy quota.Policy, now func() time.Time, log *slog.Logger, tracker analytics.Tracker) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{ledger: ledger, invoker: inv, policy: policy, now: now, log: log, tracker: tracker}
}

// Check runs the gatekeeper flow for an authenticated caller.
//
// Behavior:
//   - Validation (action, count, target) fails before the ledger is touched.
//   - The tier comes from the caller's profile; an expired premium is free.
//   - Denied requests return Allowed=false with a reason and never dispatch.
//   - Allowed requests with a target dispatch exactly once, carrying a
//     grant for the charged action. A dispatch failure is logged and the
//     already-charged quota stays charged.
//   - A ledger failure is UpstreamUnavailable and nothing is dispatched.
//
// Example:
//
//	svc.Check(ctx, caller, Request{Action: "swipe", TargetFunction: "swipe", Payload: body})
func (s *Service) Check(ctx context.Context, caller *auth.Caller, req Request) (*Response, error) {
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}
	action, ok := quota.ParseAction(req.Action)
	if !ok {
		return nil, svcErr.InvalidRequest("Invalid action. Must be 'swipe' or 'message'")
	}
	count := 1
	if req.Count != nil {
		count = *req.Count
	}
	if count < 1 || count > maxCount {
		return nil, svcErr.InvalidRequest(fmt.Sprintf("count must be between 1 and %d", maxCount))
	}
	if req.TargetFunction != "" {
		if !invoker.ValidTarget(req.TargetFunction) || req.TargetFunction == "gatekeeper" {
			return nil, svcErr.InvalidRequest("Invalid target_function")
		}
	}

	log := s.log.With("user", caller.UserID, "action", action)

	log.Debug("gatekeeper", "state", StateResolvingTier)
	premium := false
	if p := caller.Profile; p != nil {
		premium = quota.IsPremium(p.IsPremium, p.PremiumExpiresAt, s.now())
	}
	limits := s.policy.Limits(premium)

	log.Debug("gatekeeper", "state", StateCheckingQuota, "count", count, "premium", premium)
	res, err := s.ledger.CheckAndIncrement(ctx, caller.UserID, limits, quota.Delta(action, count))
	if err != nil {
		return nil, svcErr.Upstream("failed to check quota", err)
	}

	current, limit := res.CountsAfter.For(action), limits.For(action)
	resp := &Response{
		Allowed: res.Allowed,
		QuotaStatus: QuotaStatus{
			CurrentCount: current,
			DailyLimit:   limit,
			IsPremium:    premium,
			Remaining:    max(0, limit-current),
		},
	}

	if !res.Allowed {
		log.Debug("gatekeeper", "state", StateDenied, "current", current, "limit", limit)
		resp.Reason = fmt.Sprintf("Daily %s limit reached (%d/%d)", action, current, limit)
		s.track(analytics.EventQuotaDenied, caller.UserID, map[string]any{
			"action": string(action), "current_count": current, "daily_limit": limit, "is_premium": premium,
		})
		log.Debug("gatekeeper", "state", StateResponding)
		return resp, nil
	}

	log.Debug("gatekeeper", "state", StateAllowed, "current", current, "limit", limit)
	if req.TargetFunction != "" && s.invoker != nil {
		log.Debug("gatekeeper", "state", StateDispatching, "target", req.TargetFunction)
		out, err := s.invoker.Invoke(ctx, req.TargetFunction, caller.Token, s.grant(log, caller.UserID, action), payloadOrEmpty(req.Payload))
		if err != nil {
			// quota stays charged
			log.Warn("downstream action failed", "target", req.TargetFunction, "err", err)
		} else {
			resp.TargetResponse = out
		}
	}

	log.Debug("gatekeeper", "state", StateResponding)
	return resp, nil
}

// grant is empty when no signer is set or signing fails; the target then
// charges on its own.
func (s *Service) grant(log *slog.Logger, userID string, action quota.Action) string {
	if s.grants == nil {
		return ""
	}
	g, err := s.grants.Issue(userID, string(action))
	if err != nil {
		log.Warn("quota grant not issued", "err", err)
		return ""
	}
	return g
}

func (s *Service) track(name, userID string, props map[string]any) {
	if s.tracker == nil {
		return
	}
	s.tracker.Track(analytics.Event{Name: name, DistinctID: userID, Properties: props, Timestamp: s.now().UTC()})
}

func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(p)) == 0 || bytes.Equal(bytes.TrimSpace(p), []byte("null")) {
		return json.RawMessage(`{}`)
	}
	return p
}
