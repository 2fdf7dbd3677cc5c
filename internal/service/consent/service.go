package consent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/db"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/repository"
)

// Purposes are the processing purposes a user can consent to, in the order
// they are listed.
var Purposes = []string{
	"gps", "ai_moderation", "marketing", "analytics",
	"push_notifications", "email_marketing", "data_processing",
}

// Store persists consent decisions.
type Store interface {
	Grant(ctx context.Context, userID, purpose string, version int, at time.Time) error
	Revoke(ctx context.Context, userID, purpose string, at time.Time) (bool, error)
	Has(ctx context.Context, userID, purpose string, minVersion int) (bool, error)
	List(ctx context.Context, userID string) (map[string]db.Consent, error)
}

// Request is the manage-consent body.
type Request struct {
	Purpose string `json:"purpose"`
	Action  string `json:"action"`
	Version *int   `json:"version,omitempty"`
}

// Decision is the outcome of a grant, revoke or check.
type Decision struct {
	Purpose   string     `json:"purpose"`
	Granted   bool       `json:"granted"`
	Version   int        `json:"version,omitempty"`
	GrantedAt *time.Time `json:"granted_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Message   string     `json:"message"`
}

// Status is one purpose in the consent overview.
type Status struct {
	Purpose   string     `json:"purpose"`
	Granted   bool       `json:"granted"`
	Version   *int       `json:"version,omitempty"`
	GrantedAt *time.Time `json:"granted_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Overview lists every purpose with the caller's current decision.
type Overview struct {
	Consents      []Status `json:"consents"`
	TotalPurposes int      `json:"total_purposes"`
	GrantedCount  int      `json:"granted_count"`
}

// Service manages the caller's consents.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewConsentService creates the service over the consent repository.
func NewConsentService(appCtx *app.AppContext) *Service {
	return New(repository.NewConsentRepository(appCtx.DB), appCtx.Logger, appCtx.Now)
}

// New wires a service from explicit collaborators.
func New(store Store, log *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, log: log, now: now}
}

// Manage grants, revokes or checks one purpose for the caller.
//
// Behavior:
//   - purpose must be one of Purposes; action is grant, revoke or check.
//   - version defaults to 1 and must be positive. grant stores it; check
//     requires an unrevoked consent at that version or later.
//   - Revoking a purpose without an active consent succeeds and says so.
//
// Example:
//
//	svc.Manage(ctx, caller, Request{Purpose: "gps", Action: "grant", Version: &v})
func (s *Service) Manage(ctx context.Context, caller *auth.Caller, req Request) (*Decision, error) {
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}
	if !slices.Contains(Purposes, req.Purpose) {
		return nil, svcErr.InvalidRequest("Invalid consent purpose")
	}
	version := 1
	if req.Version != nil {
		version = *req.Version
	}
	if version < 1 {
		return nil, svcErr.InvalidRequest("version must be positive")
	}

	now := s.now().UTC()
	switch req.Action {
	case "check":
		ok, err := s.store.Has(ctx, caller.UserID, req.Purpose, version)
		if err != nil {
			return nil, svcErr.Upstream("consent check failed", err)
		}
		msg := "Consent not granted or outdated"
		if ok {
			msg = "Consent is granted"
		}
		return &Decision{Purpose: req.Purpose, Granted: ok, Version: version, Message: msg}, nil

	case "grant":
		if err := s.store.Grant(ctx, caller.UserID, req.Purpose, version, now); err != nil {
			return nil, svcErr.Upstream("failed to grant consent", err)
		}
		s.log.Info("consent granted", "user", caller.UserID, "purpose", req.Purpose, "version", version)
		return &Decision{
			Purpose:   req.Purpose,
			Granted:   true,
			Version:   version,
			GrantedAt: &now,
			Message:   fmt.Sprintf("Consent granted for %s v%d", req.Purpose, version),
		}, nil

	case "revoke":
		revoked, err := s.store.Revoke(ctx, caller.UserID, req.Purpose, now)
		if err != nil {
			return nil, svcErr.Upstream("failed to revoke consent", err)
		}
		s.log.Info("consent revoked", "user", caller.UserID, "purpose", req.Purpose, "had_consent", revoked)
		msg := "No active consent found for " + req.Purpose
		if revoked {
			msg = "Consent revoked for " + req.Purpose
		}
		return &Decision{Purpose: req.Purpose, Granted: false, RevokedAt: &now, Message: msg}, nil
	}
	return nil, svcErr.InvalidRequest("Invalid action. Must be: grant, revoke, or check")
}

// List returns every purpose with the caller's current decision. Purposes
// never decided read as not granted.
func (s *Service) List(ctx context.Context, caller *auth.Caller) (*Overview, error) {
	if caller == nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}
	rows, err := s.store.List(ctx, caller.UserID)
	if err != nil {
		return nil, svcErr.Upstream("failed to fetch consents", err)
	}

	out := &Overview{Consents: make([]Status, 0, len(Purposes)), TotalPurposes: len(Purposes)}
	for _, p := range Purposes {
		st := Status{Purpose: p}
		if c, ok := rows[p]; ok {
			version, granted := c.Version, c.GrantedAt.UTC()
			st.Granted = c.RevokedAt == nil
			st.Version = &version
			st.GrantedAt = &granted
			if c.RevokedAt != nil {
				revoked := c.RevokedAt.UTC()
				st.RevokedAt = &revoked
			}
		}
		if st.Granted {
			out.GrantedCount++
		}
		out.Consents = append(out.Consents, st)
	}
	return out, nil
}
