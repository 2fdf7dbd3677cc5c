package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/oggyb/crewsnow/internal/db"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/httpx"
)

// TokenVerifier turns a raw bearer token into an Identity.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// ProfileStore creates a minimal profile when none exists.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, userID, email string) (*db.User, bool, error)
}

// Caller is an authenticated user whose profile row is known to exist.
// Granted is the action the gatekeeper already charged for this request,
// empty unless a valid GrantHeader came with it.
type Caller struct {
	UserID  string
	Email   string
	Token   string
	Profile *db.User
	Granted string
}

// Charged reports whether the gatekeeper already charged action.
func (c *Caller) Charged(action string) bool {
	return c != nil && c.Granted != "" && c.Granted == action
}

// Resolver authenticates requests and guarantees the caller has a profile
// before any handler logic runs.
type Resolver struct {
	verifier TokenVerifier
	profiles ProfileStore
	grants   *Grants
	log      *slog.Logger
}

// NewResolver wires a resolver.
func NewResolver(verifier TokenVerifier, profiles ProfileStore, log *slog.Logger) *Resolver {
	return &Resolver{verifier: verifier, profiles: profiles, log: log}
}

// WithGrants makes Middleware honour quota grants signed by g.
func (r *Resolver) WithGrants(g *Grants) *Resolver {
	r.grants = g
	return r
}

// Resolve authenticates an Authorization header value.
//
// Behavior:
//   - Missing or malformed header, or a token that fails verification,
//     is Unauthorized.
//   - A first-time caller gets a minimal profile; that creation is logged.
//   - A store failure while ensuring the profile is UpstreamUnavailable.
func (r *Resolver) Resolve(ctx context.Context, header string) (*Caller, error) {
	token, err := BearerToken(header)
	if err != nil {
		return nil, svcErr.Unauthorized("Missing Authorization header")
	}
	id, err := r.verifier.Verify(token)
	if err != nil {
		r.log.Debug("token rejected", "err", err)
		return nil, svcErr.Unauthorized("Invalid or expired token")
	}

	profile, created, err := r.profiles.EnsureProfile(ctx, id.UserID, id.Email)
	if err != nil {
		return nil, svcErr.Upstream("failed to load user profile", err)
	}
	if created {
		r.log.Info("created minimal profile for new user", "user", id.UserID)
	}

	return &Caller{UserID: id.UserID, Email: id.Email, Token: token, Profile: profile}, nil
}

type callerKey struct{}

// WithCaller stores c on ctx.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by Middleware.
func CallerFrom(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(*Caller)
	return c, ok && c != nil
}

// Middleware rejects unauthenticated requests and stores the Caller on the
// request context. A quota grant that does not verify for the caller is
// ignored, so the target function charges the quota itself.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		caller, err := r.Resolve(req.Context(), req.Header.Get("Authorization"))
		if err != nil {
			httpx.Error(w, req, err)
			return
		}
		if grant := req.Header.Get(GrantHeader); grant != "" && r.grants != nil {
			action, err := r.grants.Verify(grant, caller.UserID)
			if err != nil {
				r.log.Warn("quota grant rejected", "user", caller.UserID, "err", err)
			} else {
				caller.Granted = action
			}
		}
		next.ServeHTTP(w, req.WithContext(WithCaller(req.Context(), caller)))
	})
}
