package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oggyb/crewsnow/internal/config"
)

// GrantHeader carries a quota grant on a gatekeeper-dispatched request.
const GrantHeader = "X-Quota-Grant"

const (
	grantAudience   = "quota-grant"
	defaultGrantTTL = 30 * time.Second
)

// GrantClaims records that the gatekeeper already charged Action for the
// subject.
type GrantClaims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

// Grants signs and checks short-lived quota grants. A grant never leaves
// the server: the gatekeeper attaches it to the dispatched call and the
// target function reads it back through Resolver.Middleware.
type Grants struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGrants creates a signer. A non-positive ttl means 30s.
func NewGrants(secret string, ttl time.Duration) *Grants {
	if ttl <= 0 {
		ttl = defaultGrantTTL
	}
	return &Grants{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// NewGrantsFromConfig shares the bearer secret and outlives one dispatch.
func NewGrantsFromConfig(cfg *config.Config) *Grants {
	return NewGrants(cfg.Auth.JWTSecret, cfg.Functions.DispatchTimeout+defaultGrantTTL)
}

// WithClock returns a copy of g that reads time from now.
func (g *Grants) WithClock(now func() time.Time) *Grants {
	cp := *g
	cp.now = now
	return &cp
}

// Issue signs a grant for action on behalf of userID.
func (g *Grants) Issue(userID, action string) (string, error) {
	if len(g.secret) == 0 {
		return "", errors.New("grant signer has no secret")
	}
	now := g.now()
	claims := GrantClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{grantAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Verify returns the granted action when token is a live grant for userID.
func (g *Grants) Verify(token, userID string) (string, error) {
	if len(g.secret) == 0 {
		return "", fmt.Errorf("%w: grant signer has no secret", ErrInvalidToken)
	}
	claims := &GrantClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(grantAudience),
		jwt.WithSubject(userID),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Action == "" {
		return "", fmt.Errorf("%w: grant has no action", ErrInvalidToken)
	}
	return claims.Action, nil
}
