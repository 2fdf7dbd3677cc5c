package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/dbtest"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/logger"
	"github.com/oggyb/crewsnow/internal/repository"
)

const secret = "test-secret"

func TestBearerToken(t *testing.T) {
	tok, err := auth.BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	tok, err = auth.BearerToken("bearer   xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "Bearer", "Bearer ", "Basic abc", "abc"} {
		_, err := auth.BearerToken(h)
		assert.ErrorIs(t, err, auth.ErrMissingToken, h)
	}
}

func TestVerify(t *testing.T) {
	v := auth.NewVerifier(secret, "", "authenticated")
	id := auth.Identity{UserID: uuid.NewString(), Email: "eve@example.com"}

	tok, err := v.Issue(id, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerify_Rejects(t *testing.T) {
	now := time.Now()
	v := auth.NewVerifier(secret, "", "authenticated")
	uid := uuid.NewString()

	expired, err := v.WithClock(func() time.Time { return now.Add(-2 * time.Hour) }).
		Issue(auth.Identity{UserID: uid}, time.Hour)
	require.NoError(t, err)

	wrongKey, err := auth.NewVerifier("other", "", "authenticated").Issue(auth.Identity{UserID: uid}, time.Hour)
	require.NoError(t, err)

	wrongAud, err := auth.NewVerifier(secret, "", "anon").Issue(auth.Identity{UserID: uid}, time.Hour)
	require.NoError(t, err)

	notUUID, err := v.Issue(auth.Identity{UserID: "42"}, time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uid, "aud": "authenticated",
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": uid, "aud": "authenticated", "exp": now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"expired":     expired,
		"wrong key":   wrongKey,
		"wrong aud":   wrongAud,
		"non-uuid":    notUUID,
		"no expiry":   noExp,
		"alg none":    none,
		"garbage":     "not-a-jwt",
		"empty token": "",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.OpenSQLite(t)
	v := auth.NewVerifier(secret, "", "")
	r := auth.NewResolver(v, repository.NewUserRepository(gdb), logger.Discard())

	uid := uuid.NewString()
	tok, err := v.Issue(auth.Identity{UserID: uid, Email: "frank@example.com"}, time.Hour)
	require.NoError(t, err)

	caller, err := r.Resolve(ctx, "Bearer "+tok)
	require.NoError(t, err)
	assert.Equal(t, uid, caller.UserID)
	assert.Equal(t, tok, caller.Token)
	require.NotNil(t, caller.Profile)
	assert.Equal(t, "frank", caller.Profile.Username)

	_, err = r.Resolve(ctx, "")
	assert.True(t, svcErr.Is(err, svcErr.KindUnauthorized))

	_, err = r.Resolve(ctx, "Bearer nope")
	assert.True(t, svcErr.Is(err, svcErr.KindUnauthorized))
}

type failingStore struct{}

func (failingStore) EnsureProfile(context.Context, string, string) (*db.User, bool, error) {
	return nil, false, errors.New("db down")
}

func TestResolver_StoreFailure(t *testing.T) {
	v := auth.NewVerifier(secret, "", "")
	r := auth.NewResolver(v, failingStore{}, logger.Discard())
	tok, err := v.Issue(auth.Identity{UserID: uuid.NewString()}, time.Hour)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "Bearer "+tok)
	assert.True(t, svcErr.Is(err, svcErr.KindUpstreamUnavailable))
}

func TestMiddleware(t *testing.T) {
	gdb := dbtest.OpenSQLite(t)
	v := auth.NewVerifier(secret, "", "")
	r := auth.NewResolver(v, repository.NewUserRepository(gdb), logger.Discard())

	var seen *auth.Caller
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		seen, _ = auth.CallerFrom(req.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Missing Authorization header"}`, rec.Body.String())
	assert.Nil(t, seen)

	uid := uuid.NewString()
	tok, err := v.Issue(auth.Identity{UserID: uid}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, uid, seen.UserID)
	assert.Equal(t, "user_"+uid[:8], seen.Profile.Username)
}
