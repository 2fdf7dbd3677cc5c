package consent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/dbtest"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/logger"
	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/service/consent"
)

//
// Test helpers
//

var now = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*consent.Service, *auth.Caller) {
	t.Helper()
	gdb := dbtest.OpenSQLite(t)
	svc := consent.New(repository.NewConsentRepository(gdb), logger.Discard(), func() time.Time { return now })
	u := dbtest.User(t, gdb, uuid.NewString(), "rider")
	return svc, &auth.Caller{UserID: u.ID, Profile: &u}
}

func intp(n int) *int { return &n }

//
// Tests
//

func TestManage(t *testing.T) {
	ctx := context.Background()
	svc, me := setup(t)

	d, err := svc.Manage(ctx, me, consent.Request{Purpose: "gps", Action: "check"})
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, "Consent not granted or outdated", d.Message)

	d, err = svc.Manage(ctx, me, consent.Request{Purpose: "gps", Action: "grant", Version: intp(2)})
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.Equal(t, 2, d.Version)
	require.NotNil(t, d.GrantedAt)
	assert.True(t, d.GrantedAt.Equal(now))
	assert.Equal(t, "Consent granted for gps v2", d.Message)

	d, err = svc.Manage(ctx, me, consent.Request{Purpose: "gps", Action: "check", Version: intp(2)})
	require.NoError(t, err)
	assert.True(t, d.Granted)

	d, err = svc.Manage(ctx, me, consent.Request{Purpose: "gps", Action: "check", Version: intp(3)})
	require.NoError(t, err)
	assert.False(t, d.Granted, "newer terms need a new grant")

	d, err = svc.Manage(ctx, me, consent.Request{Purpose: "gps", Action: "revoke"})
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, "Consent revoked for gps", d.Message)

	d, err = svc.Manage(ctx, me, consent.Request{Purpose: "marketing", Action: "revoke"})
	require.NoError(t, err)
	assert.Equal(t, "No active consent found for marketing", d.Message)
}

func TestManage_Rejects(t *testing.T) {
	svc, me := setup(t)

	cases := []struct {
		name   string
		caller *auth.Caller
		req    consent.Request
		kind   svcErr.Kind
	}{
		{"no caller", nil, consent.Request{Purpose: "gps", Action: "grant"}, svcErr.KindUnauthorized},
		{"unknown purpose", me, consent.Request{Purpose: "telepathy", Action: "grant"}, svcErr.KindInvalidRequest},
		{"unknown action", me, consent.Request{Purpose: "gps", Action: "maybe"}, svcErr.KindInvalidRequest},
		{"zero version", me, consent.Request{Purpose: "gps", Action: "grant", Version: intp(0)}, svcErr.KindInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Manage(context.Background(), tc.caller, tc.req)
			assert.True(t, svcErr.Is(err, tc.kind), err)
		})
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	svc, me := setup(t)

	_, err := svc.Manage(ctx, me, consent.Request{Purpose: "analytics", Action: "grant"})
	require.NoError(t, err)
	_, err = svc.Manage(ctx, me, consent.Request{Purpose: "gps", Action: "grant"})
	require.NoError(t, err)
	_, err = svc.Manage(ctx, me, consent.Request{Purpose: "gps", Action: "revoke"})
	require.NoError(t, err)

	ov, err := svc.List(ctx, me)
	require.NoError(t, err)
	assert.Equal(t, len(consent.Purposes), ov.TotalPurposes)
	require.Len(t, ov.Consents, len(consent.Purposes))
	assert.Equal(t, 1, ov.GrantedCount)

	byPurpose := map[string]consent.Status{}
	for _, c := range ov.Consents {
		byPurpose[c.Purpose] = c
	}
	assert.True(t, byPurpose["analytics"].Granted)
	assert.False(t, byPurpose["gps"].Granted)
	assert.NotNil(t, byPurpose["gps"].RevokedAt)
	assert.Nil(t, byPurpose["marketing"].Version, "never decided")
}

func TestHandler(t *testing.T) {
	svc, me := setup(t)
	h := consent.NewHandler(svc)

	do := func(fn http.HandlerFunc, method, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/functions/v1/manage-consent", strings.NewReader(body))
		req = req.WithContext(auth.WithCaller(req.Context(), me))
		w := httptest.NewRecorder()
		fn(w, req)
		return w
	}

	res := do(h.Manage, http.MethodPost, `{"purpose":"push_notifications","action":"grant"}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"granted":true`)

	res = do(h.List, http.MethodGet, "")
	require.Equal(t, http.StatusOK, res.Code)
	var ov consent.Overview
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &ov))
	assert.Equal(t, 1, ov.GrantedCount)

	res = do(h.Manage, http.MethodPost, `{"purpose":"gps","action":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
