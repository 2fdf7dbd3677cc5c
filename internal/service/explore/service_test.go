package explore_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/dbtest"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/service/explore"
	"github.com/oggyb/crewsnow/internal/service/swipe"
	"github.com/oggyb/crewsnow/internal/utils/pagination"
)

//
// Test helpers
//

// fixture seeds a minimal, deterministic dataset:
//   - ana liked me at 09:00
//   - bo liked me at 09:01, and I liked bo back
type fixture struct {
	appCtx *app.AppContext
	mr     *miniredis.Miniredis
	svc    *explore.Service
	me     *auth.Caller
	ana    db.User
	bo     db.User
}

var base = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) fixture {
	t.Helper()
	appCtx, mr := dbtest.App(t)
	gdb := appCtx.DB

	me := dbtest.User(t, gdb, uuid.NewString(), "me")
	f := fixture{
		appCtx: appCtx,
		mr:     mr,
		svc:    explore.NewExploreService(appCtx),
		me:     &auth.Caller{UserID: me.ID, Profile: &me},
		ana:    dbtest.User(t, gdb, uuid.NewString(), "ana"),
		bo:     dbtest.User(t, gdb, uuid.NewString(), "bo"),
	}
	f.like(t, f.ana.ID, me.ID, base)
	f.like(t, f.bo.ID, me.ID, base.Add(time.Minute))
	f.like(t, me.ID, f.bo.ID, base.Add(2*time.Minute))
	return f
}

func (f fixture) like(t *testing.T, liker, liked string, at time.Time) {
	t.Helper()
	require.NoError(t, f.appCtx.DB.Create(&db.Like{ID: uuid.NewString(), LikerID: liker, LikedID: liked, CreatedAt: at}).Error)
}

func names(resp *explore.Response) []string {
	out := make([]string, 0, len(resp.Likers))
	for _, l := range resp.Likers {
		out = append(out, l.Username)
	}
	return out
}

func intp(n int) *int { return &n }

//
// Tests
//

func TestLikesReceived_Pages(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.svc.LikesReceived(ctx, f.me, explore.Request{Limit: intp(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"bo"}, names(first))
	assert.Equal(t, f.bo.ID, first.Likers[0].UserID)
	assert.True(t, first.Likers[0].LikedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, int64(2), first.TotalCount)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.LikesReceived(ctx, f.me, explore.Request{Limit: intp(1), Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, names(second))
	assert.False(t, second.HasMore)
	assert.Empty(t, second.NextCursor)
}

func TestLikesReceived_OnlyNew(t *testing.T) {
	f := setup(t)

	resp, err := f.svc.LikesReceived(context.Background(), f.me, explore.Request{OnlyNew: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"ana"}, names(resp))
	assert.Equal(t, int64(2), resp.TotalCount, "total ignores only_new")
}

func TestLikesReceived_CountCache(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	key := f.appCtx.RedisCache.KeyForLikeCount(f.me.UserID)

	_, err := f.svc.LikesReceived(ctx, f.me, explore.Request{})
	require.NoError(t, err)
	assert.True(t, f.mr.Exists(key))

	// a row written behind the cache is not seen until invalidation
	cy := dbtest.User(t, f.appCtx.DB, uuid.NewString(), "cy")
	f.like(t, cy.ID, f.me.UserID, base.Add(3*time.Minute))
	resp, err := f.svc.LikesReceived(ctx, f.me, explore.Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.TotalCount)
	assert.Len(t, resp.Likers, 3)

	// a like through the swipe function drops the cached count
	dee := dbtest.User(t, f.appCtx.DB, uuid.NewString(), "dee")
	_, err = swipe.NewSwipeService(f.appCtx).Like(ctx, &auth.Caller{UserID: dee.ID, Profile: &dee},
		swipe.Request{LikerID: dee.ID, LikedID: f.me.UserID})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists(key))

	resp, err = f.svc.LikesReceived(ctx, f.me, explore.Request{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), resp.TotalCount)
}

func TestLikesReceived_Rejects(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	noID, err := pagination.Encode(pagination.TimeCursor{CreatedUnix: base.UnixMicro()})
	require.NoError(t, err)

	cases := []struct {
		name   string
		caller *auth.Caller
		req    explore.Request
		kind   svcErr.Kind
	}{
		{"no caller", nil, explore.Request{}, svcErr.KindUnauthorized},
		{"limit zero", f.me, explore.Request{Limit: intp(0)}, svcErr.KindInvalidRequest},
		{"limit too big", f.me, explore.Request{Limit: intp(51)}, svcErr.KindInvalidRequest},
		{"garbage cursor", f.me, explore.Request{Cursor: "%%%"}, svcErr.KindInvalidRequest},
		{"cursor without id", f.me, explore.Request{Cursor: noID}, svcErr.KindInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.LikesReceived(ctx, tc.caller, tc.req)
			assert.True(t, svcErr.Is(err, tc.kind), err)
		})
	}
}

func TestHandler(t *testing.T) {
	f := setup(t)
	h := explore.NewHandler(f.svc)
	stranger := dbtest.User(t, f.appCtx.DB, uuid.NewString(), "stranger")

	do := func(c *auth.Caller, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/functions/v1/likes-received", strings.NewReader(body))
		req = req.WithContext(auth.WithCaller(req.Context(), c))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	res := do(&auth.Caller{UserID: stranger.ID}, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"likers":[],"total_count":0,"has_more":false}`, res.Body.String())

	res = do(f.me, `{"only_new":true}`)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"username":"ana"`)

	res = do(f.me, `{"limit":0}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
