package billing_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/analytics"
	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/dbtest"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/logger"
	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/service/billing"
)

const secret = "whsec_test"

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type recorder struct{ events []analytics.Event }

func (r *recorder) Track(e analytics.Event) { r.events = append(r.events, e) }

func setup(t *testing.T) (*billing.Service, *gorm.DB, *recorder) {
	t.Helper()
	gdb := dbtest.OpenSQLite(t)
	events := &recorder{}
	svc := billing.New(
		repository.NewEventRepository(gdb),
		repository.NewUserRepository(gdb),
		billing.Options{Secret: secret, Tolerance: 5 * time.Minute},
		logger.Discard(),
		events,
	).WithClock(func() time.Time { return now })
	return svc, gdb, events
}

func customer(t *testing.T, gdb *gorm.DB, id string) db.User {
	t.Helper()
	return dbtest.User(t, gdb, uuid.NewString(), "rider", func(u *db.User) { u.StripeCustomerID = &id })
}

func subscriptionEvent(id, typ, cus, status string, periodEnd int64) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"data":{"object":{"id":"sub_1","customer":%q,"status":%q,"current_period_end":%d}}}`,
		id, typ, cus, status, periodEnd))
}

func reload(t *testing.T, gdb *gorm.DB, id string) db.User {
	t.Helper()
	var u db.User
	require.NoError(t, gdb.Where("id = ?", id).Take(&u).Error)
	return u
}

func TestHandle_SubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, gdb, events := setup(t)
	u := customer(t, gdb, "cus_1")
	periodEnd := now.Add(30 * 24 * time.Hour).Unix()

	body := subscriptionEvent("evt_1", billing.EventSubscriptionCreated, "cus_1", "active", periodEnd)
	res, err := svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)
	assert.Equal(t, &billing.Result{Received: true}, res)

	got := reload(t, gdb, u.ID)
	assert.True(t, got.IsPremium)
	require.NotNil(t, got.PremiumExpiresAt)
	assert.Equal(t, periodEnd, got.PremiumExpiresAt.Unix())

	body = subscriptionEvent("evt_2", billing.EventSubscriptionUpdated, "cus_1", "past_due", periodEnd)
	_, err = svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)
	assert.False(t, reload(t, gdb, u.ID).IsPremium)

	body = subscriptionEvent("evt_3", billing.EventSubscriptionUpdated, "cus_1", "trialing", periodEnd)
	_, err = svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)
	assert.True(t, reload(t, gdb, u.ID).IsPremium)

	body = subscriptionEvent("evt_4", billing.EventSubscriptionDeleted, "cus_1", "canceled", periodEnd)
	_, err = svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)
	got = reload(t, gdb, u.ID)
	assert.False(t, got.IsPremium)
	assert.Nil(t, got.PremiumExpiresAt)

	assert.Len(t, events.events, 4)
}

func TestHandle_ReplayIsNoop(t *testing.T) {
	ctx := context.Background()
	svc, gdb, _ := setup(t)
	u := customer(t, gdb, "cus_1")

	body := subscriptionEvent("evt_1", billing.EventSubscriptionCreated, "cus_1", "active", 0)
	_, err := svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)

	// flip the flag by hand; a replay must not re-apply the event
	require.NoError(t, gdb.Model(&db.User{}).Where("id = ?", u.ID).Update("is_premium", false).Error)

	res, err := svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.False(t, reload(t, gdb, u.ID).IsPremium)
}

func TestHandle_OtherEventsAreRecorded(t *testing.T) {
	ctx := context.Background()
	svc, gdb, events := setup(t)

	body := []byte(`{"id":"evt_9","type":"invoice.paid","data":{"object":{}}}`)
	res, err := svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)
	assert.True(t, res.Received)

	processed, err := repository.NewEventRepository(gdb).IsProcessed(ctx, "evt_9")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Empty(t, events.events)

	// unknown customer: acknowledged, nothing changes
	body = subscriptionEvent("evt_10", billing.EventSubscriptionCreated, "cus_missing", "active", 0)
	res, err = svc.Handle(ctx, billing.SignatureHeader(secret, now, body), body)
	require.NoError(t, err)
	assert.True(t, res.Received)
	assert.Empty(t, events.events)
}

func TestHandle_Rejects(t *testing.T) {
	ctx := context.Background()
	svc, gdb, _ := setup(t)
	body := subscriptionEvent("evt_1", billing.EventSubscriptionCreated, "cus_1", "active", 0)

	_, err := svc.Handle(ctx, "", body)
	assert.True(t, svcErr.Is(err, svcErr.KindInvalidRequest))

	_, err = svc.Handle(ctx, billing.SignatureHeader("whsec_wrong", now, body), body)
	assert.True(t, svcErr.Is(err, svcErr.KindInvalidRequest))

	_, err = svc.Handle(ctx, billing.SignatureHeader(secret, now.Add(-time.Hour), body), body)
	assert.True(t, svcErr.Is(err, svcErr.KindInvalidRequest))

	bad := []byte(`{"type":"invoice.paid"}`)
	_, err = svc.Handle(ctx, billing.SignatureHeader(secret, now, bad), bad)
	assert.True(t, svcErr.Is(err, svcErr.KindInvalidRequest))

	var n int64
	require.NoError(t, gdb.Model(&db.ProcessedEvent{}).Count(&n).Error)
	assert.Zero(t, n, "rejected deliveries are not recorded")

	unconfigured := billing.New(repository.NewEventRepository(gdb), repository.NewUserRepository(gdb), billing.Options{}, logger.Discard(), nil)
	_, err = unconfigured.Handle(ctx, billing.SignatureHeader(secret, time.Now(), body), body)
	assert.True(t, svcErr.Is(err, svcErr.KindUpstreamUnavailable))
}

func TestHandler(t *testing.T) {
	svc, gdb, _ := setup(t)
	customer(t, gdb, "cus_1")
	h := billing.NewHandler(svc)

	body := subscriptionEvent("evt_1", billing.EventSubscriptionCreated, "cus_1", "active", 0)
	do := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/functions/v1/stripe-webhook", strings.NewReader(string(body)))
		req.Header.Set("Stripe-Signature", sig)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	res := do(billing.SignatureHeader(secret, now, body))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"received":true}`, res.Body.String())

	res = do(billing.SignatureHeader(secret, now, body))
	assert.JSONEq(t, `{"received":true,"duplicate":true}`, res.Body.String())

	res = do("t=1,v1=00")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
