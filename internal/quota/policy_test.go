package quota_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oggyb/crewsnow/internal/config"
	"github.com/oggyb/crewsnow/internal/quota"
)

func TestTierMapping(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	policy := quota.DefaultPolicy()

	cases := []struct {
		name    string
		flag    bool
		expires *time.Time
		want    quota.Counts
	}{
		{"premium without expiry", true, nil, quota.Counts{Swipe: 100, Message: 500}},
		{"premium expiring later", true, &future, quota.Counts{Swipe: 100, Message: 500}},
		{"premium expired", true, &past, quota.Counts{Swipe: 10, Message: 50}},
		{"premium expiring exactly now", true, &now, quota.Counts{Swipe: 10, Message: 50}},
		{"free", false, nil, quota.Counts{Swipe: 10, Message: 50}},
		{"free with stale expiry", false, &future, quota.Counts{Swipe: 10, Message: 50}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			premium := quota.IsPremium(tc.flag, tc.expires, now)
			assert.Equal(t, tc.want, policy.Limits(premium))
		})
	}
}

func TestParseAction(t *testing.T) {
	a, ok := quota.ParseAction("swipe")
	assert.True(t, ok)
	assert.Equal(t, quota.ActionSwipe, a)

	a, ok = quota.ParseAction("message")
	assert.True(t, ok)
	assert.Equal(t, quota.ActionMessage, a)

	_, ok = quota.ParseAction("superlike")
	assert.False(t, ok)
}

func TestDeltaAndFor(t *testing.T) {
	d := quota.Delta(quota.ActionMessage, 3)
	assert.Equal(t, quota.Counts{Message: 3}, d)
	assert.Equal(t, 3, d.For(quota.ActionMessage))
	assert.Equal(t, 0, d.For(quota.ActionSwipe))
}

func TestPolicyFromTuning(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.Quota.FreeSwipes = 3

	p := quota.PolicyFromTuning(tuning)
	assert.Equal(t, quota.Counts{Swipe: 3, Message: 50}, p.Free)
	assert.Equal(t, quota.DefaultPolicy().Premium, p.Premium)
}
