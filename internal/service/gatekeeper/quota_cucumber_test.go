//go:build cucumber

package gatekeeper_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/db"
	"github.com/oggyb/crewsnow/internal/dbtest"
	"github.com/oggyb/crewsnow/internal/logger"
	"github.com/oggyb/crewsnow/internal/quota"
	"github.com/oggyb/crewsnow/internal/repository"
	"github.com/oggyb/crewsnow/internal/service/gatekeeper"
)

// TestQuotaFeatures executes the quota scenarios via godog.
func TestQuotaFeatures(t *testing.T) {
	gdb := dbtest.OpenSQLite(t)
	suite := godog.TestSuite{
		Name: "quota",
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			initializeQuotaScenario(ctx, gdb)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("testdata", "quota.feature")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

// quotaState holds one scenario. Each scenario gets a fresh user so the
// shared database needs no cleanup.
type quotaState struct {
	gdb    *gorm.DB
	now    time.Time
	svc    *gatekeeper.Service
	ledger *repository.UsageRepository
	caller *auth.Caller
	last   *gatekeeper.Response
}

func initializeQuotaScenario(ctx *godog.ScenarioContext, gdb *gorm.DB) {
	s := &quotaState{gdb: gdb}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.reset()
		return ctx, nil
	})

	ctx.Step(`^a (free|premium) user who has used (\d+) (swipe|message)s today$`, s.givenUsage)
	ctx.Step(`^the clock moves to the next day$`, s.nextDay)
	ctx.Step(`^the user asks to (swipe|message) (\d+) times?$`, s.ask)
	ctx.Step(`^the request is (allowed|denied)$`, s.outcome)
	ctx.Step(`^the quota shows (\d+) of (\d+) with (\d+) remaining$`, s.quotaShows)
}

func (s *quotaState) reset() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.ledger = repository.NewUsageRepository(s.gdb, time.UTC, clock)
	s.svc = gatekeeper.New(s.ledger, nil, quota.DefaultPolicy(), clock, logger.Discard(), nil)
	s.caller = nil
	s.last = nil
}

func (s *quotaState) givenUsage(tier string, used int, action string) error {
	id := uuid.NewString()
	s.caller = &auth.Caller{UserID: id, Token: "tok", Profile: &db.User{ID: id, IsPremium: tier == "premium"}}
	if used == 0 {
		return nil
	}
	a, _ := quota.ParseAction(action)
	limits := quota.DefaultPolicy().Limits(tier == "premium")
	res, err := s.ledger.CheckAndIncrement(context.Background(), id, limits, quota.Delta(a, used))
	if err != nil {
		return err
	}
	if !res.Allowed {
		return fmt.Errorf("seeding %d %ss was denied", used, action)
	}
	return nil
}

func (s *quotaState) nextDay() error {
	s.now = s.now.Add(24 * time.Hour)
	return nil
}

func (s *quotaState) ask(action string, count int) error {
	resp, err := s.svc.Check(context.Background(), s.caller, gatekeeper.Request{Action: action, Count: &count})
	if err != nil {
		return err
	}
	s.last = resp
	return nil
}

func (s *quotaState) outcome(want string) error {
	if s.last == nil {
		return fmt.Errorf("no response recorded")
	}
	if s.last.Allowed != (want == "allowed") {
		return fmt.Errorf("expected %s, got allowed=%v (%s)", want, s.last.Allowed, s.last.Reason)
	}
	return nil
}

func (s *quotaState) quotaShows(current, limit, remaining int) error {
	q := s.last.QuotaStatus
	if q.CurrentCount != current || q.DailyLimit != limit || q.Remaining != remaining {
		return fmt.Errorf("expected %d/%d (%d left), got %d/%d (%d left)",
			current, limit, remaining, q.CurrentCount, q.DailyLimit, q.Remaining)
	}
	return nil
}
