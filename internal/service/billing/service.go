package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/crewsnow/internal/analytics"
	"github.com/oggyb/crewsnow/internal/app"
	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/repository"
)

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is the part of a payment webhook event this service reads.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Subscription is the data.object of a customer.subscription.* event.
type Subscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// Result acknowledges a delivery.
type Result struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Options configures signature checking.
type Options struct {
	Secret    string
	Tolerance time.Duration
}

// Service applies payment webhook events to premium flags.
type Service struct {
	events  *repository.EventRepository
	users   *repository.UserRepository
	opts    Options
	log     *slog.Logger
	tracker analytics.Tracker
	now     func() time.Time
}

// NewBillingService creates the service with dependencies from AppContext.
func NewBillingService(appCtx *app.AppContext) *Service {
	s := New(
		repository.NewEventRepository(appCtx.DB),
		repository.NewUserRepository(appCtx.DB),
		Options{Secret: appCtx.Config.Billing.WebhookSecret, Tolerance: appCtx.Config.Billing.SignatureTolerance},
		appCtx.Logger,
		appCtx.Analytics,
	)
	s.now = appCtx.Now
	return s
}

// New wires a service from explicit collaborators.
func New(events *repository.EventRepository, users *repository.UserRepository, opts Options, log *slog.Logger, tracker analytics.Tracker) *Service {
	return &Service{events: events, users: users, opts: opts, log: log, tracker: tracker, now: time.Now}
}

// Handle verifies and applies one webhook delivery.
//
// Behavior:
//   - A bad or stale signature is InvalidRequest.
//   - Each event id is applied at most once; a replay is acknowledged with
//     Duplicate set.
//   - subscription created/updated: premium while status is active or
//     trialing, expiring at current_period_end.
//   - subscription deleted: premium off, expiry cleared.
//   - Unknown customers and other event types are recorded and acknowledged.
//
// Example:
//
//	svc.Handle(ctx, r.Header.Get("Stripe-Signature"), body)
func (s *Service) Handle(ctx context.Context, signature string, body []byte) (*Result, error) {
	if s.opts.Secret == "" {
		return nil, svcErr.Upstream("webhook secret not configured", nil)
	}
	if err := VerifySignature(signature, body, s.opts.Secret, s.opts.Tolerance, s.now()); err != nil {
		s.log.Warn("webhook signature rejected", "err", err)
		return nil, svcErr.InvalidRequest("Invalid signature")
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" || ev.Type == "" {
		return nil, svcErr.InvalidRequest("Invalid JSON payload")
	}

	var sub Subscription
	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		if err := json.Unmarshal(ev.Data.Object, &sub); err != nil || sub.Customer == "" {
			return nil, svcErr.InvalidRequest("Invalid subscription object")
		}
	}

	log := s.log.With("event", ev.ID, "type", ev.Type)
	var changed *bool

	first, err := s.events.ProcessOnce(ctx, ev.ID, ev.Type, func(tx *gorm.DB) error {
		premium, expires, ok := premiumState(ev.Type, sub)
		if !ok {
			return nil
		}
		found, err := s.users.WithTx(tx).SetPremiumByCustomer(ctx, sub.Customer, premium, expires)
		if err != nil {
			return err
		}
		if !found {
			log.Warn("no user for payment customer", "customer", sub.Customer)
			return nil
		}
		changed = &premium
		return nil
	})
	if err != nil {
		return nil, svcErr.Upstream("failed to process event", err)
	}
	if !first {
		log.Info("duplicate webhook event ignored")
		return &Result{Received: true, Duplicate: true}, nil
	}

	if changed != nil {
		log.Info("premium status updated", "customer", sub.Customer, "premium", *changed)
		if s.tracker != nil {
			s.tracker.Track(analytics.Event{
				Name:       analytics.EventPremium,
				DistinctID: sub.Customer,
				Properties: map[string]any{"is_premium": *changed, "subscription_status": sub.Status, "event_type": ev.Type},
				Timestamp:  s.now().UTC(),
			})
		}
	}
	return &Result{Received: true}, nil
}

func premiumState(eventType string, sub Subscription) (bool, *time.Time, bool) {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		premium := sub.Status == "active" || sub.Status == "trialing"
		if !premium {
			return false, nil, true
		}
		var expires *time.Time
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			expires = &t
		}
		return true, expires, true
	case EventSubscriptionDeleted:
		return false, nil, true
	}
	return false, nil, false
}

// WithClock overrides the clock used for the signature tolerance.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}
