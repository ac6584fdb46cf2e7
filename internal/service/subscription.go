package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/scmrelay/internal/domain"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/port/upstream"
)

// SubscriptionService manages upstream event subscriptions that deliver
// to this service's event callback.
type SubscriptionService struct {
	gw          upstream.Gateway
	callbackURL string
	secret      string
}

// NewSubscriptionService creates a SubscriptionService. callbackURL and
// secret are registered with every new subscription.
func NewSubscriptionService(gw upstream.Gateway, callbackURL, secret string) *SubscriptionService {
	return &SubscriptionService{gw: gw, callbackURL: callbackURL, secret: secret}
}

// Subscribe creates an active subscription for repoID. Empty kinds selects
// subscription.DefaultKinds. A repository holds at most one subscription.
func (s *SubscriptionService) Subscribe(ctx context.Context, repoID string, kinds []subscription.EventKind) (*subscription.Subscription, error) {
	if len(kinds) == 0 {
		kinds = subscription.DefaultKinds
	}
	req := subscription.CreateRequest{
		RepositoryID: repoID,
		EventTypes:   kinds,
		CallbackURL:  s.callbackURL,
		Secret:       s.secret,
		Active:       true,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ok, err := s.gw.RepositoryExists(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("check repository %s: %w", repoID, err)
	}
	if !ok {
		return nil, fmt.Errorf("repository %s: %w", repoID, domain.ErrNotFound)
	}

	existing, err := s.gw.ListEventSubscriptions(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("repository %s already has subscription %s: %w", repoID, existing[0].ID, domain.ErrConflict)
	}

	sub, err := s.gw.RegisterEventSubscription(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "event subscription created", "repository_id", repoID, "subscription_id", sub.ID, "kinds", len(kinds))
	return sub, nil
}

// List returns subscriptions, restricted to one repository when repoID is set.
func (s *SubscriptionService) List(ctx context.Context, repoID string) ([]subscription.Subscription, error) {
	return s.gw.ListEventSubscriptions(ctx, repoID)
}

// Update changes the kinds or active flag of a subscription.
func (s *SubscriptionService) Update(ctx context.Context, id string, req subscription.UpdateRequest) (*subscription.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sub, err := s.gw.UpdateEventSubscription(ctx, id, req)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "event subscription updated", "subscription_id", id)
	return sub, nil
}

// Unsubscribe deletes a subscription.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, id string) error {
	if err := s.gw.DeleteEventSubscription(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "event subscription deleted", "subscription_id", id)
	return nil
}
