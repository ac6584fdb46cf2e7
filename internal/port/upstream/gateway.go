// Package upstream defines the port to the eventing platform that owns
// repositories, webhooks and event subscriptions.
package upstream

import (
	"context"

	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/domain/webhook"
)

// Gateway is the typed surface over the upstream REST API.
//
// Operations that address a single entity return an error wrapping
// domain.ErrNotFound when the upstream answers 404. All other failures
// are passed through unchanged.
type Gateway interface {
	// ListRepositories returns one page of an organization's repositories.
	// An empty cursor requests the first page.
	ListRepositories(ctx context.Context, integrationID, orgID, cursor string) (*repository.Page, error)
	GetRepository(ctx context.Context, repoID string) (*repository.Repository, error)
	// RepositoryExists maps a 404 to false rather than an error.
	RepositoryExists(ctx context.Context, repoID string) (bool, error)
	ListBranches(ctx context.Context, repoID string) ([]repository.Branch, error)
	ListRepositoryEvents(ctx context.Context, repoID string, q repository.EventQuery) ([]repository.Event, error)

	// GetOrganizationWebhookConfig returns nil, nil when the organization
	// has no webhook target configured.
	GetOrganizationWebhookConfig(ctx context.Context, orgID string) (*webhook.OrganizationConfig, error)
	RegisterWebhook(ctx context.Context, req webhook.RegisterRequest) (*webhook.Registration, error)
	ListWebhooks(ctx context.Context, integrationID, repoID string) ([]webhook.Registration, error)
	DeleteWebhook(ctx context.Context, integrationID, webhookID string) error

	RegisterEventSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Subscription, error)
	ListEventSubscriptions(ctx context.Context, repoID string) ([]subscription.Subscription, error)
	UpdateEventSubscription(ctx context.Context, id string, req subscription.UpdateRequest) (*subscription.Subscription, error)
	DeleteEventSubscription(ctx context.Context, id string) error
}

// Pinger is implemented by gateways that can report upstream reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
