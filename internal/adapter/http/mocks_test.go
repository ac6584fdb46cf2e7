package http

import (
	"context"
	"fmt"
	"sync"

	"github.com/Strob0t/scmrelay/internal/domain"
	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/domain/webhook"
	"github.com/Strob0t/scmrelay/internal/port/messagequeue"
)

type fakeGateway struct {
	mu          sync.Mutex
	config      *webhook.OrganizationConfig
	repos       []repository.Repository
	known       map[string]bool
	failing     map[string]bool
	subs        []subscription.Subscription
	registered  int
	pingErr     error
	lastHookReq webhook.RegisterRequest
}

func (f *fakeGateway) ListRepositories(_ context.Context, _, _, _ string) (*repository.Page, error) {
	return &repository.Page{Items: f.repos}, nil
}

func (f *fakeGateway) GetRepository(_ context.Context, id string) (*repository.Repository, error) {
	if !f.known[id] {
		return nil, domain.ErrNotFound
	}
	return &repository.Repository{ID: id}, nil
}

func (f *fakeGateway) RepositoryExists(_ context.Context, id string) (bool, error) {
	return f.known[id], nil
}

func (f *fakeGateway) ListBranches(_ context.Context, id string) ([]repository.Branch, error) {
	if !f.known[id] {
		return nil, fmt.Errorf("repository %s: %w", id, domain.ErrNotFound)
	}
	return []repository.Branch{{Name: "main"}}, nil
}

func (f *fakeGateway) ListRepositoryEvents(_ context.Context, _ string, _ repository.EventQuery) ([]repository.Event, error) {
	return []repository.Event{}, nil
}

func (f *fakeGateway) GetOrganizationWebhookConfig(_ context.Context, _ string) (*webhook.OrganizationConfig, error) {
	return f.config, nil
}

func (f *fakeGateway) RegisterWebhook(_ context.Context, req webhook.RegisterRequest) (*webhook.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	f.lastHookReq = req
	if f.failing[req.RepositoryID] {
		return nil, fmt.Errorf("register %s: upstream rejected", req.RepositoryID)
	}
	return &webhook.Registration{ID: "wh-" + req.RepositoryID, RepositoryID: req.RepositoryID, URL: req.TargetURL}, nil
}

func (f *fakeGateway) ListWebhooks(_ context.Context, _, _ string) ([]webhook.Registration, error) {
	return []webhook.Registration{}, nil
}

func (f *fakeGateway) DeleteWebhook(_ context.Context, _, _ string) error { return nil }

func (f *fakeGateway) RegisterEventSubscription(_ context.Context, req subscription.CreateRequest) (*subscription.Subscription, error) {
	return &subscription.Subscription{ID: "sub-new", RepositoryID: req.RepositoryID, EventTypes: req.EventTypes, Active: true}, nil
}

func (f *fakeGateway) ListEventSubscriptions(_ context.Context, repoID string) ([]subscription.Subscription, error) {
	var out []subscription.Subscription
	for _, s := range f.subs {
		if repoID == "" || s.RepositoryID == repoID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeGateway) UpdateEventSubscription(_ context.Context, id string, req subscription.UpdateRequest) (*subscription.Subscription, error) {
	return &subscription.Subscription{ID: id, EventTypes: req.EventTypes}, nil
}

func (f *fakeGateway) DeleteEventSubscription(_ context.Context, _ string) error { return nil }

func (f *fakeGateway) Ping(_ context.Context) error { return f.pingErr }

type fakeQueue struct {
	mu       sync.Mutex
	subjects []string
}

func (q *fakeQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.subjects...)
}
