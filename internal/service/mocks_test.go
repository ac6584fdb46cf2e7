package service

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

// mockGateway is an in-memory upstream.Gateway. pages is keyed by cursor.
type mockGateway struct {
	mu sync.Mutex

	config    *webhook.OrganizationConfig
	configErr error
	pages     map[string]*repository.Page
	pageErr   map[string]error
	onPage    func(cursor string)

	repos       map[string]bool
	registerErr map[string]error
	webhooks    map[string][]webhook.Registration
	subs        []subscription.Subscription

	cursors     []string
	registered  []webhook.RegisterRequest
	deleted     []string
	subsCreated []subscription.CreateRequest
	subsDeleted []string
	subsUpdated map[string]subscription.UpdateRequest
}

func (m *mockGateway) ListRepositories(_ context.Context, _, _, cursor string) (*repository.Page, error) {
	m.mu.Lock()
	m.cursors = append(m.cursors, cursor)
	m.mu.Unlock()
	if m.onPage != nil {
		m.onPage(cursor)
	}
	if err := m.pageErr[cursor]; err != nil {
		return nil, err
	}
	p, ok := m.pages[cursor]
	if !ok {
		return &repository.Page{}, nil
	}
	return p, nil
}

func (m *mockGateway) GetRepository(_ context.Context, repoID string) (*repository.Repository, error) {
	if !m.repos[repoID] {
		return nil, fmt.Errorf("repository %s: %w", repoID, domain.ErrNotFound)
	}
	return &repository.Repository{ID: repoID, Name: repoID}, nil
}

func (m *mockGateway) RepositoryExists(_ context.Context, repoID string) (bool, error) {
	return m.repos[repoID], nil
}

func (m *mockGateway) ListBranches(_ context.Context, _ string) ([]repository.Branch, error) {
	return []repository.Branch{{Name: "main"}}, nil
}

func (m *mockGateway) ListRepositoryEvents(_ context.Context, _ string, _ repository.EventQuery) ([]repository.Event, error) {
	return nil, nil
}

func (m *mockGateway) GetOrganizationWebhookConfig(_ context.Context, _ string) (*webhook.OrganizationConfig, error) {
	return m.config, m.configErr
}

func (m *mockGateway) RegisterWebhook(_ context.Context, req webhook.RegisterRequest) (*webhook.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, req)
	if err := m.registerErr[req.RepositoryID]; err != nil {
		return nil, err
	}
	return &webhook.Registration{ID: "wh-" + req.RepositoryID, RepositoryID: req.RepositoryID, URL: req.TargetURL}, nil
}

func (m *mockGateway) ListWebhooks(_ context.Context, _, repoID string) ([]webhook.Registration, error) {
	return m.webhooks[repoID], nil
}

func (m *mockGateway) DeleteWebhook(_ context.Context, _, webhookID string) error {
	m.deleted = append(m.deleted, webhookID)
	return nil
}

func (m *mockGateway) RegisterEventSubscription(_ context.Context, req subscription.CreateRequest) (*subscription.Subscription, error) {
	m.subsCreated = append(m.subsCreated, req)
	return &subscription.Subscription{
		ID:           "sub-1",
		RepositoryID: req.RepositoryID,
		EventTypes:   req.EventTypes,
		CallbackURL:  req.CallbackURL,
		Active:       req.Active,
	}, nil
}

func (m *mockGateway) ListEventSubscriptions(_ context.Context, repoID string) ([]subscription.Subscription, error) {
	var out []subscription.Subscription
	for _, s := range m.subs {
		if repoID == "" || s.RepositoryID == repoID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockGateway) UpdateEventSubscription(_ context.Context, id string, req subscription.UpdateRequest) (*subscription.Subscription, error) {
	if m.subsUpdated == nil {
		m.subsUpdated = make(map[string]subscription.UpdateRequest)
	}
	m.subsUpdated[id] = req
	return &subscription.Subscription{ID: id, EventTypes: req.EventTypes}, nil
}

func (m *mockGateway) DeleteEventSubscription(_ context.Context, id string) error {
	m.subsDeleted = append(m.subsDeleted, id)
	return nil
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}

type mockQueue struct {
	mu       sync.Mutex
	subjects []string
	data     [][]byte
	err      error
	subErr   error
	handlers map[string]messagequeue.Handler
	stopped  int
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subject)
	m.data = append(m.data, data)
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return nil, m.subErr
	}
	if m.handlers == nil {
		m.handlers = make(map[string]messagequeue.Handler)
	}
	m.handlers[subject] = h
	return func() {
		m.mu.Lock()
		m.stopped++
		m.mu.Unlock()
	}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }
