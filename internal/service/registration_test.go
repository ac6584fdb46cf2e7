package service

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Strob0t/scmrelay/internal/domain"
	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/domain/webhook"
	"github.com/Strob0t/scmrelay/internal/resilience"
)

var testOrgConfig = &webhook.OrganizationConfig{
	URL:   "https://hooks.example.com/scm",
	Extra: map[string]any{"securedSSLRequired": true},
}

func repos(ids ...string) []repository.Repository {
	out := make([]repository.Repository, len(ids))
	for i, id := range ids {
		out[i] = repository.Repository{ID: id, Name: id}
	}
	return out
}

func newRegistrationService(gw *mockGateway, cfg RegistrationConfig) *RegistrationService {
	return NewRegistrationService(gw, nil, nil, cfg)
}

func TestRegisterOrganizationPartialFailure(t *testing.T) {
	gw := &mockGateway{
		config: testOrgConfig,
		pages:  map[string]*repository.Page{"": {Items: repos("r1", "r2")}},
		registerErr: map[string]error{
			"r2": &resilience.UpstreamError{Method: "POST", Path: "/watches", Status: 500, Attempts: 4},
		},
	}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 2})

	s, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalRepositories != 2 || s.Registered != 1 || s.Failed != 1 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.OrganizationID != "org-1" {
		t.Fatalf("expected org-1, got %q", s.OrganizationID)
	}
	if !s.Consistent() {
		t.Fatal("summary counters do not add up")
	}
	for _, req := range gw.registered {
		if req.TargetURL != testOrgConfig.URL {
			t.Errorf("expected target %s, got %s", testOrgConfig.URL, req.TargetURL)
		}
		if !req.SecuredSSLRequired {
			t.Error("expected securedSSLRequired to be carried from config")
		}
		if req.IntegrationID != "int-1" || req.OrganizationID != "org-1" {
			t.Errorf("unexpected ids in %+v", req)
		}
	}
}

func TestRegisterOrganizationNotConfigured(t *testing.T) {
	gw := &mockGateway{pages: map[string]*repository.Page{"": {Items: repos("r1")}}}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 1})

	s, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("ErrNotConfigured should wrap ErrNotFound")
	}
	if s != nil {
		t.Fatalf("expected nil summary, got %+v", s)
	}
	if len(gw.registered) != 0 || len(gw.cursors) != 0 {
		t.Fatalf("expected no upstream calls, got %d registrations, %d pages", len(gw.registered), len(gw.cursors))
	}
}

func TestRegisterOrganizationConfigError(t *testing.T) {
	gw := &mockGateway{configErr: &resilience.UpstreamError{Status: 503}}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 1})

	_, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1")
	var ue *resilience.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}

func TestRegisterOrganizationPagination(t *testing.T) {
	gw := &mockGateway{
		config: testOrgConfig,
		pages: map[string]*repository.Page{
			"":   {Items: repos("a", "b"), NextCursor: "p2"},
			"p2": {Items: repos("c"), NextCursor: "p3"},
			"p3": {Items: repos("d", "e")},
		},
	}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 4})

	s, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalRepositories != 5 || s.Registered != 5 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if want := []string{"", "p2", "p3"}; !slices.Equal(gw.cursors, want) {
		t.Fatalf("expected cursors %v, got %v", want, gw.cursors)
	}
}

func TestRegisterOrganizationPageErrorPropagates(t *testing.T) {
	gw := &mockGateway{
		config:  testOrgConfig,
		pages:   map[string]*repository.Page{"": {Items: repos("a"), NextCursor: "p2"}},
		pageErr: map[string]error{"p2": errors.New("connection reset")},
	}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 1})

	if _, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1"); err == nil {
		t.Fatal("expected page fetch error")
	}
}

func TestRegisterOrganizationRepeatedCursorStops(t *testing.T) {
	gw := &mockGateway{
		config: testOrgConfig,
		pages: map[string]*repository.Page{
			"":   {Items: repos("a"), NextCursor: "p2"},
			"p2": {Items: repos("b"), NextCursor: "p2"},
		},
	}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 1})

	s, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.cursors) != 2 {
		t.Fatalf("expected 2 page fetches, got %v", gw.cursors)
	}
	if s.TotalRepositories != 2 {
		t.Fatalf("expected 2 repositories, got %d", s.TotalRepositories)
	}
}

func TestRegisterOrganizationDeadline(t *testing.T) {
	gw := &mockGateway{
		config: testOrgConfig,
		pages: map[string]*repository.Page{
			"":   {Items: repos("a", "b"), NextCursor: "p2"},
			"p2": {Items: repos("c")},
		},
		onPage: func(cursor string) {
			if cursor == "" {
				time.Sleep(50 * time.Millisecond)
			}
		},
	}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 2, RunTimeout: 10 * time.Millisecond})

	s, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Incomplete {
		t.Fatal("expected incomplete summary")
	}
	if s.TotalRepositories != 2 || !s.Consistent() {
		t.Fatalf("unexpected partial summary %+v", s)
	}
	if slices.Contains(gw.cursors, "p2") {
		t.Fatal("second page should not be fetched after the deadline")
	}
}

func TestRegisterOrganizationDetachedFromCaller(t *testing.T) {
	gw := &mockGateway{
		config: testOrgConfig,
		pages:  map[string]*repository.Page{"": {Items: repos("a")}},
	}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := svc.RegisterOrganization(ctx, "int-1", "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Registered != 1 || s.Incomplete {
		t.Fatalf("expected the run to complete, got %+v", s)
	}
}

func TestRegisterOrganizationRelaysSummary(t *testing.T) {
	q := &mockQueue{}
	bc := &mockBroadcaster{}
	gw := &mockGateway{
		config: testOrgConfig,
		pages:  map[string]*repository.Page{"": {Items: repos("a")}},
	}
	svc := NewRegistrationService(gw, NewRelay(q, bc, "scm"), nil, RegistrationConfig{Concurrency: 1})

	if _, err := svc.RegisterOrganization(context.Background(), "int-1", "org-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.subjects) != 1 || q.subjects[0] != "scm.registration.completed" {
		t.Fatalf("unexpected subjects %v", q.subjects)
	}
	var got map[string]any
	if err := json.Unmarshal(q.data[0], &got); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if got["organizationId"] != "org-1" {
		t.Fatalf("unexpected payload %v", got)
	}
	if len(bc.events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(bc.events))
	}
}

func TestRegisterRepository(t *testing.T) {
	gw := &mockGateway{repos: map[string]bool{"r1": true}}
	svc := newRegistrationService(gw, RegistrationConfig{
		Concurrency:   1,
		Organization:  "org-1",
		WebhookURL:    "https://relay.example.com/webhook",
		WebhookSecret: "hub-secret",
	})

	reg, err := svc.RegisterRepository(context.Background(), "int-1", "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.ID != "wh-r1" {
		t.Fatalf("expected wh-r1, got %q", reg.ID)
	}
	req := gw.registered[0]
	if req.TargetURL != "https://relay.example.com/webhook" || req.Secret != "hub-secret" || req.OrganizationID != "org-1" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestRegisterRepositoryErrors(t *testing.T) {
	target := "https://relay.example.com/webhook"
	gw := &mockGateway{
		repos: map[string]bool{"r1": true},
		webhooks: map[string][]webhook.Registration{
			"r1": {{ID: "wh-old", URL: target}},
		},
	}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 1, WebhookURL: target})

	if _, err := svc.RegisterRepository(context.Background(), "int-1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RegisterRepository(context.Background(), "int-1", "r1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(gw.registered) != 0 {
		t.Fatalf("expected no registrations, got %d", len(gw.registered))
	}
}

func TestDeleteWebhook(t *testing.T) {
	gw := &mockGateway{repos: map[string]bool{"r1": true}}
	svc := newRegistrationService(gw, RegistrationConfig{Concurrency: 1})

	if err := svc.DeleteWebhook(context.Background(), "int-1", "r1", "wh-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(gw.deleted, []string{"wh-1"}) {
		t.Fatalf("unexpected deletions %v", gw.deleted)
	}
	if err := svc.DeleteWebhook(context.Background(), "int-1", "nope", "wh-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
