package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/scmrelay/internal/adapter/otel"
	"github.com/Strob0t/scmrelay/internal/domain"
	"github.com/Strob0t/scmrelay/internal/domain/registration"
	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/domain/webhook"
	"github.com/Strob0t/scmrelay/internal/port/upstream"
	"github.com/Strob0t/scmrelay/internal/resilience"
)

// ErrNotConfigured is returned when an organization has no webhook target.
// It wraps domain.ErrNotFound.
var ErrNotConfigured = fmt.Errorf("no %s configuration found for this organization: %w", webhook.ConfigTypeWatchHook, domain.ErrNotFound)

// RegistrationConfig tunes a RegistrationService.
type RegistrationConfig struct {
	// Concurrency bounds parallel registrations within one page.
	Concurrency int
	// RunTimeout aborts a bulk run early; 0 means no deadline.
	RunTimeout time.Duration
	// Organization is used for single-repository registrations.
	Organization string
	// WebhookURL and WebhookSecret describe this service's own SCM
	// webhook endpoint, the target of single-repository registrations.
	WebhookURL    string
	WebhookSecret string
}

// RegistrationService registers repository webhooks upstream, either for a
// whole organization in one paginated pass or one repository at a time.
type RegistrationService struct {
	gw      upstream.Gateway
	relay   *Relay
	metrics *cfotel.Metrics
	cfg     RegistrationConfig
}

// NewRegistrationService creates a RegistrationService. relay and metrics may be nil.
func NewRegistrationService(gw upstream.Gateway, relay *Relay, metrics *cfotel.Metrics, cfg RegistrationConfig) *RegistrationService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &RegistrationService{gw: gw, relay: relay, metrics: metrics, cfg: cfg}
}

// RegisterOrganization registers a webhook on every repository of orgID.
//
// Per-repository failures are counted in the summary and never abort the
// run. A missing organization config returns ErrNotConfigured before any
// registration is attempted; config and page fetch failures are returned
// as errors. The run is detached from ctx cancellation and bounded only by
// RunTimeout; when that expires, or the upstream circuit opens between
// pages, the partial summary is returned with Incomplete set.
func (s *RegistrationService) RegisterOrganization(ctx context.Context, integrationID, orgID string) (*registration.Summary, error) {
	ctx, span := cfotel.StartRegistrationSpan(ctx, orgID, integrationID)
	defer span.End()

	runCtx := context.WithoutCancel(ctx)
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.RunTimeout)
		defer cancel()
	}

	log := slog.With("organization_id", orgID, "integration_id", integrationID)
	log.InfoContext(ctx, "starting webhook registration")

	cfg, err := s.gw.GetOrganizationWebhookConfig(runCtx, orgID)
	if err != nil {
		s.countRun(ctx, "error")
		return nil, fmt.Errorf("fetch webhook config: %w", err)
	}
	if cfg == nil {
		log.WarnContext(ctx, "organization has no webhook configuration")
		s.countRun(ctx, "not_configured")
		return nil, ErrNotConfigured
	}

	summary := &registration.Summary{OrganizationID: orgID}
	seen := make(map[string]bool)
	cursor := ""
	for {
		if runCtx.Err() != nil {
			summary.Incomplete = true
			break
		}

		page, err := s.gw.ListRepositories(runCtx, integrationID, orgID, cursor)
		if err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				summary.Incomplete = true
				break
			}
			// Failed registrations can open the shared breaker. The run
			// ends there and keeps what it has.
			if errors.Is(err, resilience.ErrCircuitOpen) {
				log.WarnContext(ctx, "upstream circuit open, stopping registration", "cursor", cursor)
				summary.Incomplete = true
				break
			}
			span.RecordError(err)
			s.countRun(ctx, "error")
			return nil, fmt.Errorf("fetch repositories page %q: %w", cursor, err)
		}
		log.InfoContext(ctx, "retrieved repositories page", "cursor", cursor, "count", len(page.Items), "has_next", page.HasNext())

		for _, o := range s.registerPage(runCtx, integrationID, orgID, cfg, page.Items) {
			summary.Record(o)
			s.countOutcome(ctx, o)
			if o.OK() {
				log.InfoContext(ctx, "registered webhook", "repository_id", o.RepositoryID, "repository", o.Name, "webhook_id", o.WebhookID)
			} else {
				log.ErrorContext(ctx, "webhook registration failed", "repository_id", o.RepositoryID, "repository", o.Name, "error", o.Err)
			}
		}

		if !page.HasNext() {
			break
		}
		seen[cursor] = true
		cursor = page.NextCursor
		if seen[cursor] {
			log.WarnContext(ctx, "repository listing revisited a cursor, stopping", "cursor", cursor)
			break
		}
	}

	result := "completed"
	if summary.Incomplete {
		result = "incomplete"
	}
	s.countRun(ctx, result)
	span.SetAttributes(
		attribute.Int("registration.total", summary.TotalRepositories),
		attribute.Int("registration.failed", summary.Failed),
	)
	log.InfoContext(ctx, "webhook registration finished",
		"total", summary.TotalRepositories,
		"registered", summary.Registered,
		"failed", summary.Failed,
		"incomplete", summary.Incomplete,
	)
	s.relay.Summary(ctx, summary)
	return summary, nil
}

// registerPage registers every repository of one page with bounded
// parallelism and returns outcomes in page order.
func (s *RegistrationService) registerPage(ctx context.Context, integrationID, orgID string, cfg *webhook.OrganizationConfig, repos []repository.Repository) []registration.Outcome {
	outcomes := make([]registration.Outcome, len(repos))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, repo := range repos {
		g.Go(func() error {
			o := registration.Outcome{RepositoryID: repo.ID, Name: repo.DisplayName()}
			reg, err := s.gw.RegisterWebhook(ctx, webhook.RegisterRequest{
				IntegrationID:      integrationID,
				RepositoryID:       repo.ID,
				RepositoryName:     repo.DisplayName(),
				OrganizationID:     orgID,
				TargetURL:          cfg.URL,
				ContentType:        cfg.ContentType(),
				SecuredSSLRequired: cfg.SecuredSSLRequired(),
			})
			if err != nil {
				o.Err = err
			} else {
				o.WebhookID = reg.ID
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// RegisterRepository registers this service's webhook endpoint on one
// repository. It fails with domain.ErrNotFound for an unknown repository
// and domain.ErrConflict when a webhook with the same target exists.
func (s *RegistrationService) RegisterRepository(ctx context.Context, integrationID, repoID string) (*webhook.Registration, error) {
	if err := s.requireRepository(ctx, repoID); err != nil {
		return nil, err
	}

	existing, err := s.gw.ListWebhooks(ctx, integrationID, repoID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	for _, h := range existing {
		if h.URL == s.cfg.WebhookURL {
			return nil, fmt.Errorf("webhook %s already targets %s: %w", h.ID, h.URL, domain.ErrConflict)
		}
	}

	reg, err := s.gw.RegisterWebhook(ctx, webhook.RegisterRequest{
		IntegrationID:  integrationID,
		RepositoryID:   repoID,
		OrganizationID: s.cfg.Organization,
		TargetURL:      s.cfg.WebhookURL,
		Secret:         s.cfg.WebhookSecret,
		ContentType:    webhook.DefaultContentType,
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "webhook registered", "repository_id", repoID, "webhook_id", reg.ID)
	return reg, nil
}

// ListWebhooks lists the webhooks registered on one repository.
func (s *RegistrationService) ListWebhooks(ctx context.Context, integrationID, repoID string) ([]webhook.Registration, error) {
	if err := s.requireRepository(ctx, repoID); err != nil {
		return nil, err
	}
	return s.gw.ListWebhooks(ctx, integrationID, repoID)
}

// DeleteWebhook removes one webhook from a repository.
func (s *RegistrationService) DeleteWebhook(ctx context.Context, integrationID, repoID, webhookID string) error {
	if err := s.requireRepository(ctx, repoID); err != nil {
		return err
	}
	if err := s.gw.DeleteWebhook(ctx, integrationID, webhookID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "webhook deleted", "repository_id", repoID, "webhook_id", webhookID)
	return nil
}

func (s *RegistrationService) requireRepository(ctx context.Context, repoID string) error {
	ok, err := s.gw.RepositoryExists(ctx, repoID)
	if err != nil {
		return fmt.Errorf("check repository %s: %w", repoID, err)
	}
	if !ok {
		return fmt.Errorf("repository %s: %w", repoID, domain.ErrNotFound)
	}
	return nil
}

func (s *RegistrationService) countRun(ctx context.Context, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RegistrationRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (s *RegistrationService) countOutcome(ctx context.Context, o registration.Outcome) {
	if s.metrics == nil {
		return
	}
	result := "registered"
	if !o.OK() {
		result = "failed"
	}
	s.metrics.RegistrationOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
