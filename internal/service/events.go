package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/scmrelay/internal/adapter/otel"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
)

// Event sources.
const (
	SourceUnizo = "unizo"
	SourceSCM   = "scm"
)

// ErrInvalidPayload marks a signed delivery whose body cannot be processed.
// It is a processing failure, not a client validation error, and surfaces
// as 500 so the sender retries.
var ErrInvalidPayload = errors.New("invalid event payload")

// eventPayload is the subset of an upstream event body the handlers read.
type eventPayload struct {
	Repository *struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"fullName"`
	} `json:"repository"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
	Branch  *struct {
		Name string `json:"name"`
	} `json:"branch"`
	Commit *struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
	} `json:"commit"`
}

func (p *eventPayload) repoName() string {
	if p.Repository == nil {
		return ""
	}
	if p.Repository.FullName != "" {
		return p.Repository.FullName
	}
	return p.Repository.Name
}

type eventHandler func(ctx context.Context, p *eventPayload) error

// EventService dispatches signed upstream events by kind and relays the
// normalized result.
type EventService struct {
	relay    *Relay
	metrics  *cfotel.Metrics
	handlers map[subscription.EventKind]eventHandler
	now      func() time.Time
}

// NewEventService creates an EventService. relay and metrics may be nil.
func NewEventService(relay *Relay, metrics *cfotel.Metrics) *EventService {
	s := &EventService{relay: relay, metrics: metrics, now: time.Now}
	s.handlers = map[subscription.EventKind]eventHandler{
		subscription.KindRepositoryCreated:  s.handleRepositoryCreated,
		subscription.KindRepositoryRenamed:  s.handleRepositoryRenamed,
		subscription.KindRepositoryDeleted:  s.handleRepositoryDeleted,
		subscription.KindRepositoryArchived: s.handleRepositoryArchived,
		subscription.KindBranchCreated:      s.handleBranchCreated,
		subscription.KindCommitPushed:       s.handleCommitPushed,
	}
	return s
}

// HandleEvent processes one verified event. Unknown kinds are logged and
// accepted; the returned event is nil for them.
func (s *EventService) HandleEvent(ctx context.Context, eventType string, payload []byte) (*subscription.Event, error) {
	kind := subscription.EventKind(eventType)
	ctx, span := cfotel.StartEventSpan(ctx, SourceUnizo, eventType)
	defer span.End()

	handler, ok := s.handlers[kind]
	if !ok {
		slog.WarnContext(ctx, "unhandled event type", "event_type", eventType)
		s.count(ctx, eventType, "ignored")
		return nil, nil
	}

	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.count(ctx, eventType, "invalid")
		return nil, fmt.Errorf("decode %s payload: %w: %w", eventType, ErrInvalidPayload, err)
	}
	if p.Repository == nil {
		s.count(ctx, eventType, "invalid")
		return nil, fmt.Errorf("%s payload has no repository: %w", eventType, ErrInvalidPayload)
	}

	if err := handler(ctx, &p); err != nil {
		span.RecordError(err)
		s.count(ctx, eventType, "failed")
		return nil, fmt.Errorf("handle %s: %w", eventType, err)
	}

	ev := &subscription.Event{
		ID:           uuid.NewString(),
		Kind:         kind,
		Source:       SourceUnizo,
		RepositoryID: p.Repository.ID,
		ReceivedAt:   s.now().UTC(),
		Payload:      json.RawMessage(payload),
	}
	s.relay.Event(ctx, ev)
	s.count(ctx, eventType, "handled")
	return ev, nil
}

func (s *EventService) count(ctx context.Context, kind, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.EventsHandled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.source", SourceUnizo),
		attribute.String("event.kind", kind),
		attribute.String("result", result),
	))
}

func (s *EventService) handleRepositoryCreated(ctx context.Context, p *eventPayload) error {
	slog.InfoContext(ctx, "repository created", "repository", p.repoName(), "repository_id", p.Repository.ID)
	return nil
}

func (s *EventService) handleRepositoryRenamed(ctx context.Context, p *eventPayload) error {
	slog.InfoContext(ctx, "repository renamed", "from", p.OldName, "to", p.NewName, "repository_id", p.Repository.ID)
	return nil
}

func (s *EventService) handleRepositoryDeleted(ctx context.Context, p *eventPayload) error {
	slog.InfoContext(ctx, "repository deleted", "repository", p.repoName(), "repository_id", p.Repository.ID)
	return nil
}

func (s *EventService) handleRepositoryArchived(ctx context.Context, p *eventPayload) error {
	slog.InfoContext(ctx, "repository archived", "repository", p.repoName(), "repository_id", p.Repository.ID)
	return nil
}

func (s *EventService) handleBranchCreated(ctx context.Context, p *eventPayload) error {
	if p.Branch == nil || p.Branch.Name == "" {
		return fmt.Errorf("branch name missing: %w", ErrInvalidPayload)
	}
	slog.InfoContext(ctx, "branch created", "branch", p.Branch.Name, "repository", p.repoName())
	return nil
}

func (s *EventService) handleCommitPushed(ctx context.Context, p *eventPayload) error {
	attrs := []any{"repository", p.repoName()}
	if p.Commit != nil {
		attrs = append(attrs, "sha", p.Commit.SHA)
	}
	slog.InfoContext(ctx, "commit pushed", attrs...)
	return nil
}
