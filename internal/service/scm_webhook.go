package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/scmrelay/internal/adapter/otel"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/domain/webhook"
)

// SCMWebhookService processes webhook deliveries sent by the SCM host
// (GitHub-compatible payloads). push and pull_request are parsed and
// relayed; everything else is logged and acknowledged.
type SCMWebhookService struct {
	relay *Relay
	now   func() time.Time
}

// NewSCMWebhookService creates a SCMWebhookService. relay may be nil.
func NewSCMWebhookService(relay *Relay) *SCMWebhookService {
	return &SCMWebhookService{relay: relay, now: time.Now}
}

// HandleDelivery processes one verified delivery. The returned event is
// nil for event types that are only logged.
func (s *SCMWebhookService) HandleDelivery(ctx context.Context, eventType, deliveryID string, payload []byte) (*subscription.Event, error) {
	ctx, span := cfotel.StartEventSpan(ctx, SourceSCM, eventType)
	defer span.End()

	var (
		repo string
		err  error
	)
	switch webhook.SCMEventType(eventType) {
	case webhook.SCMEventPush:
		var ev *webhook.PushEvent
		if ev, err = s.parsePush(payload); err == nil {
			repo = ev.Repository
			slog.InfoContext(ctx, "scm push", "repository", ev.Repository, "branch", ev.Branch, "sender", ev.Sender, "commits", len(ev.Commits))
		}
	case webhook.SCMEventPullRequest:
		var ev *webhook.PullRequestEvent
		if ev, err = s.parsePullRequest(payload); err == nil {
			repo = ev.Repository
			slog.InfoContext(ctx, "scm pull request", "repository", ev.Repository, "action", ev.Action, "number", ev.Number, "title", ev.Title)
		}
	default:
		slog.InfoContext(ctx, "unhandled scm event", "event_type", eventType, "delivery_id", deliveryID)
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ev := &subscription.Event{
		ID:           deliveryID,
		Kind:         subscription.EventKind(eventType),
		Source:       SourceSCM,
		RepositoryID: repo,
		ReceivedAt:   s.now().UTC(),
		Payload:      json.RawMessage(payload),
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	s.relay.Event(ctx, ev)
	return ev, nil
}

func (s *SCMWebhookService) parsePush(data []byte) (*webhook.PushEvent, error) {
	var raw struct {
		Ref        string `json:"ref"`
		Before     string `json:"before"`
		After      string `json:"after"`
		Forced     bool   `json:"forced"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Pusher struct {
			Name string `json:"name"`
		} `json:"pusher"`
		Sender struct {
			Login string `json:"login"`
		} `json:"sender"`
		Commits []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse push: %w: %w", ErrInvalidPayload, err)
	}

	sender := raw.Pusher.Name
	if sender == "" {
		sender = raw.Sender.Login
	}
	ev := &webhook.PushEvent{
		SCMEvent: webhook.SCMEvent{
			Type:       webhook.SCMEventPush,
			Repository: raw.Repository.FullName,
			Branch:     branchFromRef(raw.Ref),
			Sender:     sender,
			ReceivedAt: s.now().UTC(),
		},
		Before: raw.Before,
		After:  raw.After,
		Forced: raw.Forced,
	}
	for _, c := range raw.Commits {
		ev.Commits = append(ev.Commits, webhook.Commit{
			Hash:    c.ID,
			Message: c.Message,
			Author:  c.Author.Name,
		})
	}
	return ev, nil
}

func (s *SCMWebhookService) parsePullRequest(data []byte) (*webhook.PullRequestEvent, error) {
	var raw struct {
		Action      string `json:"action"`
		PullRequest struct {
			Number int    `json:"number"`
			Title  string `json:"title"`
			Merged bool   `json:"merged"`
			Head   struct {
				Ref string `json:"ref"`
			} `json:"head"`
			Base struct {
				Ref string `json:"ref"`
			} `json:"base"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Sender struct {
			Login string `json:"login"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse pull_request: %w: %w", ErrInvalidPayload, err)
	}

	return &webhook.PullRequestEvent{
		SCMEvent: webhook.SCMEvent{
			Type:       webhook.SCMEventPullRequest,
			Repository: raw.Repository.FullName,
			Branch:     raw.PullRequest.Head.Ref,
			Sender:     raw.Sender.Login,
			ReceivedAt: s.now().UTC(),
		},
		Action:     raw.Action,
		Number:     raw.PullRequest.Number,
		Title:      raw.PullRequest.Title,
		BaseBranch: raw.PullRequest.Base.Ref,
		HeadBranch: raw.PullRequest.Head.Ref,
		Merged:     raw.PullRequest.Merged,
	}, nil
}

// branchFromRef strips the refs/heads/ prefix: refs/heads/feature/x -> feature/x.
func branchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}
