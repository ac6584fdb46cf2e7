package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Strob0t/scmrelay/internal/domain/registration"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/port/broadcast"
	"github.com/Strob0t/scmrelay/internal/port/messagequeue"
)

// Relay forwards accepted events to downstream consumers: the message
// queue for durable consumers and the broadcaster for live clients.
// Both sinks are optional. Delivery is best-effort; failures are logged
// and never fail the inbound request.
//
// Without Forward the broadcaster is fed directly. With Forward running,
// live clients are fed from the queue instead, so they also see events
// accepted by other instances.
type Relay struct {
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	prefix     string
	forwarding atomic.Bool
}

// NewRelay creates a Relay. queue and hub may be nil.
func NewRelay(queue messagequeue.Queue, hub broadcast.Broadcaster, prefix string) *Relay {
	return &Relay{queue: queue, hub: hub, prefix: prefix}
}

// Event relays a normalized event. Upstream events go to
// "<prefix>.events.<kind>", SCM deliveries to "<prefix>.webhooks.<kind>".
func (r *Relay) Event(ctx context.Context, ev *subscription.Event) {
	if r == nil || ev == nil {
		return
	}
	group := messagequeue.SubjectEvents
	if ev.Source == SourceSCM {
		group = messagequeue.SubjectWebhooks
	}
	r.publish(ctx, r.prefix+"."+group+"."+string(ev.Kind), ev)
	if r.hub != nil && !r.forwarding.Load() {
		r.hub.BroadcastEvent(ctx, string(ev.Kind), ev)
	}
}

// Summary announces a finished bulk registration run.
func (r *Relay) Summary(ctx context.Context, s *registration.Summary) {
	if r == nil || s == nil {
		return
	}
	r.publish(ctx, r.prefix+"."+messagequeue.SubjectRegistration, s)
	if r.hub != nil && !r.forwarding.Load() {
		r.hub.BroadcastEvent(ctx, messagequeue.SubjectRegistration, s)
	}
}

func (r *Relay) publish(ctx context.Context, subject string, v any) {
	if r.queue == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "relay marshal failed", "subject", subject, "error", err)
		return
	}
	if err := r.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "relay publish failed", "subject", subject, "error", err)
	}
}

// Forward subscribes to the relayed subjects and broadcasts what arrives.
// It is a no-op without both a queue and a broadcaster. The returned stop
// function ends the subscriptions and restores direct broadcasting.
func (r *Relay) Forward(ctx context.Context) (stop func(), err error) {
	if r == nil || r.queue == nil || r.hub == nil {
		return func() {}, nil
	}

	subjects := []string{
		r.prefix + "." + messagequeue.SubjectEvents + ".>",
		r.prefix + "." + messagequeue.SubjectWebhooks + ".>",
		r.prefix + "." + messagequeue.SubjectRegistration,
	}
	var stops []func()
	stopAll := func() {
		for _, s := range stops {
			s()
		}
	}
	for _, subject := range subjects {
		s, err := r.queue.Subscribe(ctx, subject, r.forward)
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("relay subscribe %s: %w", subject, err)
		}
		stops = append(stops, s)
	}

	r.forwarding.Store(true)
	slog.InfoContext(ctx, "relay forwarding queue to live clients", "subjects", subjects)
	return func() {
		r.forwarding.Store(false)
		stopAll()
	}, nil
}

// forward broadcasts one queued message under its event kind.
func (r *Relay) forward(ctx context.Context, subject string, data []byte) error {
	if strings.HasSuffix(subject, ".dlq") {
		return nil
	}
	kind := strings.TrimPrefix(subject, r.prefix+".")
	for _, group := range []string{messagequeue.SubjectEvents, messagequeue.SubjectWebhooks} {
		if rest, ok := strings.CutPrefix(kind, group+"."); ok {
			kind = rest
			break
		}
	}
	r.hub.BroadcastEvent(ctx, kind, json.RawMessage(data))
	return nil
}
