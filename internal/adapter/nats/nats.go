// Package nats implements the message queue port using NATS JetStream.
// Relayed events land on a single stream covering "<prefix>.>".
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/scmrelay/internal/logger"
	"github.com/Strob0t/scmrelay/internal/port/messagequeue"
)

const (
	headerRequestID = "X-Request-ID"
	// maxDeliver is how often a message is offered before it is parked
	// on "<subject>.dlq".
	maxDeliver = 5
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect dials NATS and ensures a stream named after prefix exists.
func Connect(ctx context.Context, url, prefix string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("scmrelay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	stream := strings.ToUpper(strings.ReplaceAll(prefix, ".", "_"))
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{prefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Queue{nc: nc, js: js, stream: stream}, nil
}

// JetStream exposes the JetStream context for KV buckets.
func (q *Queue) JetStream() jetstream.JetStream { return q.js }

// Publish validates data against the subject's schema and sends it.
// The request ID in ctx travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return q.publish(ctx, subject, data)
}

func (q *Queue) publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on subject. Failed messages
// are redelivered up to maxDeliver times, then copied to subject+".dlq".
// Messages that fail schema validation go to the dead letter subject at once.
// The consumer is ephemeral and starts at new messages, so every instance
// sees every message published after it subscribed.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	ctx := context.Background()
	if id := msg.Headers().Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}

	if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
		slog.ErrorContext(ctx, "invalid message", "subject", msg.Subject(), "error", err)
		q.deadLetter(ctx, msg)
		return
	}

	err := handler(ctx, msg.Subject(), msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(ctx, "nats ack failed", "error", ackErr)
		}
		return
	}

	slog.ErrorContext(ctx, "message handler failed", "subject", msg.Subject(), "error", err)
	if meta, metaErr := msg.Metadata(); metaErr == nil && meta.NumDelivered >= maxDeliver {
		q.deadLetter(ctx, msg)
		return
	}
	if nakErr := msg.Nak(); nakErr != nil {
		slog.ErrorContext(ctx, "nats nak failed", "error", nakErr)
	}
}

func (q *Queue) deadLetter(ctx context.Context, msg jetstream.Msg) {
	dlq := msg.Subject() + ".dlq"
	if err := q.publish(ctx, dlq, msg.Data()); err != nil {
		slog.ErrorContext(ctx, "dead letter publish failed", "subject", dlq, "error", err)
	}
	if err := msg.Term(); err != nil {
		slog.ErrorContext(ctx, "nats term failed", "error", err)
	}
}

// Drain flushes pending messages and closes the connection.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
