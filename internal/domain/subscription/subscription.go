// Package subscription defines upstream event subscriptions and the
// event kinds the relay understands.
package subscription

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Strob0t/scmrelay/internal/domain"
)

// EventKind is an upstream event selector such as "repository:created".
type EventKind string

const (
	KindRepositoryCreated  EventKind = "repository:created"
	KindRepositoryRenamed  EventKind = "repository:renamed"
	KindRepositoryDeleted  EventKind = "repository:deleted"
	KindRepositoryArchived EventKind = "repository:archived"
	KindBranchCreated      EventKind = "branch:created"
	KindCommitPushed       EventKind = "commit:pushed"
)

// DefaultKinds is the set subscribed to when the caller does not choose.
var DefaultKinds = []EventKind{
	KindRepositoryCreated,
	KindRepositoryRenamed,
	KindRepositoryDeleted,
	KindRepositoryArchived,
	KindBranchCreated,
	KindCommitPushed,
}

// Known reports whether k is one of the dispatched kinds.
func (k EventKind) Known() bool {
	return slices.Contains(DefaultKinds, k)
}

// Subscription is an event subscription recorded upstream.
type Subscription struct {
	ID           string      `json:"id"`
	RepositoryID string      `json:"repository_id"`
	EventTypes   []EventKind `json:"event_types"`
	CallbackURL  string      `json:"callback_url"`
	Secret       string      `json:"-"`
	Active       bool        `json:"active"`
}

// CreateRequest holds the fields needed to create a subscription.
type CreateRequest struct {
	RepositoryID string      `json:"repository_id"`
	EventTypes   []EventKind `json:"event_types"`
	CallbackURL  string      `json:"callback_url"`
	Secret       string      `json:"secret"` //nolint:gosec // G117: field name, not a hardcoded secret
	Active       bool        `json:"active"`
}

// Validate checks required fields and rejects unknown kinds.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.RepositoryID) == "" {
		return fmt.Errorf("repository id is required: %w", domain.ErrValidation)
	}
	if r.CallbackURL == "" {
		return fmt.Errorf("callback url is required: %w", domain.ErrValidation)
	}
	return validateKinds(r.EventTypes)
}

// UpdateRequest carries a partial update. Nil fields are left unchanged.
type UpdateRequest struct {
	EventTypes []EventKind `json:"event_types,omitempty"`
	Active     *bool       `json:"active,omitempty"`
}

// Validate rejects empty updates and unknown kinds.
func (r UpdateRequest) Validate() error {
	if r.EventTypes == nil && r.Active == nil {
		return fmt.Errorf("nothing to update: %w", domain.ErrValidation)
	}
	return validateKinds(r.EventTypes)
}

func validateKinds(kinds []EventKind) error {
	for _, k := range kinds {
		if !k.Known() {
			return fmt.Errorf("unknown event type %q: %w", k, domain.ErrValidation)
		}
	}
	return nil
}

// Event is the normalized envelope produced for every accepted inbound
// event and relayed to downstream consumers.
type Event struct {
	ID           string          `json:"id"`
	Kind         EventKind       `json:"kind"`
	Source       string          `json:"source"` // "unizo" or "scm"
	RepositoryID string          `json:"repository_id,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
	Payload      json.RawMessage `json:"payload"`
}
