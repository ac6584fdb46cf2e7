// Package webhook defines domain types for per-repository webhook
// registrations and inbound SCM webhook events.
package webhook

import (
	"fmt"
	"strings"

	"github.com/Strob0t/scmrelay/internal/domain"
)

// ConfigTypeWatchHook is the organization configuration entry that holds
// the webhook target.
const ConfigTypeWatchHook = "SCM_WATCH_HOOK"

// DefaultContentType is used when the organization config does not set one.
const DefaultContentType = "application/json"

// OrganizationConfig is the webhook target an organization has configured.
// A nil *OrganizationConfig means the organization is not configured.
type OrganizationConfig struct {
	URL   string         `json:"url"`
	Extra map[string]any `json:"extra,omitempty"`
}

// SecuredSSLRequired reports the optional TLS flag carried in Extra.
func (c *OrganizationConfig) SecuredSSLRequired() bool {
	if c == nil {
		return false
	}
	v, _ := c.Extra["securedSSLRequired"].(bool)
	return v
}

// ContentType returns the configured payload content type.
func (c *OrganizationConfig) ContentType() string {
	if c != nil {
		if v, ok := c.Extra["contentType"].(string); ok && v != "" {
			return v
		}
	}
	return DefaultContentType
}

// RegisterRequest describes one webhook to create upstream.
type RegisterRequest struct {
	IntegrationID      string `json:"integrationId"`
	RepositoryID       string `json:"repositoryId"`
	RepositoryName     string `json:"repositoryName,omitempty"`
	OrganizationID     string `json:"organizationId"`
	TargetURL          string `json:"url"`
	Secret             string `json:"-"`
	ContentType        string `json:"contentType"`
	SecuredSSLRequired bool   `json:"securedSSLRequired"`
}

// Validate checks the fields the upstream requires.
func (r RegisterRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.IntegrationID) == "":
		return fmt.Errorf("integration id is required: %w", domain.ErrValidation)
	case strings.TrimSpace(r.RepositoryID) == "":
		return fmt.Errorf("repository id is required: %w", domain.ErrValidation)
	case strings.TrimSpace(r.TargetURL) == "":
		return fmt.Errorf("target url is required: %w", domain.ErrValidation)
	}
	return nil
}

// Registration is a webhook ("watch") as recorded upstream.
type Registration struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Status       string `json:"status,omitempty"`
	RepositoryID string `json:"repositoryId,omitempty"`
	URL          string `json:"url,omitempty"`
}
