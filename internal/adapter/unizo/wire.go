package unizo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/domain/webhook"
)

// repositoryPage mirrors GET /organizations/{org}/repositories.
type repositoryPage struct {
	Items      []repository.Repository `json:"items"`
	Pagination struct {
		Next json.RawMessage `json:"next"`
	} `json:"pagination"`
}

// cursor normalizes pagination.next. The upstream sends a page number,
// a string token or null.
func cursor(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case 't', 'f', '{', '[':
		return "", fmt.Errorf("unexpected pagination.next %s", raw)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		if i, err := n.Int64(); err == nil {
			if i <= 0 {
				return "", nil
			}
			return strconv.FormatInt(i, 10), nil
		}
		return n.String(), nil
	}
}

// orgConfiguration is one entry of GET /organizations/{org}/configurations.
type orgConfiguration struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// watchBody is the create payload for a repository watch.
type watchBody struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        string        `json:"type"`
	Resource    watchResource `json:"resource"`
}

type watchResource struct {
	Type         string      `json:"type"`
	Repository   idRef       `json:"repository"`
	Organization idRef       `json:"organization"`
	Config       watchConfig `json:"config"`
}

type idRef struct {
	ID string `json:"id"`
}

type watchConfig struct {
	URL                string `json:"url"`
	SecuredSSLRequired bool   `json:"securedSSLRequired"`
	ContentType        string `json:"contentType"`
	Secret             string `json:"secret,omitempty"` //nolint:gosec // G117: field name, not a hardcoded secret
}

func newWatchBody(req webhook.RegisterRequest) watchBody {
	contentType := req.ContentType
	if contentType == "" {
		contentType = webhook.DefaultContentType
	}
	return watchBody{
		Name:        req.RepositoryID + "-watch",
		Description: "Watch for " + displayName(req) + " repository",
		Type:        "HOOK",
		Resource: watchResource{
			Type:         "REPOSITORY",
			Repository:   idRef{ID: req.RepositoryID},
			Organization: idRef{ID: req.OrganizationID},
			Config: watchConfig{
				URL:                req.TargetURL,
				SecuredSSLRequired: req.SecuredSSLRequired,
				ContentType:        contentType,
				Secret:             req.Secret,
			},
		},
	}
}

func displayName(req webhook.RegisterRequest) string {
	if req.RepositoryName != "" {
		return req.RepositoryName
	}
	return req.RepositoryID
}

// watch mirrors a watch as returned by the upstream.
type watch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Resource struct {
		Repository idRef `json:"repository"`
		Config     struct {
			URL string `json:"url"`
		} `json:"config"`
	} `json:"resource"`
}

func (w watch) registration() webhook.Registration {
	return webhook.Registration{
		ID:           w.ID,
		Name:         w.Name,
		Status:       w.Status,
		RepositoryID: w.Resource.Repository.ID,
		URL:          w.Resource.Config.URL,
	}
}

// subscriptionWire is the upstream event-subscription shape.
type subscriptionWire struct {
	ID           string                   `json:"id,omitempty"`
	RepositoryID string                   `json:"repository_id"`
	EventTypes   []subscription.EventKind `json:"event_types"`
	CallbackURL  string                   `json:"callback_url"`
	Secret       string                   `json:"secret,omitempty"` //nolint:gosec // G117: field name, not a hardcoded secret
	Active       bool                     `json:"active"`
}

func (s subscriptionWire) subscription() subscription.Subscription {
	return subscription.Subscription{
		ID:           s.ID,
		RepositoryID: s.RepositoryID,
		EventTypes:   s.EventTypes,
		CallbackURL:  s.CallbackURL,
		Active:       s.Active,
	}
}

// decodeList accepts either a bare JSON array or an object wrapping the
// array in "items" or "data".
func decodeList[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var out []T
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var wrapped struct {
		Items []T `json:"items"`
		Data  []T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Items != nil {
		return wrapped.Items, nil
	}
	return wrapped.Data, nil
}
