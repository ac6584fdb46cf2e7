// Package unizo implements the upstream gateway against the Unizo
// platform REST API. Every call goes through a resilience.Client, which
// owns retries and the apikey header.
package unizo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/scmrelay/internal/domain"
	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/domain/webhook"
	"github.com/Strob0t/scmrelay/internal/port/cache"
	"github.com/Strob0t/scmrelay/internal/port/upstream"
	"github.com/Strob0t/scmrelay/internal/resilience"
)

// pageSize is the repository listing page size.
const pageSize = 100

// Sender is the subset of resilience.Client used by the gateway.
type Sender interface {
	Send(ctx context.Context, req *resilience.Request) (*resilience.Response, error)
}

// Options configures a Gateway.
type Options struct {
	AuthUserID string
	// IntegrationID and TargetOrganization are only used by Ping.
	IntegrationID      string
	TargetOrganization string
	// Cache holds organization webhook configs. Nil disables caching.
	Cache     cache.Cache
	ConfigTTL time.Duration
}

// Gateway implements upstream.Gateway.
type Gateway struct {
	client Sender
	opts   Options
}

var (
	_ upstream.Gateway = (*Gateway)(nil)
	_ upstream.Pinger  = (*Gateway)(nil)
)

// New creates a Gateway sending through client.
func New(client Sender, opts Options) *Gateway {
	return &Gateway{client: client, opts: opts}
}

// ListRepositories returns one page of an organization's repositories,
// sorted by name.
func (g *Gateway) ListRepositories(ctx context.Context, integrationID, orgID, cur string) (*repository.Page, error) {
	q := url.Values{}
	if cur != "" {
		q.Set("page", cur)
	}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("sort", "name")
	q.Set("order", "asc")

	var raw repositoryPage
	err := g.do(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   "/organizations/" + url.PathEscape(orgID) + "/repositories",
		Query:  q,
		Header: http.Header{"Integrationid": {integrationID}},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("list repositories of %s: %w", orgID, err)
	}

	next, err := cursor(raw.Pagination.Next)
	if err != nil {
		return nil, fmt.Errorf("list repositories of %s: %w", orgID, err)
	}
	// A cursor that does not advance would loop forever.
	if next != "" && next == cur {
		slog.WarnContext(ctx, "upstream returned non-advancing cursor", "organization_id", orgID, "cursor", cur)
		next = ""
	}
	return &repository.Page{Items: raw.Items, NextCursor: next}, nil
}

// GetRepository fetches a single repository.
func (g *Gateway) GetRepository(ctx context.Context, repoID string) (*repository.Repository, error) {
	var repo repository.Repository
	err := g.do(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   "/repositories/" + url.PathEscape(repoID),
	}, &repo)
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", repoID, notFound(err))
	}
	return &repo, nil
}

// RepositoryExists reports false for a 404 and propagates anything else.
func (g *Gateway) RepositoryExists(ctx context.Context, repoID string) (bool, error) {
	_, err := g.GetRepository(ctx, repoID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gateway) ListBranches(ctx context.Context, repoID string) ([]repository.Branch, error) {
	resp, err := g.send(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   "/repositories/" + url.PathEscape(repoID) + "/branches",
	})
	if err != nil {
		return nil, fmt.Errorf("list branches of %s: %w", repoID, notFound(err))
	}
	branches, err := decodeList[repository.Branch](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode branches of %s: %w", repoID, err)
	}
	return branches, nil
}

func (g *Gateway) ListRepositoryEvents(ctx context.Context, repoID string, eq repository.EventQuery) ([]repository.Event, error) {
	q := url.Values{}
	if len(eq.Types) > 0 {
		q.Set("types", strings.Join(eq.Types, ","))
	}
	if eq.StartDate != "" {
		q.Set("start_date", eq.StartDate)
	}
	if eq.EndDate != "" {
		q.Set("end_date", eq.EndDate)
	}

	resp, err := g.send(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   "/repositories/" + url.PathEscape(repoID) + "/events",
		Query:  q,
	})
	if err != nil {
		return nil, fmt.Errorf("list events of %s: %w", repoID, notFound(err))
	}
	events, err := decodeList[repository.Event](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode events of %s: %w", repoID, err)
	}
	return events, nil
}

// GetOrganizationWebhookConfig returns the SCM_WATCH_HOOK entry of the
// organization's configurations, or nil when there is none.
// Found configs are cached; absence is not.
func (g *Gateway) GetOrganizationWebhookConfig(ctx context.Context, orgID string) (*webhook.OrganizationConfig, error) {
	key := "org-config." + orgID
	if cfg, ok := g.cachedConfig(ctx, key); ok {
		return cfg, nil
	}

	resp, err := g.send(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   "/organizations/" + url.PathEscape(orgID) + "/configurations",
		Header: g.userHeader(),
	})
	if err != nil {
		return nil, fmt.Errorf("get configurations of %s: %w", orgID, err)
	}
	entries, err := decodeList[orgConfiguration](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode configurations of %s: %w", orgID, err)
	}

	for _, e := range entries {
		if e.Type != webhook.ConfigTypeWatchHook {
			continue
		}
		target, _ := e.Data["url"].(string)
		if target == "" {
			slog.WarnContext(ctx, "webhook configuration has no url", "organization_id", orgID)
			return nil, nil
		}
		cfg := &webhook.OrganizationConfig{URL: target, Extra: e.Data}
		g.storeConfig(ctx, key, cfg)
		return cfg, nil
	}
	return nil, nil
}

// RegisterWebhook creates a repository watch.
func (g *Gateway) RegisterWebhook(ctx context.Context, req webhook.RegisterRequest) (*webhook.Registration, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(newWatchBody(req))
	if err != nil {
		return nil, fmt.Errorf("encode watch: %w", err)
	}

	var w watch
	err = g.do(ctx, &resilience.Request{
		Method: http.MethodPost,
		Path:   watchesPath(req.IntegrationID),
		Header: g.watchHeader(),
		Body:   body,
	}, &w)
	if err != nil {
		return nil, fmt.Errorf("register watch for %s: %w", req.RepositoryID, err)
	}

	reg := w.registration()
	if reg.RepositoryID == "" {
		reg.RepositoryID = req.RepositoryID
	}
	if reg.URL == "" {
		reg.URL = req.TargetURL
	}
	return &reg, nil
}

// ListWebhooks lists the integration's watches on repoID. An empty repoID
// returns every watch.
func (g *Gateway) ListWebhooks(ctx context.Context, integrationID, repoID string) ([]webhook.Registration, error) {
	resp, err := g.send(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   watchesPath(integrationID),
		Header: g.watchHeader(),
	})
	if err != nil {
		return nil, fmt.Errorf("list watches: %w", err)
	}
	watches, err := decodeList[watch](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode watches: %w", err)
	}

	out := make([]webhook.Registration, 0, len(watches))
	for _, w := range watches {
		if repoID != "" && w.Resource.Repository.ID != repoID {
			continue
		}
		out = append(out, w.registration())
	}
	return out, nil
}

func (g *Gateway) DeleteWebhook(ctx context.Context, integrationID, webhookID string) error {
	_, err := g.send(ctx, &resilience.Request{
		Method: http.MethodDelete,
		Path:   watchesPath(integrationID) + "/" + url.PathEscape(webhookID),
		Header: g.watchHeader(),
	})
	if err != nil {
		return fmt.Errorf("delete watch %s: %w", webhookID, notFound(err))
	}
	return nil
}

func (g *Gateway) RegisterEventSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Subscription, error) {
	body, err := json.Marshal(subscriptionWire{
		RepositoryID: req.RepositoryID,
		EventTypes:   req.EventTypes,
		CallbackURL:  req.CallbackURL,
		Secret:       req.Secret,
		Active:       req.Active,
	})
	if err != nil {
		return nil, fmt.Errorf("encode subscription: %w", err)
	}

	var s subscriptionWire
	err = g.do(ctx, &resilience.Request{
		Method: http.MethodPost,
		Path:   "/event-subscriptions",
		Header: g.userHeader(),
		Body:   body,
	}, &s)
	if err != nil {
		return nil, fmt.Errorf("register subscription for %s: %w", req.RepositoryID, err)
	}
	sub := s.subscription()
	return &sub, nil
}

func (g *Gateway) ListEventSubscriptions(ctx context.Context, repoID string) ([]subscription.Subscription, error) {
	q := url.Values{}
	if repoID != "" {
		q.Set("repository_id", repoID)
	}
	resp, err := g.send(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   "/event-subscriptions",
		Query:  q,
		Header: g.userHeader(),
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	wires, err := decodeList[subscriptionWire](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}

	out := make([]subscription.Subscription, 0, len(wires))
	for _, w := range wires {
		if repoID != "" && w.RepositoryID != repoID {
			continue
		}
		out = append(out, w.subscription())
	}
	return out, nil
}

func (g *Gateway) UpdateEventSubscription(ctx context.Context, id string, req subscription.UpdateRequest) (*subscription.Subscription, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode subscription update: %w", err)
	}
	var s subscriptionWire
	err = g.do(ctx, &resilience.Request{
		Method: http.MethodPatch,
		Path:   "/event-subscriptions/" + url.PathEscape(id),
		Header: g.userHeader(),
		Body:   body,
	}, &s)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", id, notFound(err))
	}
	sub := s.subscription()
	return &sub, nil
}

func (g *Gateway) DeleteEventSubscription(ctx context.Context, id string) error {
	_, err := g.send(ctx, &resilience.Request{
		Method: http.MethodDelete,
		Path:   "/event-subscriptions/" + url.PathEscape(id),
		Header: g.userHeader(),
	})
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, notFound(err))
	}
	return nil
}

// Ping lists a single repository of the target organization.
func (g *Gateway) Ping(ctx context.Context) error {
	q := url.Values{"page": {"1"}, "limit": {"1"}}
	_, err := g.send(ctx, &resilience.Request{
		Method: http.MethodGet,
		Path:   "/organizations/" + url.PathEscape(g.opts.TargetOrganization) + "/repositories",
		Query:  q,
		Header: http.Header{"Integrationid": {g.opts.IntegrationID}},
	})
	return err
}

func (g *Gateway) send(ctx context.Context, req *resilience.Request) (*resilience.Response, error) {
	return g.client.Send(ctx, req)
}

// notFound marks a 404 from an entity-addressed call with domain.ErrNotFound.
// The upstream error stays in the chain.
func notFound(err error) error {
	if resilience.StatusOf(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}

// do is send plus JSON decoding of the response body into out.
func (g *Gateway) do(ctx context.Context, req *resilience.Request, out any) error {
	resp, err := g.send(ctx, req)
	if err != nil {
		return err
	}
	if len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.Path, err)
	}
	return nil
}

func (g *Gateway) userHeader() http.Header {
	h := http.Header{}
	if g.opts.AuthUserID != "" {
		h.Set("authuserid", g.opts.AuthUserID)
	}
	return h
}

func (g *Gateway) watchHeader() http.Header {
	h := g.userHeader()
	h.Set("sourcechannel", "API")
	return h
}

func (g *Gateway) cachedConfig(ctx context.Context, key string) (*webhook.OrganizationConfig, bool) {
	if g.opts.Cache == nil {
		return nil, false
	}
	data, ok, err := g.opts.Cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var cfg webhook.OrganizationConfig
	if err := json.Unmarshal(data, &cfg); err != nil || cfg.URL == "" {
		return nil, false
	}
	return &cfg, true
}

func (g *Gateway) storeConfig(ctx context.Context, key string, cfg *webhook.OrganizationConfig) {
	if g.opts.Cache == nil {
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := g.opts.Cache.Set(ctx, key, data, g.opts.ConfigTTL); err != nil {
		slog.WarnContext(ctx, "cache organization config failed", "key", key, "error", err)
	}
}

func watchesPath(integrationID string) string {
	return "/integrations/" + url.PathEscape(integrationID) + "/watches"
}
