package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Strob0t/scmrelay/internal/domain/registration"
	"github.com/Strob0t/scmrelay/internal/domain/repository"
	"github.com/Strob0t/scmrelay/internal/domain/subscription"
	"github.com/Strob0t/scmrelay/internal/service"
)

// Inbound header names.
const (
	headerIntegrationID  = "integrationId"
	headerEventSignature = "x-unizo-signature"
	headerEventType      = "x-unizo-event"
	headerHubSignature   = "x-hub-signature-256"
	headerHubEvent       = "x-github-event"
	headerHubDelivery    = "x-github-delivery"
)

// Handlers holds the services the HTTP handlers delegate to.
type Handlers struct {
	Registration  *service.RegistrationService
	Subscriptions *service.SubscriptionService
	Repositories  *service.RepositoryService
	Events        *service.EventService
	SCMWebhooks   *service.SCMWebhookService
	// IntegrationID is used when a single-repository request omits the
	// integrationId header.
	IntegrationID string
}

func (h *Handlers) integrationID(r *http.Request) string {
	if id := r.Header.Get(headerIntegrationID); id != "" {
		return id
	}
	return h.IntegrationID
}

// ---------------------------------------------------------------------------
// Inbound callbacks
// ---------------------------------------------------------------------------

// HandleEvent handles POST /events. The signature is verified by middleware.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if _, err := h.Events.HandleEvent(r.Context(), r.Header.Get(headerEventType), payload); err != nil {
		writeDomainError(w, r, err, "event target not found")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Event processed successfully"})
}

// HandleSCMWebhook handles POST /webhook deliveries from the SCM host.
func (h *Handlers) HandleSCMWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	_, err = h.SCMWebhooks.HandleDelivery(r.Context(), r.Header.Get(headerHubEvent), r.Header.Get(headerHubDelivery), payload)
	if err != nil {
		writeDomainError(w, r, err, "webhook target not found")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Webhook received successfully"})
}

// ---------------------------------------------------------------------------
// Webhook registration
// ---------------------------------------------------------------------------

type registrationResponse struct {
	Message string                `json:"message"`
	Summary *registration.Summary `json:"summary"`
}

// RegisterOrganization handles POST /organizations/{organizationId}/repositories/register.
func (h *Handlers) RegisterOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := urlParam(r, "organizationId")
	integrationID := r.Header.Get(headerIntegrationID)
	if !requireField(w, orgID, "organizationId") || !requireField(w, integrationID, "integrationId header") {
		return
	}

	summary, err := h.Registration.RegisterOrganization(r.Context(), integrationID, orgID)
	if err != nil {
		if errors.Is(err, service.ErrNotConfigured) {
			writeError(w, http.StatusNotFound, "No SCM_WATCH_HOOK configuration found for this organization")
			return
		}
		writeDomainError(w, r, err, "organization not found")
		return
	}

	msg := "Webhook registration process completed"
	if summary.Incomplete {
		msg = "Webhook registration stopped before all pages were processed"
	}
	writeJSON(w, http.StatusOK, registrationResponse{Message: msg, Summary: summary})
}

// RegisterWebhook handles POST /repositories/{repositoryId}/webhooks.
func (h *Handlers) RegisterWebhook(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Registration.RegisterRepository(r.Context(), h.integrationID(r), urlParam(r, "repositoryId"))
	if err != nil {
		writeDomainError(w, r, err, "Repository not found")
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// ListWebhooks handles GET /repositories/{repositoryId}/webhooks.
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.Registration.ListWebhooks(r.Context(), h.integrationID(r), urlParam(r, "repositoryId"))
	if err != nil {
		writeDomainError(w, r, err, "Repository not found")
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

// DeleteWebhook handles DELETE /repositories/{repositoryId}/webhooks/{webhookId}.
func (h *Handlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	err := h.Registration.DeleteWebhook(r.Context(), h.integrationID(r), urlParam(r, "repositoryId"), urlParam(r, "webhookId"))
	if err != nil {
		writeDomainError(w, r, err, "webhook not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Event subscriptions
// ---------------------------------------------------------------------------

type subscriptionRequest struct {
	EventTypes []subscription.EventKind `json:"eventTypes"`
	Active     *bool                    `json:"active"`
}

// CreateSubscription handles POST /repositories/{repositoryId}/subscriptions.
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[subscriptionRequest](w, r, true)
	if !ok {
		return
	}
	sub, err := h.Subscriptions.Subscribe(r.Context(), urlParam(r, "repositoryId"), req.EventTypes)
	if err != nil {
		writeDomainError(w, r, err, "Repository not found")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /subscriptions?repositoryId=.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.Subscriptions.List(r.Context(), r.URL.Query().Get("repositoryId"))
	if err != nil {
		writeDomainError(w, r, err, "subscriptions not found")
		return
	}
	if subs == nil {
		subs = []subscription.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// UpdateSubscription handles PATCH /subscriptions/{subscriptionId}.
func (h *Handlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[subscriptionRequest](w, r, false)
	if !ok {
		return
	}
	sub, err := h.Subscriptions.Update(r.Context(), urlParam(r, "subscriptionId"), subscription.UpdateRequest{
		EventTypes: req.EventTypes,
		Active:     req.Active,
	})
	if err != nil {
		writeDomainError(w, r, err, "subscription not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /subscriptions/{subscriptionId}.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.Subscriptions.Unsubscribe(r.Context(), urlParam(r, "subscriptionId")); err != nil {
		writeDomainError(w, r, err, "subscription not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Repository views
// ---------------------------------------------------------------------------

// ListBranches handles GET /repositories/{repositoryId}/branches.
func (h *Handlers) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.Repositories.Branches(r.Context(), urlParam(r, "repositoryId"))
	if err != nil {
		writeDomainError(w, r, err, "Repository not found")
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

// ListRepositoryEvents handles GET /repositories/{repositoryId}/events.
// Query: types (comma separated), startDate, endDate (YYYY-MM-DD).
func (h *Handlers) ListRepositoryEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eq := repository.EventQuery{
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			eq.Types = append(eq.Types, t)
		}
	}

	events, err := h.Repositories.Events(r.Context(), urlParam(r, "repositoryId"), eq)
	if err != nil {
		writeDomainError(w, r, err, "Repository not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
