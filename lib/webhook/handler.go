// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ghsync/ghsync/lib/clock"
)

// maxBodySize is the maximum size of a webhook payload we will
// accept. GitHub's documented maximum is ~25 MB for push events with
// large commit histories. 32 MB gives comfortable headroom.
const maxBodySize = 32 * 1024 * 1024

// deduplicationWindow is how long we track delivery IDs for replay
// protection. GitHub typically retries within minutes, so 1 hour is
// conservative.
const deduplicationWindow = 1 * time.Hour

// Trigger is the distilled outcome of a webhook delivery: a commit
// on the tracked branch finished a CI workflow and may have a fresh
// artifact.
type Trigger struct {
	// HeadSHA is the commit the workflow ran against.
	HeadSHA string

	// RunID is the workflow run, when the event carried one. Zero for
	// workflow_job events, which only name the run indirectly.
	RunID int64

	// DeliveryID is GitHub's X-GitHub-Delivery value, for log
	// correlation.
	DeliveryID string
}

// Handler processes incoming GitHub webhooks. It verifies HMAC-SHA256
// signatures, deduplicates deliveries, parses workflow payloads, and
// invokes the trigger callback for completed workflows on the tracked
// repository and branch.
//
// The handler is an http.Handler suitable for use with HTTPServer or
// any standard mux.
type Handler struct {
	secret     []byte
	repository string
	branch     string
	logger     *slog.Logger
	clock      clock.Clock

	// onTrigger is called for each delivery that passes verification
	// and filtering. The daemon wires this to the sync coordinator.
	onTrigger func(Trigger)

	// deliveries tracks recently processed delivery IDs for replay
	// protection. Keys are X-GitHub-Delivery values; values are the
	// time the delivery was first processed.
	mu         sync.Mutex
	deliveries map[string]time.Time
}

// HandlerConfig configures a Handler. All fields are required except
// Clock, which defaults to clock.Real().
type HandlerConfig struct {
	// Secret is the HMAC-SHA256 signing secret shared with GitHub.
	Secret []byte

	// Repository is the tracked repository as "owner/name".
	Repository string

	// Branch is the tracked branch.
	Branch string

	// Logger is the structured logger.
	Logger *slog.Logger

	// Clock provides time for delivery deduplication. Defaults to
	// clock.Real().
	Clock clock.Clock

	// OnTrigger receives sync triggers. Must not block: it runs on
	// the request goroutine inside GitHub's delivery timeout.
	OnTrigger func(Trigger)
}

// NewHandler creates a webhook handler. Panics on missing required
// configuration — a nil callback would silently discard triggers.
func NewHandler(config HandlerConfig) *Handler {
	if len(config.Secret) == 0 {
		panic("webhook.Handler: Secret is required")
	}
	if config.Repository == "" || config.Branch == "" {
		panic("webhook.Handler: Repository and Branch are required")
	}
	if config.Logger == nil {
		panic("webhook.Handler: Logger is required")
	}
	if config.OnTrigger == nil {
		panic("webhook.Handler: OnTrigger callback is required")
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Handler{
		secret:     config.Secret,
		repository: config.Repository,
		branch:     config.Branch,
		logger:     config.Logger,
		clock:      clk,
		onTrigger:  config.OnTrigger,
		deliveries: make(map[string]time.Time),
	}
}

// ServeHTTP handles a single webhook request.
func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "", http.StatusMethodNotAllowed)
		return
	}

	// Read the body first — HMAC verification requires the raw bytes.
	body, err := io.ReadAll(io.LimitReader(request.Body, maxBodySize))
	if err != nil {
		h.logger.Error("webhook: failed to read body", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(writer, "", http.StatusBadRequest)
		return
	}

	// Verify HMAC-SHA256 signature.
	signature := request.Header.Get("X-Hub-Signature-256")
	if err := VerifyHMAC(h.secret, body, signature); err != nil {
		h.logger.Warn("webhook: HMAC verification failed",
			"error", err,
			"remote_addr", request.RemoteAddr,
		)
		// 401 with no information disclosure.
		http.Error(writer, "", http.StatusUnauthorized)
		return
	}

	eventType := request.Header.Get("X-GitHub-Event")
	deliveryID := request.Header.Get("X-GitHub-Delivery")

	if eventType == "" {
		h.logger.Warn("webhook: missing X-GitHub-Event header")
		http.Error(writer, "", http.StatusBadRequest)
		return
	}

	// Replay protection: reject duplicate delivery IDs.
	if deliveryID != "" && h.isDuplicate(deliveryID) {
		h.logger.Debug("webhook: duplicate delivery, ignoring",
			"delivery_id", deliveryID,
			"event_type", eventType,
		)
		// Return 200 so GitHub doesn't retry.
		writer.WriteHeader(http.StatusOK)
		return
	}

	trigger, err := h.parseEvent(eventType, body)
	if err != nil {
		h.logger.Error("webhook: payload parsing failed",
			"event_type", eventType,
			"delivery_id", deliveryID,
			"error", err,
		)
		http.Error(writer, "", http.StatusBadRequest)
		return
	}

	if trigger == nil {
		// Event doesn't concern the tracked branch, isn't a completed
		// workflow, or is an event type we don't handle (ping etc.).
		h.logger.Debug("webhook: delivery filtered, ignoring",
			"event_type", eventType,
			"delivery_id", deliveryID,
		)
		writer.WriteHeader(http.StatusOK)
		return
	}

	trigger.DeliveryID = deliveryID
	h.logger.Info("webhook trigger",
		"event_type", eventType,
		"delivery_id", deliveryID,
		"head_sha", trigger.HeadSHA,
	)
	h.onTrigger(*trigger)

	writer.WriteHeader(http.StatusOK)
}

// isDuplicate checks and records a delivery ID. Returns true if the
// delivery was already processed within the deduplication window.
// Periodically prunes expired entries.
func (h *Handler) isDuplicate(deliveryID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()

	// Prune expired entries every time we check. The map is small
	// (one entry per webhook over the last hour) so this is cheap.
	for id, receivedAt := range h.deliveries {
		if now.Sub(receivedAt) > deduplicationWindow {
			delete(h.deliveries, id)
		}
	}

	if _, exists := h.deliveries[deliveryID]; exists {
		return true
	}
	h.deliveries[deliveryID] = now
	return false
}

// parseEvent converts a raw webhook payload into a Trigger. Returns
// nil for deliveries that should be acknowledged without syncing:
// unhandled event types, other repositories or branches, and
// workflows that haven't completed yet.
//
// A completed workflow with a failed conclusion still triggers: the
// failure may concern a different workflow than the one producing the
// artifact, and the run lookup filters on success anyway.
func (h *Handler) parseEvent(eventType string, body []byte) (*Trigger, error) {
	switch eventType {
	case "workflow_run":
		return h.parseWorkflowRun(body)
	case "workflow_job":
		return h.parseWorkflowJob(body)
	case "ping":
		// GitHub sends a ping event when a webhook is first
		// configured. Acknowledge silently.
		return nil, nil
	default:
		// Unrecognized event type. Return nil (not an error) so we
		// don't reject webhooks for event types GitHub adds in the
		// future.
		return nil, nil
	}
}

func (h *Handler) parseWorkflowRun(body []byte) (*Trigger, error) {
	var payload struct {
		Action      string `json:"action"`
		WorkflowRun struct {
			ID         int64  `json:"id"`
			HeadSHA    string `json:"head_sha"`
			HeadBranch string `json:"head_branch"`
			Status     string `json:"status"`
		} `json:"workflow_run"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing workflow_run payload: %w", err)
	}

	if payload.Repository.FullName != h.repository {
		return nil, nil
	}
	if payload.WorkflowRun.HeadBranch != h.branch {
		return nil, nil
	}
	if payload.Action != "completed" {
		return nil, nil
	}
	if payload.WorkflowRun.HeadSHA == "" {
		return nil, fmt.Errorf("workflow_run payload has no head_sha")
	}

	return &Trigger{
		HeadSHA: payload.WorkflowRun.HeadSHA,
		RunID:   payload.WorkflowRun.ID,
	}, nil
}

func (h *Handler) parseWorkflowJob(body []byte) (*Trigger, error) {
	var payload struct {
		Action      string `json:"action"`
		WorkflowJob struct {
			RunID      int64  `json:"run_id"`
			HeadSHA    string `json:"head_sha"`
			HeadBranch string `json:"head_branch"`
			Status     string `json:"status"`
		} `json:"workflow_job"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing workflow_job payload: %w", err)
	}

	if payload.Repository.FullName != h.repository {
		return nil, nil
	}
	if payload.WorkflowJob.HeadBranch != h.branch {
		return nil, nil
	}
	if payload.Action != "completed" {
		return nil, nil
	}
	if payload.WorkflowJob.HeadSHA == "" {
		return nil, fmt.Errorf("workflow_job payload has no head_sha")
	}

	// A job completion names its run, but other jobs in the run may
	// still be executing, so the run ID is advisory: the sync always
	// re-resolves the latest successful run for the SHA.
	return &Trigger{
		HeadSHA: payload.WorkflowJob.HeadSHA,
	}, nil
}
