// Package ingest drives the orchestrator from inbound webhook traffic:
// payload parsing, the maintenance/forward gates, tenant resolution,
// queueing, and idempotent job consumption.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/atendelabs/atende/internal/directory"
	"github.com/atendelabs/atende/internal/messaging"
	"github.com/atendelabs/atende/internal/queue"
)

const maxWebhookBody = 1 << 20

// webhookPayload is the channel provider's nested envelope. Only the first
// message of the first change is consumed.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WaID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// inboundMessage is the flattened view the handler works with.
type inboundMessage struct {
	messageID string
	from      string
	to        string
	name      string
	text      string
}

// WebhookHandler accepts channel webhooks, applies the gates, resolves the
// tenant, and enqueues a job. It always acknowledges with 200 once the
// payload is parseable: the upstream provider retries anything else.
type WebhookHandler struct {
	tenants directory.TenantRepo
	queue   queue.Queue
	gates   *Gates
	port    messaging.Port
	forward *http.Client
	logger  *slog.Logger
}

// NewWebhookHandler wires the webhook endpoint.
func NewWebhookHandler(tenants directory.TenantRepo, q queue.Queue, gates *Gates, port messaging.Port, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if gates == nil {
		gates = NewGates(GatesConfig{})
	}
	return &WebhookHandler{
		tenants: tenants,
		queue:   q,
		gates:   gates,
		port:    port,
		forward: &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "webhook"),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "reason": "unreadable-body"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "reason": "malformed-payload"})
		return
	}

	msg, ok := firstMessage(&payload)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "no-message"})
		return
	}

	// Local-dev forward: relay the raw payload and short-circuit on success.
	alreadyForwarded := r.Header.Get(ForwardMarkerHeader) != ""
	if forward, url := h.gates.shouldForward(msg.from, alreadyForwarded); forward {
		if err := h.relay(r, url, body); err != nil {
			h.logger.Warn("forward failed, processing locally", "error", err)
		} else {
			writeJSON(w, http.StatusOK, map[string]string{"status": "forwarded"})
			return
		}
	}

	// Maintenance: allow-listed senders pass; everyone else gets a
	// best-effort notice and nothing is enqueued.
	if blocked, notice := h.gates.maintenanceBlocks(msg.from); blocked {
		h.sendMaintenanceNotice(r, msg, notice)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "maintenance"})
		return
	}

	tenant, err := h.tenants.ByPhoneNumber(r.Context(), msg.to)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			h.logger.Error("tenant resolution failed", "to", msg.to, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unknown-tenant"})
		return
	}

	messageID := msg.messageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	job := &queue.Job{
		Kind:       queue.KindInbound,
		TenantID:   tenant.ID,
		MessageID:  messageID,
		From:       msg.from,
		To:         msg.to,
		Name:       msg.name,
		Content:    msg.text,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.logger.Error("enqueue failed", "tenant_id", tenant.ID, "message_id", messageID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "reason": "enqueue-failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// relay reposts the raw payload to the developer endpoint with the loop
// marker set.
func (h *WebhookHandler) relay(r *http.Request, url string, body []byte) error {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ForwardMarkerHeader, "1")
	resp, err := h.forward.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward target returned %d", resp.StatusCode)
	}
	return nil
}

// sendMaintenanceNotice tells the sender the system is down, best-effort.
// When tenant resolution fails there is no channel to answer on; nothing is
// sent and no error surfaces.
func (h *WebhookHandler) sendMaintenanceNotice(r *http.Request, msg inboundMessage, notice string) {
	if h.port == nil {
		return
	}
	tenant, err := h.tenants.ByPhoneNumber(r.Context(), msg.to)
	if err != nil {
		return
	}
	if err := h.port.SendText(r.Context(), tenant.ID, msg.from, notice); err != nil {
		h.logger.Warn("maintenance notice failed", "to", msg.from, "error", err)
	}
}

func firstMessage(p *webhookPayload) (inboundMessage, bool) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			if len(v.Messages) == 0 {
				continue
			}
			m := v.Messages[0]
			out := inboundMessage{
				messageID: m.ID,
				from:      m.From,
				to:        v.Metadata.DisplayPhoneNumber,
				text:      m.Text.Body,
			}
			if len(v.Contacts) > 0 {
				out.name = v.Contacts[0].Profile.Name
			}
			return out, true
		}
	}
	return inboundMessage{}, false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
