package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atendelabs/atende/internal/directory"
	"github.com/atendelabs/atende/internal/messaging"
	"github.com/atendelabs/atende/internal/orchestrator"
	"github.com/atendelabs/atende/internal/queue"
	"github.com/atendelabs/atende/internal/state"
	"github.com/atendelabs/atende/internal/tools"
)

// Responder is the slice of the orchestrator the consumer needs.
type Responder interface {
	Respond(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Consumer processes dequeued jobs: inbound messages run a full turn,
// intent jobs execute the side effects tools requested.
type Consumer struct {
	responder Responder
	states    state.Store
	idemp     IdempotencyStore
	port      messaging.Port
	employees directory.EmployeeRepo
	logger    *slog.Logger
}

// NewConsumer wires the job consumer.
func NewConsumer(responder Responder, states state.Store, idemp IdempotencyStore, port messaging.Port, employees directory.EmployeeRepo, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		responder: responder,
		states:    states,
		idemp:     idemp,
		port:      port,
		employees: employees,
		logger:    logger.With("component", "consumer"),
	}
}

// Handle dispatches one job by kind. Used as the queue handler.
func (c *Consumer) Handle(ctx context.Context, job *queue.Job) error {
	var err error
	if job.Kind == queue.KindIntent {
		err = c.handleIntents(ctx, job)
	} else {
		err = c.handleInbound(ctx, job)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	jobsProcessed.WithLabelValues(string(job.Kind), outcome).Inc()
	return err
}

// handleInbound runs a turn for one user message: dedup, role resolution,
// orchestration, reply delivery, continuity persistence.
func (c *Consumer) handleInbound(ctx context.Context, job *queue.Job) error {
	fresh, err := c.idemp.MarkIfNew(ctx, job.TenantID, job.MessageID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !fresh {
		duplicatesSkipped.Inc()
		c.logger.Info("duplicate message skipped",
			"tenant_id", job.TenantID, "message_id", job.MessageID)
		return nil
	}

	conversationID := job.From

	snap, err := c.states.Load(ctx, job.TenantID, job.From)
	if err != nil {
		c.logger.Warn("state load failed, treating as new conversation", "error", err)
		snap = nil
	}
	if snap != nil && snap.State == state.StateQueued {
		c.logger.Info("conversation is with a human, skipping AI turn",
			"tenant_id", job.TenantID, "conversation_id", conversationID)
		return nil
	}

	var lastResponseID string
	if snap != nil {
		lastResponseID = snap.Data.LastResponseByConversation[conversationID]
	}

	role := tools.RoleClient
	if c.employees != nil {
		if _, err := c.employees.ByPhone(ctx, job.TenantID, job.From); err == nil {
			role = tools.RoleEmployee
		} else if !errors.Is(err, directory.ErrNotFound) {
			c.logger.Warn("employee lookup failed, assuming client", "error", err)
		}
	}

	res, err := c.responder.Respond(ctx, orchestrator.Request{
		TenantID:       job.TenantID,
		UserPhone:      job.From,
		Text:           job.Content,
		LastResponseID: lastResponseID,
		Role:           role,
		ConversationID: conversationID,
	})
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}

	if res.Text != "" {
		if err := c.port.SendText(ctx, job.TenantID, job.From, res.Text); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}

	if !res.Summarized && res.ResponseID != "" {
		c.persistContinuity(ctx, job.TenantID, job.From, conversationID, res.ResponseID)
	}
	return nil
}

// persistContinuity stores the turn's response id for threading the next
// turn. Best effort: losing it costs context, not correctness.
func (c *Consumer) persistContinuity(ctx context.Context, tenantID, userPhone, conversationID, responseID string) {
	snap, err := c.states.Load(ctx, tenantID, userPhone)
	if err != nil {
		c.logger.Warn("continuity persist skipped", "error", err)
		return
	}
	st := state.StateAI
	var data state.Data
	var aiSessionID string
	if snap != nil {
		st = snap.State
		data = snap.Data
		aiSessionID = snap.AISessionID
	}
	if data.LastResponseByConversation == nil {
		data.LastResponseByConversation = make(map[string]string)
	}
	data.LastResponseByConversation[conversationID] = responseID
	if err := c.states.Save(ctx, tenantID, userPhone, st, data, aiSessionID); err != nil {
		c.logger.Warn("continuity persist failed", "error", err)
	}
}

// handleIntents executes the side effects a turn's tools requested.
func (c *Consumer) handleIntents(ctx context.Context, job *queue.Job) error {
	for _, intent := range job.Intents {
		switch intent.Kind {
		case tools.IntentEnterQueue:
			if err := c.transition(ctx, job, state.StateQueued, state.Data{Department: intent.Department}); err != nil {
				return fmt.Errorf("enter queue: %w", err)
			}
			c.logger.Info("conversation queued for a human",
				"tenant_id", job.TenantID,
				"conversation_id", job.ConversationID,
				"department", intent.Department)
		case tools.IntentEndAIChat:
			if err := c.transition(ctx, job, state.StateClosed, state.Data{Reason: intent.Reason}); err != nil {
				return fmt.Errorf("end chat: %w", err)
			}
			c.logger.Info("conversation closed",
				"tenant_id", job.TenantID,
				"conversation_id", job.ConversationID,
				"reason", intent.Reason)
		default:
			c.logger.Warn("unknown intent kind skipped", "kind", string(intent.Kind))
		}
	}
	return nil
}

// transition moves the conversation to a new state, preserving the
// continuity data already in the snapshot.
func (c *Consumer) transition(ctx context.Context, job *queue.Job, to string, overlay state.Data) error {
	snap, err := c.states.Load(ctx, job.TenantID, job.UserPhone)
	if err != nil {
		return err
	}
	var data state.Data
	var aiSessionID string
	if snap != nil {
		data = snap.Data
		aiSessionID = snap.AISessionID
	}
	if overlay.Department != "" {
		data.Department = overlay.Department
	}
	if overlay.Reason != "" {
		data.Reason = overlay.Reason
	}
	return c.states.Save(ctx, job.TenantID, job.UserPhone, to, data, aiSessionID)
}

// IntentEnqueuer adapts a Queue into the orchestrator's intent sink.
type IntentEnqueuer struct {
	Queue queue.Queue
}

// EnqueueIntents packages collected intents into one intent-kind job.
func (e IntentEnqueuer) EnqueueIntents(ctx context.Context, tenantID, userPhone, conversationID string, intents []tools.Intent) error {
	if len(intents) == 0 {
		return nil
	}
	return e.Queue.Enqueue(ctx, &queue.Job{
		Kind:           queue.KindIntent,
		TenantID:       tenantID,
		MessageID:      uuid.NewString(),
		UserPhone:      userPhone,
		ConversationID: conversationID,
		ReceivedAt:     time.Now().UTC(),
		Intents:        intents,
	})
}
