// Package orchestrator runs one conversation turn end to end: prompt
// composition, budget enforcement, grounding, the tool-calling round-trip,
// the summarization/thread-reset decision, and audit logging.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/atendelabs/atende/internal/audit"
	"github.com/atendelabs/atende/internal/budget"
	"github.com/atendelabs/atende/internal/directory"
	"github.com/atendelabs/atende/internal/knowledge"
	"github.com/atendelabs/atende/internal/provider"
	"github.com/atendelabs/atende/internal/state"
	"github.com/atendelabs/atende/internal/tools"
)

const (
	minTruncatedChars = 200
	summaryMaxChars   = 1800
	auditArgsMax      = 2000
	auditOutputMax    = 1000
)

// IntentSink receives the side-effect requests collected from tool outputs.
// The orchestrator never executes intents inline; the ingestion pipeline's
// intent consumer does.
type IntentSink interface {
	EnqueueIntents(ctx context.Context, tenantID, userPhone, conversationID string, intents []tools.Intent) error
}

// Request is one inbound turn.
type Request struct {
	TenantID       string
	UserPhone      string
	Text           string
	LastResponseID string
	Role           tools.Role
	ConversationID string
}

// Result is the turn's outcome. ResponseID is empty when the thread was
// reset; callers must then drop their stored continuity token.
type Result struct {
	Text       string
	ResponseID string
	Usage      provider.Usage
	Summarized bool
}

// Responder orchestrates turns. All collaborators are injected; Responder
// itself holds no per-conversation state beyond the turn locks.
type Responder struct {
	clients   provider.Factory
	tenants   directory.TenantRepo
	customers directory.CustomerRepo
	employees directory.EmployeeRepo
	budget    *budget.Manager
	registry  *tools.Registry
	knowledge *knowledge.Manager
	audit     *audit.Logger
	states    state.Store
	intents   IntentSink
	model     string
	logger    *slog.Logger
	locks     *conversationLocks
}

// Config wires a Responder.
type Config struct {
	Clients   provider.Factory
	Tenants   directory.TenantRepo
	Customers directory.CustomerRepo
	Employees directory.EmployeeRepo
	Budget    *budget.Manager
	Registry  *tools.Registry
	Knowledge *knowledge.Manager
	Audit     *audit.Logger
	States    state.Store
	Intents   IntentSink
	Model     string
	Logger    *slog.Logger
}

// NewResponder builds the orchestrator.
func NewResponder(cfg Config) *Responder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		clients:   cfg.Clients,
		tenants:   cfg.Tenants,
		customers: cfg.Customers,
		employees: cfg.Employees,
		budget:    cfg.Budget,
		registry:  cfg.Registry,
		knowledge: cfg.Knowledge,
		audit:     cfg.Audit,
		states:    cfg.States,
		intents:   cfg.Intents,
		model:     cfg.Model,
		logger:    logger.With("component", "orchestrator"),
		locks:     newConversationLocks(),
	}
}

// turnContext is the result of the parallel context fetch.
type turnContext struct {
	settings *directory.Settings
	snapshot *state.Snapshot
	customer *directory.Customer
	employee *directory.Employee
}

// Respond runs a single turn. Provider failures propagate to the caller; the
// job layer owns retries.
func (r *Responder) Respond(ctx context.Context, req Request) (*Result, error) {
	key := budget.Key(req.TenantID, req.ConversationID)
	release := r.locks.acquire(key)
	defer release()

	// 1. Context assembly.
	tc, err := r.assemble(ctx, req)
	if err != nil {
		return nil, err
	}
	client := r.clients.ClientFor(tc.settings.AITokenAPI)

	// 3. Budget enforcement on the incoming text.
	limits := r.budget.Limits(key)
	text := req.Text
	if budget.ApproxTokens(text) > limits.Input {
		text = truncateToBudget(text, limits.Input)
		r.logger.Warn("inbound message truncated",
			"tenant_id", req.TenantID,
			"conversation_id", req.ConversationID,
			"input_limit", limits.Input)
	}

	// 4. First-turn detection.
	aiCount, err := r.audit.CountAI(ctx, req.TenantID, req.ConversationID)
	if err != nil {
		r.logger.Warn("first-turn detection failed, assuming continuation", "error", err)
		aiCount = 1
	}

	// 2. Persona composition.
	var summary string
	if tc.snapshot != nil {
		summary = tc.snapshot.Data.SummaryByConversation[req.ConversationID]
	}
	prompt := composePrompt(promptInput{
		role:              req.Role,
		customer:          tc.customer,
		employee:          tc.employee,
		tenantInstruction: tc.settings.AgentInstruction,
		summary:           summary,
		firstTurn:         aiCount == 0,
	})

	// 5. Best-effort knowledge-base grounding.
	var vectorStoreIDs []string
	vectorStoreID, err := r.knowledge.EnsureForTenant(ctx, client, req.TenantID)
	if err != nil {
		r.logger.Warn("grounding unavailable for this turn",
			"tenant_id", req.TenantID, "error", err)
	} else if vectorStoreID != "" {
		vectorStoreIDs = []string{vectorStoreID}
	}

	// 6. Tool resolution.
	toolCtx := tools.Context{
		TenantID:       req.TenantID,
		UserPhone:      req.UserPhone,
		ConversationID: req.ConversationID,
		Role:           req.Role,
	}
	toolset := r.registry.BuildForContext(ctx, toolCtx)

	// 7. Audit the user side before calling out.
	meta := audit.Meta{
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		UserPhone:      req.UserPhone,
		Role:           string(req.Role),
	}
	r.audit.Init(ctx, meta)
	r.audit.Append(ctx, meta, &audit.Entry{Kind: audit.KindUser, Text: text})

	// 8. Primary provider call.
	primary := &provider.Request{
		Model:              r.model,
		Instructions:       prompt,
		Input:              []provider.InputItem{provider.Message("user", text)},
		Tools:              declarations(toolset),
		MaxOutputTokens:    limits.Output,
		PreviousResponseID: req.LastResponseID,
		VectorStoreIDs:     vectorStoreIDs,
		Metadata: map[string]string{
			"tenant_id":       req.TenantID,
			"conversation_id": req.ConversationID,
		},
	}
	resp, err := client.CreateResponse(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("primary call: %w", err)
	}
	totalUsage := resp.Usage
	r.budget.Update(key, budget.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})

	// 9. Tool-calling round-trip.
	replyText := resp.OutputText
	responseID := resp.ID
	citations := resp.FileCitations
	var toolNames []string
	if len(resp.FunctionCalls) > 0 {
		followUp, err := r.toolRoundTrip(ctx, client, req, meta, toolCtx, toolset, primary, resp)
		if err != nil {
			return nil, err
		}
		totalUsage.Add(followUp.Usage)
		r.budget.Update(key, budget.Usage{
			InputTokens:  followUp.Usage.InputTokens,
			OutputTokens: followUp.Usage.OutputTokens,
		})
		replyText = followUp.OutputText
		responseID = followUp.ID
		citations = append(citations, followUp.FileCitations...)
		for _, call := range resp.FunctionCalls {
			toolNames = append(toolNames, call.Name)
		}
	}

	// 10. Summarization / thread-reset decision.
	summarized := false
	effectiveInput := totalUsage.InputTokens
	if effectiveInput == 0 {
		effectiveInput = budget.ApproxTokens(prompt) + budget.ApproxTokens(text)
	}
	if effectiveInput*10 >= limits.Input*9 {
		if err := r.summarize(ctx, client, req, summary, text, replyText); err != nil {
			summarizationFailures.Inc()
			r.logger.Error("summarization failed, keeping raw thread",
				"tenant_id", req.TenantID,
				"conversation_id", req.ConversationID,
				"error", err)
		} else {
			summarizations.Inc()
			summarized = true
			responseID = ""
		}
	}

	// 11. Audit the AI side.
	var citationNames []string
	for _, c := range citations {
		if c.FileName != "" {
			citationNames = append(citationNames, c.FileName)
		} else {
			citationNames = append(citationNames, c.FileID)
		}
	}
	r.audit.Append(ctx, meta, &audit.Entry{
		Kind:          audit.KindAI,
		Text:          replyText,
		Model:         r.model,
		ResponseID:    responseID,
		Usage:         &audit.Usage{InputTokens: totalUsage.InputTokens, OutputTokens: totalUsage.OutputTokens},
		SystemPrompt:  prompt,
		ToolsUsed:     toolNames,
		VectorStoreID: vectorStoreID,
		FileCitations: citationNames,
	})

	// 12. Done.
	return &Result{
		Text:       replyText,
		ResponseID: responseID,
		Usage:      totalUsage,
		Summarized: summarized,
	}, nil
}

// assemble fetches the turn's external context concurrently. Settings are
// required; snapshot and identity lookups tolerate misses.
func (r *Responder) assemble(ctx context.Context, req Request) (*turnContext, error) {
	tc := &turnContext{}
	var settingsErr error
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		tc.settings, settingsErr = r.tenants.Settings(ctx, req.TenantID)
	}()
	go func() {
		defer wg.Done()
		snap, err := r.states.Load(ctx, req.TenantID, req.UserPhone)
		if err != nil {
			r.logger.Warn("snapshot load failed", "tenant_id", req.TenantID, "error", err)
			return
		}
		tc.snapshot = snap
	}()
	go func() {
		defer wg.Done()
		if req.Role == tools.RoleEmployee {
			emp, err := r.employees.ByPhone(ctx, req.TenantID, req.UserPhone)
			if err == nil {
				tc.employee = emp
			} else if !errors.Is(err, directory.ErrNotFound) {
				r.logger.Warn("employee lookup failed", "error", err)
			}
			return
		}
		cust, err := r.customers.ByPhone(ctx, req.TenantID, req.UserPhone)
		if err == nil {
			tc.customer = cust
		} else if !errors.Is(err, directory.ErrNotFound) {
			r.logger.Warn("customer lookup failed", "error", err)
		}
	}()
	wg.Wait()

	if settingsErr != nil {
		return nil, fmt.Errorf("tenant settings: %w", settingsErr)
	}
	return tc, nil
}

// toolRoundTrip dispatches the model's function calls, audits each one,
// queues any intents, and issues the follow-up call whose text becomes the
// turn's reply.
func (r *Responder) toolRoundTrip(ctx context.Context, client provider.Client, req Request, meta audit.Meta, toolCtx tools.Context, toolset *tools.Toolset, primary *provider.Request, resp *provider.Response) (*provider.Response, error) {
	calls := make([]tools.Call, 0, len(resp.FunctionCalls))
	for _, fc := range resp.FunctionCalls {
		calls = append(calls, tools.Call{ID: fc.CallID, Name: fc.Name, Arguments: fc.Arguments})
	}

	results := r.registry.DispatchAll(ctx, calls, toolCtx, toolset)

	var outputs []provider.InputItem
	var collected []tools.Intent
	for i, res := range results {
		payload, err := json.Marshal(res.Payload)
		if err != nil {
			payload = []byte(`{"error":"tool_failed","message":"unserializable tool output"}`)
		}
		outputs = append(outputs, provider.FunctionOutput(res.CallID, string(payload)))
		collected = append(collected, res.Intents...)

		r.audit.Append(ctx, meta, &audit.Entry{
			Kind: audit.KindEvent,
			Text: "tool call: " + res.Name,
			ToolCall: &audit.ToolCallRecord{
				Name:      res.Name,
				Arguments: truncateRunes(calls[i].Arguments, auditArgsMax),
				Output:    truncateRunes(string(payload), auditOutputMax),
			},
		})
	}

	if len(collected) > 0 && r.intents != nil {
		if err := r.intents.EnqueueIntents(ctx, req.TenantID, req.UserPhone, req.ConversationID, collected); err != nil {
			r.logger.Error("intent enqueue failed",
				"tenant_id", req.TenantID,
				"conversation_id", req.ConversationID,
				"error", err)
		}
	}

	followUp := &provider.Request{
		Model:              primary.Model,
		Instructions:       primary.Instructions,
		Input:              outputs,
		Tools:              primary.Tools,
		MaxOutputTokens:    primary.MaxOutputTokens,
		PreviousResponseID: resp.ID,
		VectorStoreIDs:     primary.VectorStoreIDs,
		Metadata:           primary.Metadata,
	}
	out, err := client.CreateResponse(ctx, followUp)
	if err != nil {
		return nil, fmt.Errorf("follow-up call: %w", err)
	}
	return out, nil
}

// summarize folds the previous rolling summary with the latest exchange into
// a fresh summary, persists it, and clears the continuity token so the next
// turn starts a new provider-side thread.
func (r *Responder) summarize(ctx context.Context, client provider.Client, req Request, oldSummary, userText, replyText string) error {
	var b strings.Builder
	if oldSummary != "" {
		b.WriteString("Resumo anterior:\n")
		b.WriteString(oldSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Cliente: ")
	b.WriteString(userText)
	b.WriteString("\nAssistente: ")
	b.WriteString(replyText)

	resp, err := client.CreateResponse(ctx, &provider.Request{
		Model:           r.model,
		Instructions:    summarizeInstructions,
		Input:           []provider.InputItem{provider.Message("user", b.String())},
		MaxOutputTokens: summaryMaxChars / 4,
	})
	if err != nil {
		return err
	}
	newSummary := truncateRunes(strings.TrimSpace(resp.OutputText), summaryMaxChars)
	if newSummary == "" {
		return errors.New("empty summary")
	}

	snap, err := r.states.Load(ctx, req.TenantID, req.UserPhone)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	st := state.StateAI
	var data state.Data
	var aiSessionID string
	if snap != nil {
		st = snap.State
		data = snap.Data
		aiSessionID = snap.AISessionID
	}
	if data.SummaryByConversation == nil {
		data.SummaryByConversation = make(map[string]string)
	}
	data.SummaryByConversation[req.ConversationID] = newSummary
	delete(data.LastResponseByConversation, req.ConversationID)

	if err := r.states.Save(ctx, req.TenantID, req.UserPhone, st, data, aiSessionID); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// truncateToBudget hard-truncates text to roughly the token budget, never
// below the floor. Exactly-at-limit inputs are left untouched by the caller.
func truncateToBudget(text string, inputLimit int) string {
	maxChars := inputLimit * 4
	if maxChars < minTruncatedChars {
		maxChars = minTruncatedChars
	}
	return truncateRunes(text, maxChars)
}

func declarations(ts *tools.Toolset) []provider.ToolDeclaration {
	out := make([]provider.ToolDeclaration, 0, len(ts.Declarations))
	for _, d := range ts.Declarations {
		out = append(out, provider.ToolDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}
