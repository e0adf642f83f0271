package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atendelabs/atende/internal/audit"
	"github.com/atendelabs/atende/internal/budget"
	"github.com/atendelabs/atende/internal/directory"
	"github.com/atendelabs/atende/internal/knowledge"
	"github.com/atendelabs/atende/internal/provider"
	"github.com/atendelabs/atende/internal/state"
	"github.com/atendelabs/atende/internal/tools"
)

type scripted struct {
	resp *provider.Response
	err  error
}

type fakeClient struct {
	script   []scripted
	requests []*provider.Request

	createVSErr error
	createdVS   int
}

func (f *fakeClient) CreateResponse(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	f.requests = append(f.requests, req)
	if len(f.script) == 0 {
		return nil, errors.New("unscripted call")
	}
	next := f.script[0]
	f.script = f.script[1:]
	return next.resp, next.err
}

func (f *fakeClient) ValidateVectorStore(ctx context.Context, id string) error {
	return nil
}

func (f *fakeClient) CreateVectorStore(ctx context.Context, name string) (string, error) {
	if f.createVSErr != nil {
		return "", f.createVSErr
	}
	f.createdVS++
	return "vs-1", nil
}

type fakeFactory struct{ client *fakeClient }

func (f fakeFactory) ClientFor(apiKey string) provider.Client { return f.client }

type recordingSink struct {
	tenantID       string
	conversationID string
	intents        []tools.Intent
}

func (s *recordingSink) EnqueueIntents(ctx context.Context, tenantID, userPhone, conversationID string, intents []tools.Intent) error {
	s.tenantID = tenantID
	s.conversationID = conversationID
	s.intents = append(s.intents, intents...)
	return nil
}

type rig struct {
	responder *Responder
	client    *fakeClient
	dir       *directory.MemoryDirectory
	states    *state.MemoryStore
	auditMem  *audit.MemoryStore
	sink      *recordingSink
}

func newRig(t *testing.T) *rig {
	t.Helper()
	client := &fakeClient{}
	dir := directory.NewMemoryDirectory()
	dir.AddTenant(
		&directory.Tenant{ID: "t1", Name: "Clínica Sorriso", PhoneNumber: "551130001000"},
		&directory.Settings{AITokenAPI: "sk-test", AgentInstruction: "Horário de atendimento: 8h às 18h."},
	)
	dir.Departments["t1"] = []string{"Financeiro", "Comercial"}

	registry := tools.NewRegistry(nil)
	registry.Register(tools.EndChatSpec())
	registry.RegisterFactory(tools.TransferFactory(dir))

	states := state.NewMemoryStore()
	auditMem := audit.NewMemoryStore()
	sink := &recordingSink{}

	responder := NewResponder(Config{
		Clients:   fakeFactory{client: client},
		Tenants:   dir,
		Customers: dir,
		Employees: directory.EmployeeView{Dir: dir},
		Budget:    budget.NewManager(budget.DefaultOptions()),
		Registry:  registry,
		Knowledge: knowledge.NewManager(knowledge.NewMemoryMappingStore(), provider.IsNotFound, nil),
		Audit:     audit.NewLogger(auditMem, nil, nil),
		States:    states,
		Intents:   sink,
		Model:     "gpt-4.1",
	})
	return &rig{responder: responder, client: client, dir: dir, states: states, auditMem: auditMem, sink: sink}
}

func clientRequest(conv string) Request {
	return Request{
		TenantID:       "t1",
		UserPhone:      conv,
		Text:           "Oi",
		Role:           tools.RoleClient,
		ConversationID: conv,
	}
}

func TestFirstTurnIntroduces(t *testing.T) {
	r := newRig(t)
	r.client.script = []scripted{{resp: &provider.Response{
		ID:         "resp-1",
		OutputText: "Olá! Sou o assistente virtual da Clínica Sorriso. Como posso ajudar?",
		Usage:      provider.Usage{InputTokens: 900, OutputTokens: 40},
	}}}

	res, err := r.responder.Respond(context.Background(), clientRequest("5511999990000"))
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.ResponseID != "resp-1" {
		t.Errorf("ResponseID = %q, want resp-1", res.ResponseID)
	}
	if res.Summarized {
		t.Error("first short turn must not summarize")
	}

	prompt := r.client.requests[0].Instructions
	if !strings.Contains(prompt, introduceInstruction) {
		t.Error("first turn prompt must include the introduction instruction")
	}
	if strings.Contains(prompt, noReintroduceInstruction) {
		t.Error("first turn prompt must not include the no-reintroduce instruction")
	}
	if !strings.Contains(prompt, "Horário de atendimento") {
		t.Error("prompt must carry the tenant instruction")
	}

	entries := r.auditMem.Entries("t1", "5511999990000")
	if len(entries) != 2 || entries[0].Kind != audit.KindUser || entries[1].Kind != audit.KindAI {
		t.Fatalf("expected user+ai audit entries, got %+v", entries)
	}
	if entries[1].SystemPrompt == "" || entries[1].Model != "gpt-4.1" {
		t.Error("ai entry must record system prompt and model")
	}
}

func TestLaterTurnDoesNotReintroduce(t *testing.T) {
	r := newRig(t)
	meta := audit.Meta{TenantID: "t1", ConversationID: "5511999990000", UserPhone: "5511999990000", Role: "CLIENT"}
	r.auditMem.UpsertHeader(context.Background(), meta, time.Now().UTC())
	r.auditMem.AppendEntry(context.Background(), meta, &audit.Entry{ID: "e0", Kind: audit.KindAI, Text: "Olá!"})

	r.client.script = []scripted{{resp: &provider.Response{
		ID:         "resp-2",
		OutputText: "Claro, posso ajudar com isso.",
		Usage:      provider.Usage{InputTokens: 900, OutputTokens: 30},
	}}}

	if _, err := r.responder.Respond(context.Background(), clientRequest("5511999990000")); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	prompt := r.client.requests[0].Instructions
	if strings.Contains(prompt, introduceInstruction) {
		t.Error("later turn prompt must not include the introduction instruction")
	}
	if !strings.Contains(prompt, noReintroduceInstruction) {
		t.Error("later turn prompt must include the no-reintroduce instruction")
	}
}

func TestToolRoundTrip(t *testing.T) {
	r := newRig(t)
	r.client.script = []scripted{
		{resp: &provider.Response{
			ID:    "resp-1",
			Usage: provider.Usage{InputTokens: 900, OutputTokens: 20},
			FunctionCalls: []provider.FunctionCall{{
				CallID:    "call-1",
				Name:      "transferir",
				Arguments: `{"department":"Financeiro"}`,
			}},
		}},
		{resp: &provider.Response{
			ID:         "resp-2",
			OutputText: "Certo! Estou transferindo você para o Financeiro.",
			Usage:      provider.Usage{InputTokens: 950, OutputTokens: 25},
		}},
	}

	req := clientRequest("5511999990000")
	req.Text = "quero falar com o financeiro"
	res, err := r.responder.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if res.Text != "Certo! Estou transferindo você para o Financeiro." {
		t.Errorf("reply = %q, want follow-up text", res.Text)
	}
	if res.ResponseID != "resp-2" {
		t.Errorf("ResponseID = %q, want resp-2", res.ResponseID)
	}
	if res.Usage.InputTokens != 1850 || res.Usage.OutputTokens != 45 {
		t.Errorf("usage not accumulated: %+v", res.Usage)
	}

	if len(r.sink.intents) != 1 {
		t.Fatalf("expected 1 intent, got %+v", r.sink.intents)
	}
	intent := r.sink.intents[0]
	if intent.Kind != tools.IntentEnterQueue || intent.Department != "Financeiro" {
		t.Errorf("intent = %+v, want ENTER_QUEUE Financeiro", intent)
	}

	followUp := r.client.requests[1]
	if followUp.PreviousResponseID != "resp-1" {
		t.Errorf("follow-up must thread off the primary response, got %q", followUp.PreviousResponseID)
	}
	if len(followUp.Input) != 1 || followUp.Input[0].CallID != "call-1" {
		t.Errorf("follow-up input must carry the function output, got %+v", followUp.Input)
	}

	var event *audit.Entry
	for _, e := range r.auditMem.Entries("t1", "5511999990000") {
		if e.Kind == audit.KindEvent {
			ev := e
			event = &ev
		}
	}
	if event == nil || event.ToolCall == nil || event.ToolCall.Name != "transferir" {
		t.Fatalf("expected a tool-call audit event, got %+v", event)
	}
}

func TestTruncationBoundary(t *testing.T) {
	r := newRig(t)
	// Unseen conversation: input limit 6000 tokens = 24000 chars.
	exact := strings.Repeat("a", 24000)
	over := strings.Repeat("a", 24004)

	// Modest reported usage keeps the rolling summarizer out of the way.
	r.client.script = []scripted{
		{resp: &provider.Response{ID: "resp-1", OutputText: "ok", Usage: provider.Usage{InputTokens: 1000, OutputTokens: 50}}},
		{resp: &provider.Response{ID: "resp-2", OutputText: "ok", Usage: provider.Usage{InputTokens: 1000, OutputTokens: 50}}},
	}

	req := clientRequest("conv-exact")
	req.Text = exact
	if _, err := r.responder.Respond(context.Background(), req); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := r.auditMem.Entries("t1", "conv-exact")[0].Text; len(got) != 24000 {
		t.Errorf("exactly-at-limit input truncated to %d chars", len(got))
	}

	req = clientRequest("conv-over")
	req.Text = over
	if _, err := r.responder.Respond(context.Background(), req); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	got := r.auditMem.Entries("t1", "conv-over")[0].Text
	if len(got) >= 24004 {
		t.Errorf("over-limit input not truncated, %d chars", len(got))
	}
	if len(got) < minTruncatedChars {
		t.Errorf("truncated below the %d-char floor: %d", minTruncatedChars, len(got))
	}
}

func TestSummarizationTriggerBoundary(t *testing.T) {
	r := newRig(t)
	// Input limit for an unseen conversation is 6000; 90% = 5400.
	r.client.script = []scripted{
		{resp: &provider.Response{
			ID:         "resp-1",
			OutputText: "Resposta longa.",
			Usage:      provider.Usage{InputTokens: 5400, OutputTokens: 50},
		}},
		{resp: &provider.Response{
			ID:         "resp-sum",
			OutputText: "Cliente tratou de cobranças; pendência: segunda via do boleto.",
		}},
	}

	res, err := r.responder.Respond(context.Background(), clientRequest("5511999990000"))
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !res.Summarized {
		t.Fatal("usage at 90% of the input limit must trigger summarization")
	}
	if res.ResponseID != "" {
		t.Errorf("thread reset must clear the continuity token, got %q", res.ResponseID)
	}

	snap, err := r.states.Load(context.Background(), "t1", "5511999990000")
	if err != nil || snap == nil {
		t.Fatalf("snapshot missing after summarization: %v", err)
	}
	if snap.Data.SummaryByConversation["5511999990000"] == "" {
		t.Error("summary not persisted")
	}
	if _, ok := snap.Data.LastResponseByConversation["5511999990000"]; ok {
		t.Error("continuity token not cleared")
	}
}

func TestSummarizationBelowBoundaryDoesNotTrigger(t *testing.T) {
	r := newRig(t)
	r.client.script = []scripted{{resp: &provider.Response{
		ID:         "resp-1",
		OutputText: "Resposta.",
		Usage:      provider.Usage{InputTokens: 5399, OutputTokens: 50},
	}}}

	res, err := r.responder.Respond(context.Background(), clientRequest("5511999990000"))
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Summarized {
		t.Error("one token below the 90% boundary must not summarize")
	}
	if res.ResponseID != "resp-1" {
		t.Errorf("ResponseID = %q, want resp-1", res.ResponseID)
	}
	if len(r.client.requests) != 1 {
		t.Errorf("expected no summarization call, got %d requests", len(r.client.requests))
	}
}

func TestSummarizationFailureKeepsRawThread(t *testing.T) {
	r := newRig(t)
	r.client.script = []scripted{
		{resp: &provider.Response{
			ID:         "resp-1",
			OutputText: "Resposta.",
			Usage:      provider.Usage{InputTokens: 5900, OutputTokens: 50},
		}},
		{err: errors.New("provider unavailable")},
	}

	res, err := r.responder.Respond(context.Background(), clientRequest("5511999990000"))
	if err != nil {
		t.Fatalf("a failed summarization must not fail the turn: %v", err)
	}
	if res.Summarized {
		t.Error("Summarized must be false when the summarization call fails")
	}
	if res.ResponseID != "resp-1" {
		t.Errorf("continuity token must survive, got %q", res.ResponseID)
	}
}

func TestMissingAIKeyFailsFast(t *testing.T) {
	r := newRig(t)
	r.dir.TenantSettings["t1"].AITokenAPI = ""

	_, err := r.responder.Respond(context.Background(), clientRequest("5511999990000"))
	if !errors.Is(err, directory.ErrNoAIKey) {
		t.Fatalf("err = %v, want ErrNoAIKey", err)
	}
	if len(r.client.requests) != 0 {
		t.Error("no provider traffic for a tenant without credentials")
	}
}

func TestGroundingFailureDegradesSilently(t *testing.T) {
	r := newRig(t)
	r.client.createVSErr = errors.New("quota exceeded")
	r.client.script = []scripted{{resp: &provider.Response{
		ID:         "resp-1",
		OutputText: "Posso ajudar mesmo assim.",
	}}}

	res, err := r.responder.Respond(context.Background(), clientRequest("5511999990000"))
	if err != nil {
		t.Fatalf("grounding failure must not fail the turn: %v", err)
	}
	if res.Text == "" {
		t.Error("expected a reply")
	}
	if len(r.client.requests[0].VectorStoreIDs) != 0 {
		t.Error("request must carry no vector store ids when provisioning failed")
	}
}
