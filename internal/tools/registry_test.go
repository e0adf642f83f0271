package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/atendelabs/atende/internal/schema"
)

func echoSpec(name string, reply any) Spec {
	return Spec{
		Name:   name,
		Schema: schema.Object{Properties: map[string]schema.Schema{}},
		Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
			return reply, nil
		},
	}
}

func testContext() Context {
	return Context{
		TenantID:       "t1",
		UserPhone:      "+5511999990000",
		ConversationID: "+5511999990000",
		Role:           RoleClient,
	}
}

func TestBuildForContext_FactoryFailureIsSkipped(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoSpec("ping", "pong"))
	r.RegisterFactory(func(ctx context.Context, tc Context) ([]Spec, error) {
		return nil, errors.New("upstream down")
	})

	ts := r.BuildForContext(context.Background(), testContext())

	if len(ts.Declarations) != 1 || ts.Declarations[0].Name != "ping" {
		t.Fatalf("declarations = %+v", ts.Declarations)
	}
}

func TestBuildForContext_FactoryOverridesStaticByName(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoSpec("ping", "static"))
	r.RegisterFactory(func(ctx context.Context, tc Context) ([]Spec, error) {
		return []Spec{echoSpec("ping", "factory")}, nil
	})

	ts := r.BuildForContext(context.Background(), testContext())

	if len(ts.Declarations) != 1 {
		t.Fatalf("declarations = %+v", ts.Declarations)
	}
	results := r.DispatchAll(context.Background(), []Call{{ID: "c1", Name: "ping", Arguments: "{}"}}, testContext(), ts)
	if results[0].Payload != "factory" {
		t.Errorf("payload = %v, want factory", results[0].Payload)
	}
}

func TestBuildForContext_BrokenOverrideKeepsEarlierSpec(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoSpec("ping", "static"))
	r.RegisterFactory(func(ctx context.Context, tc Context) ([]Spec, error) {
		// An empty union projects to an empty anyOf, which the
		// validator rejects at compile time.
		return []Spec{{
			Name:   "ping",
			Schema: schema.Union{},
			Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
				return "factory", nil
			},
		}}, nil
	})

	ts := r.BuildForContext(context.Background(), testContext())

	if len(ts.Declarations) != 1 || ts.Declarations[0].Name != "ping" {
		t.Fatalf("declarations = %+v", ts.Declarations)
	}
	results := r.DispatchAll(context.Background(), []Call{{ID: "c1", Name: "ping", Arguments: "{}"}}, testContext(), ts)
	if results[0].Payload != "static" {
		t.Errorf("payload = %v, want the surviving static spec", results[0].Payload)
	}
}

func TestBuildForContext_StrictDeclarations(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Spec{
		Name:   "transfer",
		Schema: schema.Object{Properties: map[string]schema.Schema{"department": schema.String{}}},
		Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
			return nil, nil
		},
	})

	ts := r.BuildForContext(context.Background(), testContext())

	params := ts.Declarations[0].Parameters
	if params["additionalProperties"] != false {
		t.Error("declaration must be strict")
	}
}

func TestDispatchAll_Isolation(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoSpec("ok_a", "a"))
	r.Register(Spec{
		Name:   "strict",
		Schema: schema.Object{Properties: map[string]schema.Schema{"n": schema.Number{}}},
		Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
			return "never", nil
		},
	})
	r.Register(Spec{
		Name:   "boom",
		Schema: schema.Object{Properties: map[string]schema.Schema{}},
		Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
			panic("kaput")
		},
	})

	tc := testContext()
	ts := r.BuildForContext(context.Background(), tc)
	results := r.DispatchAll(context.Background(), []Call{
		{ID: "c1", Name: "ok_a", Arguments: "{}"},
		{ID: "c2", Name: "strict", Arguments: `{"n":"not-a-number"}`},
		{ID: "c3", Name: "boom", Arguments: "{}"},
	}, tc, ts)

	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Payload != "a" {
		t.Errorf("healthy call payload = %v", results[0].Payload)
	}
	invalid := results[1].Payload.(map[string]any)
	if invalid["error"] != "invalid_args" {
		t.Errorf("invalid call payload = %v", invalid)
	}
	failed := results[2].Payload.(map[string]any)
	if failed["error"] != "tool_failed" {
		t.Errorf("panicking call payload = %v", failed)
	}
}

func TestDispatchAll_HandlerErrorBecomesPayload(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Spec{
		Name:   "fails",
		Schema: schema.Object{Properties: map[string]schema.Schema{}},
		Handler: func(ctx context.Context, args map[string]any, tc Context) (any, error) {
			return nil, errors.New("backend unavailable")
		},
	})

	tc := testContext()
	ts := r.BuildForContext(context.Background(), tc)
	results := r.DispatchAll(context.Background(), []Call{{ID: "c1", Name: "fails", Arguments: "{}"}}, tc, ts)

	payload := results[0].Payload.(map[string]any)
	if payload["error"] != "tool_failed" || payload["message"] != "backend unavailable" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDispatchAll_UnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	tc := testContext()
	ts := r.BuildForContext(context.Background(), tc)

	results := r.DispatchAll(context.Background(), []Call{{ID: "c1", Name: "nope", Arguments: "{}"}}, tc, ts)

	payload := results[0].Payload.(map[string]any)
	if payload["error"] != "invalid_args" {
		t.Errorf("payload = %v", payload)
	}
}

func TestDispatch_LateFactoryResolution(t *testing.T) {
	r := NewRegistry(nil)
	// Build the toolset before the factory exists, then register it: dispatch
	// must still find the tool on the late factory pass.
	tc := testContext()
	ts := r.BuildForContext(context.Background(), tc)
	r.RegisterFactory(func(ctx context.Context, tc Context) ([]Spec, error) {
		return []Spec{echoSpec("late", "found")}, nil
	})

	results := r.DispatchAll(context.Background(), []Call{{ID: "c1", Name: "late", Arguments: "{}"}}, tc, ts)

	if results[0].Payload != "found" {
		t.Errorf("payload = %v", results[0].Payload)
	}
}

type staticDepartments []string

func (s staticDepartments) ListNames(ctx context.Context, tenantID string) ([]string, error) {
	return s, nil
}

func TestTransferFactory_EmitsEnterQueueIntent(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterFactory(TransferFactory(staticDepartments{"Financeiro", "Suporte"}))

	tc := testContext()
	ts := r.BuildForContext(context.Background(), tc)

	if len(ts.Declarations) != 1 || ts.Declarations[0].Name != "transferir" {
		t.Fatalf("declarations = %+v", ts.Declarations)
	}

	results := r.DispatchAll(context.Background(), []Call{{
		ID:        "c1",
		Name:      "transferir",
		Arguments: `{"department":"Financeiro"}`,
	}}, tc, ts)

	res := results[0]
	if len(res.Intents) != 1 || res.Intents[0].Kind != IntentEnterQueue || res.Intents[0].Department != "Financeiro" {
		t.Fatalf("intents = %+v", res.Intents)
	}

	// Out-of-enum department is rejected at validation, not by the handler.
	results = r.DispatchAll(context.Background(), []Call{{
		ID:        "c2",
		Name:      "transferir",
		Arguments: `{"department":"Jurídico"}`,
	}}, tc, ts)
	payload := results[0].Payload.(map[string]any)
	if payload["error"] != "invalid_args" {
		t.Errorf("payload = %v", payload)
	}
}

func TestEndChatSpec_EmitsEndAIChatIntent(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(EndChatSpec())

	tc := testContext()
	ts := r.BuildForContext(context.Background(), tc)
	results := r.DispatchAll(context.Background(), []Call{{
		ID:        "c1",
		Name:      "encerrar_atendimento",
		Arguments: `{"motivo":"resolvido"}`,
	}}, tc, ts)

	res := results[0]
	if len(res.Intents) != 1 || res.Intents[0].Kind != IntentEndAIChat || res.Intents[0].Reason != "resolvido" {
		t.Fatalf("intents = %+v", res.Intents)
	}
}
