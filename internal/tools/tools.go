// Package tools implements the function-tool registry: schema-validated tool
// specifications, per-context factories for tools that depend on live tenant
// data, projection into the provider's declarative format, and isolated
// dispatch of tool-call batches.
package tools

import (
	"context"

	"github.com/atendelabs/atende/internal/schema"
)

// Role identifies who is speaking on a conversation.
type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleEmployee Role = "EMPLOYEE"
)

// Context is the immutable per-turn context handed to every factory and
// handler. It is never persisted; callers reconstruct it per call.
type Context struct {
	TenantID       string
	UserPhone      string
	ConversationID string
	Role           Role
}

// Handler executes a tool call with already-validated arguments.
type Handler func(ctx context.Context, args map[string]any, tc Context) (any, error)

// Spec is a single function tool: name, description, argument schema, and
// the handler invoked on dispatch. Names are unique within a turn; later
// registrations override earlier ones.
type Spec struct {
	Name        string
	Description string
	Schema      schema.Schema
	Handler     Handler
}

// Factory produces specs for a turn's context. Factories exist because some
// tools depend on live per-tenant data (the set of valid departments, say)
// that cannot be known at registration time.
type Factory func(ctx context.Context, tc Context) ([]Spec, error)

// IntentKind tags the structured side effects a tool may request.
type IntentKind string

const (
	IntentEnterQueue IntentKind = "ENTER_QUEUE"
	IntentEndAIChat  IntentKind = "END_AI_CHAT"
)

// Intent is a side-effect request emitted by a tool. The orchestrator never
// performs the effect inline; intents travel through the ingestion pipeline.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Department string     `json:"department,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Output is the optional rich return of a handler: content for the model's
// follow-up turn plus any intents to queue. Handlers may also return any
// plain value, which is serialized directly with no intents.
type Output struct {
	Content any
	Intents []Intent
}

// Call is one function-call request parsed from a provider response.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Result is the outcome of dispatching a single call. Payload is either the
// handler's content or a structured error object; a call's failure never
// affects its batch siblings.
type Result struct {
	CallID  string
	Name    string
	Payload any
	Intents []Intent
}
