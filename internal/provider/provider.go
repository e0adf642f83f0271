// Package provider abstracts the language-model provider behind a
// request/response client with conversation threading, function tools, and
// retrieval grounding. Any provider with equivalent capabilities can sit
// behind the Client interface; the shipped implementation targets OpenAI.
package provider

import "context"

// Usage is the token consumption reported for one call. Zero values mean the
// provider did not report usage.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// FileCitation is one grounding citation attached to the reply.
type FileCitation struct {
	FileID   string
	FileName string
}

// ToolDeclaration is a function tool in the provider's declarative format.
// Parameters must be a strict (closed-world) JSON Schema object.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// InputItem is one element of a request's input sequence: either a plain
// message or a function_call_output answering a prior tool request.
type InputItem struct {
	// Role and Content are set for message items.
	Role    string
	Content string

	// CallID and Output are set for function_call_output items.
	CallID string
	Output string
}

// Message builds a plain message input item.
func Message(role, content string) InputItem {
	return InputItem{Role: role, Content: content}
}

// FunctionOutput builds a function_call_output input item.
func FunctionOutput(callID, output string) InputItem {
	return InputItem{CallID: callID, Output: output}
}

// Request is one provider call.
type Request struct {
	Model              string
	Instructions       string
	Input              []InputItem
	Tools              []ToolDeclaration
	ToolChoice         string
	MaxOutputTokens    int
	Metadata           map[string]string
	PreviousResponseID string

	// VectorStoreIDs enables retrieval grounding against the given indexes.
	VectorStoreIDs []string
}

// Response is the provider's reply. ID is the continuity token for threading
// the next call off this one.
type Response struct {
	ID            string
	OutputText    string
	Usage         Usage
	FunctionCalls []FunctionCall
	FileCitations []FileCitation
}

// Client is a provider connection bound to one set of credentials.
type Client interface {
	// CreateResponse performs one model call.
	CreateResponse(ctx context.Context, req *Request) (*Response, error)

	// ValidateVectorStore checks that the index still exists upstream.
	// A 404-class error means it is gone; other errors are transient.
	ValidateVectorStore(ctx context.Context, id string) error

	// CreateVectorStore provisions a new index and returns its id.
	CreateVectorStore(ctx context.Context, name string) (string, error)
}

// Factory builds clients for per-tenant credentials.
type Factory interface {
	ClientFor(apiKey string) Client
}
