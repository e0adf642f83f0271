package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atendelabs/atende/internal/schema"
)

// Declaration is a tool projected into the provider's declarative format.
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type resolved struct {
	spec     Spec
	compiled *jsonschema.Schema
}

// Toolset is the outcome of resolving a registry against one turn's context:
// the declarations to send to the provider and the name-keyed specs used to
// dispatch the calls that come back.
type Toolset struct {
	Declarations []Declaration
	byName       map[string]resolved
}

// Names returns the resolved tool names in declaration order.
func (ts *Toolset) Names() []string {
	names := make([]string, 0, len(ts.Declarations))
	for _, d := range ts.Declarations {
		names = append(names, d.Name)
	}
	return names
}

// Registry holds static tool specs and per-context factories. It is
// constructed once at startup and injected wherever tools are needed; there
// is no ambient global registry.
//
// Thread Safety:
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	specs     []Spec
	factories []Factory
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger.With("component", "tools")}
}

// Register adds a static tool spec.
func (r *Registry) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
}

// RegisterFactory adds a per-context factory.
func (r *Registry) RegisterFactory(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// BuildForContext resolves every static spec and factory against the turn's
// context. Static specs come first, then factory output, later registrations
// overriding earlier ones by name. A failing factory is logged and skipped: a
// broken tool factory must never break the turn.
func (r *Registry) BuildForContext(ctx context.Context, tc Context) *Toolset {
	r.mu.RLock()
	specs := make([]Spec, len(r.specs))
	copy(specs, r.specs)
	factories := make([]Factory, len(r.factories))
	copy(factories, r.factories)
	r.mu.RUnlock()

	for _, f := range factories {
		produced, err := f(ctx, tc)
		if err != nil {
			r.logger.Warn("tool factory failed, skipping",
				"tenant_id", tc.TenantID,
				"conversation_id", tc.ConversationID,
				"error", err)
			continue
		}
		specs = append(specs, produced...)
	}

	ts := &Toolset{byName: make(map[string]resolved, len(specs))}
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			continue
		}
		if _, seen := ts.byName[spec.Name]; !seen {
			order = append(order, spec.Name)
		}
		compiled, err := schema.Compile(spec.Schema)
		if err != nil {
			// Keep any earlier resolved spec under this name.
			r.logger.Warn("tool schema failed to compile, skipping",
				"tool", spec.Name, "error", err)
			continue
		}
		ts.byName[spec.Name] = resolved{spec: spec, compiled: compiled}
	}

	for _, name := range order {
		res, ok := ts.byName[name]
		if !ok {
			continue
		}
		ts.Declarations = append(ts.Declarations, Declaration{
			Name:        name,
			Description: res.spec.Description,
			Parameters:  schema.Project(res.spec.Schema),
		})
	}
	return ts
}

// DispatchAll executes a batch of calls. Lookup order per call: the resolved
// toolset, then the static specs, then a late factory pass as a last resort.
// Each call's outcome is independent: invalid arguments and handler failures
// become structured payloads, never errors, and never abort the batch.
func (r *Registry) DispatchAll(ctx context.Context, calls []Call, tc Context, ts *Toolset) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, r.dispatch(ctx, call, tc, ts))
	}
	return results
}

func (r *Registry) dispatch(ctx context.Context, call Call, tc Context, ts *Toolset) (result Result) {
	result = Result{CallID: call.ID, Name: call.Name}

	res, ok := r.lookup(ctx, call.Name, tc, ts)
	if !ok {
		result.Payload = map[string]any{
			"error":   "invalid_args",
			"details": fmt.Sprintf("unknown tool: %s", call.Name),
		}
		return result
	}

	var args map[string]any
	raw := call.Arguments
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		result.Payload = map[string]any{
			"error":   "invalid_args",
			"details": fmt.Sprintf("arguments are not valid JSON: %v", err),
		}
		return result
	}

	if res.compiled != nil {
		// Validate against the decoded form so numbers keep their JSON types.
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			if err := res.compiled.Validate(decoded); err != nil {
				result.Payload = map[string]any{
					"error":   "invalid_args",
					"details": err.Error(),
				}
				return result
			}
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked",
				"tool", call.Name, "panic", fmt.Sprint(rec))
			result.Payload = map[string]any{
				"error":   "tool_failed",
				"message": fmt.Sprintf("tool %s panicked", call.Name),
			}
			result.Intents = nil
		}
	}()

	out, err := res.spec.Handler(ctx, args, tc)
	if err != nil {
		result.Payload = map[string]any{
			"error":   "tool_failed",
			"message": err.Error(),
		}
		return result
	}

	if wrapped, ok := out.(Output); ok {
		result.Payload = wrapped.Content
		result.Intents = wrapped.Intents
		return result
	}
	if wrapped, ok := out.(*Output); ok && wrapped != nil {
		result.Payload = wrapped.Content
		result.Intents = wrapped.Intents
		return result
	}
	result.Payload = out
	return result
}

func (r *Registry) lookup(ctx context.Context, name string, tc Context, ts *Toolset) (resolved, bool) {
	if ts != nil {
		if res, ok := ts.byName[name]; ok {
			return res, true
		}
	}

	r.mu.RLock()
	specs := make([]Spec, len(r.specs))
	copy(specs, r.specs)
	factories := make([]Factory, len(r.factories))
	copy(factories, r.factories)
	r.mu.RUnlock()

	// Static list, last registration wins.
	for i := len(specs) - 1; i >= 0; i-- {
		if specs[i].Name == name {
			return compile(specs[i]), true
		}
	}

	// Late factory resolution as a last resort.
	for _, f := range factories {
		produced, err := f(ctx, tc)
		if err != nil {
			continue
		}
		for i := len(produced) - 1; i >= 0; i-- {
			if produced[i].Name == name {
				return compile(produced[i]), true
			}
		}
	}
	return resolved{}, false
}

func compile(spec Spec) resolved {
	compiled, err := schema.Compile(spec.Schema)
	if err != nil {
		compiled = nil
	}
	return resolved{spec: spec, compiled: compiled}
}
