// Package budget maintains per-conversation token budgets. It folds observed
// provider usage into exponential moving averages and derives adaptive
// input/output caps so long conversations settle into a stable cost envelope.
package budget

import (
	"math"
	"sync"
	"time"
)

// Usage is the observed token consumption of a single provider call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Limits are the adaptive caps applied to the next turn.
type Limits struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Options tune the EMA smoothing and clamp bounds.
type Options struct {
	// Alpha is the EMA smoothing factor. Default: 0.3.
	Alpha float64

	// InputMultiplier scales the input EMA into a cap. Default: 2.2.
	InputMultiplier float64

	// OutputMultiplier scales the output EMA into a cap. Default: 1.6.
	OutputMultiplier float64

	// MinInput/MaxInput bound the input cap. Defaults: 1200/6000.
	MinInput int
	MaxInput int

	// MinOutput/MaxOutput bound the output cap. Defaults: 300/1200.
	MinOutput int
	MaxOutput int

	// DefaultInput/DefaultOutput seed the EMAs for unseen conversations.
	// Defaults: 2800/500.
	DefaultInput  int
	DefaultOutput int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Alpha:            0.3,
		InputMultiplier:  2.2,
		OutputMultiplier: 1.6,
		MinInput:         1200,
		MaxInput:         6000,
		MinOutput:        300,
		MaxOutput:        1200,
		DefaultInput:     2800,
		DefaultOutput:    500,
	}
}

type stats struct {
	inputEMA    float64
	outputEMA   float64
	lastUpdated time.Time
}

// Manager tracks EMAs keyed by conversation. It lives entirely in process
// memory; a restart resets every conversation to the defaults, which only
// affects throughput tuning, never correctness.
//
// Thread Safety:
// Manager is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	opts  Options
	byKey map[string]*stats
}

// NewManager creates a budget manager. Zero-valued options fall back to
// DefaultOptions field by field.
func NewManager(opts Options) *Manager {
	defaults := DefaultOptions()
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = defaults.Alpha
	}
	if opts.InputMultiplier <= 0 {
		opts.InputMultiplier = defaults.InputMultiplier
	}
	if opts.OutputMultiplier <= 0 {
		opts.OutputMultiplier = defaults.OutputMultiplier
	}
	if opts.MinInput <= 0 {
		opts.MinInput = defaults.MinInput
	}
	if opts.MaxInput <= 0 {
		opts.MaxInput = defaults.MaxInput
	}
	if opts.MinOutput <= 0 {
		opts.MinOutput = defaults.MinOutput
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = defaults.MaxOutput
	}
	if opts.DefaultInput <= 0 {
		opts.DefaultInput = defaults.DefaultInput
	}
	if opts.DefaultOutput <= 0 {
		opts.DefaultOutput = defaults.DefaultOutput
	}
	return &Manager{
		opts:  opts,
		byKey: make(map[string]*stats),
	}
}

// Key builds the canonical conversation key.
func Key(tenantID, conversationID string) string {
	return tenantID + ":" + conversationID
}

// Update folds an observed usage into the conversation's EMAs. Calls with no
// reported usage (both counts zero or negative) leave the EMAs untouched so
// the previous average keeps steering the caps.
func (m *Manager) Update(key string, usage Usage) {
	if usage.InputTokens <= 0 && usage.OutputTokens <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byKey[key]
	if !ok {
		s = &stats{
			inputEMA:  float64(m.opts.DefaultInput),
			outputEMA: float64(m.opts.DefaultOutput),
		}
		m.byKey[key] = s
	}

	if usage.InputTokens > 0 {
		s.inputEMA = m.opts.Alpha*float64(usage.InputTokens) + (1-m.opts.Alpha)*s.inputEMA
	}
	if usage.OutputTokens > 0 {
		s.outputEMA = m.opts.Alpha*float64(usage.OutputTokens) + (1-m.opts.Alpha)*s.outputEMA
	}
	s.lastUpdated = time.Now()
}

// Limits returns the clamped adaptive caps for the conversation. Unseen keys
// get the defaults scaled by the multipliers, clamped the same way.
func (m *Manager) Limits(key string) Limits {
	m.mu.RLock()
	s, ok := m.byKey[key]
	var inputEMA, outputEMA float64
	if ok {
		inputEMA = s.inputEMA
		outputEMA = s.outputEMA
	} else {
		inputEMA = float64(m.opts.DefaultInput)
		outputEMA = float64(m.opts.DefaultOutput)
	}
	m.mu.RUnlock()

	return Limits{
		Input:  clamp(int(math.Round(inputEMA*m.opts.InputMultiplier)), m.opts.MinInput, m.opts.MaxInput),
		Output: clamp(int(math.Round(outputEMA*m.opts.OutputMultiplier)), m.opts.MinOutput, m.opts.MaxOutput),
	}
}

// ApproxTokens estimates the token count of a text using the ~4 chars/token
// heuristic, rounding up.
func ApproxTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
