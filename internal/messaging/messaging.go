// Package messaging is the outbound port for replies. Delivery mechanics
// (the WhatsApp Business API, templates, media) live outside this core.
package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// Port sends a text message to a user on behalf of a tenant.
type Port interface {
	SendText(ctx context.Context, tenantID, toPhone, text string) error
}

// Sent is one recorded outbound message.
type Sent struct {
	TenantID string
	ToPhone  string
	Text     string
}

// MemoryPort records messages instead of sending them. For tests.
type MemoryPort struct {
	mu   sync.Mutex
	sent []Sent
}

// NewMemoryPort creates an empty recording port.
func NewMemoryPort() *MemoryPort {
	return &MemoryPort{}
}

func (p *MemoryPort) SendText(ctx context.Context, tenantID, toPhone, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, Sent{TenantID: tenantID, ToPhone: toPhone, Text: text})
	return nil
}

// Sent returns a copy of everything sent so far.
func (p *MemoryPort) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sent, len(p.sent))
	copy(out, p.sent)
	return out
}

// LogPort logs outbound messages. For local runs without a real channel.
type LogPort struct {
	logger *slog.Logger
}

// NewLogPort creates a log-only port.
func NewLogPort(logger *slog.Logger) *LogPort {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPort{logger: logger.With("component", "messaging")}
}

func (p *LogPort) SendText(ctx context.Context, tenantID, toPhone, text string) error {
	p.logger.Info("outbound message",
		"tenant_id", tenantID,
		"to", toPhone,
		"text", text)
	return nil
}
