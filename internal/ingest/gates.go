package ingest

import "sync"

// ForwardMarkerHeader marks a relayed payload so a forwarding target never
// forwards it again.
const ForwardMarkerHeader = "X-Atende-Forwarded"

const defaultMaintenanceNotice = "Estamos em manutenção no momento. " +
	"Por favor, tente novamente mais tarde."

// Gates are the two runtime-toggleable global gates in front of ingestion:
// maintenance mode and the local-dev forward rule. Toggles flip at runtime,
// not at deploy time.
type Gates struct {
	mu sync.RWMutex

	maintenance       bool
	maintenanceNotice string
	allowList         map[string]struct{}

	hosted     bool
	testing    bool
	forwardURL string
}

// GatesConfig seeds the gates.
type GatesConfig struct {
	Maintenance       bool
	MaintenanceNotice string
	AllowList         []string
	Hosted            bool
	Testing           bool
	ForwardURL        string
}

// NewGates builds the gates from config.
func NewGates(cfg GatesConfig) *Gates {
	notice := cfg.MaintenanceNotice
	if notice == "" {
		notice = defaultMaintenanceNotice
	}
	allow := make(map[string]struct{}, len(cfg.AllowList))
	for _, p := range cfg.AllowList {
		allow[p] = struct{}{}
	}
	return &Gates{
		maintenance:       cfg.Maintenance,
		maintenanceNotice: notice,
		allowList:         allow,
		hosted:            cfg.Hosted,
		testing:           cfg.Testing,
		forwardURL:        cfg.ForwardURL,
	}
}

// SetMaintenance toggles maintenance mode.
func (g *Gates) SetMaintenance(on bool) {
	g.mu.Lock()
	g.maintenance = on
	g.mu.Unlock()
}

// SetTesting toggles the local-dev forward rule.
func (g *Gates) SetTesting(on bool) {
	g.mu.Lock()
	g.testing = on
	g.mu.Unlock()
}

// maintenanceBlocks reports whether maintenance mode blocks this sender,
// returning the notice to send.
func (g *Gates) maintenanceBlocks(phone string) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.maintenance {
		return false, ""
	}
	if _, ok := g.allowList[phone]; ok {
		return false, ""
	}
	return true, g.maintenanceNotice
}

// shouldForward reports whether this payload is relayed to a developer
// endpoint: hosted, testing mode on, allow-listed sender, and the payload
// has not been forwarded already.
func (g *Gates) shouldForward(phone string, alreadyForwarded bool) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.hosted || !g.testing || g.forwardURL == "" || alreadyForwarded {
		return false, ""
	}
	if _, ok := g.allowList[phone]; !ok {
		return false, ""
	}
	return true, g.forwardURL
}
