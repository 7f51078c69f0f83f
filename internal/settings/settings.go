// Package settings holds the small, externally-editable JSON configuration
// consumed by the registry, discovery engine, and monitor: which interface
// to bind to, how often to actively scan, whether to auto-block new
// devices, and how many domains to retain per device.
package settings

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/lattice-sec/linkwatch/internal/logger"
)

const (
	defaultScanInterval   = 30
	defaultDomainLogLimit = 20
)

// Settings is the JSON-serializable snapshot of current configuration.
type Settings struct {
	Interface      string `json:"interface"`
	ScanInterval   int    `json:"scan_interval"`
	ParanoidMode   bool   `json:"paranoid_mode"`
	DomainLogLimit int    `json:"domain_log_limit"`
}

func defaults() Settings {
	return Settings{
		Interface:      "",
		ScanInterval:   defaultScanInterval,
		ParanoidMode:   false,
		DomainLogLimit: defaultDomainLogLimit,
	}
}

// Provider is a thread-safe, file-backed Settings holder. Every mutator
// persists to disk immediately, mirroring the original settings manager's
// write-through behavior.
type Provider struct {
	mu       sync.RWMutex
	path     string
	settings Settings
	log      *logger.Logger
}

// New loads settings from path if present, falling back to defaults;
// a missing or unreadable file is not fatal.
func New(path string) *Provider {
	p := &Provider{
		path:     path,
		settings: defaults(),
		log:      logger.NewComponentLogger("settings"),
	}
	p.load()
	return p
}

func (p *Provider) load() {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	var onDisk Settings
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		p.log.Error("failed to load settings from %s: %v", p.path, err)
		return
	}
	p.settings = onDisk
	p.log.Info("loaded settings from %s", p.path)
}

func (p *Provider) save() {
	out, err := json.MarshalIndent(p.settings, "", "  ")
	if err != nil {
		p.log.Error("failed to marshal settings: %v", err)
		return
	}
	if err := os.WriteFile(p.path, out, 0o644); err != nil {
		p.log.Error("failed to save settings: %v", err)
		return
	}
	p.log.Info("settings saved")
}

// Interface returns the operator-configured interface override, or "" if
// none is set (meaning autodetection should run).
func (p *Provider) Interface() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.Interface
}

// ScanInterval returns the configured active-scan cadence.
func (p *Provider) ScanInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Duration(p.settings.ScanInterval) * time.Second
}

// IsParanoidMode reports whether newly discovered devices are auto-blocked.
func (p *Provider) IsParanoidMode() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.ParanoidMode
}

// DomainLogLimit returns the configured per-device domain retention limit.
func (p *Provider) DomainLogLimit() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings.DomainLogLimit
}

// Snapshot returns a copy of the current settings.
func (p *Provider) Snapshot() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// Update replaces the current settings with updated and persists them.
// Zero-value fields in updates are NOT treated as "unset"; callers
// should start from Snapshot() when doing a partial update.
func (p *Provider) Update(updated Settings) {
	p.mu.Lock()
	p.settings = updated
	p.save()
	p.mu.Unlock()
}

// Set updates a single named field by key ("interface", "scan_interval",
// "paranoid_mode", "domain_log_limit") and persists the result.
func (p *Provider) Set(key string, value interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch key {
	case "interface":
		if v, ok := value.(string); ok {
			p.settings.Interface = v
		}
	case "scan_interval":
		if v, ok := toInt(value); ok {
			p.settings.ScanInterval = v
		}
	case "paranoid_mode":
		if v, ok := value.(bool); ok {
			p.settings.ParanoidMode = v
		}
	case "domain_log_limit":
		if v, ok := toInt(value); ok {
			p.settings.DomainLogLimit = v
		}
	}
	p.save()
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
