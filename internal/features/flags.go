package features

import (
	"sort"
	"sync"
	"time"
)

// Flag is one optional surface of the bridge that can be switched off.
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Flag names.
const (
	FlagAPIAlias     = "api_alias"
	FlagEventStream  = "event_stream"
	FlagMediaProxy   = "media_proxy"
	FlagRateLimiting = "rate_limiting"
	FlagHealthDebug  = "health_debug"
	FlagAutoReply    = "auto_reply"
)

// Sources reported in Flag.Source.
const (
	SourceDefault = "default"
	SourceConfig  = "config"
	SourceEnv     = "env"
)

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
}

// DefaultFlags lists every known flag. Everything ships enabled; operators
// turn surfaces off rather than on.
var DefaultFlags = []FlagDefinition{
	{FlagAPIAlias, "Mirror the API under /api/whatsapp", true},
	{FlagEventStream, "Serve the websocket event stream on /events", true},
	{FlagMediaProxy, "Serve media download and upload on /media", true},
	{FlagRateLimiting, "Apply per-IP rate limits to webhook and send routes", true},
	{FlagHealthDebug, "Allow admin callers to request /health?debug=1", true},
	{FlagAutoReply, "Answer inbound messages while the bridge is closed", true},
}

func defaultValue(name string) (bool, bool) {
	for _, def := range DefaultFlags {
		if def.Name == name {
			return def.DefaultValue, true
		}
	}
	return false, false
}

// FlagManager holds the effective flag state. A nil manager answers with the
// defaults.
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
}

// NewFlagManager returns a manager initialised with DefaultFlags.
func NewFlagManager() *FlagManager {
	fm := &FlagManager{flags: make(map[string]*Flag, len(DefaultFlags))}
	now := time.Now()
	for _, def := range DefaultFlags {
		fm.flags[def.Name] = &Flag{
			Name:        def.Name,
			Enabled:     def.DefaultValue,
			Description: def.Description,
			Source:      SourceDefault,
			UpdatedAt:   now,
		}
	}
	return fm
}

func (fm *FlagManager) IsEnabled(name string) bool {
	if fm == nil {
		v, _ := defaultValue(name)
		return v
	}
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[name]
	if !exists {
		return false
	}
	return flag.Enabled
}

func (fm *FlagManager) Enable(name string) error {
	return fm.set(name, true, SourceConfig)
}

func (fm *FlagManager) Disable(name string) error {
	return fm.set(name, false, SourceConfig)
}

func (fm *FlagManager) set(name string, enabled bool, source string) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	flag, exists := fm.flags[name]
	if !exists {
		return ErrFlagNotFound{Name: name}
	}
	flag.Enabled = enabled
	flag.Source = source
	flag.UpdatedAt = time.Now()
	return nil
}

// GetFlag returns a copy of the named flag.
func (fm *FlagManager) GetFlag(name string) (*Flag, error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[name]
	if !exists {
		return nil, ErrFlagNotFound{Name: name}
	}
	flagCopy := *flag
	return &flagCopy, nil
}

// ListFlags returns copies of all flags sorted by name.
func (fm *FlagManager) ListFlags() []Flag {
	if fm == nil {
		return NewFlagManager().ListFlags()
	}
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	out := make([]Flag, 0, len(fm.flags))
	for _, flag := range fm.flags {
		out = append(out, *flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns name to enabled for health output.
func (fm *FlagManager) Snapshot() map[string]bool {
	out := make(map[string]bool)
	for _, flag := range fm.ListFlags() {
		out[flag.Name] = flag.Enabled
	}
	return out
}

// Disabled returns the names of switched off flags, sorted.
func (fm *FlagManager) Disabled() []string {
	var out []string
	for _, flag := range fm.ListFlags() {
		if !flag.Enabled {
			out = append(out, flag.Name)
		}
	}
	return out
}

type ErrFlagNotFound struct {
	Name string
}

func (e ErrFlagNotFound) Error() string {
	return "feature flag not found: " + e.Name
}
