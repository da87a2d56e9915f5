// Package config holds the client's static configuration: credential
// material and connection tuning, resolved as override → loaded value
// → caller fallback. Values load from a TOML file and can be
// overridden at runtime per section/key.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Section and key names the client reads.
const (
	SectionAPI        = "api"
	SectionConnection = "connectionSettings"

	KeyApp      = "app"
	KeyToken    = "token"
	KeyEndpoint = "endpoint"

	KeyRetries         = "retries"
	KeyDefaultTimeout  = "defaultTimeout"
	KeyLongTimeout     = "longTimeout"
	KeyStreamChunkSize = "streamChunkSize"
)

// Settings is a two-level key-value store. Reads resolve overrides
// first, then values loaded from file, then the caller's fallback.
// A Settings is safe for concurrent reads; concurrent writers must
// serialize themselves.
type Settings struct {
	mu        sync.RWMutex
	loaded    map[string]map[string]any
	overrides map[string]map[string]any
}

// New returns an empty Settings.
func New() *Settings {
	return &Settings{
		loaded:    make(map[string]map[string]any),
		overrides: make(map[string]map[string]any),
	}
}

// Load reads a TOML file into a new Settings. Top-level tables become
// sections; non-table top-level keys are ignored.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	s := New()
	for name, v := range raw {
		if section, ok := v.(map[string]any); ok {
			s.loaded[name] = section
		}
	}

	return s, nil
}

// Set records an override for section/key, taking precedence over
// any loaded value.
func (s *Settings) Set(section, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overrides[section] == nil {
		s.overrides[section] = make(map[string]any)
	}
	s.overrides[section][key] = value
}

// ClearOverrides drops all recorded overrides, restoring loaded
// values.
func (s *Settings) ClearOverrides() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides = make(map[string]map[string]any)
}

// lookup resolves section/key without applying a fallback.
func (s *Settings) lookup(section, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sec, ok := s.overrides[section]; ok {
		if v, ok := sec[key]; ok {
			return v, true
		}
	}
	if sec, ok := s.loaded[section]; ok {
		if v, ok := sec[key]; ok {
			return v, true
		}
	}

	return nil, false
}

// Get resolves section/key as a string, returning fallback when the
// key is absent or not a string.
func (s *Settings) Get(section, key, fallback string) string {
	v, ok := s.lookup(section, key)
	if !ok {
		return fallback
	}

	str, ok := v.(string)
	if !ok {
		return fallback
	}

	return str
}

// GetInt resolves section/key as an integer, returning fallback when
// the key is absent or not numeric. TOML integers decode as int64.
func (s *Settings) GetInt(section, key string, fallback int) int {
	v, ok := s.lookup(section, key)
	if !ok {
		return fallback
	}

	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return fallback
	}
}

// Process-wide settings. Retained for ergonomics: library consumers
// that configure once at startup can avoid threading a *Settings
// through every constructor. Initialize with SetDefault before any
// concurrent use; concurrent calls to SetDefault/Reset race.
var (
	defaultMu       sync.RWMutex
	defaultSettings = New()
)

// Default returns the process-wide Settings singleton.
func Default() *Settings {
	defaultMu.RLock()
	defer defaultMu.RUnlock()

	return defaultSettings
}

// SetDefault replaces the process-wide Settings singleton.
func SetDefault(s *Settings) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	defaultSettings = s
}

// Reset restores the process-wide singleton to an empty Settings.
func Reset() {
	SetDefault(New())
}
