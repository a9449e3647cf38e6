package features

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wabridge/internal/models"
)

// Environment overrides, applied after the config file:
// WABRIDGE_FEATURE_<FLAG_NAME>=true/false and WABRIDGE_FEATURES_DISABLE_ALL.
const (
	envPrefix     = "WABRIDGE_FEATURE_"
	envDisableAll = "WABRIDGE_FEATURES_DISABLE_ALL"
)

// ValidateConfig rejects unknown flag names so a typo does not silently leave
// a surface enabled.
func ValidateConfig(cfg models.FeaturesConfig) error {
	for name := range cfg.Flags {
		if _, known := defaultValue(name); !known {
			return fmt.Errorf("unknown feature flag %q", name)
		}
	}
	return nil
}

// LoadFromConfig applies the config file section.
func (fm *FlagManager) LoadFromConfig(cfg models.FeaturesConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	now := time.Now()
	for name, enabled := range cfg.Flags {
		flag := fm.flags[name]
		flag.Enabled = enabled
		flag.Source = SourceConfig
		flag.UpdatedAt = now
	}
	if cfg.DisableAll {
		for _, flag := range fm.flags {
			flag.Enabled = false
			flag.Source = SourceConfig
			flag.UpdatedAt = now
		}
	}
	return nil
}

// LoadFromEnvironment applies environment overrides. Unknown names and
// unparsable values are returned so the caller can log them.
func (fm *FlagManager) LoadFromEnvironment() []string {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	now := time.Now()
	if v := os.Getenv(envDisableAll); v != "" {
		if off, _ := strconv.ParseBool(v); off {
			for _, flag := range fm.flags {
				flag.Enabled = false
				flag.Source = SourceEnv
				flag.UpdatedAt = now
			}
			return nil
		}
	}

	var ignored []string
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		enabled, err := strconv.ParseBool(value)
		flag, exists := fm.flags[name]
		if err != nil || !exists {
			ignored = append(ignored, key)
			continue
		}
		flag.Enabled = enabled
		flag.Source = SourceEnv
		flag.UpdatedAt = now
	}
	return ignored
}

// Load builds a manager from defaults, the config section and the environment.
func Load(cfg models.FeaturesConfig) (*FlagManager, []string, error) {
	fm := NewFlagManager()
	if err := fm.LoadFromConfig(cfg); err != nil {
		return nil, nil, err
	}
	return fm, fm.LoadFromEnvironment(), nil
}
