package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages runtime toggles for optional reader behaviour.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// === Reader Features ===
	FeatureReaderLibrary         = "reader.library"         // Serve the ebook library namespace
	FeatureReaderPersonalization = "reader.personalization" // Apply {name}-style substitutions from the request

	// === Sync Features ===
	FeatureSyncRemote = "sync.remote" // Mirror progress to the remote store
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureReaderLibrary] = &Feature{
		Name:        FeatureReaderLibrary,
		Description: "Expose the library reader alongside lessons",
		Enabled:     true,
	}

	ff.features[FeatureReaderPersonalization] = &Feature{
		Name:        FeatureReaderPersonalization,
		Description: "Substitute placeholders with request values",
		Enabled:     true,
	}

	ff.features[FeatureSyncRemote] = &Feature{
		Name:        FeatureSyncRemote,
		Description: "Push and pull progress records to the remote store",
		Enabled:     true,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false
// Example: FEATURE_SYNC_REMOTE=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "sync.remote" -> "FEATURE_SYNC_REMOTE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled. Unknown features are disabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// Override applies a "name=bool" override, as given to --feature.
func (ff *FeatureFlags) Override(spec string) error {
	name, val, ok := strings.Cut(spec, "=")
	if !ok {
		return &FeatureFlagError{Feature: spec, Message: "expected name=true|false"}
	}
	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return &FeatureFlagError{Feature: name, Message: "invalid value " + strconv.Quote(val)}
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, known := ff.features[name]
	if !known {
		return &FeatureFlagError{Feature: name, Message: "unknown feature"}
	}
	feature.Enabled = enabled
	return nil
}

// All returns a copy of every feature, sorted by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FeatureFlagError is returned for operations on unknown features.
type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return "feature flag " + e.Feature + ": " + e.Message
}
