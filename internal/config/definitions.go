package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

// SyncDefinitions is the persisted list of syncs seeded at application setup
type SyncDefinitions struct {
	Syncs []SyncDefinition `json:"syncs"`
}

// SyncDefinition is one named sync in the definitions file
type SyncDefinition struct {
	SyncType models.SyncType `json:"syncType"`
	SyncName string          `json:"syncName"`
	SoupName string          `json:"soupName"`
	Target   json.RawMessage `json:"target"`
	Options  json.RawMessage `json:"options"`
}

// Build validates the definition and turns it into a NEW sync state
func (d SyncDefinition) Build() (*models.SyncState, error) {
	if d.SyncName == "" {
		return nil, &models.ConfigError{Field: "syncName", Reason: "is required"}
	}
	target, err := models.DecodeTarget(d.Target)
	if err != nil {
		return nil, fmt.Errorf("sync %q: %w", d.SyncName, err)
	}
	options, err := models.DecodeOptions(d.Options)
	if err != nil {
		return nil, fmt.Errorf("sync %q: %w", d.SyncName, err)
	}
	state, err := models.NewSyncState(d.SyncType, target, options, d.SoupName, d.SyncName)
	if err != nil {
		return nil, fmt.Errorf("sync %q: %w", d.SyncName, err)
	}
	return state, nil
}

// LoadSyncDefinitions reads a definitions file in JSON or YAML form
func LoadSyncDefinitions(path string) (*SyncDefinitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync definitions %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML sync definitions %s: %w", path, err)
		}
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported sync definitions format: %s (supported: .yaml, .yml, .json)", ext)
	}

	return ParseSyncDefinitions(data)
}

// ParseSyncDefinitions decodes the JSON form of a definitions file
func ParseSyncDefinitions(data []byte) (*SyncDefinitions, error) {
	var defs SyncDefinitions
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse sync definitions: %w", err)
	}
	seen := make(map[string]bool, len(defs.Syncs))
	for _, d := range defs.Syncs {
		if d.SyncName != "" && seen[d.SyncName] {
			return nil, fmt.Errorf("duplicate sync name %q in definitions", d.SyncName)
		}
		seen[d.SyncName] = true
	}
	return &defs, nil
}

// targets and options are kept as raw JSON, so YAML is normalized first
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
