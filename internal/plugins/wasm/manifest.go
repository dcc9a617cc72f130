// Package wasm loads and executes sandboxed WASM tool plugins. Each
// plugin ships a TOML manifest next to its module; tools are exposed to
// the model as "pluginName.toolName".
package wasm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
)

// Manifest describes one WASM plugin.
type Manifest struct {
	Plugin       PluginInfo     `toml:"plugin"`
	Capabilities Capabilities   `toml:"capabilities"`
	Tools        []ToolManifest `toml:"tools"`
}

// PluginInfo is the [plugin] table.
type PluginInfo struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Description string   `toml:"description"`
	Authors     []string `toml:"authors"`
	License     string   `toml:"license"`
	Homepage    string   `toml:"homepage"`
	Checksum    string   `toml:"checksum"`
}

// Capabilities is the [capabilities] table. The sandbox grants none of
// these; they are declared so the loader can refuse plugins that ask for
// more than the runtime will ever provide.
type Capabilities struct {
	Network       bool `toml:"network"`
	Filesystem    bool `toml:"filesystem"`
	Shell         bool `toml:"shell"`
	HostFunctions bool `toml:"host_functions"`
}

// ToolManifest is one [[tools]] entry.
type ToolManifest struct {
	Name        string         `toml:"name"`
	Description string         `toml:"description"`
	RiskLevel   int            `toml:"risk_level"`
	IsMutating  bool           `toml:"is_mutating"`
	Parameters  map[string]any `toml:"parameters"`
}

// ParseManifest decodes a TOML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse plugin manifest: %w", err)
	}
	if strings.TrimSpace(m.Plugin.Name) == "" {
		return nil, fmt.Errorf("plugin manifest missing [plugin] name")
	}
	if len(m.Tools) == 0 {
		return nil, fmt.Errorf("plugin %s declares no tools", m.Plugin.Name)
	}
	for i, t := range m.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("plugin %s: tool %d has no name", m.Plugin.Name, i)
		}
		if t.RiskLevel < 0 || t.RiskLevel > 10 {
			return nil, fmt.Errorf("plugin %s: tool %s risk_level %d out of range 0..10", m.Plugin.Name, t.Name, t.RiskLevel)
		}
	}
	return &m, nil
}

// LoadManifest reads and parses manifest.toml from a plugin directory.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.toml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin manifest: %w", err)
	}
	return ParseManifest(data)
}

// VerifyChecksum compares the manifest's SHA-256 against the module
// bytes. A manifest without a checksum passes.
func (m *Manifest) VerifyChecksum(wasmBytes []byte) error {
	want := strings.ToLower(strings.TrimSpace(m.Plugin.Checksum))
	if want == "" {
		return nil
	}
	sum := sha256.Sum256(wasmBytes)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("plugin %s checksum mismatch: manifest %s, module %s", m.Plugin.Name, want, got)
	}
	return nil
}

// SchemaJSON renders a tool's parameters table as the JSON schema
// advertised to the model. An empty table becomes a bare object schema.
func (t *ToolManifest) SchemaJSON() (json.RawMessage, error) {
	if len(t.Parameters) == 0 {
		return json.RawMessage(`{"type": "object", "properties": {}}`), nil
	}
	data, err := json.Marshal(t.Parameters)
	if err != nil {
		return nil, fmt.Errorf("tool %s: failed to encode parameters: %w", t.Name, err)
	}
	return data, nil
}
