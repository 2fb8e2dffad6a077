// Package manifest defines the domain model for an installed module's
// descriptor: identity, declared permissions, and the tamper hash that binds
// a manifest to the binary it was installed with.
package manifest

import "github.com/Masterminds/semver/v3"

// Permissions is the declared capability ceiling for a module. Every field
// is a ceiling, never a request: the validator built from it only narrows.
type Permissions struct {
	// Subscribe lists glob patterns over dotted "module.event" keys.
	Subscribe []string `yaml:"subscribe"`
	// Call lists allowlisted driver-call triples, written "module@version"
	// with the command name carried alongside at check time.
	Call []string `yaml:"call"`

	NetworkHTTP      bool `yaml:"network_http"`
	NetworkWebsocket bool `yaml:"network_websocket"`
	NetworkTCP       bool `yaml:"network_tcp"`

	Storage bool `yaml:"storage"`
	Timers  bool `yaml:"timers"`
}

// Manifest is the immutable descriptor attached to an installed module.
// It is parsed once by the loader and never mutated afterward; permissions
// are fixed at install time and re-read, not re-negotiated, on every host
// start.
type Manifest struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	APIVersion  int    `yaml:"api_version"`
	Description string `yaml:"description"`
	Author      string `yaml:"author"`

	Permissions Permissions `yaml:"permissions"`

	// ConfigSchema is an optional JSON Schema (embedded as raw text) the
	// module's admin-supplied config map must satisfy. Empty means the
	// module takes no config, or declares no shape for it.
	ConfigSchema string `yaml:"config_schema"`

	// SemVer is the parsed form of Version, populated by the loader.
	SemVer *semver.Version `yaml:"-"`
}

// CallTriples returns the manifest's declared call allowlist as a set keyed
// by "module@version", matching the check_call normalization.
func (m *Manifest) CallTriples() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Permissions.Call))
	for _, t := range m.Permissions.Call {
		set[t] = struct{}{}
	}
	return set
}
