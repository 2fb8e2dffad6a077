// Package capabilities implements the Capability Validator: a deny-by-default
// oracle built once from a manifest's declared Permissions and consulted by
// the Host Surface before every side-effecting call a guest makes.
package capabilities

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/deskwire/extensions/internal/domain/manifest"
)

// Validator evaluates one module instance's requests against the
// permission ceiling declared in its manifest. Every field is read-only
// after construction, so a Validator is safe for concurrent use across the
// dispatch loop's lifetime.
type Validator struct {
	subscribeCeilings []string

	callAllowed map[string]struct{}

	networkHTTP      bool
	networkWebsocket bool
	networkTCP       bool
	storage          bool
	timers           bool
}

// New builds a Validator from a manifest's declared Permissions. It never
// widens what the manifest granted; every Check* call below only narrows.
func New(p manifest.Permissions) *Validator {
	callAllowed := make(map[string]struct{}, len(p.Call))
	for _, triple := range p.Call {
		callAllowed[triple] = struct{}{}
	}

	return &Validator{
		subscribeCeilings: append([]string(nil), p.Subscribe...),
		callAllowed:       callAllowed,
		networkHTTP:       p.NetworkHTTP,
		networkWebsocket:  p.NetworkWebsocket,
		networkTCP:        p.NetworkTCP,
		storage:           p.Storage,
		timers:            p.Timers,
	}
}

// CheckSubscribe validates a guest's subscribe(pattern) call against the
// manifest's declared ceiling patterns. A requested pattern is accepted
// only if it narrows at least one declared ceiling: every literal segment
// of the ceiling pattern must also appear, in order, in the requested
// pattern. This rejects any subscription broader than what was granted
// while still letting a module subscribe to one slice of what it was
// declared to need.
func (v *Validator) CheckSubscribe(pattern string) error {
	if _, err := glob.Compile(pattern, '.'); err != nil {
		return fmt.Errorf("capabilities: subscribe pattern %q is not a valid glob: %w", pattern, err)
	}

	for _, ceiling := range v.subscribeCeilings {
		if narrows(ceiling, pattern) {
			return nil
		}
	}
	return fmt.Errorf("capabilities: subscribe pattern %q exceeds the declared permission ceiling", pattern)
}

// narrows reports whether requested stays within ceiling: every literal
// (non-wildcard) segment of ceiling must occur in requested, in order.
func narrows(ceiling, requested string) bool {
	pos := 0
	for _, segment := range literalSegments(ceiling) {
		idx := strings.Index(requested[pos:], segment)
		if idx < 0 {
			return false
		}
		pos += idx + len(segment)
	}
	return true
}

// literalSegments splits a glob pattern on its wildcard metacharacters,
// discarding empty segments, leaving only the literal text a narrower
// pattern must still contain.
func literalSegments(pattern string) []string {
	segments := strings.FieldsFunc(pattern, func(r rune) bool {
		return r == '*' || r == '?'
	})
	return segments
}

// CheckCall validates a guest's call(module, name, version) against the
// manifest's declared call allowlist. The allowlist is keyed by
// "module@version" (manifest.Manifest.CallTriples uses the same key
// shape); name is carried alongside for logging and routing but is not
// itself part of the allowlist key.
func (v *Validator) CheckCall(module, name string, version int) error {
	key := fmt.Sprintf("%s@%d", module, version)
	if _, ok := v.callAllowed[key]; !ok {
		return fmt.Errorf("capabilities: call to %s (action %q) not permitted", key, name)
	}
	return nil
}

// CheckNetworkHTTP reports an error unless the manifest grants http-request.
func (v *Validator) CheckNetworkHTTP() error {
	if !v.networkHTTP {
		return fmt.Errorf("capabilities: network_http not permitted")
	}
	return nil
}

// CheckNetworkWebsocket reports an error unless the manifest grants
// outbound websocket connections.
func (v *Validator) CheckNetworkWebsocket() error {
	if !v.networkWebsocket {
		return fmt.Errorf("capabilities: network_websocket not permitted")
	}
	return nil
}

// CheckNetworkTCP reports an error unless the manifest grants raw TCP.
func (v *Validator) CheckNetworkTCP() error {
	if !v.networkTCP {
		return fmt.Errorf("capabilities: network_tcp not permitted")
	}
	return nil
}

// CheckStorage reports an error unless the manifest grants key/value
// storage access.
func (v *Validator) CheckStorage() error {
	if !v.storage {
		return fmt.Errorf("capabilities: storage not permitted")
	}
	return nil
}

// CheckTimers reports an error unless the manifest grants set-timeout /
// set-interval.
func (v *Validator) CheckTimers() error {
	if !v.timers {
		return fmt.Errorf("capabilities: timers not permitted")
	}
	return nil
}
