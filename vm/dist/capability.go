package dist

import (
	"fmt"
	"strings"
)

// CapabilityPolicy decides which global names a received code unit may
// load. A nil Allowed set admits every name not in Denied.
type CapabilityPolicy struct {
	Allowed map[string]bool
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that admits every global.
func NewPermissivePolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// NewRestrictedPolicy creates a policy that admits only the given globals.
func NewRestrictedPolicy(allowed []string) *CapabilityPolicy {
	p := &CapabilityPolicy{Allowed: make(map[string]bool, len(allowed))}
	for _, name := range allowed {
		p.Allowed[name] = true
	}
	return p
}

// Allows reports whether code may load the global name.
func (p *CapabilityPolicy) Allows(name string) bool {
	if p.Denied[name] {
		return false
	}
	return p.Allowed == nil || p.Allowed[name]
}

// Check verifies every name a manifest requires. The error names the first
// rejected global and counts the rest.
func (p *CapabilityPolicy) Check(manifest *CapabilityManifest) error {
	if manifest == nil {
		return nil
	}
	var rejected []string
	for _, name := range manifest.Required {
		if !p.Allows(name) {
			rejected = append(rejected, name)
		}
	}
	if len(rejected) == 0 {
		return nil
	}
	reason := "is not allowed"
	if p.Denied[rejected[0]] {
		reason = "is explicitly denied"
	}
	if len(rejected) == 1 {
		return fmt.Errorf("dist: global %q %s", rejected[0], reason)
	}
	return fmt.Errorf("dist: global %q %s (also rejected: %s)",
		rejected[0], reason, strings.Join(rejected[1:], ", "))
}

// Deny adds names to the deny list.
func (p *CapabilityPolicy) Deny(names ...string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	for _, name := range names {
		p.Denied[name] = true
	}
}
