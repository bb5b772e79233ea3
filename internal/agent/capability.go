package agent

import "strings"

// Capability names a class of operation an agent may request (e.g.
// "vfs.read", "audio.mute", "net.connect", "mem.approve"). Opcodes map to
// exactly one capability via the engine's registry.
type Capability string

// ScopePredicate reports whether resource falls within an agent's granted
// scope for a capability (e.g. a VFS path prefix, a network CIDR).
// Implementations must be side-effect free and fast — they run on the hot
// policy-check path under the agent's CBS-bounded opcode timeout.
type ScopePredicate func(resource string) bool

// PrefixScope returns a ScopePredicate matching any resource with the
// given prefix; the common case for VFS path and namespace scoping.
func PrefixScope(prefix string) ScopePredicate {
	return func(resource string) bool { return strings.HasPrefix(resource, prefix) }
}

// AnyScope matches every resource; used for capabilities with no
// meaningful sub-scoping (e.g. "audio.mute").
func AnyScope() ScopePredicate { return func(string) bool { return true } }

// Grant binds one capability to a scope predicate and a token cost.
type Grant struct {
	Capability Capability
	Scope      ScopePredicate
	Cost       int // tokens consumed per allowed invocation
}

// Profile is the full capability set granted to one agent identity.
type Profile struct {
	AgentID  uint32
	Grants   map[Capability]Grant
	Bucket   *Bucket
}

// Find returns the grant for capability, or (Grant{}, false) if the agent
// was never granted it.
func (p Profile) Find(cap Capability) (Grant, bool) {
	g, ok := p.Grants[cap]
	return g, ok
}
