// Package feature resolves the three-tier feature override chain (config
// defaults < persisted per-session choices < per-request overrides) into one
// flat boolean map. Components read only the resolved map, never the raw
// tiers, so flag semantics stay testable independent of precedence mechanics.
package feature

// Known feature flags.
const (
	KnowledgeAgent = "knowledge_agent"
	Federated      = "federated"
	WebSearch      = "web_search"
	Critic         = "critic"
	LLMPlanner     = "llm_planner"
)

// Tier records which override tier decided a flag, for diagnostics.
type Tier string

// Resolution tiers, lowest to highest precedence.
const (
	TierDefault   Tier = "default"
	TierPersisted Tier = "persisted"
	TierOverride  Tier = "override"
)

// Resolution is the effective flag set for one request. Read-only after
// Resolve; safe to share across the request's components.
type Resolution struct {
	flags  map[string]bool
	source map[string]Tier
}

// Resolve merges the three tiers. Later tiers win per flag; flags absent from
// every tier resolve to false.
func Resolve(defaults, persisted, overrides map[string]bool) *Resolution {
	r := &Resolution{
		flags:  make(map[string]bool, len(defaults)),
		source: make(map[string]Tier, len(defaults)),
	}
	for name, v := range defaults {
		r.flags[name] = v
		r.source[name] = TierDefault
	}
	for name, v := range persisted {
		r.flags[name] = v
		r.source[name] = TierPersisted
	}
	for name, v := range overrides {
		r.flags[name] = v
		r.source[name] = TierOverride
	}
	return r
}

// Enabled reports whether a flag is on. Unknown flags are off.
func (r *Resolution) Enabled(name string) bool {
	return r.flags[name]
}

// Source returns the tier that decided the flag.
func (r *Resolution) Source(name string) Tier {
	if t, ok := r.source[name]; ok {
		return t
	}
	return TierDefault
}

// Map returns a copy of the effective flag set for response metadata.
func (r *Resolution) Map() map[string]bool {
	out := make(map[string]bool, len(r.flags))
	for name, v := range r.flags {
		out[name] = v
	}
	return out
}
