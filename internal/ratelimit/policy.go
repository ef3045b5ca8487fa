package ratelimit

import "strings"

// Tier classifies a webhook source for default bucket sizing
type Tier string

const (
	TierPartner Tier = "partner"
	TierGeneric Tier = "generic"
	TierUnknown Tier = "unknown"
)

// UnknownSource is the shared bucket source for every unconfigured source,
// so unclassified traffic cannot create an unbounded number of buckets.
const UnknownSource = "unknown"

// DefaultPolicies favour established partners; unknown senders get the
// tightest bucket.
var DefaultPolicies = map[Tier]Policy{
	TierPartner: {Capacity: 100, RefillRate: 10},
	TierGeneric: {Capacity: 50, RefillRate: 2},
	TierUnknown: {Capacity: 10, RefillRate: 0.5},
}

// ParseTier maps free-form config to a Tier, defaulting to generic
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPartner:
		return TierPartner
	case TierUnknown:
		return TierUnknown
	default:
		return TierGeneric
	}
}

// PolicyResolver picks the default policy for a bucket source
type PolicyResolver interface {
	PolicyFor(source string) Policy
}

// Policies resolves per-source tiers to bucket policies
type Policies struct {
	tiers     map[string]Tier
	overrides map[string]Policy
}

// NewPolicies builds a resolver from the configured source tiers
func NewPolicies(tiers map[string]Tier) *Policies {
	p := &Policies{
		tiers:     make(map[string]Tier, len(tiers)),
		overrides: make(map[string]Policy),
	}
	for source, tier := range tiers {
		p.tiers[source] = tier
	}
	return p
}

// Override pins an explicit policy for one source
func (p *Policies) Override(source string, policy Policy) {
	p.overrides[source] = policy
}

// TierOf returns the tier for a source; unconfigured sources are unknown
func (p *Policies) TierOf(source string) Tier {
	if tier, ok := p.tiers[source]; ok {
		return tier
	}
	return TierUnknown
}

func (p *Policies) PolicyFor(source string) Policy {
	if policy, ok := p.overrides[source]; ok {
		return policy
	}
	return DefaultPolicies[p.TierOf(source)]
}
