package webhook

import (
	"strings"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
)

// Scheme selects how a source signs its deliveries
type Scheme string

const (
	SchemeHMACSHA256      Scheme = "hmac-sha256"
	SchemeTimestampedHMAC Scheme = "timestamped-hmac"
)

// BucketBy selects the rate limit bucket key within a source
type BucketBy string

const (
	BucketBySource BucketBy = "default"
	BucketByIP     BucketBy = "ip"
)

const defaultBucketKey = "default"

// SourceConfig is the admission policy of one provider
type SourceConfig struct {
	Name             string
	Known            bool
	Tier             ratelimit.Tier
	Secret           string
	Scheme           Scheme
	BucketBy         BucketBy
	RequireTimestamp bool
}

// BucketSource is the rate limit source. Unknown senders share one source.
func (s SourceConfig) BucketSource() string {
	if !s.Known {
		return ratelimit.UnknownSource
	}
	return s.Name
}

// BucketKey picks the bucket within BucketSource for a sender address
func (s SourceConfig) BucketKey(ip string) string {
	if (!s.Known || s.BucketBy == BucketByIP) && ip != "" {
		return ip
	}
	return defaultBucketKey
}

// VerifySignature checks header against the source secret. Unknown sources
// and sources without a secret never verify.
func (s SourceConfig) VerifySignature(payload []byte, header string) bool {
	if !s.Known || s.Secret == "" || header == "" {
		return false
	}
	if s.Scheme == SchemeTimestampedHMAC {
		return VerifyTimestamped(s.Secret, payload, header)
	}
	return Verify(s.Secret, payload, header)
}

// Registry resolves source names to their policy
type Registry struct {
	sources map[string]SourceConfig
}

func NewRegistry(sources ...SourceConfig) *Registry {
	r := &Registry{sources: make(map[string]SourceConfig, len(sources))}
	for _, s := range sources {
		s.Name = normalizeSource(s.Name)
		s.Known = true
		if s.Scheme == "" {
			s.Scheme = SchemeHMACSHA256
		}
		if s.BucketBy == "" {
			s.BucketBy = BucketBySource
		}
		if s.Tier == "" {
			s.Tier = ratelimit.TierGeneric
		}
		r.sources[s.Name] = s
	}
	return r
}

// Lookup returns the policy for name, or an unknown-source policy
func (r *Registry) Lookup(name string) SourceConfig {
	name = normalizeSource(name)
	if s, ok := r.sources[name]; ok {
		return s
	}
	return SourceConfig{
		Name:             name,
		Tier:             ratelimit.TierUnknown,
		BucketBy:         BucketByIP,
		RequireTimestamp: true,
	}
}

// Tiers maps every known source to its tier, for ratelimit.NewPolicies
func (r *Registry) Tiers() map[string]ratelimit.Tier {
	tiers := make(map[string]ratelimit.Tier, len(r.sources))
	for name, s := range r.sources {
		tiers[name] = s.Tier
	}
	return tiers
}

// Names lists known sources
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}

func normalizeSource(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
