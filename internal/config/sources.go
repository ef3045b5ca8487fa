package config

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Source is one provider policy from the sources file
type Source struct {
	Name             string  `toml:"-"`
	Tier             string  `toml:"tier" validate:"omitempty,oneof=partner generic"`
	Scheme           string  `toml:"scheme" validate:"omitempty,oneof=hmac-sha256 timestamped-hmac"`
	Secret           string  `toml:"secret"`
	SecretEnv        string  `toml:"secret_env"`
	BucketBy         string  `toml:"bucket_by" validate:"omitempty,oneof=default ip"`
	RequireTimestamp bool    `toml:"require_timestamp"`
	Capacity         int     `toml:"capacity" validate:"gte=0"`
	RefillRate       float64 `toml:"refill_rate" validate:"gte=0"`
}

// HasPolicyOverride reports whether the source overrides its tier's bucket policy
func (s Source) HasPolicyOverride() bool {
	return s.Capacity > 0 && s.RefillRate > 0
}

// ReservedSourceNames cannot be configured. They name internal buckets
// and the cross-source health total.
var ReservedSourceNames = []string{"unknown", "admin", "all"}

type sourcesFile struct {
	Sources map[string]Source `toml:"sources"`
}

// LoadSources decodes the TOML source policy file. Secrets named by
// secret_env are read from the environment.
func LoadSources(path string) ([]Source, error) {
	var file sourcesFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("decode sources file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("sources file %s: unknown key %s", path, undecoded[0])
	}

	validate := validator.New()
	sources := make([]Source, 0, len(file.Sources))
	for name, s := range file.Sources {
		s.Name = name
		if slices.Contains(ReservedSourceNames, strings.ToLower(name)) {
			return nil, fmt.Errorf("source %s: name is reserved", name)
		}
		if err := validate.Struct(s); err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		if (s.Capacity > 0) != (s.RefillRate > 0) {
			return nil, fmt.Errorf("source %s: capacity and refill_rate must be set together", name)
		}
		if s.SecretEnv != "" {
			s.Secret = os.Getenv(s.SecretEnv)
			if s.Secret == "" {
				return nil, fmt.Errorf("source %s: %s is not set", name, s.SecretEnv)
			}
		}
		if s.Secret == "" {
			return nil, fmt.Errorf("source %s: no signing secret configured", name)
		}
		sources = append(sources, s)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}
