package authority

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/trustplane/trustagent/interfaces"
)

// Policy is the admission policy: per-domain sets of application
// measurements allowed to certify.
type Policy struct {
	Domains map[string]DomainPolicy `json:"domains"`
}

// DomainPolicy lists the hex-encoded measurements admitted into one domain.
type DomainPolicy struct {
	AllowedMeasurements []string `json:"allowed_measurements"`
}

// LoadPolicy reads a JSON policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	for domain, dp := range policy.Domains {
		if _, err := interfaces.NewDomainName(domain); err != nil {
			return nil, fmt.Errorf("invalid domain %q in policy: %w", domain, err)
		}
		for _, m := range dp.AllowedMeasurements {
			if _, err := interfaces.NewMeasurementFromHex(m); err != nil {
				return nil, fmt.Errorf("invalid measurement %q for domain %q: %w", m, domain, err)
			}
		}
	}

	return &policy, nil
}

// KnowsDomain reports whether the policy has an entry for the domain.
func (p *Policy) KnowsDomain(domain interfaces.DomainName) bool {
	_, ok := p.Domains[domain.String()]
	return ok
}

// MeasurementAllowed reports whether a measurement is admitted into the
// domain.
func (p *Policy) MeasurementAllowed(domain interfaces.DomainName, m interfaces.Measurement) bool {
	dp, ok := p.Domains[domain.String()]
	if !ok {
		return false
	}
	for _, allowed := range dp.AllowedMeasurements {
		parsed, err := interfaces.NewMeasurementFromHex(allowed)
		if err != nil {
			continue
		}
		if parsed.Equal(m) {
			return true
		}
	}
	return false
}
