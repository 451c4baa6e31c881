package resolver

import (
	"errors"
	"fmt"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
	"os"
	"time"
)

var ErrUnknownPolicy = errors.New("unknown resolver policy")

// Policy tunes how aggressively a resolver competes for orders.
type Policy struct {
	Name             string        `yaml:"name"`
	ProfitMarginBps  uint64        `yaml:"profit_margin_bps"`
	CompetitionDelay time.Duration `yaml:"competition_delay"`
	DelayJitter      time.Duration `yaml:"delay_jitter"`
	// MaxOrderSize caps the maker amount taken from one order, in base
	// units. Empty means no cap.
	MaxOrderSize string `yaml:"max_order_size"`
	Rescue       bool   `yaml:"rescue"`
}

// MaxFill returns the cap as an integer, or nil when uncapped.
func (p Policy) MaxFill() (*uint256.Int, error) {
	if p.MaxOrderSize == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(p.MaxOrderSize)
	if err != nil {
		return nil, fmt.Errorf("invalid max_order_size %q: %w", p.MaxOrderSize, err)
	}
	return v, nil
}

type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

const defaultPolicies = `
policies:
  - name: fast
    profit_margin_bps: 10
    competition_delay: 0s
    delay_jitter: 200ms
    rescue: true
  - name: balanced
    profit_margin_bps: 50
    competition_delay: 1s
    delay_jitter: 1s
    rescue: true
  - name: patient
    profit_margin_bps: 150
    competition_delay: 5s
    delay_jitter: 2s
    max_order_size: "50000000"
    rescue: false
  - name: random
    profit_margin_bps: 25
    competition_delay: 0s
    delay_jitter: 10s
    rescue: true
`

// LoadPolicies parses a YAML policy document keyed by policy name.
func LoadPolicies(data []byte) (map[string]Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policies: %w", err)
	}

	policies := make(map[string]Policy, len(file.Policies))
	for _, p := range file.Policies {
		if p.Name == "" {
			return nil, errors.New("policy without a name")
		}
		if _, err := p.MaxFill(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Name, err)
		}
		policies[p.Name] = p
	}
	return policies, nil
}

// DefaultPolicies returns the built-in presets.
func DefaultPolicies() map[string]Policy {
	policies, err := LoadPolicies([]byte(defaultPolicies))
	if err != nil {
		panic(err)
	}
	return policies
}

// LookupPolicy finds name in the YAML file at path, or among the presets
// when path is empty.
func LookupPolicy(path, name string) (Policy, error) {
	policies := DefaultPolicies()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
		}
		custom, err := LoadPolicies(data)
		if err != nil {
			return Policy{}, err
		}
		for k, v := range custom {
			policies[k] = v
		}
	}

	p, ok := policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	return p, nil
}
