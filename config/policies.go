package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// DefaultResourceStaleTime is how long fleet data stays fresh when neither
// the environment nor the policies file says otherwise.
const DefaultResourceStaleTime = 5 * time.Minute

// Policy is the read policy of one resource.
type Policy struct {
	StaleTime  time.Duration `yaml:"staleTime"`
	Retry      int           `yaml:"retry"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.StaleTime, validation.Min(time.Duration(0))),
		validation.Field(&p.Retry, validation.Min(0), validation.Max(10)),
		validation.Field(&p.RetryDelay, validation.Min(time.Duration(0))),
	)
}

// Policies maps resource names to their read policy.
type Policies struct {
	Default   Policy            `yaml:"defaults"`
	Resources map[string]Policy `yaml:"resources"`
}

// For returns the policy of resource, falling back to the defaults for
// every zero field.
func (p Policies) For(resource string) Policy {
	out := p.Default
	r, ok := p.Resources[resource]
	if !ok {
		return out
	}
	if r.StaleTime > 0 {
		out.StaleTime = r.StaleTime
	}
	if r.Retry > 0 {
		out.Retry = r.Retry
	}
	if r.RetryDelay > 0 {
		out.RetryDelay = r.RetryDelay
	}
	return out
}

func (p Policies) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for name, r := range p.Resources {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// LoadPolicies reads a policies file such as:
//
//	defaults:
//	  staleTime: 5m
//	resources:
//	  bookings:
//	    staleTime: 1m
//	    retry: 2
//
// staleTime falls back to defaultStale when the file sets no default.
func LoadPolicies(path string, defaultStale time.Duration) (Policies, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, fmt.Errorf("read policies %s: %w", path, err)
	}

	var p Policies
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policies{}, fmt.Errorf("decode policies %s: %w", path, err)
	}
	if p.Default.StaleTime == 0 {
		p.Default.StaleTime = defaultStale
	}
	return p, nil
}
