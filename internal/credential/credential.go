// Package credential holds the API credential pool and the per-credential
// rate limiters that bound request throughput to the bibliographic API.
package credential

import (
	"fmt"
)

// Credential is one NCBI API key/identity pair. Immutable after construction;
// exactly one Worker uses a Credential for the lifetime of a run.
type Credential struct {
	// ID is a short stable identifier used in logs and metrics labels.
	ID string
	// APIKey is the NCBI API key.
	APIKey string
	// Email is the contact identity NCBI requires per key.
	Email string

	limiter *RateLimiter
}

// Limiter returns the rate limiter bound to this credential.
func (c *Credential) Limiter() *RateLimiter {
	return c.limiter
}

// Pool holds the fixed set of credentials for a run.
type Pool struct {
	creds []*Credential
}

// NewPool builds a pool from key/email pairs, creating one rate limiter per
// credential at the given requests-per-second ceiling.
func NewPool(keys, emails []string, ratePerSecond float64) (*Pool, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("credential pool: at least one API key is required")
	}
	if len(keys) != len(emails) {
		return nil, fmt.Errorf("credential pool: %d keys but %d emails", len(keys), len(emails))
	}
	if ratePerSecond <= 0 {
		return nil, fmt.Errorf("credential pool: rate must be > 0, got %v", ratePerSecond)
	}

	creds := make([]*Credential, len(keys))
	for i := range keys {
		if keys[i] == "" || emails[i] == "" {
			return nil, fmt.Errorf("credential pool: credential %d has empty key or email", i+1)
		}
		creds[i] = &Credential{
			ID:      fmt.Sprintf("cred-%d", i+1),
			APIKey:  keys[i],
			Email:   emails[i],
			limiter: NewRateLimiter(ratePerSecond),
		}
	}

	return &Pool{creds: creds}, nil
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Credentials returns the credentials in pool order.
func (p *Pool) Credentials() []*Credential {
	return p.creds
}

// Assign distributes queries round-robin across the pool:
// queries[i] goes to credential i mod len(pool). The assignment is fixed for
// the run; it is never rebalanced, which keeps per-credential throughput
// auditable against the rate ceiling.
func (p *Pool) Assign(queries []string) map[*Credential][]string {
	assignment := make(map[*Credential][]string, len(p.creds))
	for i, q := range queries {
		cred := p.creds[i%len(p.creds)]
		assignment[cred] = append(assignment[cred], q)
	}
	return assignment
}
