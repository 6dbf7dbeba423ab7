package ratelimit

import (
	"strings"
	"time"
)

// Purpose identifies an independently limited class of work.
type Purpose string

// Purposes with their own quotas.
const (
	PurposeGenerate Purpose = "generate"
	PurposeBatch    Purpose = "batch"
	PurposeRead     Purpose = "read"
)

// Quota is the number of calls allowed per identity within a sliding window.
type Quota struct {
	Limit  int           // Maximum calls per window; <= 0 means unlimited
	Window time.Duration // Window length
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled   bool
	Quotas    map[Purpose]Quota
	Whitelist map[string]bool
	Blacklist map[string]bool
	// KeyPrefix namespaces counter keys in the shared store.
	KeyPrefix string
}

// DefaultQuotas returns the default per-purpose quotas.
func DefaultQuotas() map[Purpose]Quota {
	return map[Purpose]Quota{
		// Single generations (strict)
		PurposeGenerate: {Limit: 10, Window: time.Minute},
		// Batch generations (strictest, each batch fans out into many provider calls)
		PurposeBatch: {Limit: 5, Window: time.Hour},
		// Reads (lenient)
		PurposeRead: {Limit: 100, Window: time.Minute},
	}
}

// DefaultConfig returns an enabled configuration with the default quotas.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Quotas:    DefaultQuotas(),
		Whitelist: make(map[string]bool),
		Blacklist: make(map[string]bool),
		KeyPrefix: "ratelimit",
	}
}

// QuotaFor returns the quota for a purpose, falling back to the default quota
// for that purpose and then to the read quota.
func (c *Config) QuotaFor(purpose Purpose) Quota {
	if q, ok := c.Quotas[purpose]; ok {
		return q
	}
	defaults := DefaultQuotas()
	if q, ok := defaults[purpose]; ok {
		return q
	}
	return defaults[PurposeRead]
}

// ParseIDList converts a list of identities (possibly comma-separated) into a set.
func ParseIDList(list ...string) map[string]bool {
	result := make(map[string]bool)
	for _, entry := range list {
		for _, id := range strings.Split(entry, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				result[id] = true
			}
		}
	}
	return result
}
