package limits

import (
	"fmt"
)

// CampaignLimits bounds what a single campaign may ask for
type CampaignLimits struct {
	MaxConcurrency    int   `json:"max_concurrency"`
	MaxDelayMs        int   `json:"max_delay_ms"`
	MaxPositions      int   `json:"max_positions"`
	MaxPayloadsPerSet int   `json:"max_payloads_per_set"`
	MaxTotalRequests  int64 `json:"max_total_requests"`
	MaxTemplateBytes  int   `json:"max_template_bytes"`
	MaxResponseBytes  int64 `json:"max_response_bytes"`
}

// DefaultCampaignLimits returns the default limits
func DefaultCampaignLimits() *CampaignLimits {
	return &CampaignLimits{
		MaxConcurrency:    200,
		MaxDelayMs:        60_000,
		MaxPositions:      64,
		MaxPayloadsPerSet: 1_000_000,
		MaxTotalRequests:  1_000_000_000,
		MaxTemplateBytes:  1 << 20,
		MaxResponseBytes:  10 << 20,
	}
}

// CampaignLimiter validates campaign settings against the configured limits
type CampaignLimiter struct {
	limits *CampaignLimits
}

// NewCampaignLimiter creates a limiter; nil means DefaultCampaignLimits
func NewCampaignLimiter(limits *CampaignLimits) *CampaignLimiter {
	if limits == nil {
		limits = DefaultCampaignLimits()
	}
	return &CampaignLimiter{
		limits: limits,
	}
}

// GetLimits returns the current limits
func (cl *CampaignLimiter) GetLimits() *CampaignLimits {
	return cl.limits
}

// UpdateLimits replaces the limits after checking they are usable
func (cl *CampaignLimiter) UpdateLimits(limits *CampaignLimits) error {
	if limits.MaxConcurrency <= 0 {
		return fmt.Errorf("MaxConcurrency must be positive")
	}
	if limits.MaxDelayMs < 0 {
		return fmt.Errorf("MaxDelayMs must not be negative")
	}
	if limits.MaxPositions <= 0 {
		return fmt.Errorf("MaxPositions must be positive")
	}
	if limits.MaxPayloadsPerSet <= 0 {
		return fmt.Errorf("MaxPayloadsPerSet must be positive")
	}
	if limits.MaxTotalRequests <= 0 {
		return fmt.Errorf("MaxTotalRequests must be positive")
	}
	if limits.MaxTemplateBytes <= 0 {
		return fmt.Errorf("MaxTemplateBytes must be positive")
	}
	if limits.MaxResponseBytes <= 0 {
		return fmt.Errorf("MaxResponseBytes must be positive")
	}

	cl.limits = limits
	return nil
}

// CheckSettings validates the per-campaign execution settings
func (cl *CampaignLimiter) CheckSettings(concurrency, delayMs int) error {
	if concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}
	if concurrency > cl.limits.MaxConcurrency {
		return fmt.Errorf("concurrency %d exceeds limit %d", concurrency, cl.limits.MaxConcurrency)
	}
	if delayMs < 0 {
		return fmt.Errorf("delay must not be negative, got %d", delayMs)
	}
	if delayMs > cl.limits.MaxDelayMs {
		return fmt.Errorf("delay %dms exceeds limit %dms", delayMs, cl.limits.MaxDelayMs)
	}
	return nil
}

// CheckTemplate validates template size and position count
func (cl *CampaignLimiter) CheckTemplate(templateBytes, positions int) error {
	if templateBytes > cl.limits.MaxTemplateBytes {
		return fmt.Errorf("template is %d bytes, limit is %d", templateBytes, cl.limits.MaxTemplateBytes)
	}
	if positions > cl.limits.MaxPositions {
		return fmt.Errorf("template has %d positions, limit is %d", positions, cl.limits.MaxPositions)
	}
	return nil
}

// CheckPayloadCount validates the size of one payload set
func (cl *CampaignLimiter) CheckPayloadCount(n int) error {
	if n > cl.limits.MaxPayloadsPerSet {
		return fmt.Errorf("payload set has %d entries, limit is %d", n, cl.limits.MaxPayloadsPerSet)
	}
	return nil
}

// CheckTotal validates the number of requests a campaign would send
func (cl *CampaignLimiter) CheckTotal(total int64) error {
	if total > cl.limits.MaxTotalRequests {
		return fmt.Errorf("campaign would send %d requests, limit is %d", total, cl.limits.MaxTotalRequests)
	}
	return nil
}

// ValidateLimits rejects limits that are technically valid but unreasonable
func (cl *CampaignLimiter) ValidateLimits() error {
	if cl.limits.MaxConcurrency > 10_000 {
		return fmt.Errorf("MaxConcurrency too large (> 10000)")
	}
	if cl.limits.MaxDelayMs > 3_600_000 {
		return fmt.Errorf("MaxDelayMs too large (> 1h)")
	}
	if cl.limits.MaxPositions > 1000 {
		return fmt.Errorf("MaxPositions too large (> 1000)")
	}
	if cl.limits.MaxPayloadsPerSet > 100_000_000 {
		return fmt.Errorf("MaxPayloadsPerSet too large (> 100000000)")
	}
	if cl.limits.MaxTotalRequests > 1_000_000_000_000 {
		return fmt.Errorf("MaxTotalRequests too large (> 1e12)")
	}
	return nil
}
