package models

import (
	"time"
)

// ProviderCapabilities lists what an upstream TSA can serve.
type ProviderCapabilities struct {
	// HashAlgorithms supported by the provider. Empty means every allow-listed algorithm.
	HashAlgorithms []HashAlgorithm `json:"hash_algorithms"`

	// Policies the provider is known to issue under.
	Policies []string `json:"policies"`

	// SupportsPolicySelection is true when the provider honors an arbitrary reqPolicy.
	SupportsPolicySelection bool `json:"supports_policy_selection"`
}

// Supports reports whether the provider can serve the request's algorithm and policy.
func (c ProviderCapabilities) Supports(req *TimestampRequest) bool {
	if len(c.HashAlgorithms) > 0 {
		found := false
		for _, h := range c.HashAlgorithms {
			if h == req.HashAlg() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	policy := req.ReqPolicy()
	if policy == "" || c.SupportsPolicySelection {
		return true
	}
	for _, p := range c.Policies {
		if p == policy {
			return true
		}
	}
	return false
}

// Provider is one configured upstream timestamp authority. It never carries request state.
type Provider struct {
	ID             string               `json:"id"`
	URL            string               `json:"url"`
	Priority       int                  `json:"priority"`
	Timeout        time.Duration        `json:"timeout"`
	CredentialPath string               `json:"-"`
	Capabilities   ProviderCapabilities `json:"capabilities"`
}

// HealthState is the three-level provider health.
type HealthState int

const (
	HealthStateHealthy HealthState = iota
	HealthStateDegraded
	HealthStateUnhealthy
)

// String returns the lowercase state name.
func (s HealthState) String() string {
	switch s {
	case HealthStateHealthy:
		return "healthy"
	case HealthStateDegraded:
		return "degraded"
	case HealthStateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Demote returns the next worse state.
func (s HealthState) Demote() HealthState {
	if s >= HealthStateUnhealthy {
		return HealthStateUnhealthy
	}
	return s + 1
}

// ProviderHealth is an immutable snapshot of a provider's health. A new record replaces the
// previous one on every change.
type ProviderHealth struct {
	Healthy             bool        `json:"healthy"`
	State               HealthState `json:"-"`
	LatencyMs           int64       `json:"latencyMs"`
	LastCheckedAt       time.Time   `json:"lastCheckedAt"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
}

// NewProviderHealth builds a record with Healthy derived from state.
func NewProviderHealth(state HealthState, latencyMs int64, checkedAt time.Time, failures int) *ProviderHealth {
	return &ProviderHealth{
		Healthy:             state == HealthStateHealthy,
		State:               state,
		LatencyMs:           latencyMs,
		LastCheckedAt:       checkedAt,
		ConsecutiveFailures: failures,
	}
}

// Selectable reports whether the provider may receive traffic.
func (h *ProviderHealth) Selectable() bool {
	return h.State != HealthStateUnhealthy
}

// ProviderStatus pairs a provider with its current health for status and metrics output.
type ProviderStatus struct {
	Provider Provider
	Health   ProviderHealth
}

// ProviderCredentials are the HTTP basic auth secrets of an upstream TSA.
type ProviderCredentials struct {
	Username string `json:"-"`
	Password string `json:"-"`
}
