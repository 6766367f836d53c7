package dto

import (
	"encoding/base64"
	"time"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
)

// SignResponse 签名成功响应
type SignResponse struct {
	Success   bool             `json:"success"`
	TST       string           `json:"tst"`
	TSAID     string           `json:"tsa_id"`
	PolicyOID string           `json:"policy_oid"`
	GenTime   string           `json:"genTime"`
	Accuracy  *models.Accuracy `json:"accuracy,omitempty"`
}

// NewSignResponse renders a result. The token is standard base64 DER.
func NewSignResponse(res *models.TimestampResult) *SignResponse {
	return &SignResponse{
		Success:   true,
		TST:       base64.StdEncoding.EncodeToString(res.Token),
		TSAID:     res.TSAID,
		PolicyOID: res.PolicyOID,
		GenTime:   res.GenTime.UTC().Format(time.RFC3339Nano),
		Accuracy:  res.Accuracy,
	}
}

// ProviderStatusDTO 提供方健康状态
type ProviderStatusDTO struct {
	ID                  string `json:"id"`
	Healthy             bool   `json:"healthy"`
	State               string `json:"state"`
	LatencyMs           int64  `json:"latencyMs"`
	LastCheckedAt       string `json:"lastCheckedAt,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// QueueStatusDTO 队列状态
type QueueStatusDTO struct {
	Depth                 int `json:"depth"`
	InFlight              int `json:"in_flight"`
	MaxQueueSize          int `json:"max_queue_size"`
	MaxConcurrentDispatch int `json:"max_concurrent_dispatch"`
}

// StatusResponse 服务状态响应
type StatusResponse struct {
	Success       bool                `json:"success"`
	Providers     []ProviderStatusDTO `json:"providers"`
	Queue         QueueStatusDTO      `json:"queue"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Timestamp     string              `json:"timestamp"`
}

// NewStatusResponse assembles the status view from registry and scheduler snapshots.
func NewStatusResponse(providers []models.ProviderStatus, stats service.SchedulerStats, uptime time.Duration, now time.Time) *StatusResponse {
	out := &StatusResponse{
		Success:   true,
		Providers: make([]ProviderStatusDTO, 0, len(providers)),
		Queue: QueueStatusDTO{
			Depth:                 stats.QueueDepth,
			InFlight:              stats.InFlight,
			MaxQueueSize:          stats.MaxQueueSize,
			MaxConcurrentDispatch: stats.MaxConcurrentDispatch,
		},
		UptimeSeconds: int64(uptime / time.Second),
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
	for _, p := range providers {
		d := ProviderStatusDTO{
			ID:                  p.Provider.ID,
			Healthy:             p.Health.Healthy,
			State:               p.Health.State.String(),
			LatencyMs:           p.Health.LatencyMs,
			ConsecutiveFailures: p.Health.ConsecutiveFailures,
		}
		if !p.Health.LastCheckedAt.IsZero() {
			d.LastCheckedAt = p.Health.LastCheckedAt.UTC().Format(time.RFC3339)
		}
		out.Providers = append(out.Providers, d)
	}
	return out
}

// DrainResponse 队列排空响应
type DrainResponse struct {
	Success    bool `json:"success"`
	Dispatched int  `json:"dispatched"`
	Expired    int  `json:"expired"`
	Remaining  int  `json:"remaining"`
}

// PolicyResponse 租户策略响应
type PolicyResponse struct {
	Success bool                 `json:"success"`
	Policy  *models.TenantPolicy `json:"policy"`
}
