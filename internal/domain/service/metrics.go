// Package service holds the dispatch core of the broker: provider registry, health
// monitoring, admission scheduling and the timestamp engine.
package service

import (
	"time"

	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

// Metrics defines the interface for collecting broker metrics.
// Metrics 定义了收集代理指标的接口。
type Metrics interface {
	// RecordSignRequest counts a finished sign request by outcome.
	// RecordSignRequest 按结果统计已完成的签名请求。
	RecordSignRequest(outcome string)

	// RecordProviderCall records one upstream call and its duration.
	// RecordProviderCall 记录一次上游调用及其耗时。
	RecordProviderCall(providerID string, success bool, duration time.Duration)

	// RecordQueueExpired counts entries dropped by TTL expiry.
	// RecordQueueExpired 统计因 TTL 过期而移除的条目。
	RecordQueueExpired(count int)

	// RecordRateLimitHit records an event when a rate limit is triggered.
	// RecordRateLimitHit 记录触发速率限制的事件。
	RecordRateLimitHit(scope constants.RateLimitScope)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordSignRequest(string) {}
func (NoopMetrics) RecordProviderCall(string, bool, time.Duration) {}
func (NoopMetrics) RecordQueueExpired(int) {}
func (NoopMetrics) RecordRateLimitHit(constants.RateLimitScope) {}
