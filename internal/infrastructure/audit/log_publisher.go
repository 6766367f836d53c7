package audit

import (
	"context"
	"errors"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// LogPublisher writes audit events to the structured log.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a log publisher.
func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log.WithComponent("audit")}
}

// Publish logs the event at info level.
func (p *LogPublisher) Publish(ctx context.Context, event *models.IssuanceEvent) error {
	p.logger.Info(ctx, "Issuance event",
		logger.String("event_id", event.EventID),
		logger.String("tenant_id", event.TenantID),
		logger.String("outcome", string(event.Outcome)),
		logger.String("tsa_id", event.ProviderID),
		logger.String("error_code", event.ErrorCode),
		logger.Int("attempts", event.Attempts),
	)
	return nil
}

// FanoutPublisher sends every event to each publisher and joins their errors.
type FanoutPublisher []service.AuditPublisher

// Publish delivers event to all publishers.
func (f FanoutPublisher) Publish(ctx context.Context, event *models.IssuanceEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
