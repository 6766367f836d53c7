package service

import (
	"context"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// advance moves an entry to next, refusing illegal transitions. A refused transition is a
// programming error; it is logged and the entry keeps its state.
func advance(ctx context.Context, log logger.Logger, entry *models.QueueEntry, next models.RequestState) bool {
	state, err := entry.State.Transition(next)
	if err != nil {
		log.Error(ctx, "Refused request state transition", err,
			logger.String("entry_id", entry.ID),
			logger.String("tenant_id", entry.TenantID),
		)
		return false
	}
	entry.State = state
	return true
}
