package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

const (
	lockedMarker = "LOCKED"
	resultPrefix = "RESULT:"
)

// IdempotencyStore keeps the two-phase sign record in Redis: a short-lived LOCKED marker
// while a request is in flight, replaced by the stored response once it completes.
type IdempotencyStore struct {
	client    redis.UniversalClient
	lockTTL   time.Duration
	resultTTL time.Duration
	prefix    string
	logger    logger.Logger
}

var _ service.IdempotencyStore = (*IdempotencyStore)(nil)

// NewIdempotencyStore creates a store.
func NewIdempotencyStore(client redis.UniversalClient, cfg config.IdempotencyConfig, log logger.Logger) *IdempotencyStore {
	s := &IdempotencyStore{
		client:    client,
		lockTTL:   cfg.LockTTL,
		resultTTL: cfg.ResultTTL,
		prefix:    cfg.KeyPrefix,
		logger:    log.WithComponent("idempotency_store"),
	}
	if s.lockTTL <= 0 {
		s.lockTTL = time.Minute
	}
	if s.resultTTL <= 0 {
		s.resultTTL = 24 * time.Hour
	}
	if s.prefix == "" {
		s.prefix = "tsa:idem"
	}
	return s
}

// Begin claims key with SETNX. An existing record reports pending or done.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (service.IdempotencyState, []byte, error) {
	k := s.key(key)

	// The record may expire between SETNX and GET; one retry covers that window.
	for i := 0; i < 2; i++ {
		isNew, err := s.client.SetNX(ctx, k, lockedMarker, s.lockTTL).Result()
		if err != nil {
			return service.IdempotencyNew, nil, err
		}
		if isNew {
			return service.IdempotencyNew, nil, nil
		}

		val, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return service.IdempotencyNew, nil, err
		}
		if strings.HasPrefix(val, resultPrefix) {
			return service.IdempotencyDone, []byte(strings.TrimPrefix(val, resultPrefix)), nil
		}
		return service.IdempotencyPending, nil, nil
	}

	s.logger.Warn(ctx, "Idempotency record kept expiring, treating request as pending")
	return service.IdempotencyPending, nil, nil
}

// Complete stores payload as the result for key.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, payload []byte) error {
	return s.client.Set(ctx, s.key(key), resultPrefix+string(payload), s.resultTTL).Err()
}

// Release deletes the record so the next identical request starts fresh.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *IdempotencyStore) key(key string) string {
	return s.prefix + ":" + key
}
