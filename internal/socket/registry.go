package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	workerKeyPrefix     = "foldstream:worker:"
	capabilityKeyPrefix = "foldstream:capability:"
)

// RedisWorkerRegistry stores worker registrations as leases with a TTL.
// Connected workers refresh their lease by heartbeat; a crashed worker that
// never sends a close frame expires instead of lingering forever. Capability
// index entries are cleaned lazily when a lookup finds an expired lease.
type RedisWorkerRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisWorkerRegistryDependencies struct {
	Client *redis.Client
	// TTL overrides the default worker lease TTL; zero keeps the default.
	TTL time.Duration
}

func NewRedisWorkerRegistry(deps RedisWorkerRegistryDependencies) domain.WorkerRegistry {
	ttl := deps.TTL
	if ttl == 0 {
		ttl = domain.WorkerLeaseTTL
	}

	return &RedisWorkerRegistry{
		client: deps.Client,
		ttl:    ttl,
	}
}

func (r *RedisWorkerRegistry) Register(ctx context.Context, registration domain.WorkerRegistration) error {
	payload, err := json.Marshal(registration)
	if err != nil {
		return fmt.Errorf("failed to marshal worker registration: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, workerKeyPrefix+registration.WorkerID, payload, r.ttl)
	for _, capability := range registration.Capabilities {
		pipe.SAdd(ctx, capabilityKeyPrefix+capability, registration.WorkerID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}

	return nil
}

func (r *RedisWorkerRegistry) Refresh(ctx context.Context, workerID string) error {
	ok, err := r.client.Expire(ctx, workerKeyPrefix+workerID, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh worker lease: %w", err)
	}
	if !ok {
		return domain.NewWorkerInvalidError("lease for worker %s has expired", workerID)
	}

	return nil
}

func (r *RedisWorkerRegistry) Deregister(ctx context.Context, workerID string) error {
	registration, err := r.getRegistration(ctx, workerID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, workerKeyPrefix+workerID)
	for _, capability := range registration.Capabilities {
		pipe.SRem(ctx, capabilityKeyPrefix+capability, workerID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to deregister worker: %w", err)
	}

	return nil
}

func (r *RedisWorkerRegistry) ListByCapability(ctx context.Context, capability string) ([]domain.WorkerRegistration, error) {
	workerIDs, err := r.client.SMembers(ctx, capabilityKeyPrefix+capability).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list capability members: %w", err)
	}

	var registrations []domain.WorkerRegistration
	for _, workerID := range workerIDs {
		registration, err := r.getRegistration(ctx, workerID)
		if errors.Is(err, redis.Nil) {
			// Lease expired without a close frame; drop the index entry.
			if remErr := r.client.SRem(ctx, capabilityKeyPrefix+capability, workerID).Err(); remErr != nil {
				log.Warn().Err(remErr).Str("worker_id", workerID).Msg("Failed to prune stale capability entry")
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		registrations = append(registrations, registration)
	}

	sort.Slice(registrations, func(i, j int) bool {
		return registrations[i].ConnectedAt.Before(registrations[j].ConnectedAt)
	})

	return registrations, nil
}

func (r *RedisWorkerRegistry) getRegistration(ctx context.Context, workerID string) (domain.WorkerRegistration, error) {
	payload, err := r.client.Get(ctx, workerKeyPrefix+workerID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.WorkerRegistration{}, err
		}
		return domain.WorkerRegistration{}, fmt.Errorf("failed to get worker registration: %w", err)
	}

	var registration domain.WorkerRegistration
	if err := json.Unmarshal(payload, &registration); err != nil {
		return domain.WorkerRegistration{}, fmt.Errorf("failed to unmarshal worker registration: %w", err)
	}

	return registration, nil
}
