package socket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (domain.WorkerRegistry, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	registry := NewRedisWorkerRegistry(RedisWorkerRegistryDependencies{
		Client: client,
	})

	return registry, server
}

func TestRedisWorkerRegistry_RegisterAndList(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	first := domain.WorkerRegistration{
		WorkerID:     "worker-1",
		Capabilities: []string{"generate_thumbnail", "transcode_video"},
		ConnectedAt:  time.Now().UTC().Add(-time.Minute),
	}
	second := domain.WorkerRegistration{
		WorkerID:     "worker-2",
		Capabilities: []string{"generate_thumbnail"},
		ConnectedAt:  time.Now().UTC(),
	}

	require.NoError(t, registry.Register(ctx, second))
	require.NoError(t, registry.Register(ctx, first))

	registrations, err := registry.ListByCapability(ctx, "generate_thumbnail")
	require.NoError(t, err)
	require.Len(t, registrations, 2)
	assert.Equal(t, "worker-1", registrations[0].WorkerID, "older registration comes first")
	assert.Equal(t, "worker-2", registrations[1].WorkerID)

	registrations, err = registry.ListByCapability(ctx, "transcode_video")
	require.NoError(t, err)
	require.Len(t, registrations, 1)
	assert.Equal(t, "worker-1", registrations[0].WorkerID)
}

func TestRedisWorkerRegistry_DeregisterRemovesWorker(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, domain.WorkerRegistration{
		WorkerID:     "worker-1",
		Capabilities: []string{"generate_thumbnail"},
		ConnectedAt:  time.Now().UTC(),
	}))

	require.NoError(t, registry.Deregister(ctx, "worker-1"))

	registrations, err := registry.ListByCapability(ctx, "generate_thumbnail")
	require.NoError(t, err)
	assert.Empty(t, registrations)
}

func TestRedisWorkerRegistry_DeregisterUnknownWorkerIsNoop(t *testing.T) {
	registry, _ := newTestRegistry(t)

	assert.NoError(t, registry.Deregister(context.Background(), "never-registered"))
}

func TestRedisWorkerRegistry_ExpiredLeaseIsPruned(t *testing.T) {
	registry, server := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, domain.WorkerRegistration{
		WorkerID:     "worker-1",
		Capabilities: []string{"generate_thumbnail"},
		ConnectedAt:  time.Now().UTC(),
	}))
	require.NoError(t, registry.Register(ctx, domain.WorkerRegistration{
		WorkerID:     "worker-2",
		Capabilities: []string{"generate_thumbnail"},
		ConnectedAt:  time.Now().UTC(),
	}))

	// A crashed worker never heartbeats, so its lease expires.
	server.FastForward(domain.WorkerLeaseTTL + time.Second)
	server.Set(workerKeyPrefix+"worker-2", mustRegistrationJSON(t, "worker-2"))

	registrations, err := registry.ListByCapability(ctx, "generate_thumbnail")
	require.NoError(t, err)
	require.Len(t, registrations, 1)
	assert.Equal(t, "worker-2", registrations[0].WorkerID)

	// The expired worker was removed from the capability index too.
	members, err := server.SMembers(capabilityKeyPrefix + "generate_thumbnail")
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-2"}, members)
}

func TestRedisWorkerRegistry_RefreshExtendsLease(t *testing.T) {
	registry, server := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, domain.WorkerRegistration{
		WorkerID:     "worker-1",
		Capabilities: []string{"generate_thumbnail"},
		ConnectedAt:  time.Now().UTC(),
	}))

	server.FastForward(domain.WorkerLeaseTTL - time.Second)
	require.NoError(t, registry.Refresh(ctx, "worker-1"))
	server.FastForward(domain.WorkerLeaseTTL - time.Second)

	registrations, err := registry.ListByCapability(ctx, "generate_thumbnail")
	require.NoError(t, err)
	assert.Len(t, registrations, 1)
}

func TestRedisWorkerRegistry_RefreshFailsAfterExpiry(t *testing.T) {
	registry, server := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, domain.WorkerRegistration{
		WorkerID:     "worker-1",
		Capabilities: []string{"generate_thumbnail"},
		ConnectedAt:  time.Now().UTC(),
	}))

	server.FastForward(domain.WorkerLeaseTTL + time.Second)

	err := registry.Refresh(ctx, "worker-1")
	var workerErr *domain.WorkerInvalidError
	assert.ErrorAs(t, err, &workerErr)
}

func mustRegistrationJSON(t *testing.T, workerID string) string {
	t.Helper()

	registration := domain.WorkerRegistration{
		WorkerID:     workerID,
		Capabilities: []string{"generate_thumbnail"},
		ConnectedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(registration)
	require.NoError(t, err)
	return string(payload)
}
