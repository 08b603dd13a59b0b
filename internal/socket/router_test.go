package socket

import (
	"context"
	"testing"
	"time"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	registrations []domain.WorkerRegistration
}

func (r *fakeRegistry) Register(ctx context.Context, registration domain.WorkerRegistration) error {
	r.registrations = append(r.registrations, registration)
	return nil
}

func (r *fakeRegistry) Refresh(ctx context.Context, workerID string) error    { return nil }
func (r *fakeRegistry) Deregister(ctx context.Context, workerID string) error { return nil }

func (r *fakeRegistry) ListByCapability(ctx context.Context, capability string) ([]domain.WorkerRegistration, error) {
	var matches []domain.WorkerRegistration
	for _, registration := range r.registrations {
		if registration.HasCapability(capability) {
			matches = append(matches, registration)
		}
	}
	return matches, nil
}

type scriptedChannel struct {
	responses map[string]bool
	offered   []string
}

func (c *scriptedChannel) OfferOperation(ctx context.Context, workerID string, offer domain.WorkOffer) (bool, error) {
	c.offered = append(c.offered, workerID)
	return c.responses[workerID], nil
}

func (c *scriptedChannel) BroadcastToRoom(ctx context.Context, room string, messageType string, payload any) error {
	return nil
}

func registeredWorker(id string, connectedAt time.Time, capabilities ...string) domain.WorkerRegistration {
	return domain.WorkerRegistration{
		WorkerID:     id,
		Capabilities: capabilities,
		ConnectedAt:  connectedAt,
	}
}

func TestCapabilityRouter_FirstAcceptWins(t *testing.T) {
	base := time.Now().UTC()
	registry := &fakeRegistry{registrations: []domain.WorkerRegistration{
		registeredWorker("worker-1", base, "generate_thumbnail"),
		registeredWorker("worker-2", base.Add(time.Second), "generate_thumbnail"),
		registeredWorker("worker-3", base.Add(2*time.Second), "generate_thumbnail"),
		registeredWorker("worker-4", base.Add(3*time.Second), "generate_thumbnail"),
	}}
	channel := &scriptedChannel{responses: map[string]bool{
		"worker-1": false, // timed out or declined
		"worker-2": false,
		"worker-3": true,
		"worker-4": true, // must never be contacted
	}}

	router := NewCapabilityRouter(CapabilityRouterDependencies{
		Registry: registry,
		Channel:  channel,
	})

	workerID, ok, err := router.RouteOperation(context.Background(), domain.Operation{
		ID:            "op-1",
		OperationName: "generate_thumbnail",
	})

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "worker-3", workerID)
	assert.Equal(t, []string{"worker-1", "worker-2", "worker-3"}, channel.offered,
		"offers go out in registration order and stop at the first acceptance")
}

func TestCapabilityRouter_NoCapableWorker(t *testing.T) {
	registry := &fakeRegistry{registrations: []domain.WorkerRegistration{
		registeredWorker("worker-1", time.Now().UTC(), "transcode_video"),
	}}
	channel := &scriptedChannel{responses: map[string]bool{"worker-1": true}}

	router := NewCapabilityRouter(CapabilityRouterDependencies{
		Registry: registry,
		Channel:  channel,
	})

	_, ok, err := router.RouteOperation(context.Background(), domain.Operation{
		ID:            "op-1",
		OperationName: "generate_thumbnail",
	})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, channel.offered)
}

func TestCapabilityRouter_AllDecline(t *testing.T) {
	base := time.Now().UTC()
	registry := &fakeRegistry{registrations: []domain.WorkerRegistration{
		registeredWorker("worker-1", base, "generate_thumbnail"),
		registeredWorker("worker-2", base.Add(time.Second), "generate_thumbnail"),
	}}
	channel := &scriptedChannel{responses: map[string]bool{}}

	router := NewCapabilityRouter(CapabilityRouterDependencies{
		Registry: registry,
		Channel:  channel,
	})

	_, ok, err := router.RouteOperation(context.Background(), domain.Operation{
		ID:            "op-1",
		OperationName: "generate_thumbnail",
	})

	require.NoError(t, err)
	assert.False(t, ok, "the operation stays queued when every worker declines")
	assert.Equal(t, []string{"worker-1", "worker-2"}, channel.offered)
}
