package socket

import (
	"context"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/rs/zerolog/log"
)

// CapabilityRouter picks a worker for an operation by offering it to each
// registered worker advertising the operation's name, oldest registration
// first, and stopping at the first one that commits to completing it.
type CapabilityRouter struct {
	registry domain.WorkerRegistry
	channel  domain.WorkerChannel
}

type CapabilityRouterDependencies struct {
	Registry domain.WorkerRegistry
	Channel  domain.WorkerChannel
}

func NewCapabilityRouter(deps CapabilityRouterDependencies) domain.OperationRouter {
	return &CapabilityRouter{
		registry: deps.Registry,
		channel:  deps.Channel,
	}
}

func (r *CapabilityRouter) RouteOperation(ctx context.Context, op domain.Operation) (string, bool, error) {
	registrations, err := r.registry.ListByCapability(ctx, op.OperationName)
	if err != nil {
		return "", false, err
	}

	offer := domain.WorkOffer{
		TaskID:   op.ID,
		TaskName: op.OperationName,
		TaskData: op.OperationData,
	}

	for _, registration := range registrations {
		willComplete, err := r.channel.OfferOperation(ctx, registration.WorkerID, offer)
		if err != nil {
			log.Warn().
				Err(err).
				Str("worker_id", registration.WorkerID).
				Str("operation_id", op.ID).
				Msg("Failed to offer operation to worker")
			continue
		}

		if willComplete {
			return registration.WorkerID, true, nil
		}
	}

	return "", false, nil
}
