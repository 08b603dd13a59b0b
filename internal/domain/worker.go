package domain

import (
	"context"
	"time"
)

// WorkerLeaseTTL bounds how long a crashed worker's registration survives
// without a heartbeat. Connected workers refresh their lease well inside it.
const WorkerLeaseTTL = 30 * time.Second

// OfferTimeout bounds the blocking time per availability check so one
// unresponsive worker cannot stall routing.
const OfferTimeout = 250 * time.Millisecond

// WorkerRegistration is a live, ephemeral record of a connected worker. It is
// a redis lease, never a database row.
type WorkerRegistration struct {
	WorkerID     string    `json:"workerId"`
	Capabilities []string  `json:"capabilities"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// HasCapability reports whether the worker advertises the operation name.
func (r WorkerRegistration) HasCapability(operationName string) bool {
	for _, capability := range r.Capabilities {
		if capability == operationName {
			return true
		}
	}
	return false
}

// WorkerRegistry is the shared capability->workers mapping. Registrations are
// leases with a TTL refreshed by heartbeat; expiry is the backstop for
// workers that crash without a close frame.
type WorkerRegistry interface {
	Register(ctx context.Context, registration WorkerRegistration) error
	Refresh(ctx context.Context, workerID string) error
	Deregister(ctx context.Context, workerID string) error
	// ListByCapability returns live registrations advertising the capability,
	// ordered by ConnectedAt.
	ListByCapability(ctx context.Context, capability string) ([]WorkerRegistration, error)
}

// Socket message types exchanged with workers and folder subscribers.
const (
	MessageTypeWorkRequest    = "WORK_REQUEST"
	MessageTypeWorkRequestAck = "WORK_REQUEST_ACK"
	MessageTypeObjectUpdated  = "OBJECT_UPDATED"
	MessageTypePendingEvents  = "PENDING_EVENTS"
)

// WorkOffer is the payload of a CHECK_AVAILABILITY request.
type WorkOffer struct {
	TaskID   string         `json:"id"`
	TaskName string         `json:"name"`
	TaskData map[string]any `json:"data"`
}

// WorkerChannel is the real-time channel to connected workers and folder
// subscribers.
type WorkerChannel interface {
	// OfferOperation asks one worker whether it will complete the offered
	// task, waiting at most OfferTimeout for the acknowledgment. A timeout is
	// reported as a decline, not an error.
	OfferOperation(ctx context.Context, workerID string, offer WorkOffer) (bool, error)
	// BroadcastToRoom fans a named message out to every connection in a room.
	BroadcastToRoom(ctx context.Context, room string, messageType string, payload any) error
}

// OperationRouter matches a queued operation to a connected worker.
type OperationRouter interface {
	// RouteOperation offers the operation to capable workers in registration
	// order and returns the ID of the first one that accepts. ok is false
	// when no candidate accepts; the operation stays queued for a later pass.
	RouteOperation(ctx context.Context, op Operation) (workerID string, ok bool, err error)
}

// FolderRoom names the socket room receiving a folder's object notifications.
func FolderRoom(folderID string) string {
	return "folder:" + folderID
}

// AppRoom names the socket room an app's connections join for backlog
// notifications.
func AppRoom(appIdentifier string) string {
	return "app:" + appIdentifier
}

// CapabilityRoom names the socket room workers join per advertised
// capability.
func CapabilityRoom(capability string) string {
	return "capability:" + capability
}
