package domain

import "fmt"

// OperationInvalidError signals a state-machine precondition violation or a
// failed validation of caller-supplied operation data.
type OperationInvalidError struct {
	Reason string
}

func (e *OperationInvalidError) Error() string {
	return fmt.Sprintf("operation invalid: %s", e.Reason)
}

func NewOperationInvalidError(format string, args ...any) *OperationInvalidError {
	return &OperationInvalidError{Reason: fmt.Sprintf(format, args...)}
}

// OperationNotFoundError signals that no operation, folder or folder object
// exists for the given identifier.
type OperationNotFoundError struct {
	Resource string
	ID       string
}

func (e *OperationNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func NewOperationNotFoundError(resource, id string) *OperationNotFoundError {
	return &OperationNotFoundError{Resource: resource, ID: id}
}

// ForbiddenEmitEventError signals an app emitting an event key outside its
// declared manifest. Logged distinctly since it indicates a misbehaving app.
type ForbiddenEmitEventError struct {
	AppIdentifier string
	EventKey      string
}

func (e *ForbiddenEmitEventError) Error() string {
	return fmt.Sprintf("app %s is not permitted to emit event %s", e.AppIdentifier, e.EventKey)
}

// WorkerInvalidError signals a bad worker credential or a failed socket
// handshake.
type WorkerInvalidError struct {
	Reason string
}

func (e *WorkerInvalidError) Error() string {
	return fmt.Sprintf("worker invalid: %s", e.Reason)
}

func NewWorkerInvalidError(format string, args ...any) *WorkerInvalidError {
	return &WorkerInvalidError{Reason: fmt.Sprintf(format, args...)}
}
