package domain

import "context"

// App is an installed platform extension. Its manifest statically declares
// the events it may emit, the events it subscribes to and the tasks it offers.
type App struct {
	Identifier        string      `json:"identifier"`
	Label             string      `json:"label"`
	RegistrationOrder int         `json:"registrationOrder"`
	Manifest          AppManifest `json:"manifest"`
}

type AppManifest struct {
	EmittableEvents  []string         `json:"emittableEvents"`
	SubscribedEvents []string         `json:"subscribedEvents"`
	Tasks            []TaskDefinition `json:"tasks"`
}

// TaskDefinition describes one task an app offers. The task fires for an
// event when EventTriggers contains the event key and the optional Condition
// evaluates truthy against {event}.
type TaskDefinition struct {
	Name          string   `json:"name"`
	Label         string   `json:"label"`
	EventTriggers []string `json:"eventTriggers"`
	Condition     string   `json:"condition,omitempty"`
}

// CanEmit reports whether the manifest declares the event key as emittable.
func (m AppManifest) CanEmit(eventKey string) bool {
	for _, key := range m.EmittableEvents {
		if key == eventKey {
			return true
		}
	}
	return false
}

// SubscribesTo reports whether the manifest declares the event key as
// subscribed.
func (m AppManifest) SubscribesTo(eventKey string) bool {
	for _, key := range m.SubscribedEvents {
		if key == eventKey {
			return true
		}
	}
	return false
}

type AppRepository interface {
	GetApp(ctx context.Context, identifier string) (App, error)
	// ListApps returns all apps ordered by registration order. Ordering is
	// part of the fan-out contract.
	ListApps(ctx context.Context) ([]App, error)
	ListSubscribedApps(ctx context.Context, eventKey string) ([]App, error)
}
