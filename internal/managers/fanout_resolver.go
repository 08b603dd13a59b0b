package managers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/foldstream/foldstream/internal/domain"
	"github.com/foldstream/foldstream/pkg/conditions"

	"github.com/rs/zerolog/log"
)

type fanoutResolver struct {
	appRepository domain.AppRepository
	evaluator     *conditions.Evaluator
}

type FanoutResolverDependencies struct {
	AppRepository domain.AppRepository
	Evaluator     *conditions.Evaluator
}

func NewFanoutResolver(deps FanoutResolverDependencies) domain.TriggerResolver {
	return &fanoutResolver{
		appRepository: deps.AppRepository,
		evaluator:     deps.Evaluator,
	}
}

// ResolveTriggers walks subscribed apps in registration order and their task
// definitions in declaration order. A task fires when its triggers contain
// the event key and its condition, if any, evaluates truthy. An app with no
// matching task still holds a receipt, it just spawns no operation.
func (r *fanoutResolver) ResolveTriggers(ctx context.Context, event domain.Event) ([]domain.TriggerMatch, error) {
	apps, err := r.appRepository.ListSubscribedApps(ctx, event.EventKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed apps: %w", err)
	}

	env, err := eventEnv(event)
	if err != nil {
		return nil, err
	}

	var matches []domain.TriggerMatch
	for _, app := range apps {
		for _, task := range app.Manifest.Tasks {
			if !taskTriggeredBy(task, event.EventKey) {
				continue
			}

			if task.Condition != "" && !r.evaluator.Evaluate(task.Condition, env) {
				log.Debug().
					Str("app_identifier", app.Identifier).
					Str("task_name", task.Name).
					Str("event_id", event.ID).
					Msg("Trigger condition not met")
				continue
			}

			matches = append(matches, domain.TriggerMatch{App: app, Task: task})
		}
	}

	return matches, nil
}

func taskTriggeredBy(task domain.TaskDefinition, eventKey string) bool {
	for _, trigger := range task.EventTriggers {
		if trigger == eventKey {
			return true
		}
	}
	return false
}

// eventEnv exposes the event to condition expressions as plain JSON shapes,
// never as a live Go value.
func eventEnv(event domain.Event) (conditions.Env, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event for evaluation: %w", err)
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event for evaluation: %w", err)
	}

	return conditions.Env{"event": asMap}, nil
}
