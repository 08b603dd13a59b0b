package cli

import (
	"context"
	"fmt"

	"github.com/foldstream/foldstream/internal/auth"
	"github.com/foldstream/foldstream/internal/controllers"
	"github.com/foldstream/foldstream/internal/domain"
	"github.com/foldstream/foldstream/internal/managers"
	"github.com/foldstream/foldstream/internal/repositories"
	"github.com/foldstream/foldstream/internal/socket"
	"github.com/foldstream/foldstream/pkg/conditions"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ServiceDependencies is the fully wired object graph behind the serve
// command.
type ServiceDependencies struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client

	Hub             *socket.Hub
	EventService    domain.EventService
	DispatchManager *managers.DispatchManager
	BacklogSweeper  *managers.BacklogSweeper

	WorkerController *controllers.WorkerController
	EventController  *controllers.EventController
	TokenVerifier    *auth.TokenVerifier
}

func BuildServiceDependencies(ctx context.Context, config *Config) (*ServiceDependencies, error) {
	pool, err := pgxpool.New(ctx, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress,
		Password: config.RedisPassword,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	tokenVerifier := auth.NewTokenVerifier(config.TokenSecret)

	eventRepository := repositories.NewPostgresEventRepository(repositories.PostgresEventRepositoryDependencies{Pool: pool})
	appRepository := repositories.NewPostgresAppRepository(repositories.PostgresAppRepositoryDependencies{Pool: pool})
	operationRepository := repositories.NewPostgresOperationRepository(repositories.PostgresOperationRepositoryDependencies{Pool: pool})
	folderRepository := repositories.NewPostgresFolderRepository(repositories.PostgresFolderRepositoryDependencies{Pool: pool})
	jobQueue := repositories.NewPostgresOperationJobQueue(repositories.PostgresOperationJobQueueDependencies{Pool: pool})

	registry := socket.NewRedisWorkerRegistry(socket.RedisWorkerRegistryDependencies{
		Client: redisClient,
	})

	hub := socket.NewHub(socket.HubDependencies{
		Registry: registry,
		Verifier: tokenVerifier,
	})

	router := socket.NewCapabilityRouter(socket.CapabilityRouterDependencies{
		Registry: registry,
		Channel:  hub,
	})

	schemaRegistry := managers.NewOperationSchemaRegistry()
	if err := registerOperationSchemas(ctx, schemaRegistry, appRepository); err != nil {
		return nil, err
	}

	dispatchManager := managers.NewDispatchManager(managers.DispatchManagerDependencies{
		OperationRepository: operationRepository,
		FolderRepository:    folderRepository,
		JobQueue:            jobQueue,
		Router:              router,
		SchemaRegistry:      schemaRegistry,
	})

	triggerResolver := managers.NewFanoutResolver(managers.FanoutResolverDependencies{
		AppRepository: appRepository,
		Evaluator:     conditions.NewEvaluator(),
	})

	eventService := managers.NewEventManager(managers.EventManagerDependencies{
		EventRepository: eventRepository,
		AppRepository:   appRepository,
		TriggerResolver: triggerResolver,
		Dispatcher:      dispatchManager,
	})

	lifecycleService := managers.NewLifecycleManager(managers.LifecycleManagerDependencies{
		OperationRepository: operationRepository,
		FolderRepository:    folderRepository,
		EventRepository:     eventRepository,
		Presigner:           managers.NewS3ObjectPresigner(),
		Channel:             hub,
	})

	backlogSweeper := managers.NewBacklogSweeper(managers.BacklogSweeperDependencies{
		EventService: eventService,
		Channel:      hub,
		Schedule:     config.BacklogSweepSchedule,
	})

	return &ServiceDependencies{
		Pool:            pool,
		RedisClient:     redisClient,
		Hub:             hub,
		EventService:    eventService,
		DispatchManager: dispatchManager,
		BacklogSweeper:  backlogSweeper,
		WorkerController: controllers.NewWorkerController(controllers.WorkerControllerDependencies{
			LifecycleService: lifecycleService,
		}),
		EventController: controllers.NewEventController(controllers.EventControllerDependencies{
			EventService: eventService,
		}),
		TokenVerifier: tokenVerifier,
	}, nil
}

// operationEnvelopeSchema is the payload shape of event-triggered operations.
const operationEnvelopeSchema = `{
	"type": "object",
	"properties": {
		"eventId": {"type": "string"},
		"eventKey": {"type": "string"},
		"appIdentifier": {"type": "string"},
		"data": {"type": ["object", "null"]}
	},
	"required": ["eventId", "eventKey", "appIdentifier"]
}`

// registerOperationSchemas registers a payload schema for every task the
// installed apps declare, so dispatch refuses payloads for unknown
// operations.
func registerOperationSchemas(ctx context.Context, registry *managers.OperationSchemaRegistry, appRepository domain.AppRepository) error {
	apps, err := appRepository.ListApps(ctx)
	if err != nil {
		return fmt.Errorf("failed to list installed apps: %w", err)
	}

	for _, app := range apps {
		for _, task := range app.Manifest.Tasks {
			if err := registry.RegisterSchema(task.Name, operationEnvelopeSchema); err != nil {
				return fmt.Errorf("failed to register schema for task %s: %w", task.Name, err)
			}

			log.Debug().
				Str("app_identifier", app.Identifier).
				Str("task_name", task.Name).
				Msg("Registered operation schema")
		}
	}

	return nil
}

func (d *ServiceDependencies) Close() {
	d.RedisClient.Close()
	d.Pool.Close()
}
