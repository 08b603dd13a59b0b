package managers

import (
	"context"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/robfig/cron"
	"github.com/rs/zerolog/log"
)

// BacklogSweeper periodically re-surfaces receipts nobody started, so a
// subscriber that missed its original notification eventually hears about the
// work again. Running it repeatedly is safe: started receipts never count as
// pending.
type BacklogSweeper struct {
	eventService domain.EventService
	channel      domain.WorkerChannel
	schedule     string
	runner       *cron.Cron
}

type BacklogSweeperDependencies struct {
	EventService domain.EventService
	Channel      domain.WorkerChannel
	// Schedule is a cron spec; defaults to every minute.
	Schedule string
}

func NewBacklogSweeper(deps BacklogSweeperDependencies) *BacklogSweeper {
	schedule := deps.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}

	return &BacklogSweeper{
		eventService: deps.EventService,
		channel:      deps.Channel,
		schedule:     schedule,
		runner:       cron.New(),
	}
}

func (s *BacklogSweeper) Start() error {
	if err := s.runner.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			log.Error().Err(err).Msg("Backlog sweep failed")
		}
	}); err != nil {
		return err
	}

	s.runner.Start()

	return nil
}

func (s *BacklogSweeper) Stop() {
	s.runner.Stop()
}

// Sweep notifies each app room about its pending receipt counts.
func (s *BacklogSweeper) Sweep(ctx context.Context) error {
	groups, err := s.eventService.ListPendingReceiptBacklog(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		log.Info().
			Str("app_identifier", group.AppIdentifier).
			Str("event_key", group.EventKey).
			Int64("pending_count", group.PendingCount).
			Msg("Pending receipt backlog")

		payload := map[string]any{
			"eventKey":     group.EventKey,
			"pendingCount": group.PendingCount,
		}

		if err := s.channel.BroadcastToRoom(ctx, domain.AppRoom(group.AppIdentifier), domain.MessageTypePendingEvents, payload); err != nil {
			log.Warn().
				Err(err).
				Str("app_identifier", group.AppIdentifier).
				Msg("Failed to notify app of pending backlog")
		}
	}

	return nil
}
