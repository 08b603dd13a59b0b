package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foldstream/foldstream/internal/server"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch service",
		Long:  `Start the HTTP API, the worker socket listener, the operation dispatcher and the backlog sweeper.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			return runServe()
		},
	}

	return cmd
}

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config, err := LoadConfig()
	if err != nil {
		return err
	}

	deps, err := BuildServiceDependencies(ctx, config)
	if err != nil {
		return err
	}
	defer deps.Close()

	log.Info().
		Str("http_address", config.HTTPAddress).
		Str("socket_address", config.SocketAddress).
		Msg("Starting dispatch service")

	go deps.DispatchManager.RunDispatcher(ctx)

	if err := deps.BacklogSweeper.Start(); err != nil {
		return err
	}
	defer deps.BacklogSweeper.Stop()

	socketServer := &http.Server{
		Addr:    config.SocketAddress,
		Handler: deps.Hub,
	}

	go func() {
		if err := socketServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Socket server failed")
			cancel()
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := socketServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Socket server shutdown failed")
		}
	}()

	httpServer := server.NewHTTPServer(server.HTTPServerDependencies{
		TokenVerifier:    deps.TokenVerifier,
		WorkerController: deps.WorkerController,
		EventController:  deps.EventController,
	})

	if err := httpServer.Listen(config.HTTPAddress, fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	}); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
	}

	log.Info().Msg("Dispatch service stopped")
	return nil
}
