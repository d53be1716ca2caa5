package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackdesk/stackdesk/internal/actions"
	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/db/bunx"
	"github.com/stackdesk/stackdesk/internal/identity"
	"github.com/stackdesk/stackdesk/internal/identity/identitytest"
	"github.com/stackdesk/stackdesk/internal/middleware"
	"github.com/stackdesk/stackdesk/internal/notifications"
	"github.com/stackdesk/stackdesk/internal/repository"
	"github.com/stackdesk/stackdesk/internal/server"
	"github.com/stackdesk/stackdesk/internal/tasks"
	"github.com/stackdesk/stackdesk/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stackdesk API server",
	Long:  `Starts the HTTP server exposing the v1 task workflow endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required to serve")
		}

		// Connect to database
		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		log.Printf("Connected to database")

		// Initialize repositories
		taskRepo := repository.NewBunTaskRepository(db)
		tokenRepo := repository.NewBunTokenRepository(db)
		notificationRepo := repository.NewBunNotificationRepository(db)

		gateway, err := buildGateway(cfg.IdentityBackend)
		if err != nil {
			return err
		}

		enforcer, err := auth.InitEnforcer()
		if err != nil {
			return fmt.Errorf("configure casbin enforcer: %w", err)
		}

		registry, err := actions.NewRegistry()
		if err != nil {
			return fmt.Errorf("build action registry: %w", err)
		}

		taskMetrics, err := telemetry.NewTaskMetrics()
		if err != nil {
			return fmt.Errorf("create task metrics: %w", err)
		}
		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("create server metrics: %w", err)
		}

		notificationService := notifications.NewService(notificationRepo)
		taskService := tasks.NewService(
			registry,
			taskRepo,
			tokenRepo,
			notificationService,
			gateway,
			cfg.ManagedRoles,
			taskMetrics,
			cfg.TokenTTL,
		)

		// Periodic expired-token sweep. Correctness never depends on it;
		// expiry is checked lazily on access.
		purgeCtx, cancelPurge := context.WithCancel(cmd.Context())
		defer cancelPurge()
		if cfg.TokenPurgeInterval > 0 {
			go func() {
				ticker := time.NewTicker(cfg.TokenPurgeInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						purged, err := taskService.PurgeExpiredTokens(purgeCtx)
						if err != nil {
							log.Printf("ERROR: token purge failed: %v", err)
						} else if purged > 0 {
							log.Printf("Purged %d expired tokens", purged)
						}
					case <-purgeCtx.Done():
						return
					}
				}
			}()
		}

		h2cHandler := server.NewH2CHandler(server.RouterOptions{
			TaskService:         taskService,
			NotificationService: notificationService,
			Enforcer:            enforcer,
			JWTSecret:           cfg.JWTSecret,
			Middleware: []func(http.Handler) http.Handler{
				middleware.NewMetricsMiddleware(serverMetrics),
			},
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      h2cHandler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Server stopped")
			return nil
		}
	},
}

// buildGateway selects the identity backend. The in-memory backend keeps
// all state in process and exists for development and demos; production
// deployments plug a real gateway in here.
func buildGateway(backend string) (identity.Gateway, error) {
	switch backend {
	case "memory":
		log.Printf("WARNING: using in-memory identity backend; data does not survive restarts")
		return identitytest.NewFake(), nil
	default:
		return nil, fmt.Errorf("unsupported identity backend %q", backend)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
