package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"sdm-elearning-service/internal/app"
	"sdm-elearning-service/internal/config"
	"sdm-elearning-service/internal/content"
	"sdm-elearning-service/internal/domain"
	"sdm-elearning-service/internal/infra/memory"
	pgstore "sdm-elearning-service/internal/infra/postgres"
	redisstore "sdm-elearning-service/internal/infra/redis"
	transport "sdm-elearning-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the e-learning service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Nothing can load without the sheet endpoint; refuse to start and spell
	// out the fix instead of serving a dead client.
	if cfg.Sheets.URL == "" {
		return fmt.Errorf("%w: set sheets.url in %s\n"+
			"remediation:\n"+
			"  - deploy your Apps Script project as a web app\n"+
			"  - under \"Who has access\", choose \"Anyone\"\n"+
			"  - paste the deployment's /exec URL into sheets.url",
			domain.ErrEndpointNotConfigured, configPath)
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	client := content.NewClient(cfg.Sheets.URL, &http.Client{Timeout: 15 * time.Second})
	sheetTTL := config.TTLDuration(cfg.Sheets.TTL, 10*time.Minute)
	source := content.NewCatalogCache(client, sheetTTL)

	var store app.ProfileStore
	switch {
	case cfg.Redis.Addr != "":
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = redisstore.NewProfileStore(redisClient, cfg.App.Namespace)
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = pgstore.NewProfileStore(pool, cfg.App.Namespace)
	default:
		store = memory.NewProfileStore()
	}

	service := app.NewLearningService(store, source, app.Options{
		AdminExternalID: cfg.App.AdminID,
		Fallback:        content.FallbackCatalog(),
	})
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting e-learning service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
