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

	"lms-attempt-service/internal/app"
	"lms-attempt-service/internal/config"
	"lms-attempt-service/internal/infra/memory"
	pgstore "lms-attempt-service/internal/infra/postgres"
	redisstore "lms-attempt-service/internal/infra/redis"
	"lms-attempt-service/internal/lms"
	transport "lms-attempt-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt-session server",
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

	if cfg.LMS.BaseURL == "" {
		return fmt.Errorf("lms base_url not configured")
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

	client := lms.NewClient(lms.Config{
		BaseURL: cfg.LMS.BaseURL,
		Token:   cfg.LMS.Token,
		Timeout: config.Duration(cfg.LMS.Timeout, 15*time.Second),
	})

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, client, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(client, quizTTL)
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// Snapshot durability: postgres when configured, then redis, then
	// process-local memory.
	var store app.SnapshotStore
	switch {
	case pool != nil:
		store = pgstore.NewSnapshotStore(pool)
	case redisClient != nil:
		store = redisstore.NewSnapshotStore(redisClient, config.Duration(cfg.Redis.TTL, 24*time.Hour))
	default:
		store = memory.NewSnapshotStore()
	}

	opts := app.Options{
		WarnThreshold: config.Duration(cfg.Quiz.WarnThreshold, 5*time.Minute),
		Debounce:      config.Duration(cfg.Autosave.Debounce, time.Second),
		FlushInterval: config.Duration(cfg.Autosave.Interval, 30*time.Second),
	}

	attempts := app.NewAttemptService(client, quizRepo, store, opts)
	drafts := app.NewDraftService(client, store, opts)

	wsHandler := transport.NewWSHandler(attempts)
	draftHandler := transport.NewDraftHandler(drafts)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	draftHandler.Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// Websocket countdowns stream for the whole attempt; no write
		// deadline on the server itself.
	}

	go func() {
		log.Printf("starting attempt service on :%s", finalPort)
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
