package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mathfluency-service/internal/config"
	"mathfluency-service/internal/infra/memory"
	infrapg "mathfluency-service/internal/infra/postgres"
	infraredis "mathfluency-service/internal/infra/redis"
	"mathfluency-service/internal/problem"
	"mathfluency-service/internal/quiz"
	transport "mathfluency-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
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

	var attempts quiz.AttemptStore = memory.NewAttemptStore()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		attempts = infrapg.NewAttemptStore(pool)
	}

	var sessionStore *infraredis.SessionStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sessionStore = infraredis.NewSessionStore(client, config.TTLDuration(cfg.Redis.TTL, time.Hour))
	}

	hub := transport.NewHub(logger)
	defaults := quiz.Options{
		Operation:            orDefault(cfg.Quiz.Operation, problem.OpAddition),
		Level:                orDefaultInt(cfg.Quiz.Level, 1),
		QuestionWindow:       config.TTLDuration(cfg.Quiz.QuestionWindow, 30*time.Second),
		AdvanceOnAllAnswered: cfg.Quiz.AdvanceOnAllAnswered,
		AllowCoTeachers:      cfg.Quiz.AllowCoTeachers,
	}
	deps := quiz.Deps{
		Problems: problem.NewGenerator(),
		Attempts: attempts,
		Gateway:  hub,
		Logger:   logger,
	}
	var liveness quiz.LivenessStore
	var results transport.ResultsReader
	if sessionStore != nil {
		deps.Results = sessionStore
		liveness = sessionStore
		results = sessionStore
	}
	grace := config.TTLDuration(cfg.Quiz.GracePeriod, 2*time.Minute)
	registry := quiz.NewRegistry(defaults, grace, deps, liveness)

	wsHandler := transport.NewWSHandler(registry, hub, results, logger)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.Get("/ws", wsHandler.ServeWS)
	router.Get("/quiz/{quizID}/leaderboard", wsHandler.Leaderboard)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting quiz service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-stop:
			logger.Info("shutting down server")
		case <-ctx.Done():
			logger.Info("context canceled, shutting down server")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
