package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"million-dialogue/internal/app"
	"million-dialogue/internal/auth"
	"million-dialogue/internal/config"
	"million-dialogue/internal/dependencies/clock"
	"million-dialogue/internal/dependencies/random"
	"million-dialogue/internal/domain"
	"million-dialogue/internal/gateway"
	"million-dialogue/internal/infra/memory"
	"million-dialogue/internal/infra/postgres"
	infraredis "million-dialogue/internal/infra/redis"
	transport "million-dialogue/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the room server",
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
	logger := newLogger(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
		}
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	loader, err := questionSetLoader(cfg, pool, logger)
	if err != nil {
		return err
	}

	setTTL := config.Duration(cfg.Questions.CacheTTL, 10*time.Minute)
	var bank app.QuestionBank
	var store app.RoomStore
	if redisClient != nil {
		bank = infraredis.NewQuestionSetCache(redisClient, loader, setTTL)
		store = infraredis.NewRoomStore(redisClient, config.Duration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		bank = memory.NewQuestionSetCache(loader, setTTL)
		store = memory.NewRoomStore()
	}

	engine := app.NewEngine(
		clock.New(),
		random.New(),
		app.TimeBonusPolicy{BasePoints: cfg.Scoring.BasePoints, MinFactorBP: cfg.Scoring.MinBonusBP},
		config.Duration(cfg.Scoring.LatencyAllowance, 750*time.Millisecond),
		config.Duration(cfg.Rooms.RevealDelay, 3*time.Second),
		logger,
	)
	registry := app.NewRegistry(store, engine, app.RegistryOptions{
		Defaults: domain.RoomSettings{
			MaxPlayers:       cfg.Rooms.DefaultMaxPlayers,
			QuestionCount:    cfg.Rooms.QuestionCount,
			TimeLimitSec:     cfg.Rooms.TimeLimitSec,
			ShuffleQuestions: cfg.Rooms.Shuffle,
			QuestionSetID:    cfg.Questions.DefaultSet,
		},
		MaxPlayers:    cfg.Rooms.MaxPlayers,
		IdleTimeout:   config.Duration(cfg.Rooms.IdleTimeout, 10*time.Minute),
		SweepInterval: config.Duration(cfg.Rooms.SweepInterval, 30*time.Second),
	})
	service := app.NewRoomService(registry, bank)

	authenticator := auth.NewJWTAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	dispatcher := gateway.NewDispatcher(service, authenticator, logger)
	wsHandler := transport.NewWSHandler(dispatcher, authenticator, transport.WSOptions{
		EventBuffer: cfg.Gateway.EventBuffer,
		ReplyBuffer: cfg.Gateway.ReplyBuffer,
	}, logger)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service, wsHandler, logger),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go registry.Run(runCtx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting room server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", slog.Any("error", err))
			return err
		}
	case <-runCtx.Done():
		logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	registry.Shutdown(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

// questionSetLoader prefers Postgres, then the YAML file, then the built-in sets.
func questionSetLoader(cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (memory.QuestionSetLoader, error) {
	switch {
	case pool != nil:
		logger.Info("loading question sets from postgres")
		return postgres.NewQuestionSetLoader(pool), nil
	case cfg.Questions.File != "":
		logger.Info("loading question sets from file", slog.String("file", cfg.Questions.File))
		return memory.NewFileQuestionSetLoader(cfg.Questions.File)
	default:
		logger.Info("serving built-in question sets")
		return memory.NewStaticQuestionSetLoader(memory.SampleQuestionSets()), nil
	}
}
