package cli

import (
	"context"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"million-dialogue/internal/config"
	"million-dialogue/internal/domain"
	"million-dialogue/internal/infra/memory"
	"million-dialogue/internal/infra/postgres"
	infraredis "million-dialogue/internal/infra/redis"
)

// NewSeedCmd loads question sets from a YAML file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert question sets into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			if err := runMigrationsWithConfig(cmd.Context(), cfg, logger); err != nil {
				return err
			}

			if file == "" {
				file = cfg.Questions.File
			}
			sets, err := seedSets(file)
			if err != nil {
				return err
			}

			db := postgres.NewBunDB(cfg.Postgres.URL)
			defer db.Close()
			n, err := postgres.SeedQuestionSets(cmd.Context(), db, sets)
			if err != nil {
				return err
			}
			logger.Info("question sets seeded", slog.Int("count", n), slog.String("source", file))

			if cfg.Redis.Addr == "" {
				return nil
			}
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer client.Close()
			return invalidateCachedSets(cmd.Context(), infraredis.NewQuestionSetCache(client, nil, 0), sets, logger)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML question file (defaults to questions.file, then the built-in sets)")
	return cmd
}

func seedSets(file string) ([]domain.QuestionSet, error) {
	if file != "" {
		return memory.ReadQuestionFile(file)
	}
	builtIn := memory.SampleQuestionSets()
	sets := make([]domain.QuestionSet, 0, len(builtIn))
	for _, set := range builtIn {
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].ID < sets[j].ID })
	return sets, nil
}

type setInvalidator interface {
	Invalidate(ctx context.Context, setID string) error
}

// invalidateCachedSets drops cached copies of freshly seeded sets so running
// servers reload them from Postgres.
func invalidateCachedSets(ctx context.Context, cache setInvalidator, sets []domain.QuestionSet, logger *slog.Logger) error {
	for _, set := range sets {
		if err := cache.Invalidate(ctx, set.ID); err != nil {
			return err
		}
	}
	logger.Info("cached question sets invalidated", slog.Int("count", len(sets)))
	return nil
}
