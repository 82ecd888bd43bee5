package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"million-dialogue/internal/domain"
)

// QuestionSetLoader loads question set JSONB from Postgres.
type QuestionSetLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionSetLoader(pool *pgxpool.Pool) *QuestionSetLoader {
	return &QuestionSetLoader{pool: pool}
}

func (l *QuestionSetLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_sets WHERE id=$1`, setID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionSet{}, fmt.Errorf("%w: %s", domain.ErrQuestionSetNotFound, setID)
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("unmarshal question set: %w", err)
	}
	return set, nil
}

// QuestionSetRow is the bun model of the question_sets table.
type QuestionSetRow struct {
	bun.BaseModel `bun:"table:question_sets"`

	ID        string             `bun:"id,pk"`
	Title     string             `bun:"title,notnull"`
	Data      domain.QuestionSet `bun:"data,type:jsonb,notnull"`
	UpdatedAt time.Time          `bun:"updated_at,notnull"`
}

// NewBunDB opens a bun handle over the pgdriver connector.
func NewBunDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// SeedQuestionSets upserts every set, replacing existing content with the same id.
func SeedQuestionSets(ctx context.Context, db bun.IDB, sets []domain.QuestionSet) (int, error) {
	if len(sets) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]QuestionSetRow, 0, len(sets))
	for _, set := range sets {
		if err := set.Validate(); err != nil {
			return 0, err
		}
		rows = append(rows, QuestionSetRow{ID: set.ID, Title: set.Title, Data: set, UpdatedAt: now})
	}

	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("data = EXCLUDED.data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed question sets: %w", err)
	}
	return len(rows), nil
}
