package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/harrier/internal/domain/task"
	"github.com/Strob0t/harrier/internal/port/planstore"
)

// Store implements planstore.Store on PostgreSQL. The plan document is
// stored whole as one JSONB row keyed by plan id; the upsert makes each
// Save atomic.
type Store struct {
	pool   *pgxpool.Pool
	planID string
}

// NewStore creates a plan store scoped to one plan id (typically the plan
// file path, so separate plans never collide).
func NewStore(pool *pgxpool.Pool, planID string) *Store {
	return &Store{pool: pool, planID: planID}
}

func (s *Store) Load(ctx context.Context) (*task.Plan, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM plans WHERE id = $1`, s.planID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, planstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", s.planID, err)
	}

	var plan task.Plan
	if err := json.Unmarshal(doc, &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan %s: %w", s.planID, err)
	}
	return &plan, nil
}

func (s *Store) Save(ctx context.Context, plan *task.Plan) error {
	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan %s: %w", s.planID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (id, document, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		s.planID, doc)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", s.planID, err)
	}
	return nil
}
