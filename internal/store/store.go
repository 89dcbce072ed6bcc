// Package store persists governance outputs (admitted ideas, permanent
// rejections, finalized run budgets) in Postgres and answers the idea-history
// queries the novelty scorer needs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/quantbrief/alphapipe/internal/budget"
	"github.com/quantbrief/alphapipe/internal/pipeline"
	"github.com/quantbrief/alphapipe/internal/scoring"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// IdeaRecord is a persisted admitted idea.
type IdeaRecord struct {
	ID           string
	UnitID       string
	RunID        string
	Ticker       string
	TotalScore   float64
	NoveltyScore float64
	RankScore    float64
	GateScores   map[string]float64
	CreatedAt    time.Time
}

// RejectionRecord is a persisted permanent rejection.
type RejectionRecord struct {
	ID        string
	UnitID    string
	RunID     string
	Ticker    string
	Reason    string
	Errors    []string
	Overrides []string
	CreatedAt time.Time
}

// CreateIdea inserts an admitted idea. Satisfies pipeline.Sink.
func (s *Store) CreateIdea(ctx context.Context, idea pipeline.Idea) error {
	scores, err := json.Marshal(idea.GateScores)
	if err != nil {
		return fmt.Errorf("marshal gate scores: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO ideas (unit_id, run_id, ticker, total_score, novelty_score, rank_score, gate_scores, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
`, idea.UnitID, idea.RunID, idea.Ticker, idea.TotalScore, idea.NoveltyScore, idea.RankScore, scores)
	if err != nil {
		return fmt.Errorf("insert idea: %w", err)
	}
	return nil
}

// CreateRejection inserts a permanent rejection. Satisfies pipeline.Sink.
func (s *Store) CreateRejection(ctx context.Context, rej pipeline.Rejection) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO rejections (unit_id, run_id, ticker, reason, errors, overrides, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
`, rej.UnitID, rej.RunID, rej.Ticker, rej.Reason, pq.Array(rej.Errors), pq.Array(rej.Overrides))
	if err != nil {
		return fmt.Errorf("insert rejection: %w", err)
	}
	return nil
}

// NoveltyInputs summarizes a ticker's idea history for the novelty scorer.
// Satisfies pipeline.NoveltyProvider. Flags the scorer derives from the
// current idea's content (new edge, style change) are the orchestrator's to
// fill; this answers only history questions.
func (s *Store) NoveltyInputs(ctx context.Context, ticker string) (scoring.NoveltyInputs, error) {
	var (
		appearances int
		lastSeen    sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*), MAX(created_at)
FROM ideas
WHERE ticker=$1
`, ticker).Scan(&appearances, &lastSeen)
	if err != nil {
		return scoring.NoveltyInputs{}, fmt.Errorf("idea history for %s: %w", ticker, err)
	}
	in := scoring.NoveltyInputs{PriorAppearances: appearances}
	if !lastSeen.Valid {
		in.NeverSeen = true
		return in, nil
	}
	in.DaysSinceLastSeen = int(time.Since(lastSeen.Time).Hours() / 24)
	return in, nil
}

// ListIdeas returns a run's admitted ideas ordered by rank score descending.
func (s *Store) ListIdeas(ctx context.Context, runID string) ([]IdeaRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, unit_id, run_id, ticker, total_score, novelty_score, rank_score, gate_scores, created_at
FROM ideas
WHERE run_id=$1
ORDER BY rank_score DESC, created_at ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	var out []IdeaRecord
	for rows.Next() {
		var (
			rec IdeaRecord
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UnitID, &rec.RunID, &rec.Ticker, &rec.TotalScore, &rec.NoveltyScore, &rec.RankScore, &raw, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.GateScores); err != nil {
				return nil, fmt.Errorf("decode gate scores: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListRejections returns a run's permanent rejections, newest first.
func (s *Store) ListRejections(ctx context.Context, runID string) ([]RejectionRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, unit_id, run_id, ticker, reason, errors, overrides, created_at
FROM rejections
WHERE run_id=$1
ORDER BY created_at DESC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	defer rows.Close()

	var out []RejectionRecord
	for rows.Next() {
		var rec RejectionRecord
		if err := rows.Scan(&rec.ID, &rec.UnitID, &rec.RunID, &rec.Ticker, &rec.Reason, pq.Array(&rec.Errors), pq.Array(&rec.Overrides), &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveRunSnapshot upserts the final budget accounting for a completed run.
func (s *Store) SaveRunSnapshot(ctx context.Context, state budget.State) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO run_budgets (run_id, max_tokens, max_cost, max_time_seconds, tokens_used, cost_used, time_used_ms, is_exceeded, exceeded_reason, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (run_id) DO UPDATE SET
  tokens_used = EXCLUDED.tokens_used,
  cost_used = EXCLUDED.cost_used,
  time_used_ms = EXCLUDED.time_used_ms,
  is_exceeded = EXCLUDED.is_exceeded,
  exceeded_reason = EXCLUDED.exceeded_reason,
  updated_at = NOW();
`, state.RunID, state.MaxTokens, state.MaxCost, state.MaxTimeSeconds,
		state.TokensUsed, state.CostUsed, state.TimeUsedMS,
		state.IsExceeded, nullIfEmpty(state.ExceededReason), state.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert run budget: %w", err)
	}
	return nil
}

// GetRunSnapshot loads a finalized run budget. Returns ok=false when the run
// was never finalized.
func (s *Store) GetRunSnapshot(ctx context.Context, runID string) (budget.State, bool, error) {
	var (
		state  budget.State
		reason sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT run_id, max_tokens, max_cost, max_time_seconds, tokens_used, cost_used, time_used_ms, is_exceeded, exceeded_reason, created_at, updated_at
FROM run_budgets
WHERE run_id=$1
`, runID).Scan(&state.RunID, &state.MaxTokens, &state.MaxCost, &state.MaxTimeSeconds,
		&state.TokensUsed, &state.CostUsed, &state.TimeUsedMS,
		&state.IsExceeded, &reason, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return budget.State{}, false, nil
	}
	if err != nil {
		return budget.State{}, false, fmt.Errorf("get run budget: %w", err)
	}
	state.ExceededReason = reason.String
	return state, true, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
