package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/quantbrief/alphapipe/internal/budget"
	"github.com/quantbrief/alphapipe/internal/pipeline"
)

func TestCreateIdea(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
INSERT INTO ideas (unit_id, run_id, ticker, total_score, novelty_score, rank_score, gate_scores, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
`)
	mock.ExpectExec(query).
		WithArgs("unit-1", "run-1", "ACME", 92.5, 25.0, 78.1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	idea := pipeline.Idea{
		UnitID:       "unit-1",
		RunID:        "run-1",
		Ticker:       "ACME",
		TotalScore:   92.5,
		NoveltyScore: 25.0,
		RankScore:    78.1,
		GateScores:   map[string]float64{"coherence": 1.0},
	}
	if err := st.CreateIdea(context.Background(), idea); err != nil {
		t.Fatalf("CreateIdea: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRejection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
INSERT INTO rejections (unit_id, run_id, ticker, reason, errors, overrides, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
`)
	mock.ExpectExec(query).
		WithArgs("unit-2", "run-1", "ACME", pipeline.RejectBinaryOverride, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rej := pipeline.Rejection{
		UnitID:    "unit-2",
		RunID:     "run-1",
		Ticker:    "ACME",
		Reason:    pipeline.RejectBinaryOverride,
		Overrides: []string{"dominant_leverage_risk"},
	}
	if err := st.CreateRejection(context.Background(), rej); err != nil {
		t.Fatalf("CreateRejection: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNoveltyInputs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT COUNT(*), MAX(created_at)
FROM ideas
WHERE ticker=$1
`)

	// Never seen: zero rows aggregate to count 0 and NULL max.
	mock.ExpectQuery(query).
		WithArgs("NEWCO").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(0, nil))

	in, err := st.NoveltyInputs(context.Background(), "NEWCO")
	if err != nil {
		t.Fatalf("NoveltyInputs: %v", err)
	}
	if !in.NeverSeen || in.PriorAppearances != 0 {
		t.Fatalf("expected never-seen ticker, got %+v", in)
	}

	// Seen 10 days ago, 3 times.
	mock.ExpectQuery(query).
		WithArgs("ACME").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).
			AddRow(3, time.Now().Add(-10*24*time.Hour)))

	in, err = st.NoveltyInputs(context.Background(), "ACME")
	if err != nil {
		t.Fatalf("NoveltyInputs: %v", err)
	}
	if in.NeverSeen {
		t.Fatalf("ACME has history, got never-seen")
	}
	if in.PriorAppearances != 3 || in.DaysSinceLastSeen != 10 {
		t.Fatalf("unexpected history summary: %+v", in)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListIdeas(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT id, unit_id, run_id, ticker, total_score, novelty_score, rank_score, gate_scores, created_at
FROM ideas
WHERE run_id=$1
ORDER BY rank_score DESC, created_at ASC
`)
	now := time.Now()
	mock.ExpectQuery(query).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "unit_id", "run_id", "ticker", "total_score", "novelty_score", "rank_score", "gate_scores", "created_at"}).
			AddRow("1", "unit-1", "run-1", "ACME", 92.5, 25.0, 78.1, []byte(`{"coherence":1}`), now).
			AddRow("2", "unit-2", "run-1", "BETA", 70.0, 5.0, 42.0, nil, now))

	ideas, err := st.ListIdeas(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListIdeas: %v", err)
	}
	if len(ideas) != 2 {
		t.Fatalf("expected 2 ideas, got %d", len(ideas))
	}
	if ideas[0].Ticker != "ACME" || ideas[0].GateScores["coherence"] != 1 {
		t.Fatalf("unexpected first idea: %+v", ideas[0])
	}
	if ideas[1].GateScores != nil {
		t.Fatalf("nil gate scores should stay nil, got %v", ideas[1].GateScores)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunSnapshotRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	insert := regexp.QuoteMeta(`
INSERT INTO run_budgets (run_id, max_tokens, max_cost, max_time_seconds, tokens_used, cost_used, time_used_ms, is_exceeded, exceeded_reason, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
ON CONFLICT (run_id) DO UPDATE SET
  tokens_used = EXCLUDED.tokens_used,
  cost_used = EXCLUDED.cost_used,
  time_used_ms = EXCLUDED.time_used_ms,
  is_exceeded = EXCLUDED.is_exceeded,
  exceeded_reason = EXCLUDED.exceeded_reason,
  updated_at = NOW();
`)
	mock.ExpectExec(insert).
		WithArgs("run-1", int64(10000), 5.0, int64(600), int64(10500), 3.2, int64(420000),
			true, budget.ReasonTokenLimit, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	state := budget.State{
		RunID:          "run-1",
		MaxTokens:      10000,
		MaxCost:        5.0,
		MaxTimeSeconds: 600,
		TokensUsed:     10500,
		CostUsed:       3.2,
		TimeUsedMS:     420000,
		IsExceeded:     true,
		ExceededReason: budget.ReasonTokenLimit,
		CreatedAt:      time.Now(),
	}
	if err := st.SaveRunSnapshot(context.Background(), state); err != nil {
		t.Fatalf("SaveRunSnapshot: %v", err)
	}

	query := regexp.QuoteMeta(`
SELECT run_id, max_tokens, max_cost, max_time_seconds, tokens_used, cost_used, time_used_ms, is_exceeded, exceeded_reason, created_at, updated_at
FROM run_budgets
WHERE run_id=$1
`)
	now := time.Now()
	mock.ExpectQuery(query).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "max_tokens", "max_cost", "max_time_seconds", "tokens_used", "cost_used", "time_used_ms", "is_exceeded", "exceeded_reason", "created_at", "updated_at"}).
			AddRow("run-1", int64(10000), 5.0, int64(600), int64(10500), 3.2, int64(420000), true, budget.ReasonTokenLimit, now, now))

	got, ok, err := st.GetRunSnapshot(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRunSnapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot")
	}
	if got.ExceededReason != budget.ReasonTokenLimit || got.TokensUsed != 10500 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	mock.ExpectQuery(query).WithArgs("run-2").WillReturnRows(sqlmock.NewRows([]string{"run_id"}))
	if _, ok, err := st.GetRunSnapshot(context.Background(), "run-2"); err != nil || ok {
		t.Fatalf("expected not-found without error, got ok=%v err=%v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
