package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quantbrief/alphapipe/internal/budget"
	"github.com/quantbrief/alphapipe/internal/quarantine"
)

func testServer(t *testing.T) (*Server, *budget.Ledger, *quarantine.Store, string) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)

	tokens := int64(10000)
	ledger := budget.NewLedger(budget.Config{MaxTotalTokens: &tokens})
	qstore := quarantine.NewStore(quarantine.DefaultPolicy(), logger)

	secret := []byte("test-secret")
	srv := New(":0", secret, &OpsHandler{Ledger: ledger, Quarantine: qstore}, logger)

	token, err := SignJWT("ops-user", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return srv, ledger, qstore, token
}

func doRequest(srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzOpen(t *testing.T) {
	srv, _, _, _ := testServer(t)
	if rec := doRequest(srv, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOpsRequiresToken(t *testing.T) {
	srv, _, _, token := testServer(t)

	if rec := doRequest(srv, http.MethodGet, "/ops/budget/global", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodGet, "/ops/budget/global", "garbage", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
	if rec := doRequest(srv, http.MethodGet, "/ops/budget/global", token, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestRunBudgetEndpoint(t *testing.T) {
	srv, ledger, _, token := testServer(t)
	ledger.InitRun("run-1", budget.Config{})
	ledger.RecordUsage("run-1", budget.Usage{TokensIn: 4000, TokensOut: 1000})

	rec := doRequest(srv, http.MethodGet, "/ops/runs/run-1/budget", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var state budget.ExtendedState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.TokensUsed != 5000 || state.TokensUsedPercent != 50 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if !state.LLMCallsAllowed {
		t.Fatalf("run within budget must allow LLM calls")
	}

	if rec := doRequest(srv, http.MethodGet, "/ops/runs/missing/budget", token, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestFinalizeRunEndpoint(t *testing.T) {
	srv, ledger, _, token := testServer(t)
	ledger.InitRun("run-1", budget.Config{})

	rec := doRequest(srv, http.MethodPost, "/ops/runs/run-1/finalize", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// Second finalize: the run is gone.
	if rec := doRequest(srv, http.MethodPost, "/ops/runs/run-1/finalize", token, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after eviction, got %d", rec.Code)
	}
}

func TestQuarantineEndpoints(t *testing.T) {
	srv, _, qstore, token := testServer(t)
	rec1 := qstore.Add(quarantine.Record{RunID: "run-1", StepID: "gate_validation", ValidationErrors: []string{"bad output"}})
	qstore.Add(quarantine.Record{RunID: "run-1", StepID: "digest_render"})

	resp := doRequest(srv, http.MethodGet, "/ops/quarantine/stats", token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var stats quarantine.Stats
	if err := json.Unmarshal(resp.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 records, got %d", stats.Total)
	}

	resp = doRequest(srv, http.MethodGet, "/ops/quarantine/"+rec1.ID, token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp = doRequest(srv, http.MethodGet, "/ops/quarantine/qr_missing", token, ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	// Dismiss needs a reason.
	resp = doRequest(srv, http.MethodPost, "/ops/quarantine/"+rec1.ID+"/dismiss", token, `{}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", resp.Code)
	}
	resp = doRequest(srv, http.MethodPost, "/ops/quarantine/"+rec1.ID+"/dismiss", token, `{"reason":"duplicate"}`)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	got, _ := qstore.Get(rec1.ID)
	if got.Status != quarantine.StatusDismissed {
		t.Fatalf("expected dismissed, got %s", got.Status)
	}
}

func TestQuarantineEscalateAndList(t *testing.T) {
	srv, _, qstore, token := testServer(t)
	rec := qstore.Add(quarantine.Record{RunID: "run-1", StepID: "parse_filing"})

	resp := doRequest(srv, http.MethodPost, "/ops/quarantine/"+rec.ID+"/escalate", token, `{"notes":"needs a human"}`)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	resp = doRequest(srv, http.MethodGet, "/ops/quarantine/escalated", token, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var records []quarantine.Record
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Fatalf("expected the escalated record, got %+v", records)
	}
}

func TestRunIdeasWithoutPersistence(t *testing.T) {
	srv, _, _, token := testServer(t)
	if rec := doRequest(srv, http.MethodGet, "/ops/runs/run-1/ideas", token, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a store, got %d", rec.Code)
	}
}
