package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quantbrief/alphapipe/internal/budget"
	"github.com/quantbrief/alphapipe/internal/quarantine"
	"github.com/quantbrief/alphapipe/internal/store"
)

// OpsHandler exposes the operator surface over the live governance state:
// run budgets, quarantine inspection and manual transitions, ranked ideas.
type OpsHandler struct {
	Ledger     *budget.Ledger
	Quarantine *quarantine.Store
	Store      *store.Store
}

// Register mounts ops endpoints under the provided group. Authentication is
// the caller's to apply.
func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/runs/:run_id/budget", h.runBudget)
	g.POST("/runs/:run_id/finalize", h.finalizeRun)
	g.GET("/runs/:run_id/ideas", h.runIdeas)
	g.GET("/budget/global", h.globalBudget)
	g.GET("/quarantine/stats", h.quarantineStats)
	g.GET("/quarantine/escalated", h.quarantineEscalated)
	g.GET("/quarantine/:id", h.quarantineRecord)
	g.POST("/quarantine/:id/resolve", h.quarantineResolve)
	g.POST("/quarantine/:id/dismiss", h.quarantineDismiss)
	g.POST("/quarantine/:id/escalate", h.quarantineEscalate)
}

// runBudget serves the live extended budget state, falling back to the
// persisted snapshot for finalized runs.
func (h *OpsHandler) runBudget(c echo.Context) error {
	runID := c.Param("run_id")
	if st := h.Ledger.ExtendedState(runID); st != nil {
		return c.JSON(http.StatusOK, st)
	}
	if h.Store != nil {
		snap, ok, err := h.Store.GetRunSnapshot(c.Request().Context(), runID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if ok {
			return c.JSON(http.StatusOK, snap)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "run not found")
}

// finalizeRun evicts the run from the ledger and persists its final
// accounting.
func (h *OpsHandler) finalizeRun(c echo.Context) error {
	runID := c.Param("run_id")
	state := h.Ledger.FinalizeRun(runID)
	if state == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if h.Store != nil {
		if err := h.Store.SaveRunSnapshot(c.Request().Context(), *state); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, state)
}

func (h *OpsHandler) runIdeas(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not configured")
	}
	ideas, err := h.Store.ListIdeas(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ideas)
}

func (h *OpsHandler) globalBudget(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Ledger.Stats())
}

func (h *OpsHandler) quarantineStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Quarantine.GetStats())
}

func (h *OpsHandler) quarantineEscalated(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Quarantine.ByStatus(quarantine.StatusEscalated))
}

func (h *OpsHandler) quarantineRecord(c echo.Context) error {
	rec, ok := h.Quarantine.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	return c.JSON(http.StatusOK, rec)
}

type quarantineActionRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

func (h *OpsHandler) quarantineResolve(c echo.Context) error {
	var req quarantineActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resolvedBy, _ := SubjectFromContext(c.Request().Context())
	if !h.Quarantine.Resolve(c.Param("id"), quarantine.Resolution{
		Type:       quarantine.ResolutionManual,
		Notes:      req.Notes,
		ResolvedBy: resolvedBy,
	}) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *OpsHandler) quarantineDismiss(c echo.Context) error {
	var req quarantineActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	if !h.Quarantine.Dismiss(c.Param("id"), req.Reason, req.Notes) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *OpsHandler) quarantineEscalate(c echo.Context) error {
	var req quarantineActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !h.Quarantine.Escalate(c.Param("id"), req.Notes) {
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	}
	return c.NoContent(http.StatusNoContent)
}
