// Package handlers provides HTTP handlers for optimizer operations.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/greenfolio/internal/domain"
	"github.com/aristath/greenfolio/internal/modules/budget"
	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/aristath/greenfolio/internal/modules/runs"
	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

const contentTypeMsgpack = "application/msgpack"

// Handler handles optimizer HTTP requests
type Handler struct {
	service *optimization.OptimizerService
	runs    *runs.Repository // optional; runs are not recorded when nil
	scale   universe.ESGScale
	log     zerolog.Logger
}

// NewHandler creates a new optimizer handler
func NewHandler(service *optimization.OptimizerService, runRepo *runs.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		runs:    runRepo,
		scale:   universe.ScaleUnit,
		log:     log.With().Str("handler", "optimizer").Logger(),
	}
}

// WithDefaultScale sets the ESG scale assumed for universes that do not name one.
func (h *Handler) WithDefaultScale(scale universe.ESGScale) *Handler {
	h.scale = scale
	return h
}

func (h *Handler) buildUniverse(doc *universe.Document) (*universe.AssetUniverse, error) {
	if doc.ESGScale == "" {
		doc.ESGScale = string(h.scale)
	}
	return doc.Build()
}

// AllocateRequest represents a request to solve one allocation.
// Constraints and Blend start from the service defaults; fields present in
// the request override them.
type AllocateRequest struct {
	Universe      universe.Document        `json:"universe"`
	Constraints   optimization.Constraints `json:"constraints"`
	Blend         optimization.Blend       `json:"blend"`
	RiskTolerance *float64                 `json:"risk_tolerance,omitempty"` // sets the volatility ceiling
	Budget        *BudgetRequest           `json:"budget,omitempty"`
}

// BudgetRequest asks for the allocation in currency amounts.
type BudgetRequest struct {
	Total    string `json:"total"` // decimal, major units
	Currency string `json:"currency"`
}

// AllocateResponse is the result of POST /optimizer/allocate
type AllocateResponse struct {
	RunID      string                     `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	Allocation optimization.Allocation    `json:"allocation" msgpack:"allocation"`
	Pillars    *optimization.PillarScores `json:"pillars,omitempty" msgpack:"pillars,omitempty"`
	Budget     *BudgetResponse            `json:"budget,omitempty" msgpack:"budget,omitempty"`
}

// BudgetResponse lists currency amounts per asset.
type BudgetResponse struct {
	Currency string       `json:"currency" msgpack:"currency"`
	Total    string       `json:"total" msgpack:"total"`
	Lines    []BudgetLine `json:"lines" msgpack:"lines"`
}

// BudgetLine is one asset's amount.
type BudgetLine struct {
	AssetID     string  `json:"asset_id" msgpack:"asset_id"`
	Weight      float64 `json:"weight" msgpack:"weight"`
	AmountMinor int64   `json:"amount_minor" msgpack:"amount_minor"`
	Display     string  `json:"display" msgpack:"display"`
}

// FrontierRequest represents a request to sample random portfolios.
type FrontierRequest struct {
	Universe universe.Document `json:"universe"`
	Count    int               `json:"count"`
	Seed     uint64            `json:"seed"`
	Pareto   bool              `json:"pareto,omitempty"` // keep only non-dominated samples
	Top      int               `json:"top,omitempty"`    // keep the best k by Sharpe ratio
	Batch    int               `json:"batch,omitempty"`  // stream only
}

// FrontierResponse is the result of POST /optimizer/frontier
type FrontierResponse struct {
	RunID   string                `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	Count   int                   `json:"count" msgpack:"count"`
	Samples []optimization.Record `json:"samples" msgpack:"samples"`
}

// SweepRequest represents a request to solve the allocation at several ESG floors.
type SweepRequest struct {
	Universe    universe.Document        `json:"universe"`
	Constraints optimization.Constraints `json:"constraints"`
	Blend       optimization.Blend       `json:"blend"`
	Floors      []float64                `json:"floors"`
}

// SweepPoint is the allocation at one ESG floor.
type SweepPoint struct {
	MinESGScore float64                 `json:"min_esg_score" msgpack:"min_esg_score"`
	Allocation  optimization.Allocation `json:"allocation" msgpack:"allocation"`
}

// SweepResponse is the result of POST /optimizer/sweep
type SweepResponse struct {
	RunID  string       `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	Points []SweepPoint `json:"points" msgpack:"points"`
}

// HandleAllocate handles POST /api/optimizer/allocate
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	req := AllocateRequest{
		Constraints: h.service.DefaultConstraints(),
		Blend:       h.service.DefaultBlend(),
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn().Err(err).Msg("Failed to decode allocate request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	u, err := h.buildUniverse(&req.Universe)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if req.RiskTolerance != nil {
		ceiling, err := optimization.VolatilityCeiling(u, *req.RiskTolerance)
		if err != nil {
			h.writeError(w, err)
			return
		}
		req.Constraints.MaxVolatility = &ceiling
	}

	alloc, err := h.service.Allocate(u, req.Constraints, req.Blend)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := AllocateResponse{Allocation: alloc}
	if alloc.Optimal() {
		pillars, err := optimization.PillarImpact(u, alloc.Weights)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if pillars.Coverage > 0 {
			resp.Pillars = &pillars
		}
		if req.Budget != nil {
			resp.Budget, err = planBudget(alloc.Weights, *req.Budget)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
	}

	summary := string(alloc.Status)
	if alloc.Optimal() {
		summary = fmt.Sprintf("return %.4f esg %.4f vol %.4f", alloc.ExpectedReturn, alloc.ESGScore, alloc.Volatility)
	}
	resp.RunID = h.recordRun(runs.KindAllocate, string(alloc.Status), u.Len(), summary, resp)

	h.write(w, r, http.StatusOK, resp)
}

func planBudget(weights map[string]float64, req BudgetRequest) (*BudgetResponse, error) {
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		return nil, fmt.Errorf("invalid budget total %q: %w", req.Total, err)
	}
	plan, err := budget.Allocate(weights, total, req.Currency)
	if err != nil {
		return nil, err
	}
	out := &BudgetResponse{
		Currency: plan.Currency,
		Total:    plan.Total.Display(),
		Lines:    make([]BudgetLine, len(plan.Lines)),
	}
	for i, l := range plan.Lines {
		out.Lines[i] = BudgetLine{AssetID: l.AssetID, Weight: l.Weight, AmountMinor: l.Minor(), Display: l.Display()}
	}
	return out, nil
}

// HandleFrontier handles POST /api/optimizer/frontier
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	var req FrontierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn().Err(err).Msg("Failed to decode frontier request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Count < 0 {
		http.Error(w, "count must be non-negative", http.StatusBadRequest)
		return
	}

	u, err := h.buildUniverse(&req.Universe)
	if err != nil {
		h.writeError(w, err)
		return
	}

	samples, err := h.service.Frontier(r.Context(), u, req.Count, req.Seed)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Pareto {
		samples = optimization.ParetoFront(samples)
	}
	if req.Top > 0 {
		samples = optimization.TopBySharpe(samples, req.Top)
	}

	records, err := optimization.FrontierRecords(samples, u.IDs())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := FrontierResponse{Count: len(records), Samples: records}
	resp.RunID = h.recordRun(runs.KindFrontier, "completed", u.Len(),
		fmt.Sprintf("%d samples seed %d", req.Count, req.Seed), resp)

	h.write(w, r, http.StatusOK, resp)
}

// HandleSweep handles POST /api/optimizer/sweep
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	req := SweepRequest{
		Constraints: h.service.DefaultConstraints(),
		Blend:       h.service.DefaultBlend(),
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn().Err(err).Msg("Failed to decode sweep request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Floors) == 0 {
		http.Error(w, "floors are required", http.StatusBadRequest)
		return
	}

	u, err := h.buildUniverse(&req.Universe)
	if err != nil {
		h.writeError(w, err)
		return
	}

	allocs, err := h.service.Sweep(r.Context(), u, req.Constraints, req.Blend, req.Floors)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := SweepResponse{Points: make([]SweepPoint, len(allocs))}
	optimal := 0
	for i, a := range allocs {
		resp.Points[i] = SweepPoint{MinESGScore: req.Floors[i], Allocation: a}
		if a.Optimal() {
			optimal++
		}
	}
	resp.RunID = h.recordRun(runs.KindSweep, "completed", u.Len(),
		fmt.Sprintf("%d/%d floors optimal", optimal, len(allocs)), resp)

	h.write(w, r, http.StatusOK, resp)
}

// HandleSynthetic handles GET /api/optimizer/synthetic?assets=&seed=&factors=
func (h *Handler) HandleSynthetic(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assets, err := queryInt(q.Get("assets"), 10)
	if err != nil {
		http.Error(w, "invalid assets parameter", http.StatusBadRequest)
		return
	}
	if limit := h.service.MaxSyntheticAssets(); assets > limit {
		http.Error(w, fmt.Sprintf("assets must be at most %d, got %d", limit, assets), http.StatusBadRequest)
		return
	}
	factors, err := queryInt(q.Get("factors"), 0)
	if err != nil {
		http.Error(w, "invalid factors parameter", http.StatusBadRequest)
		return
	}
	var seed uint64
	if s := q.Get("seed"); s != "" {
		seed, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid seed parameter", http.StatusBadRequest)
			return
		}
	}

	u, err := universe.Synthetic(universe.SyntheticOptions{Assets: assets, Seed: seed, Factors: factors})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.write(w, r, http.StatusOK, universe.DocumentFrom(u))
}

// HandleListRuns handles GET /api/optimizer/runs?kind=&limit=
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run history is disabled", http.StatusServiceUnavailable)
		return
	}
	limit, err := queryInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		http.Error(w, "invalid limit parameter", http.StatusBadRequest)
		return
	}

	list, err := h.runs.List(runs.Kind(r.URL.Query().Get("kind")), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []runs.Run{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": list,
		"metadata": map[string]interface{}{
			"count":     len(list),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetRun handles GET /api/optimizer/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run history is disabled", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")

	run, err := h.runs.GetByID(id)
	if errors.Is(err, runs.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	var payload interface{}
	if err := run.Decode(&payload); err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("Failed to decode run payload")
		http.Error(w, "Failed to decode run", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":     run,
		"payload": payload,
	})
}

// recordRun stores a run and returns its ID. Storage failures are logged,
// never returned: the optimizer result is still valid.
func (h *Handler) recordRun(kind runs.Kind, status string, assets int, summary string, payload interface{}) string {
	if h.runs == nil {
		return ""
	}
	id, err := h.runs.Create(kind, status, assets, summary, payload)
	if err != nil {
		h.log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to record run")
		return ""
	}
	return id
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// statusFor maps optimizer errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUniverseMismatch),
		errors.Is(err, domain.ErrInvalidConstraints),
		errors.Is(err, optimization.ErrTooManySamples):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNumeric):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Optimizer request failed")
	} else {
		h.log.Warn().Err(err).Int("status", status).Msg("Optimizer request rejected")
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func wantsMsgpack(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeMsgpack)
}

// write encodes data as msgpack when the client asks for it, JSON otherwise.
func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if !wantsMsgpack(r) {
		h.writeJSON(w, status, data)
		return
	}
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(status)
	if err := msgpack.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode msgpack response")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
