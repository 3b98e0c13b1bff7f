package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/aristath/greenfolio/internal/modules/runs"
	"github.com/aristath/greenfolio/internal/modules/universe"
	testingpkg "github.com/aristath/greenfolio/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const referenceUniverse = `{
	"assets": [
		{"id": "A1", "expected_return": 0.10, "esg_score": 0.60, "pillars": {"environmental": 0.5, "social": 0.6, "governance": 0.7}},
		{"id": "A2", "expected_return": 0.12, "esg_score": 0.90},
		{"id": "A3", "expected_return": 0.08, "esg_score": 0.95}
	],
	"variances": {"A1": 0.04, "A2": 0.05, "A3": 0.02}
}`

func setupRouter(t *testing.T, withRuns bool) (chi.Router, *runs.Repository) {
	t.Helper()
	svc := optimization.NewOptimizerService(optimization.ServiceConfig{
		RiskFreeRate: optimization.DefaultRiskFreeRate,
		Constraints:  optimization.DefaultConstraints(),
		Blend:        optimization.DefaultBlend(),
		Workers:      2,
		MaxSamples:   500,
	}, zerolog.Nop())

	var repo *runs.Repository
	if withRuns {
		db, cleanup := testingpkg.NewTestDB(t, "runs")
		t.Cleanup(cleanup)
		repo = runs.NewRepository(db.Conn(), zerolog.Nop())
	}

	router := chi.NewRouter()
	NewHandler(svc, repo, zerolog.Nop()).RegisterRoutes(router)
	return router, repo
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleAllocate_ReferenceScenario(t *testing.T) {
	router, repo := setupRouter(t, true)

	rec := post(t, router, "/optimizer/allocate", `{
		"universe": `+referenceUniverse+`,
		"constraints": {"max_weight": 0.4, "min_esg_score": 0.8},
		"budget": {"total": "1000", "currency": "EUR"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp AllocateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, optimization.StatusOptimal, resp.Allocation.Status)
	assert.InDelta(t, 0.2, resp.Allocation.Weights["A1"], 1e-6)
	assert.InDelta(t, 0.4, resp.Allocation.Weights["A2"], 1e-6)
	assert.InDelta(t, 0.4, resp.Allocation.Weights["A3"], 1e-6)
	assert.InDelta(t, 0.86, resp.Allocation.ESGScore, 1e-6)

	require.NotNil(t, resp.Pillars)
	assert.InDelta(t, 0.2, resp.Pillars.Coverage, 1e-6)
	assert.InDelta(t, 0.5, resp.Pillars.Environmental, 1e-9)

	require.NotNil(t, resp.Budget)
	assert.Equal(t, "EUR", resp.Budget.Currency)
	var total int64
	for _, l := range resp.Budget.Lines {
		total += l.AmountMinor
	}
	assert.Equal(t, int64(100000), total)

	require.NotEmpty(t, resp.RunID)
	run, err := repo.GetByID(resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.KindAllocate, run.Kind)
	assert.Equal(t, "optimal", run.Status)
	assert.Equal(t, 3, run.AssetCount)
}

func TestHandleAllocate_DefaultsApply(t *testing.T) {
	router, _ := setupRouter(t, false)

	// No constraints in the body: the 40 percent default cap still holds.
	rec := post(t, router, "/optimizer/allocate", `{"universe": `+referenceUniverse+`}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AllocateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.RunID)
	for id, w := range resp.Allocation.Weights {
		assert.LessOrEqual(t, w, 0.4+1e-7, id)
	}
}

func TestHandleAllocate_Statuses(t *testing.T) {
	router, _ := setupRouter(t, false)

	tests := []struct {
		name       string
		body       string
		wantCode   int
		wantStatus optimization.Status
	}{
		{
			name:       "infeasible floor is a status",
			body:       `{"universe": ` + referenceUniverse + `, "constraints": {"max_weight": 1, "min_esg_score": 0.99}}`,
			wantCode:   http.StatusOK,
			wantStatus: optimization.StatusInfeasible,
		},
		{
			name:       "risk tolerance sets a ceiling",
			body:       `{"universe": ` + referenceUniverse + `, "risk_tolerance": 0.01}`,
			wantCode:   http.StatusOK,
			wantStatus: optimization.StatusInfeasible,
		},
		{
			name:     "invalid constraints",
			body:     `{"universe": ` + referenceUniverse + `, "constraints": {"min_weight": 0.5, "max_weight": 0.4}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "universe mismatch",
			body:     `{"universe": {"assets": [{"id": "A", "expected_return": 0.1, "esg_score": 0.5}], "variances": {"B": 0.1}}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "non PSD covariance",
			body:     `{"universe": {"assets": [{"id": "A", "expected_return": 0.1, "esg_score": 0.5}, {"id": "B", "expected_return": 0.1, "esg_score": 0.5}], "covariance": {"A": {"A": 1, "B": 2}, "B": {"A": 2, "B": 1}}}}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "malformed body",
			body:     `{"universe":`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, router, "/optimizer/allocate", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantStatus == "" {
				return
			}
			var resp AllocateResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Allocation.Status)
			assert.NotEmpty(t, resp.Allocation.Reason)
			assert.Empty(t, resp.Allocation.Weights)
		})
	}
}

func TestHandleAllocate_Msgpack(t *testing.T) {
	router, _ := setupRouter(t, false)

	req := httptest.NewRequest(http.MethodPost, "/optimizer/allocate",
		bytes.NewBufferString(`{"universe": `+referenceUniverse+`, "constraints": {"max_weight": 0.4, "min_esg_score": 0.8}}`))
	req.Header.Set("Accept", contentTypeMsgpack)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeMsgpack, rec.Header().Get("Content-Type"))

	var resp AllocateResponse
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, optimization.StatusOptimal, resp.Allocation.Status)
	assert.InDelta(t, 0.86, resp.Allocation.ESGScore, 1e-6)
	assert.InDelta(t, 0.4, resp.Allocation.Weights["A3"], 1e-6)
}

func TestHandleFrontier(t *testing.T) {
	router, repo := setupRouter(t, true)

	rec := post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": 50, "seed": 7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp FrontierResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 50, resp.Count)
	require.Len(t, resp.Samples, 50)
	for _, s := range resp.Samples {
		sum := s["weight_A1"].(float64) + s["weight_A2"].(float64) + s["weight_A3"].(float64)
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	again := post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": 50, "seed": 7}`)
	var second FrontierResponse
	require.NoError(t, json.NewDecoder(again.Body).Decode(&second))
	assert.Equal(t, resp.Samples, second.Samples)

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHandleFrontier_Projections(t *testing.T) {
	router, _ := setupRouter(t, false)

	rec := post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": 100, "seed": 1, "top": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var top FrontierResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&top))
	require.Len(t, top.Samples, 5)
	for i := 1; i < len(top.Samples); i++ {
		assert.GreaterOrEqual(t, top.Samples[i-1]["sharpe_ratio"].(float64), top.Samples[i]["sharpe_ratio"].(float64))
	}

	rec = post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": 100, "seed": 1, "pareto": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var front FrontierResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&front))
	assert.NotEmpty(t, front.Samples)
	assert.LessOrEqual(t, len(front.Samples), 100)
}

func TestHandleFrontier_Errors(t *testing.T) {
	router, _ := setupRouter(t, false)

	rec := post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": 501}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": 0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp FrontierResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Samples)
}

func TestHandleSweep(t *testing.T) {
	router, _ := setupRouter(t, true)

	rec := post(t, router, "/optimizer/sweep", `{
		"universe": `+referenceUniverse+`,
		"constraints": {"max_weight": 1},
		"floors": [0.5, 0.93, 0.99]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SweepResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Points, 3)
	assert.Equal(t, []float64{0.5, 0.93, 0.99}, []float64{resp.Points[0].MinESGScore, resp.Points[1].MinESGScore, resp.Points[2].MinESGScore})
	assert.Equal(t, optimization.StatusOptimal, resp.Points[0].Allocation.Status)
	assert.Equal(t, optimization.StatusOptimal, resp.Points[1].Allocation.Status)
	assert.GreaterOrEqual(t, resp.Points[1].Allocation.ESGScore, 0.93-1e-7)
	assert.Equal(t, optimization.StatusInfeasible, resp.Points[2].Allocation.Status)
	assert.NotEmpty(t, resp.RunID)

	rec = post(t, router, "/optimizer/sweep", `{"universe": `+referenceUniverse+`}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, router, "/optimizer/sweep", `{"universe": `+referenceUniverse+`, "floors": [1.5]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSynthetic(t *testing.T) {
	router, _ := setupRouter(t, false)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/optimizer/synthetic?assets=5&seed=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc struct {
		Assets []struct {
			ID       string  `json:"id"`
			ESGScore float64 `json:"esg_score"`
		} `json:"assets"`
		Covariance map[string]map[string]float64 `json:"covariance"`
	}
	body := rec.Body.String()
	require.NoError(t, json.NewDecoder(strings.NewReader(body)).Decode(&doc))
	require.Len(t, doc.Assets, 5)
	assert.Len(t, doc.Covariance, 5)

	same := get("/optimizer/synthetic?assets=5&seed=3")
	assert.Equal(t, body, same.Body.String())
	assert.NotEqual(t, body, get("/optimizer/synthetic?assets=5&seed=4").Body.String())

	assert.Equal(t, http.StatusBadRequest, get("/optimizer/synthetic?assets=x").Code)
	assert.Equal(t, http.StatusBadRequest, get("/optimizer/synthetic?seed=-4").Code)
	assert.Equal(t, http.StatusBadRequest, get("/optimizer/synthetic?assets=0").Code)
}

func TestHandleSynthetic_AssetLimit(t *testing.T) {
	svc := optimization.NewOptimizerService(optimization.ServiceConfig{
		RiskFreeRate:       optimization.DefaultRiskFreeRate,
		Constraints:        optimization.DefaultConstraints(),
		Blend:              optimization.DefaultBlend(),
		Workers:            1,
		MaxSamples:         10,
		MaxSyntheticAssets: 20,
	}, zerolog.Nop())
	router := chi.NewRouter()
	NewHandler(svc, nil, zerolog.Nop()).RegisterRoutes(router)

	tests := []struct {
		name   string
		assets string
		want   int
	}{
		{"at the limit", "20", http.StatusOK},
		{"above the limit", "21", http.StatusBadRequest},
		{"far above the limit", "1500", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/optimizer/synthetic?assets="+tt.assets, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCloseReason(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"short ascii", "boom"},
		{"long ascii", strings.Repeat("x", 300)},
		{"multibyte at the cut", strings.Repeat("a", maxCloseReason-1) + "ᵀΣw"},
		{"all multibyte", strings.Repeat("Σ", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := closeReason(errors.New(tt.msg))
			assert.LessOrEqual(t, len(got), maxCloseReason)
			assert.True(t, utf8.ValidString(got))
			assert.True(t, strings.HasPrefix(tt.msg, got))
		})
	}
}

func TestHandleRuns(t *testing.T) {
	router, _ := setupRouter(t, true)

	rec := post(t, router, "/optimizer/allocate", `{"universe": `+referenceUniverse+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var alloc AllocateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&alloc))

	list := httptest.NewRecorder()
	router.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/optimizer/runs?kind=allocate", nil))
	require.Equal(t, http.StatusOK, list.Code)
	var listed struct {
		Data []runs.Run `json:"data"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, alloc.RunID, listed.Data[0].ID)

	one := httptest.NewRecorder()
	router.ServeHTTP(one, httptest.NewRequest(http.MethodGet, "/optimizer/runs/"+alloc.RunID, nil))
	require.Equal(t, http.StatusOK, one.Code)
	var detail struct {
		Run     runs.Run               `json:"run"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(one.Body).Decode(&detail))
	assert.Equal(t, alloc.RunID, detail.Run.ID)
	assert.Contains(t, detail.Payload, "allocation")

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/optimizer/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestHandleRuns_Disabled(t *testing.T) {
	router, _ := setupRouter(t, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/optimizer/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleFrontierStream(t *testing.T) {
	router, _ := setupRouter(t, false)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/optimizer/frontier/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var req FrontierRequest
	require.NoError(t, json.Unmarshal([]byte(`{"universe": `+referenceUniverse+`, "count": 25, "seed": 7, "batch": 10}`), &req))
	require.NoError(t, wsjson.Write(ctx, conn, req))

	var batches []int
	var samples []map[string]interface{}
	for {
		var msg struct {
			Samples []map[string]interface{} `json:"samples"`
			Done    bool                     `json:"done"`
			Count   int                      `json:"count"`
		}
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Done {
			assert.Equal(t, 25, msg.Count)
			break
		}
		batches = append(batches, len(msg.Samples))
		samples = append(samples, msg.Samples...)
	}
	assert.Equal(t, []int{10, 10, 5}, batches)

	// The stream reproduces the one-shot frontier for the same seed.
	rec := post(t, router, "/optimizer/frontier", `{"universe": `+referenceUniverse+`, "count": 25, "seed": 7}`)
	var whole struct {
		Samples []map[string]interface{} `json:"samples"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&whole))
	assert.Equal(t, whole.Samples, samples)

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestHandleFrontierStream_InvalidUniverse(t *testing.T) {
	router, _ := setupRouter(t, false)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/optimizer/frontier/stream", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]interface{}{
		"universe": map[string]interface{}{"assets": []interface{}{}},
		"count":    5,
	}))
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestHandleAllocate_DefaultScale(t *testing.T) {
	svc := optimization.NewOptimizerService(optimization.ServiceConfig{
		Constraints: optimization.DefaultConstraints(),
		Blend:       optimization.DefaultBlend(),
	}, zerolog.Nop())
	router := chi.NewRouter()
	NewHandler(svc, nil, zerolog.Nop()).WithDefaultScale(universe.ScalePercent).RegisterRoutes(router)

	percent := `{"universe": {"assets": [
		{"id": "A", "expected_return": 0.1, "esg_score": 80},
		{"id": "B", "expected_return": 0.1, "esg_score": 60}
	], "variances": {"A": 0.04, "B": 0.04}}, "constraints": {"max_weight": 1}}`
	rec := post(t, router, "/optimizer/allocate", percent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AllocateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.InDelta(t, 0.8, resp.Allocation.ESGScore, 1e-6)

	// An explicit scale in the document wins.
	unitOverride := `{"universe": {"esg_scale": "unit", "assets": [
		{"id": "A", "expected_return": 0.1, "esg_score": 80}
	], "variances": {"A": 0.04}}}`
	rec = post(t, router, "/optimizer/allocate", unitOverride)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
