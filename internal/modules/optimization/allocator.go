package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/aristath/greenfolio/internal/modules/universe"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Status is the outcome of one allocator run.
type Status string

const (
	StatusOptimal        Status = "optimal"
	StatusInfeasible     Status = "infeasible"
	StatusUnbounded      Status = "unbounded"
	StatusNumericalError Status = "numerical_error"
)

const (
	// simplexTolerance is passed to the simplex solver.
	simplexTolerance = 1e-10
	// feasibilityTolerance bounds constraint violation in a returned solution.
	feasibilityTolerance = 1e-7
)

// Allocation is the allocator's answer. Weights and metrics are only set
// when Status is StatusOptimal; other statuses carry a Reason instead.
type Allocation struct {
	Status  Status             `json:"status" msgpack:"status"`
	Reason  string             `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Weights map[string]float64 `json:"weights,omitempty" msgpack:"weights,omitempty"`
	Metrics `msgpack:",inline"`
}

// Optimal reports whether the allocation carries weights.
func (a Allocation) Optimal() bool { return a.Status == StatusOptimal }

func notOptimal(status Status, format string, args ...any) Allocation {
	return Allocation{Status: status, Reason: fmt.Sprintf(format, args...)}
}

// ConstrainedAllocator finds the fully invested weights that maximize a blend
// of expected return and ESG score under per-asset bounds and an ESG floor.
// A volatility ceiling is checked after the solve; it never enters the program.
type ConstrainedAllocator struct {
	metrics *MetricsCalculator
}

// NewConstrainedAllocator creates an allocator that reports metrics through m.
func NewConstrainedAllocator(m *MetricsCalculator) *ConstrainedAllocator {
	return &ConstrainedAllocator{metrics: m}
}

// Solve returns an Allocation whose Status tells whether a feasible optimum
// exists. Errors are reserved for invalid input and numeric failures.
func (a *ConstrainedAllocator) Solve(u *universe.AssetUniverse, c Constraints, blend Blend) (Allocation, error) {
	lower, upper, err := c.Resolve(u)
	if err != nil {
		return Allocation{}, err
	}
	if err := blend.Validate(); err != nil {
		return Allocation{}, err
	}

	var sumMin, sumMax float64
	for i := range lower {
		sumMin += lower[i]
		sumMax += upper[i]
	}
	if sumMax < 1-feasibilityTolerance {
		return notOptimal(StatusInfeasible, "upper bounds sum to %.4f, cannot invest the full budget", sumMax), nil
	}
	if sumMin > 1+feasibilityTolerance {
		return notOptimal(StatusInfeasible, "lower bounds sum to %.4f, exceeding the budget", sumMin), nil
	}

	returns := u.Returns()
	esg := u.ESGScores()

	var weights []float64
	if u.Len() == 1 {
		// One asset has exactly one candidate: everything in it.
		if esg[0] < c.MinESGScore-feasibilityTolerance {
			return notOptimal(StatusInfeasible, "ESG score %.4f is below the floor %.4f", esg[0], c.MinESGScore), nil
		}
		weights = []float64{1}
	} else {
		var status Status
		var reason string
		weights, status, reason = solveLP(returns, esg, lower, upper, c.MinESGScore, blend)
		if status != StatusOptimal {
			return Allocation{Status: status, Reason: reason}, nil
		}
	}

	m, err := a.metrics.Compute(weights, u)
	if err != nil {
		return Allocation{}, fmt.Errorf("failed to compute allocation metrics: %w", err)
	}
	if c.MaxVolatility != nil && m.Volatility > *c.MaxVolatility {
		return notOptimal(StatusInfeasible, "optimal portfolio volatility %.4f exceeds the ceiling %.4f", m.Volatility, *c.MaxVolatility), nil
	}

	ids := u.IDs()
	alloc := Allocation{
		Status:  StatusOptimal,
		Weights: make(map[string]float64, len(ids)),
		Metrics: m,
	}
	for i, id := range ids {
		alloc.Weights[id] = weights[i]
	}
	return alloc, nil
}

// solveLP maximizes Σ wᵢ(ρ·rᵢ + η·esgᵢ) subject to Σw = 1, l ≤ w ≤ u and
// Σ wᵢesgᵢ ≥ floor, on the standard form min cᵀx, Ax = b, x ≥ 0.
//
// With w = l + v the columns are [v (n) | s (n) | t], where s are the upper
// bound slacks and t is the ESG surplus:
//
//	vᵢ + sᵢ         = uᵢ - lᵢ
//	Σ vᵢ            = 1 - Σ lᵢ
//	Σ esgᵢvᵢ - t    = floor - Σ esgᵢlᵢ
//
// Each row owns a distinct column (sᵢ, then v₁ via the budget row, t) so A
// has full row rank.
func solveLP(returns, esg, lower, upper []float64, floor float64, blend Blend) ([]float64, Status, string) {
	n := len(returns)
	rows, cols := n+2, 2*n+1
	budgetRow, esgRow, tCol := n, n+1, 2*n

	A := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	c := make([]float64, cols)

	budget := 1.0
	esgRHS := floor
	for i := 0; i < n; i++ {
		A.Set(i, i, 1)
		A.Set(i, n+i, 1)
		b[i] = upper[i] - lower[i]

		A.Set(budgetRow, i, 1)
		budget -= lower[i]

		A.Set(esgRow, i, esg[i])
		esgRHS -= esg[i] * lower[i]

		c[i] = -(blend.ReturnWeight*returns[i] + blend.ESGWeight*esg[i])
	}
	A.Set(esgRow, tCol, -1)
	b[budgetRow] = budget
	b[esgRow] = esgRHS

	for i := range b {
		if b[i] < 0 {
			b[i] = -b[i]
			for j := 0; j < cols; j++ {
				A.Set(i, j, -A.At(i, j))
			}
		}
	}

	_, x, err := lp.Simplex(c, A, b, simplexTolerance, nil)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return nil, StatusInfeasible, fmt.Sprintf("no allocation satisfies the bounds and the ESG floor %.4f", floor)
	case errors.Is(err, lp.ErrUnbounded):
		return nil, StatusUnbounded, "linear program is unbounded"
	case err != nil:
		return nil, StatusNumericalError, fmt.Sprintf("simplex solver failed: %v", err)
	}

	weights := make([]float64, n)
	var sum, score float64
	for i := 0; i < n; i++ {
		w := lower[i] + x[i]
		if math.IsNaN(w) || w < lower[i]-feasibilityTolerance || w > upper[i]+feasibilityTolerance {
			return nil, StatusNumericalError, fmt.Sprintf("solver returned weight %g outside [%g, %g]", w, lower[i], upper[i])
		}
		weights[i] = math.Min(math.Max(w, lower[i]), upper[i])
		sum += weights[i]
		score += weights[i] * esg[i]
	}
	if math.Abs(sum-1) > feasibilityTolerance {
		return nil, StatusNumericalError, fmt.Sprintf("solver weights sum to %g", sum)
	}
	if score < floor-feasibilityTolerance {
		return nil, StatusNumericalError, fmt.Sprintf("solver portfolio ESG %g below the floor %g", score, floor)
	}
	return weights, StatusOptimal, ""
}

// SweepESG solves once per ESG floor, concurrently, and returns the
// allocations in floor order. This traces the constrained tradeoff curve.
func (a *ConstrainedAllocator) SweepESG(ctx context.Context, u *universe.AssetUniverse, c Constraints, blend Blend, floors []float64) ([]Allocation, error) {
	results := make([]Allocation, len(floors))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, floor := range floors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			alloc, err := a.Solve(u, c.WithMinESG(floor), blend)
			if err != nil {
				return fmt.Errorf("esg floor %.4f: %w", floor, err)
			}
			results[i] = alloc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
