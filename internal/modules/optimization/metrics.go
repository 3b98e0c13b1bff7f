// Package optimization computes ESG-aware allocations and samples the
// return/risk/ESG tradeoff surface of an asset universe.
package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/greenfolio/internal/domain"
	"github.com/aristath/greenfolio/internal/modules/universe"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultRiskFreeRate is the annual rate used for the Sharpe ratio.
	DefaultRiskFreeRate = 0.02

	// varianceTolerance is relative to |w|ᵀ|Σ||w|.
	varianceTolerance = 1e-10
	// volatilityEpsilon is the volatility at or below which Sharpe is 0.
	volatilityEpsilon = 1e-12
	// maxBlamedAssets caps the assets named in a quadratic form failure.
	maxBlamedAssets = 3
)

// Metrics are the derived figures of one weight vector.
type Metrics struct {
	ExpectedReturn float64 `json:"expected_return" msgpack:"expected_return"`
	Volatility     float64 `json:"volatility" msgpack:"volatility"`
	ESGScore       float64 `json:"esg_score" msgpack:"esg_score"`
	SharpeRatio    float64 `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
}

// MetricsCalculator turns weights into portfolio metrics.
// It only reads its arguments and is safe for concurrent use.
type MetricsCalculator struct {
	riskFreeRate float64
}

// NewMetricsCalculator creates a calculator with the given annual risk-free rate.
func NewMetricsCalculator(riskFreeRate float64) *MetricsCalculator {
	return &MetricsCalculator{riskFreeRate: riskFreeRate}
}

// RiskFreeRate returns the rate used for Sharpe ratios.
func (m *MetricsCalculator) RiskFreeRate() float64 { return m.riskFreeRate }

// Compute returns return, volatility, ESG score and Sharpe ratio for weights
// given in universe order.
func (m *MetricsCalculator) Compute(weights []float64, u *universe.AssetUniverse) (Metrics, error) {
	if len(weights) != u.Len() {
		return Metrics{}, &domain.UniverseMismatchError{
			Source: "weights",
			Detail: fmt.Sprintf("got %d weights for %d assets", len(weights), u.Len()),
		}
	}
	ids := u.IDs()
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return Metrics{}, &domain.NumericError{Operation: "weights", Assets: []string{ids[i]}, Detail: "non-finite weight"}
		}
	}

	returns := u.Returns()
	esg := u.ESGScores()
	var ret, score float64
	for i, w := range weights {
		ret += w * returns[i]
		score += w * esg[i]
	}

	variance, err := PortfolioVariance(weights, u.Covariance().Symmetric(), ids)
	if err != nil {
		return Metrics{}, err
	}
	vol := math.Sqrt(variance)

	sharpe := 0.0
	if vol > volatilityEpsilon {
		sharpe = (ret - m.riskFreeRate) / vol
	}

	return Metrics{
		ExpectedReturn: ret,
		Volatility:     vol,
		ESGScore:       score,
		SharpeRatio:    sharpe,
	}, nil
}

// PortfolioVariance evaluates wᵀΣw. Slightly negative results within
// tolerance are clamped to 0; anything below fails with a NumericError that
// names the assets contributing the most negative terms. ids label the rows of cov.
func PortfolioVariance(weights []float64, cov mat.Symmetric, ids []string) (float64, error) {
	n := cov.SymmetricDim()
	if len(weights) != n || len(ids) != n {
		return 0, &domain.UniverseMismatchError{
			Source: "weights",
			Detail: fmt.Sprintf("got %d weights and %d ids for a %dx%d covariance", len(weights), len(ids), n, n),
		}
	}

	w := mat.NewVecDense(n, append([]float64(nil), weights...))
	var sigmaW mat.VecDense
	sigmaW.MulVec(cov, w)

	variance := 0.0
	scale := 0.0
	contributions := make([]float64, n)
	for i := 0; i < n; i++ {
		contributions[i] = weights[i] * sigmaW.AtVec(i)
		variance += contributions[i]
		for j := 0; j < n; j++ {
			scale += math.Abs(weights[i]) * math.Abs(cov.At(i, j)) * math.Abs(weights[j])
		}
	}

	if variance >= 0 {
		return variance, nil
	}
	if variance >= -varianceTolerance*math.Max(1, scale) {
		return 0, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return contributions[order[a]] < contributions[order[b]] })
	var blamed []string
	for _, i := range order {
		if contributions[i] >= 0 || len(blamed) == maxBlamedAssets {
			break
		}
		blamed = append(blamed, ids[i])
	}

	return 0, &domain.NumericError{
		Operation: "quadratic form wᵀΣw",
		Value:     variance,
		Assets:    blamed,
		Detail:    "negative portfolio variance, covariance is not positive semi-definite",
	}
}
