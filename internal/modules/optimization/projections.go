package optimization

import (
	"fmt"
	"sort"

	"github.com/aristath/greenfolio/internal/domain"
	"github.com/aristath/greenfolio/internal/modules/universe"
)

// ParetoFront keeps the samples no other sample dominates, in input order.
// b dominates a when b has return ≥, volatility ≤ and ESG ≥ a's with at
// least one strict inequality.
func ParetoFront(samples []FrontierSample) []FrontierSample {
	front := make([]FrontierSample, 0, len(samples))
	for i, a := range samples {
		dominated := false
		for j, b := range samples {
			if i != j && dominates(b.Metrics, a.Metrics) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, a)
		}
	}
	return front
}

func dominates(b, a Metrics) bool {
	if b.ExpectedReturn < a.ExpectedReturn || b.Volatility > a.Volatility || b.ESGScore < a.ESGScore {
		return false
	}
	return b.ExpectedReturn > a.ExpectedReturn || b.Volatility < a.Volatility || b.ESGScore > a.ESGScore
}

// TopBySharpe returns the k samples with the highest Sharpe ratio, best first.
// Ties keep generation order.
func TopBySharpe(samples []FrontierSample, k int) []FrontierSample {
	sorted := append([]FrontierSample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SharpeRatio > sorted[j].SharpeRatio })
	if k >= 0 && k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}

// VolatilityCeiling translates a risk tolerance into an absolute ceiling:
// tolerance times the largest single-asset volatility.
func VolatilityCeiling(u *universe.AssetUniverse, tolerance float64) (float64, error) {
	if !(tolerance > 0) || !finite(tolerance) {
		return 0, &domain.InvalidConstraintsError{Reason: fmt.Sprintf("risk tolerance %g must be positive", tolerance)}
	}
	var maxVol float64
	for _, v := range u.Covariance().Volatilities() {
		if v > maxVol {
			maxVol = v
		}
	}
	return tolerance * maxVol, nil
}

// PillarScores is a weighted E/S/G breakdown.
type PillarScores struct {
	Environmental float64 `json:"environmental" yaml:"environmental" msgpack:"environmental"`
	Social        float64 `json:"social" yaml:"social" msgpack:"social"`
	Governance    float64 `json:"governance" yaml:"governance" msgpack:"governance"`
	Coverage      float64 `json:"coverage" yaml:"coverage" msgpack:"coverage"` // weight held in assets with pillar scores
}

// PillarImpact aggregates pillar scores for an allocation. Pillars are
// averaged over the weight held in assets that report them, so assets
// without pillar data lower Coverage, not the scores.
func PillarImpact(u *universe.AssetUniverse, weights map[string]float64) (PillarScores, error) {
	var out PillarScores
	var unknown []string
	for id := range weights {
		if _, ok := u.IndexOf(id); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return out, &domain.UniverseMismatchError{Source: "weights", Extra: unknown}
	}

	for _, a := range u.Assets() {
		w := weights[a.ID]
		if a.Pillars == nil || w == 0 {
			continue
		}
		out.Coverage += w
		out.Environmental += w * a.Pillars.Environmental
		out.Social += w * a.Pillars.Social
		out.Governance += w * a.Pillars.Governance
	}
	if out.Coverage > 0 {
		out.Environmental /= out.Coverage
		out.Social /= out.Coverage
		out.Governance /= out.Coverage
	}
	return out, nil
}
