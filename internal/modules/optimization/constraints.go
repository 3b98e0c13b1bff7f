package optimization

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/greenfolio/internal/domain"
	"github.com/aristath/greenfolio/internal/modules/universe"
)

// Defaults applied when the caller does not override them.
const (
	DefaultMaxWeight    = 0.40 // 40% max per asset
	DefaultReturnWeight = 0.5
	DefaultESGWeight    = 0.5
)

// Bounds are the weight limits of one asset, as fractions of the budget.
type Bounds struct {
	Min float64 `json:"min" yaml:"min" msgpack:"min"`
	Max float64 `json:"max" yaml:"max" msgpack:"max"`
}

// Constraints restrict the allocator's feasible set.
// A MinWeight above zero forces the asset into the portfolio; there is no
// "minimum size if chosen" semantic.
type Constraints struct {
	MinWeight     float64           `json:"min_weight" yaml:"min_weight" msgpack:"min_weight"`
	MaxWeight     float64           `json:"max_weight" yaml:"max_weight" msgpack:"max_weight"`
	Bounds        map[string]Bounds `json:"bounds,omitempty" yaml:"bounds,omitempty" msgpack:"bounds,omitempty"` // per-asset overrides
	MinESGScore   float64           `json:"min_esg_score" yaml:"min_esg_score" msgpack:"min_esg_score"`
	MaxVolatility *float64          `json:"max_volatility,omitempty" yaml:"max_volatility,omitempty" msgpack:"max_volatility,omitempty"`
}

// DefaultConstraints allows any asset to be excluded and caps each at DefaultMaxWeight.
func DefaultConstraints() Constraints {
	return Constraints{MinWeight: 0, MaxWeight: DefaultMaxWeight}
}

// WithMinESG returns a copy with a different ESG floor.
func (c Constraints) WithMinESG(floor float64) Constraints {
	c.MinESGScore = floor
	return c
}

// Resolve validates the constraints against u and returns the per-asset
// lower and upper bounds in universe order.
func (c Constraints) Resolve(u *universe.AssetUniverse) (lower, upper []float64, err error) {
	if err := checkBounds("", Bounds{Min: c.MinWeight, Max: c.MaxWeight}); err != nil {
		return nil, nil, err
	}
	if !inUnit(c.MinESGScore) {
		return nil, nil, &domain.InvalidConstraintsError{
			Reason: fmt.Sprintf("minimum ESG score %g outside [0,1]", c.MinESGScore),
		}
	}
	if c.MaxVolatility != nil && !(*c.MaxVolatility > 0) {
		return nil, nil, &domain.InvalidConstraintsError{
			Reason: fmt.Sprintf("volatility ceiling %g must be positive", *c.MaxVolatility),
		}
	}

	var unknown []string
	for id, b := range c.Bounds {
		if _, ok := u.IndexOf(id); !ok {
			unknown = append(unknown, id)
			continue
		}
		if err := checkBounds(id, b); err != nil {
			return nil, nil, err
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nil, &domain.InvalidConstraintsError{
			Reason: fmt.Sprintf("bounds given for unknown assets [%s]", strings.Join(unknown, ", ")),
		}
	}

	ids := u.IDs()
	lower = make([]float64, len(ids))
	upper = make([]float64, len(ids))
	for i, id := range ids {
		b, ok := c.Bounds[id]
		if !ok {
			b = Bounds{Min: c.MinWeight, Max: c.MaxWeight}
		}
		lower[i], upper[i] = b.Min, b.Max
	}
	return lower, upper, nil
}

func checkBounds(assetID string, b Bounds) error {
	if !inUnit(b.Min) || !inUnit(b.Max) {
		return &domain.InvalidConstraintsError{
			AssetID: assetID,
			Reason:  fmt.Sprintf("bounds [%g, %g] outside [0,1]", b.Min, b.Max),
		}
	}
	if b.Min > b.Max {
		return &domain.InvalidConstraintsError{
			AssetID: assetID,
			Reason:  fmt.Sprintf("lower=%.4f > upper=%.4f", b.Min, b.Max),
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Blend weighs expected return against ESG score in the allocator objective.
type Blend struct {
	ReturnWeight float64 `json:"return_weight" yaml:"return_weight" msgpack:"return_weight"`
	ESGWeight    float64 `json:"esg_weight" yaml:"esg_weight" msgpack:"esg_weight"`
}

// DefaultBlend weighs return and ESG equally.
func DefaultBlend() Blend {
	return Blend{ReturnWeight: DefaultReturnWeight, ESGWeight: DefaultESGWeight}
}

// Validate rejects negative or all-zero blends.
func (b Blend) Validate() error {
	if !finite(b.ReturnWeight) || !finite(b.ESGWeight) || b.ReturnWeight < 0 || b.ESGWeight < 0 {
		return &domain.InvalidConstraintsError{
			Reason: fmt.Sprintf("blend weights must be finite and non-negative, got return=%g esg=%g", b.ReturnWeight, b.ESGWeight),
		}
	}
	if b.ReturnWeight == 0 && b.ESGWeight == 0 {
		return &domain.InvalidConstraintsError{Reason: "blend weights are both zero"}
	}
	return nil
}
