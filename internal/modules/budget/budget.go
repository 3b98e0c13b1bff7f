// Package budget turns allocation weights into currency amounts.
package budget

import (
	"fmt"
	"math"
	"sort"

	"github.com/Rhymond/go-money"
	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/shopspring/decimal"
)

// weightSumTolerance bounds |Σw - 1| for weights accepted by Allocate.
const weightSumTolerance = 1e-6

// Line is the amount assigned to one asset.
type Line struct {
	AssetID string       `json:"asset_id"`
	Weight  float64      `json:"weight"`
	Amount  *money.Money `json:"-"`
}

// Minor returns the amount in the currency's minor unit (cents for EUR).
func (l Line) Minor() int64 { return l.Amount.Amount() }

// Display formats the amount with its currency symbol.
func (l Line) Display() string { return l.Amount.Display() }

// Plan is a budget split across assets. Line amounts sum to Total exactly.
type Plan struct {
	Currency string       `json:"currency"`
	Total    *money.Money `json:"-"`
	Lines    []Line       `json:"lines"`
}

// Allocate splits total (in major units, e.g. 1234.56) across weights using
// largest-remainder rounding in the currency's minor unit. Lines are ordered
// by asset ID and zero-weight assets are omitted.
func Allocate(weights map[string]float64, total decimal.Decimal, currency string) (*Plan, error) {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return nil, fmt.Errorf("unknown currency %q", currency)
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("budget must not be negative, got %s", total)
	}
	minorTotal := total.Shift(int32(cur.Fraction))
	if !minorTotal.Equal(minorTotal.Truncate(0)) {
		return nil, fmt.Errorf("budget %s has more precision than %s allows", total, cur.Code)
	}
	units := minorTotal.IntPart()

	ids := make([]string, 0, len(weights))
	var sum float64
	for id, w := range weights {
		if math.IsNaN(w) || w < 0 {
			return nil, fmt.Errorf("weight for %s must be non-negative, got %g", id, w)
		}
		sum += w
		if w > 0 {
			ids = append(ids, id)
		}
	}
	if math.Abs(sum-1) > weightSumTolerance {
		return nil, fmt.Errorf("weights sum to %g, expected 1", sum)
	}
	sort.Strings(ids)

	type share struct {
		floor     int64
		remainder decimal.Decimal
	}
	shares := make([]share, len(ids))
	var assigned int64
	unitsDec := decimal.NewFromInt(units)
	for i, id := range ids {
		exact := unitsDec.Mul(decimal.NewFromFloat(weights[id]).Div(decimal.NewFromFloat(sum)))
		floor := exact.Floor()
		shares[i] = share{floor: floor.IntPart(), remainder: exact.Sub(floor)}
		assigned += shares[i].floor
	}

	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].remainder.GreaterThan(shares[order[b]].remainder)
	})
	for k := int64(0); k < units-assigned; k++ {
		shares[order[int(k)%len(order)]].floor++
	}

	plan := &Plan{
		Currency: cur.Code,
		Total:    money.New(units, cur.Code),
		Lines:    make([]Line, len(ids)),
	}
	for i, id := range ids {
		plan.Lines[i] = Line{AssetID: id, Weight: weights[id], Amount: money.New(shares[i].floor, cur.Code)}
	}
	return plan, nil
}

// Sum adds the line amounts.
func (p *Plan) Sum() (*money.Money, error) {
	total := money.New(0, p.Currency)
	for _, l := range p.Lines {
		next, err := total.Add(l.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", l.AssetID, err)
		}
		total = next
	}
	return total, nil
}

// CapsFromCosts turns per-asset funding needs into upper weight bounds:
// no asset receives more than it costs. Costs above the budget cap at 1.
func CapsFromCosts(costs map[string]decimal.Decimal, total decimal.Decimal) (map[string]optimization.Bounds, error) {
	if !total.IsPositive() {
		return nil, fmt.Errorf("budget must be positive, got %s", total)
	}
	bounds := make(map[string]optimization.Bounds, len(costs))
	for id, cost := range costs {
		if cost.IsNegative() {
			return nil, fmt.Errorf("cost for %s must not be negative, got %s", id, cost)
		}
		ratio := cost.Div(total)
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
		bounds[id] = optimization.Bounds{Min: 0, Max: ratio.InexactFloat64()}
	}
	return bounds, nil
}
