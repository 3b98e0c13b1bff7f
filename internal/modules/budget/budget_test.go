package budget

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	tests := []struct {
		name    string
		weights map[string]float64
		total   string
		cur     string
		want    map[string]int64
	}{
		{
			name:    "exact split",
			weights: map[string]float64{"A1": 0.2, "A2": 0.4, "A3": 0.4},
			total:   "1000",
			cur:     "EUR",
			want:    map[string]int64{"A1": 20000, "A2": 40000, "A3": 40000},
		},
		{
			name:    "thirds use largest remainder",
			weights: map[string]float64{"A": 1.0 / 3, "B": 1.0 / 3, "C": 1.0 / 3},
			total:   "100",
			cur:     "EUR",
			want:    map[string]int64{"A": 3334, "B": 3333, "C": 3333},
		},
		{
			name:    "zero-decimal currency",
			weights: map[string]float64{"A": 0.5, "B": 0.5},
			total:   "1001",
			cur:     "JPY",
			want:    map[string]int64{"A": 501, "B": 500},
		},
		{
			name:    "zero weights omitted",
			weights: map[string]float64{"A": 1, "B": 0},
			total:   "12.34",
			cur:     "USD",
			want:    map[string]int64{"A": 1234},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Allocate(tt.weights, decimal.RequireFromString(tt.total), tt.cur)
			require.NoError(t, err)
			require.Len(t, plan.Lines, len(tt.want))

			got := make(map[string]int64)
			for _, l := range plan.Lines {
				got[l.AssetID] = l.Minor()
			}
			assert.Equal(t, tt.want, got)

			sum, err := plan.Sum()
			require.NoError(t, err)
			assert.Equal(t, plan.Total.Amount(), sum.Amount())
		})
	}
}

func TestAllocate_Errors(t *testing.T) {
	weights := map[string]float64{"A": 0.5, "B": 0.5}

	_, err := Allocate(weights, decimal.NewFromInt(100), "XXX-NOT-A-CURRENCY")
	assert.Error(t, err)

	_, err = Allocate(weights, decimal.RequireFromString("10.001"), "EUR")
	assert.Error(t, err)

	_, err = Allocate(weights, decimal.NewFromInt(-1), "EUR")
	assert.Error(t, err)

	_, err = Allocate(map[string]float64{"A": 0.5}, decimal.NewFromInt(100), "EUR")
	assert.Error(t, err)

	_, err = Allocate(map[string]float64{"A": 1.5, "B": -0.5}, decimal.NewFromInt(100), "EUR")
	assert.Error(t, err)
}

func TestAllocate_Display(t *testing.T) {
	plan, err := Allocate(map[string]float64{"A": 1}, decimal.RequireFromString("1234.5"), "EUR")
	require.NoError(t, err)
	assert.Equal(t, "EUR", plan.Currency)
	assert.Contains(t, plan.Lines[0].Display(), "1")
	assert.Equal(t, int64(123450), plan.Lines[0].Minor())
}

func TestCapsFromCosts(t *testing.T) {
	bounds, err := CapsFromCosts(map[string]decimal.Decimal{
		"solar": decimal.NewFromInt(25000),
		"wind":  decimal.NewFromInt(150000),
	}, decimal.NewFromInt(100000))
	require.NoError(t, err)

	assert.Equal(t, 0.0, bounds["solar"].Min)
	assert.InDelta(t, 0.25, bounds["solar"].Max, 1e-12)
	assert.Equal(t, 1.0, bounds["wind"].Max)

	_, err = CapsFromCosts(map[string]decimal.Decimal{"x": decimal.NewFromInt(-1)}, decimal.NewFromInt(10))
	assert.Error(t, err)
	_, err = CapsFromCosts(nil, decimal.Zero)
	assert.Error(t, err)
}
