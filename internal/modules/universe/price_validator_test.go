package universe

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceValidator_ValidateSeries(t *testing.T) {
	validator := NewPriceValidator(zerolog.Nop())

	tests := []struct {
		name    string
		prices  []float64
		reasons []string
		indexes []int
	}{
		{
			name:   "clean series",
			prices: []float64{100, 101, 99.5, 102, 103},
		},
		{
			name:    "non-positive price",
			prices:  []float64{100, 0, 101},
			reasons: []string{"non_positive"},
			indexes: []int{1},
		},
		{
			name:    "non-finite price",
			prices:  []float64{100, math.NaN(), 101},
			reasons: []string{"non_finite"},
			indexes: []int{1},
		},
		{
			name:    "spike then recovery",
			prices:  []float64{10, 10, 150, 10},
			reasons: []string{"spike_detected", "crash_detected"},
			indexes: []int{2, 3},
		},
		{
			name:    "drift above trailing average",
			prices:  []float64{10, 10, 10, 100, 1000},
			reasons: []string{"price_too_high"},
			indexes: []int{4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anomalies := validator.ValidateSeries("GP01", tt.prices)
			require.Len(t, anomalies, len(tt.reasons))
			for i, a := range anomalies {
				assert.Equal(t, "GP01", a.AssetID)
				assert.Equal(t, tt.reasons[i], a.Reason)
				assert.Equal(t, tt.indexes[i], a.Index)
			}
		})
	}
}

func TestPriceAnomaly_Fatal(t *testing.T) {
	assert.True(t, PriceAnomaly{Reason: "non_positive"}.Fatal())
	assert.True(t, PriceAnomaly{Reason: "non_finite"}.Fatal())
	assert.False(t, PriceAnomaly{Reason: "spike_detected"}.Fatal())
	assert.False(t, PriceAnomaly{Reason: "price_too_low"}.Fatal())
}
