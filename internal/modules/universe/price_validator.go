package universe

import (
	"math"

	"github.com/rs/zerolog"
)

const (
	// Validation thresholds
	maxPriceChangePercent = 1000.0 // >1000% change is a spike
	minPriceChangePercent = -90.0  // <-90% change is a crash
	maxPriceMultiplier    = 10.0   // Price > 10x trailing average is abnormal
	minPriceMultiplier    = 0.1    // Price < 0.1x trailing average is abnormal
	contextWindow         = 30     // Trailing observations used for the average
)

// PriceAnomaly records one suspicious observation in a price series.
type PriceAnomaly struct {
	AssetID string  `json:"asset_id"`
	Index   int     `json:"index"`
	Price   float64 `json:"price"`
	Reason  string  `json:"reason"` // "non_positive", "non_finite", "spike_detected", ...
}

// Fatal reports whether the anomaly makes the series unusable for return estimation.
func (a PriceAnomaly) Fatal() bool {
	return a.Reason == "non_positive" || a.Reason == "non_finite"
}

// PriceValidator flags abnormal observations in price series before
// returns and covariance are estimated from them.
type PriceValidator struct {
	log zerolog.Logger
}

// NewPriceValidator creates a new price validator
func NewPriceValidator(log zerolog.Logger) *PriceValidator {
	return &PriceValidator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// ValidateSeries returns every anomaly found in prices, oldest first.
func (v *PriceValidator) ValidateSeries(assetID string, prices []float64) []PriceAnomaly {
	var anomalies []PriceAnomaly
	for i, p := range prices {
		if reason, ok := v.check(prices, i); !ok {
			anomalies = append(anomalies, PriceAnomaly{AssetID: assetID, Index: i, Price: p, Reason: reason})
		}
	}

	if len(anomalies) > 0 {
		v.log.Warn().
			Str("asset", assetID).
			Int("anomalies", len(anomalies)).
			Str("first_reason", anomalies[0].Reason).
			Msg("Abnormal prices detected")
	}
	return anomalies
}

func (v *PriceValidator) check(prices []float64, i int) (string, bool) {
	p := prices[i]
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return "non_finite", false
	}
	if p <= 0 {
		return "non_positive", false
	}
	if i == 0 {
		return "", true
	}

	// Day-over-day change takes priority over the trailing average
	prev := prices[i-1]
	if prev > 0 && !math.IsInf(prev, 0) {
		changePercent := (p - prev) / prev * 100.0
		if changePercent > maxPriceChangePercent {
			return "spike_detected", false
		}
		if changePercent < minPriceChangePercent {
			return "crash_detected", false
		}
	}

	start := i - contextWindow
	if start < 0 {
		start = 0
	}
	var sum float64
	var count int
	for _, c := range prices[start:i] {
		if c > 0 && !math.IsInf(c, 0) && !math.IsNaN(c) {
			sum += c
			count++
		}
	}
	if count == 0 {
		return "", true
	}
	avg := sum / float64(count)
	if p > avg*maxPriceMultiplier {
		return "price_too_high", false
	}
	if p < avg*minPriceMultiplier {
		return "price_too_low", false
	}
	return "", true
}
