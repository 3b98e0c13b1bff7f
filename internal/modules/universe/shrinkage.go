package universe

import (
	"fmt"
	"math"
)

// shrinkCovariance blends a sample covariance toward a constant-covariance
// target: Σ' = (1-δ)Σ + δT, where T has the average variance on the diagonal
// and the average covariance off it. The average covariance is clamped so T
// stays positive semi-definite.
func shrinkCovariance(sample [][]float64, intensity float64) ([][]float64, error) {
	n := len(sample)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	if math.IsNaN(intensity) || intensity < 0 || intensity > 1 {
		return nil, fmt.Errorf("shrinkage intensity %g outside [0,1]", intensity)
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sample[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sample[i][j]
			}
		}
	}
	avgVar /= float64(n)
	if n > 1 {
		avgCov /= float64(n * (n - 1))
		// Eigenvalues of T are avgVar-avgCov and avgVar+(n-1)avgCov
		avgCov = math.Max(-avgVar/float64(n-1), math.Min(avgVar, avgCov))
	}

	shrunk := make([][]float64, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			target := avgCov
			if i == j {
				target = avgVar
			}
			shrunk[i][j] = (1-intensity)*sample[i][j] + intensity*target
		}
	}
	return shrunk, nil
}
