package universe

import (
	"fmt"
	"math/rand/v2"

	"github.com/aristath/greenfolio/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// SyntheticOptions parameterizes the fixture generator.
type SyntheticOptions struct {
	Assets  int    `json:"assets" yaml:"assets"`
	Seed    uint64 `json:"seed" yaml:"seed"`
	Factors int    `json:"factors,omitempty" yaml:"factors,omitempty"` // latent factors in the covariance, defaults to 3
}

// Synthetic builds a reproducible universe for tests and demos.
// The same options always yield the same universe.
func Synthetic(opts SyntheticOptions) (*AssetUniverse, error) {
	if opts.Assets <= 0 {
		return nil, &domain.InvalidConstraintsError{
			Reason: fmt.Sprintf("synthetic universe needs at least one asset, got %d", opts.Assets),
		}
	}
	if opts.Factors <= 0 {
		opts.Factors = 3
	}
	n, k := opts.Assets, opts.Factors
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	ids := make([]string, n)
	assets := make([]Asset, n)
	for i := range assets {
		ids[i] = fmt.Sprintf("GP%02d", i+1)
		p := &Pillars{
			Environmental: 0.3 + 0.7*rng.Float64(),
			Social:        0.3 + 0.7*rng.Float64(),
			Governance:    0.3 + 0.7*rng.Float64(),
		}
		assets[i] = Asset{
			ID:             ids[i],
			ExpectedReturn: 0.02 + 0.13*rng.Float64(),
			ESGScore:       (p.Environmental + p.Social + p.Governance) / 3,
			Pillars:        p,
		}
	}

	// Factor loadings give cross-asset correlation; the diagonal term keeps it full rank.
	loadings := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			loadings.Set(i, j, 0.15*rng.NormFloat64())
		}
	}
	var shared mat.Dense
	shared.Mul(loadings, loadings.T())

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		idio := 0.05 + 0.2*rng.Float64()
		for j := i; j < n; j++ {
			v := (shared.At(i, j) + shared.At(j, i)) / (2 * float64(k))
			if i == j {
				v += idio * idio
			}
			rows[i][j] = v
			rows[j][i] = v
		}
	}

	cov, err := NewCovarianceMatrix(ids, rows)
	if err != nil {
		return nil, fmt.Errorf("synthetic covariance: %w", err)
	}
	return New(assets, cov)
}
