package optimization

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/aristath/greenfolio/internal/modules/universe"
)

// maxRedraws bounds the retries when a raw draw sums to zero.
const maxRedraws = 64

// ErrDegenerateSource is returned when the random source keeps producing all-zero draws.
var ErrDegenerateSource = errors.New("random source produced only zero draws")

// RandomSource yields uniform values in [0,1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// FrontierSample is one random portfolio and its metrics.
// Weights are in universe order.
type FrontierSample struct {
	Weights []float64 `json:"weights" msgpack:"weights"`
	Metrics `msgpack:",inline"`
}

// FrontierSampler approximates the return/risk/ESG surface by Monte-Carlo.
// It enforces no constraints and keeps no random state of its own.
type FrontierSampler struct {
	metrics *MetricsCalculator
}

// NewFrontierSampler creates a sampler that reports metrics through m.
func NewFrontierSampler(m *MetricsCalculator) *FrontierSampler {
	return &FrontierSampler{metrics: m}
}

// Sample draws count portfolios from rng, in generation order.
// Each draw is n uniform values normalized by their sum.
func (s *FrontierSampler) Sample(u *universe.AssetUniverse, count int, rng RandomSource) ([]FrontierSample, error) {
	if count < 0 {
		return nil, fmt.Errorf("sample count must be non-negative, got %d", count)
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}

	samples := make([]FrontierSample, 0, count)
	for k := 0; k < count; k++ {
		sample, err := s.draw(u, rng)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", k, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (s *FrontierSampler) draw(u *universe.AssetUniverse, rng RandomSource) (FrontierSample, error) {
	weights := make([]float64, u.Len())
	for attempt := 0; attempt < maxRedraws; attempt++ {
		var sum float64
		for i := range weights {
			weights[i] = rng.Float64()
			sum += weights[i]
		}
		if sum == 0 {
			continue
		}
		for i := range weights {
			weights[i] /= sum
		}
		m, err := s.metrics.Compute(weights, u)
		if err != nil {
			return FrontierSample{}, err
		}
		return FrontierSample{Weights: weights, Metrics: m}, nil
	}
	return FrontierSample{}, ErrDegenerateSource
}

// SampleStream returns the random source for sample index of a seeded run.
// Every index gets its own PCG stream, so a run is reproducible however
// its samples are spread across workers.
func SampleStream(seed uint64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(index)))
}

// ParallelSample draws count portfolios on a pool of workers. Sample k is
// drawn from SampleStream(seed, k), so the output matches generation order
// and is identical for any worker count.
func (s *FrontierSampler) ParallelSample(ctx context.Context, u *universe.AssetUniverse, count int, seed uint64, workers int) ([]FrontierSample, error) {
	return s.SampleRange(ctx, u, 0, count, seed, workers)
}

// SampleRange draws samples start..start+count-1 of the seeded run. Joining
// consecutive ranges reproduces ParallelSample over the whole run.
func (s *FrontierSampler) SampleRange(ctx context.Context, u *universe.AssetUniverse, start, count int, seed uint64, workers int) ([]FrontierSample, error) {
	if count < 0 || start < 0 {
		return nil, fmt.Errorf("sample range must be non-negative, got start=%d count=%d", start, count)
	}
	pool := NewWorkerPool(workers)
	return Run(ctx, pool, count, func(k int) (FrontierSample, error) {
		return s.draw(u, SampleStream(seed, start+k))
	})
}
