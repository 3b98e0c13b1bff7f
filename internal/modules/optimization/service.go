package optimization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/rs/zerolog"
)

// ErrTooManySamples is returned when a frontier request exceeds MaxSamples.
var ErrTooManySamples = errors.New("sample count exceeds the configured limit")

// DefaultMaxSyntheticAssets bounds generated universes when ServiceConfig leaves it unset.
const DefaultMaxSyntheticAssets = 500

// ServiceConfig carries the process-wide optimizer settings.
type ServiceConfig struct {
	RiskFreeRate float64
	Constraints  Constraints // defaults applied to requests
	Blend        Blend
	Workers      int // frontier workers
	MaxSamples   int // upper bound on one frontier request

	MaxSyntheticAssets int // upper bound on one generated universe
}

// OptimizerService wires the allocator and the sampler for the API, the
// CLI and the scheduler, and logs every run.
type OptimizerService struct {
	cfg       ServiceConfig
	metrics   *MetricsCalculator
	allocator *ConstrainedAllocator
	sampler   *FrontierSampler
	log       zerolog.Logger
}

// NewOptimizerService creates the service.
func NewOptimizerService(cfg ServiceConfig, log zerolog.Logger) *OptimizerService {
	metrics := NewMetricsCalculator(cfg.RiskFreeRate)
	return &OptimizerService{
		cfg:       cfg,
		metrics:   metrics,
		allocator: NewConstrainedAllocator(metrics),
		sampler:   NewFrontierSampler(metrics),
		log:       log.With().Str("component", "optimizer_service").Logger(),
	}
}

// DefaultConstraints returns a copy of the configured default constraints.
func (s *OptimizerService) DefaultConstraints() Constraints { return s.cfg.Constraints }

// DefaultBlend returns the configured default blend.
func (s *OptimizerService) DefaultBlend() Blend { return s.cfg.Blend }

// MaxSyntheticAssets returns the largest synthetic universe the service generates.
func (s *OptimizerService) MaxSyntheticAssets() int {
	if s.cfg.MaxSyntheticAssets <= 0 {
		return DefaultMaxSyntheticAssets
	}
	return s.cfg.MaxSyntheticAssets
}

// Metrics exposes the shared calculator.
func (s *OptimizerService) Metrics() *MetricsCalculator { return s.metrics }

// Allocate solves one allocation.
func (s *OptimizerService) Allocate(u *universe.AssetUniverse, c Constraints, blend Blend) (Allocation, error) {
	start := time.Now()
	alloc, err := s.allocator.Solve(u, c, blend)
	if err != nil {
		s.log.Error().Err(err).Int("assets", u.Len()).Msg("Allocation failed")
		return Allocation{}, err
	}

	event := s.log.Info()
	if !alloc.Optimal() {
		event = s.log.Warn().Str("reason", alloc.Reason)
	}
	event.
		Str("status", string(alloc.Status)).
		Int("assets", u.Len()).
		Float64("min_esg", c.MinESGScore).
		Float64("expected_return", alloc.ExpectedReturn).
		Float64("volatility", alloc.Volatility).
		Float64("esg_score", alloc.ESGScore).
		Dur("duration", time.Since(start)).
		Msg("Allocation solved")
	return alloc, nil
}

// Frontier samples count portfolios in parallel from seed.
func (s *OptimizerService) Frontier(ctx context.Context, u *universe.AssetUniverse, count int, seed uint64) ([]FrontierSample, error) {
	if s.cfg.MaxSamples > 0 && count > s.cfg.MaxSamples {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySamples, count, s.cfg.MaxSamples)
	}
	start := time.Now()
	samples, err := s.sampler.ParallelSample(ctx, u, count, seed, s.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to sample frontier: %w", err)
	}
	s.log.Info().
		Int("samples", len(samples)).
		Uint64("seed", seed).
		Int("assets", u.Len()).
		Dur("duration", time.Since(start)).
		Msg("Frontier sampled")
	return samples, nil
}

// StreamFrontier samples the same run as Frontier in batches and hands each
// batch to emit as soon as it is drawn. A non-positive batch uses one batch.
func (s *OptimizerService) StreamFrontier(ctx context.Context, u *universe.AssetUniverse, count int, seed uint64, batch int, emit func([]FrontierSample) error) error {
	if s.cfg.MaxSamples > 0 && count > s.cfg.MaxSamples {
		return fmt.Errorf("%w: %d > %d", ErrTooManySamples, count, s.cfg.MaxSamples)
	}
	if count < 0 {
		return fmt.Errorf("sample count must be non-negative, got %d", count)
	}
	if batch <= 0 {
		batch = count
	}
	start := time.Now()
	for from := 0; from < count; from += batch {
		n := min(batch, count-from)
		samples, err := s.sampler.SampleRange(ctx, u, from, n, seed, s.cfg.Workers)
		if err != nil {
			return fmt.Errorf("failed to sample frontier batch at %d: %w", from, err)
		}
		if err := emit(samples); err != nil {
			return err
		}
	}
	s.log.Info().
		Int("samples", count).
		Int("batch", batch).
		Uint64("seed", seed).
		Dur("duration", time.Since(start)).
		Msg("Frontier streamed")
	return nil
}

// Sweep solves the allocation at every ESG floor.
func (s *OptimizerService) Sweep(ctx context.Context, u *universe.AssetUniverse, c Constraints, blend Blend, floors []float64) ([]Allocation, error) {
	start := time.Now()
	allocs, err := s.allocator.SweepESG(ctx, u, c, blend, floors)
	if err != nil {
		return nil, err
	}
	optimal := 0
	for _, a := range allocs {
		if a.Optimal() {
			optimal++
		}
	}
	s.log.Info().
		Int("floors", len(floors)).
		Int("optimal", optimal).
		Dur("duration", time.Since(start)).
		Msg("ESG sweep solved")
	return allocs, nil
}
