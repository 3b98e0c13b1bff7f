package universe

import (
	"fmt"
	"sort"

	"github.com/aristath/greenfolio/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultPeriodsPerYear annualizes daily observations (trading days).
const DefaultPeriodsPerYear = 252

// HistoryOptions controls estimation from price history.
type HistoryOptions struct {
	PeriodsPerYear int             // observations per year, defaults to DefaultPeriodsPerYear
	MinReturns     int             // minimum number of returns per asset, defaults to 2
	Shrinkage      float64         // covariance shrinkage intensity in [0,1], 0 keeps the sample estimate
	Validator      *PriceValidator // optional; a silent validator is used when nil
}

// FromPriceHistory estimates annualized expected returns and the annualized
// sample covariance from aligned price series, then joins the ESG scores.
// All series must have the same length and identifiers must match esgScores.
// Non-fatal anomalies (spikes, crashes) are returned for the caller to report.
func FromPriceHistory(prices map[string][]float64, esgScores map[string]float64, opts HistoryOptions) (*AssetUniverse, []PriceAnomaly, error) {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultPeriodsPerYear
	}
	if opts.MinReturns < 2 {
		opts.MinReturns = 2
	}
	if opts.Validator == nil {
		opts.Validator = NewPriceValidator(zerolog.Nop())
	}

	ids := make([]string, 0, len(prices))
	for id := range prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil, nil, &domain.UniverseMismatchError{Source: "prices", Detail: "no price series"}
	}

	esgIDs := make([]string, 0, len(esgScores))
	for id := range esgScores {
		esgIDs = append(esgIDs, id)
	}
	if missing, extra := domain.SetDifference(ids, esgIDs); len(missing) > 0 || len(extra) > 0 {
		return nil, nil, &domain.UniverseMismatchError{Source: "esg_scores", Missing: missing, Extra: extra}
	}

	length := len(prices[ids[0]])
	var anomalies []PriceAnomaly
	for _, id := range ids {
		series := prices[id]
		if len(series) != length {
			return nil, nil, &domain.UniverseMismatchError{
				Source: "prices",
				Detail: fmt.Sprintf("series %s has %d observations, expected %d", id, len(series), length),
			}
		}
		for _, a := range opts.Validator.ValidateSeries(id, series) {
			if a.Fatal() {
				return nil, nil, &domain.NumericError{
					Operation: "price history",
					Value:     a.Price,
					Assets:    []string{id},
					Detail:    fmt.Sprintf("%s price at index %d", a.Reason, a.Index),
				}
			}
			anomalies = append(anomalies, a)
		}
	}
	if length-1 < opts.MinReturns {
		return nil, nil, &domain.InvalidConstraintsError{
			Reason: fmt.Sprintf("insufficient price history: %d returns available (need at least %d)", length-1, opts.MinReturns),
		}
	}

	// Rows are observations, columns are assets
	periods := length - 1
	returns := mat.NewDense(periods, len(ids), nil)
	for j, id := range ids {
		series := prices[id]
		for t := 1; t < length; t++ {
			returns.Set(t-1, j, series[t]/series[t-1]-1)
		}
	}

	annual := float64(opts.PeriodsPerYear)
	assets := make([]Asset, len(ids))
	column := make([]float64, periods)
	for j, id := range ids {
		mat.Col(column, j, returns)
		assets[j] = Asset{
			ID:             id,
			ExpectedReturn: stat.Mean(column, nil) * annual,
			ESGScore:       esgScores[id],
		}
	}

	sampleCov := mat.NewSymDense(len(ids), nil)
	stat.CovarianceMatrix(sampleCov, returns, nil)
	rows := make([][]float64, len(ids))
	for i := range rows {
		rows[i] = make([]float64, len(ids))
		for j := range rows[i] {
			rows[i][j] = sampleCov.At(i, j) * annual
		}
	}

	if opts.Shrinkage > 0 {
		shrunk, err := shrinkCovariance(rows, opts.Shrinkage)
		if err != nil {
			return nil, nil, err
		}
		rows = shrunk
	}

	cov, err := NewCovarianceMatrix(ids, rows)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build covariance from price history: %w", err)
	}
	u, err := New(assets, cov)
	if err != nil {
		return nil, nil, err
	}
	return u, anomalies, nil
}
