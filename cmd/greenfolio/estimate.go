package main

import (
	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/spf13/cobra"
)

// priceFile is the YAML layout accepted by estimate.
type priceFile struct {
	ESGScale  string               `yaml:"esg_scale"`
	Prices    map[string][]float64 `yaml:"prices"`
	ESGScores map[string]float64   `yaml:"esg_scores"`
}

type estimateOptions struct {
	pricesPath     string
	periodsPerYear int
	shrinkage      float64
}

func newEstimateCmd(root *rootOptions) *cobra.Command {
	opts := &estimateOptions{}

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Build a universe document from aligned price history",
		Long: `Estimate annualized expected returns and covariance from aligned price
series and join them with ESG scores. Suspicious prices are reported on stderr;
non-positive or non-finite prices are an error.

Example prices file:
  esg_scale: percent
  prices:
    SOLAR: [10.0, 10.2, 10.1, 10.5]
    WIND:  [20.0, 19.8, 20.4, 20.9]
  esg_scores: {SOLAR: 92, WIND: 88}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.pricesPath, "prices", "p", "", "path to prices YAML (required)")
	f.IntVar(&opts.periodsPerYear, "periods", universe.DefaultPeriodsPerYear, "observations per year")
	f.Float64Var(&opts.shrinkage, "shrinkage", 0, "covariance shrinkage intensity in [0,1]")
	_ = cmd.MarkFlagRequired("prices")

	return cmd
}

func runEstimate(cmd *cobra.Command, root *rootOptions, opts *estimateOptions) error {
	var file priceFile
	if err := decodeYAMLFile(opts.pricesPath, &file); err != nil {
		return err
	}

	scale, err := universe.ParseESGScale(file.ESGScale)
	if err != nil {
		return err
	}
	scores, err := scale.NormalizeScores(file.ESGScores)
	if err != nil {
		return err
	}

	log := root.logger(cmd)
	u, anomalies, err := universe.FromPriceHistory(file.Prices, scores, universe.HistoryOptions{
		PeriodsPerYear: opts.periodsPerYear,
		Shrinkage:      opts.shrinkage,
		Validator:      universe.NewPriceValidator(log),
	})
	if err != nil {
		return err
	}
	for _, a := range anomalies {
		log.Warn().
			Str("asset", a.AssetID).
			Int("index", a.Index).
			Float64("price", a.Price).
			Str("reason", a.Reason).
			Msg("Price anomaly")
	}

	return root.write(cmd.OutOrStdout(), universe.DocumentFrom(u))
}
