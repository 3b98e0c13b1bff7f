package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/aristath/greenfolio/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	logLevel     string
	format       string
	riskFreeRate float64
	workers      int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "greenfolio",
		Short: "ESG-constrained portfolio allocation",
		Long: `greenfolio allocates a budget across assets, trading expected return
against ESG score under weight, ESG and volatility constraints.

Examples:
  greenfolio synth --assets 8 --seed 7 > universe.yaml
  greenfolio allocate --universe universe.yaml --min-esg 0.7 --budget 10000 --currency EUR
  greenfolio frontier --universe universe.yaml --count 5000 --top 10`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "yaml", "output format (yaml, json)")
	cmd.PersistentFlags().Float64Var(&opts.riskFreeRate, "risk-free-rate", optimization.DefaultRiskFreeRate, "annual risk-free rate for Sharpe ratios")
	cmd.PersistentFlags().IntVar(&opts.workers, "workers", 4, "frontier sampling workers")

	cmd.AddCommand(
		newAllocateCmd(opts),
		newFrontierCmd(opts),
		newSynthCmd(opts),
		newEstimateCmd(opts),
	)

	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	return logger.New(logger.Config{
		Level:  o.logLevel,
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})
}

// service builds an optimizer service with the package defaults.
func (o *rootOptions) service(cmd *cobra.Command, maxSamples int) *optimization.OptimizerService {
	return optimization.NewOptimizerService(optimization.ServiceConfig{
		RiskFreeRate: o.riskFreeRate,
		Constraints:  optimization.DefaultConstraints(),
		Blend:        optimization.DefaultBlend(),
		Workers:      o.workers,
		MaxSamples:   maxSamples,
	}, o.logger(cmd))
}

// write encodes v to w in the selected format.
func (o *rootOptions) write(w io.Writer, v any) error {
	switch o.format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q (supported: yaml, json)", o.format)
	}
}

// decodeYAMLFile reads path into v, rejecting unknown fields.
func decodeYAMLFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
