package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/spf13/cobra"
)

type frontierOptions struct {
	universePath string
	count        int
	seed         uint64
	pareto       bool
	top          int
	out          string
}

type frontierOutput struct {
	Count   int                   `json:"count" yaml:"count"`
	Samples []optimization.Record `json:"samples" yaml:"samples"`
}

func newFrontierCmd(root *rootOptions) *cobra.Command {
	opts := &frontierOptions{}

	cmd := &cobra.Command{
		Use:   "frontier",
		Short: "Sample random portfolios across the return/risk/ESG surface",
		Long: `Draw random fully-invested portfolios and report their metrics. The same
seed always yields the same samples, whatever the worker count.

Samples ignore constraints. --pareto keeps the non-dominated samples and --top
keeps the k best by Sharpe ratio; both apply after sampling.

With --out ending in .msgpack the records are written as msgpack to that file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrontier(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.universePath, "universe", "u", "", "path to universe YAML (required)")
	f.IntVarP(&opts.count, "count", "n", 1000, "number of samples")
	f.Uint64Var(&opts.seed, "seed", 42, "random seed")
	f.BoolVar(&opts.pareto, "pareto", false, "keep only Pareto-optimal samples")
	f.IntVar(&opts.top, "top", 0, "keep the k samples with the best Sharpe ratio (0 keeps all)")
	f.StringVarP(&opts.out, "out", "o", "", "write to this file instead of stdout")
	_ = cmd.MarkFlagRequired("universe")

	return cmd
}

func runFrontier(cmd *cobra.Command, root *rootOptions, opts *frontierOptions) error {
	if opts.count < 0 {
		return fmt.Errorf("count must be non-negative, got %d", opts.count)
	}
	u, err := universe.LoadFile(opts.universePath)
	if err != nil {
		return err
	}

	samples, err := root.service(cmd, 0).Frontier(cmd.Context(), u, opts.count, opts.seed)
	if err != nil {
		return err
	}
	if opts.pareto {
		samples = optimization.ParetoFront(samples)
	}
	if opts.top > 0 {
		samples = optimization.TopBySharpe(samples, opts.top)
	}

	records, err := optimization.FrontierRecords(samples, u.IDs())
	if err != nil {
		return err
	}

	if opts.out == "" {
		return root.write(cmd.OutOrStdout(), frontierOutput{Count: len(records), Samples: records})
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", opts.out, err)
	}
	defer f.Close()

	if filepath.Ext(opts.out) == ".msgpack" {
		data, err := optimization.EncodeRecords(records)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.out, err)
		}
		return f.Close()
	}
	if err := root.write(f, frontierOutput{Count: len(records), Samples: records}); err != nil {
		return err
	}
	return f.Close()
}
