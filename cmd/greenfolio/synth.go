package main

import (
	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/spf13/cobra"
)

func newSynthCmd(root *rootOptions) *cobra.Command {
	opts := universe.SyntheticOptions{}

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate a reproducible synthetic universe",
		Long: `Print a synthetic universe document with a factor-model covariance.
The output can be fed back to allocate and frontier with --universe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := universe.Synthetic(opts)
			if err != nil {
				return err
			}
			return root.write(cmd.OutOrStdout(), universe.DocumentFrom(u))
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Assets, "assets", 10, "number of assets")
	f.Uint64Var(&opts.Seed, "seed", 1, "random seed")
	f.IntVar(&opts.Factors, "factors", 3, "latent factors in the covariance")

	return cmd
}
