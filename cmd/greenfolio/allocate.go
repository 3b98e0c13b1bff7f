package main

import (
	"fmt"

	"github.com/aristath/greenfolio/internal/modules/budget"
	"github.com/aristath/greenfolio/internal/modules/optimization"
	"github.com/aristath/greenfolio/internal/modules/universe"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// constraintsFile is the YAML layout accepted by --constraints. Flags given
// on the command line override it.
type constraintsFile struct {
	Constraints   *optimization.Constraints `yaml:"constraints"`
	Blend         *optimization.Blend       `yaml:"blend"`
	RiskTolerance *float64                  `yaml:"risk_tolerance"`
	// ProjectCosts caps each asset at cost / budget total; requires --budget.
	ProjectCosts map[string]string `yaml:"project_costs"`
}

type allocateOptions struct {
	universePath    string
	constraintsPath string
	maxWeight       float64
	minWeight       float64
	minESG          float64
	maxVolatility   float64
	riskTolerance   float64
	returnWeight    float64
	esgWeight       float64
	budget          string
	currency        string
}

type allocateOutput struct {
	Allocation optimization.Record        `json:"allocation" yaml:"allocation"`
	Pillars    *optimization.PillarScores `json:"pillars,omitempty" yaml:"pillars,omitempty"`
	Budget     []budgetLine               `json:"budget,omitempty" yaml:"budget,omitempty"`
}

type budgetLine struct {
	AssetID string  `json:"asset_id" yaml:"asset_id"`
	Weight  float64 `json:"weight" yaml:"weight"`
	Minor   int64   `json:"amount_minor" yaml:"amount_minor"`
	Display string  `json:"display" yaml:"display"`
}

func newAllocateCmd(root *rootOptions) *cobra.Command {
	opts := &allocateOptions{}

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Solve one constrained allocation",
		Long: `Solve the linear program that maximizes the blend of expected return and
ESG score subject to weight bounds, an ESG floor and an optional volatility ceiling.

Non-optimal outcomes (infeasible, unbounded, ceiling exceeded) are printed, not
returned as errors; invalid input is an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAllocate(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.universePath, "universe", "u", "", "path to universe YAML (required)")
	f.StringVarP(&opts.constraintsPath, "constraints", "c", "", "path to constraints YAML")
	f.Float64Var(&opts.maxWeight, "max-weight", optimization.DefaultMaxWeight, "maximum weight per asset")
	f.Float64Var(&opts.minWeight, "min-weight", 0, "minimum weight per asset (forces inclusion)")
	f.Float64Var(&opts.minESG, "min-esg", 0, "minimum portfolio ESG score on the unit scale")
	f.Float64Var(&opts.maxVolatility, "max-volatility", 0, "volatility ceiling (0 disables)")
	f.Float64Var(&opts.riskTolerance, "risk-tolerance", 0, "ceiling as a fraction of the largest asset volatility (0 disables)")
	f.Float64Var(&opts.returnWeight, "return-weight", optimization.DefaultReturnWeight, "objective weight of expected return")
	f.Float64Var(&opts.esgWeight, "esg-weight", optimization.DefaultESGWeight, "objective weight of ESG score")
	f.StringVar(&opts.budget, "budget", "", "budget total in major units, e.g. 10000.50")
	f.StringVar(&opts.currency, "currency", "EUR", "ISO 4217 currency of the budget")
	_ = cmd.MarkFlagRequired("universe")

	return cmd
}

func runAllocate(cmd *cobra.Command, root *rootOptions, opts *allocateOptions) error {
	u, err := universe.LoadFile(opts.universePath)
	if err != nil {
		return err
	}

	c := optimization.DefaultConstraints()
	blend := optimization.DefaultBlend()
	var tolerance *float64
	var costs map[string]string

	if opts.constraintsPath != "" {
		var file constraintsFile
		if err := decodeYAMLFile(opts.constraintsPath, &file); err != nil {
			return err
		}
		if file.Constraints != nil {
			c = *file.Constraints
		}
		if file.Blend != nil {
			blend = *file.Blend
		}
		tolerance = file.RiskTolerance
		costs = file.ProjectCosts
	}

	flags := cmd.Flags()
	if flags.Changed("max-weight") || opts.constraintsPath == "" {
		c.MaxWeight = opts.maxWeight
	}
	if flags.Changed("min-weight") {
		c.MinWeight = opts.minWeight
	}
	if flags.Changed("min-esg") {
		c.MinESGScore = opts.minESG
	}
	if flags.Changed("max-volatility") {
		v := opts.maxVolatility
		c.MaxVolatility = &v
	}
	if flags.Changed("risk-tolerance") {
		t := opts.riskTolerance
		tolerance = &t
	}
	if flags.Changed("return-weight") {
		blend.ReturnWeight = opts.returnWeight
	}
	if flags.Changed("esg-weight") {
		blend.ESGWeight = opts.esgWeight
	}

	if tolerance != nil {
		ceiling, err := optimization.VolatilityCeiling(u, *tolerance)
		if err != nil {
			return err
		}
		c.MaxVolatility = &ceiling
	}

	var total decimal.Decimal
	if opts.budget != "" {
		total, err = decimal.NewFromString(opts.budget)
		if err != nil {
			return fmt.Errorf("invalid budget %q: %w", opts.budget, err)
		}
	}

	if len(costs) > 0 {
		if opts.budget == "" {
			return fmt.Errorf("project_costs require --budget")
		}
		if err := applyCostCaps(&c, costs, total); err != nil {
			return err
		}
	}

	alloc, err := root.service(cmd, 0).Allocate(u, c, blend)
	if err != nil {
		return err
	}

	out := allocateOutput{Allocation: alloc.Record()}
	if alloc.Optimal() {
		pillars, err := optimization.PillarImpact(u, alloc.Weights)
		if err != nil {
			return err
		}
		if pillars.Coverage > 0 {
			out.Pillars = &pillars
		}
		if opts.budget != "" {
			plan, err := budget.Allocate(alloc.Weights, total, opts.currency)
			if err != nil {
				return err
			}
			for _, l := range plan.Lines {
				out.Budget = append(out.Budget, budgetLine{AssetID: l.AssetID, Weight: l.Weight, Minor: l.Minor(), Display: l.Display()})
			}
		}
	}

	return root.write(cmd.OutOrStdout(), out)
}

// applyCostCaps tightens per-asset upper bounds to cost / total.
func applyCostCaps(c *optimization.Constraints, costs map[string]string, total decimal.Decimal) error {
	parsed := make(map[string]decimal.Decimal, len(costs))
	for id, raw := range costs {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid cost %q for %s: %w", raw, id, err)
		}
		parsed[id] = d
	}

	caps, err := budget.CapsFromCosts(parsed, total)
	if err != nil {
		return err
	}
	if c.Bounds == nil {
		c.Bounds = make(map[string]optimization.Bounds, len(caps))
	}
	for id, capped := range caps {
		b, ok := c.Bounds[id]
		if !ok {
			b = optimization.Bounds{Min: c.MinWeight, Max: c.MaxWeight}
		}
		b.Max = min(b.Max, capped.Max)
		c.Bounds[id] = b
	}
	return nil
}
