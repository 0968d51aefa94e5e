package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sesim/benchmarks"
	"github.com/sarchlab/sesim/config"
	"github.com/sarchlab/sesim/timing/cpu"
)

func (c *cli) compareCmd() *cobra.Command {
	opts := config.DefaultOptions()
	opts.CPUType = string(cpu.ClassO3)

	var (
		optionsFile string
		kernels     []string
		bpTypes     []string
		format      string
		parallel    int
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the built-in kernels under several branch predictors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := resolveOptions(cmd.Flags(), opts, optionsFile)
			if err != nil {
				return err
			}
			ks, err := benchmarks.Lookup(kernels...)
			if err != nil {
				return err
			}

			h := benchmarks.NewHarness(benchmarks.HarnessConfig{
				Options:  o,
				Output:   c.stdout,
				Parallel: parallel,
				Logger:   c.log,
			})
			h.AddKernels(ks)
			results, err := h.Run(bpTypes)
			if err != nil {
				return err
			}

			switch format {
			case "table":
				h.PrintResults(results)
			case "csv":
				h.PrintCSV(results)
			case "json":
				return benchmarks.WriteJSON(c.stdout, results)
			default:
				return fmt.Errorf("unknown format %q (valid: table, csv, json)", format)
			}
			return nil
		},
	}

	opts.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&optionsFile, "config", "", "YAML options file; flags override it")
	cmd.Flags().StringSliceVar(&kernels, "kernels", nil, "kernels to run (default all)")
	cmd.Flags().StringSliceVar(&bpTypes, "bp-types",
		[]string{"StaticPred", "LocalBP", "GApPred", "PAgPred", "TournamentBP"},
		"branch predictors to compare")
	cmd.Flags().StringVar(&format, "format", "table", "output format (table, csv, json)")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "simulations to run at once (0 for one per host CPU)")
	return cmd
}
