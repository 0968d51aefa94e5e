package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sesim/benchmarks"
	"github.com/sarchlab/sesim/timing/bpred"
	"github.com/sarchlab/sesim/timing/cpu"
)

func (c *cli) listBPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-bp",
		Short: "List the available branch predictors",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return c.printLines(bpred.Names())
		},
	}
}

func (c *cli) listCPUCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-cpu",
		Short: "List the available CPU models",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return c.printLines(cpu.Names())
		},
	}
}

func (c *cli) listKernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-kernels",
		Short: "List the built-in benchmark kernels",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return c.printLines(benchmarks.Names())
		},
	}
}

func (c *cli) printLines(lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(c.stdout, l); err != nil {
			return err
		}
	}
	return nil
}
