package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sesim/config"
	"github.com/sarchlab/sesim/system"
	"github.com/sarchlab/sesim/timing/clock"
)

func (c *cli) runCmd() *cobra.Command {
	opts := config.DefaultOptions()
	var optionsFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a program on the simulated system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := resolveOptions(cmd.Flags(), opts, optionsFile)
			if err != nil {
				return err
			}
			return c.simulate(o)
		},
	}

	opts.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&optionsFile, "config", "", "YAML options file; flags override it")
	return cmd
}

func (c *cli) simulate(opts *config.Options) error {
	s, err := system.Build(opts, system.WithLogger(c.log))
	if err != nil {
		return err
	}

	root := system.NewRoot(s)
	defer root.Close()

	_, _ = fmt.Fprintln(c.stdout, s.Process.Cwd)

	if err := root.Instantiate(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(c.stdout, "Beginning simulation!")
	exit := root.Simulate(clock.Tick(opts.AbsMaxTick))
	_, _ = fmt.Fprintf(c.stdout, "Exiting @ tick %d because %s\n", exit.Tick, exit.Cause)

	if err := root.WriteOutputs(opts.OutDir); err != nil {
		return err
	}
	if exit.Err != nil {
		return exit.Err
	}
	return nil
}
