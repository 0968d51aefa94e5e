package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sesim/benchmarks"
)

func (c *cli) emitCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "emit [kernel...]",
		Short: "Write built-in kernels as static executables",
		RunE: func(_ *cobra.Command, args []string) error {
			ks, err := benchmarks.Lookup(args...)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
			for _, k := range ks {
				path, err := benchmarks.Materialize(k, dir)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(c.stdout, path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "output directory")
	return cmd
}
