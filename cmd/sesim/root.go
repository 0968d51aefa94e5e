package main

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sarchlab/sesim/config"
)

type cli struct {
	stdout io.Writer
	stderr io.Writer

	logLevel   string
	cpuProfile string

	log     *logrus.Logger
	profile *os.File
}

// execute runs the command line args and reports any error on stderr.
func execute(args []string, stdout, stderr io.Writer) error {
	c := &cli{stdout: stdout, stderr: stderr, log: logrus.New()}
	root := c.rootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if stopErr := c.teardown(); err == nil {
		err = stopErr
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return err
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sesim",
		Short:         "Syscall-emulation simulator for AArch64 programs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.setup()
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn",
		"log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.cpuProfile, "cpuprofile", "",
		"write a host CPU profile to this file")

	root.AddCommand(
		c.runCmd(),
		c.compareCmd(),
		c.emitCmd(),
		c.listBPCmd(),
		c.listCPUCmd(),
		c.listKernelsCmd(),
	)
	return root
}

func (c *cli) setup() error {
	level, err := logrus.ParseLevel(c.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.logLevel, err)
	}
	c.log.SetOutput(c.stderr)
	c.log.SetLevel(level)

	if c.cpuProfile == "" {
		return nil
	}
	f, err := os.Create(c.cpuProfile)
	if err != nil {
		return fmt.Errorf("failed to create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to start CPU profile: %w", err)
	}
	c.profile = f
	return nil
}

func (c *cli) teardown() error {
	if c.profile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := c.profile.Close()
	c.profile = nil
	return err
}

// resolveOptions returns the options of a command. With an options file,
// the file is loaded over the defaults and every flag given on the command
// line is applied on top.
func resolveOptions(fs *pflag.FlagSet, flagOpts *config.Options, path string) (*config.Options, error) {
	if path == "" {
		return flagOpts, nil
	}

	o, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	file := pflag.NewFlagSet("file", pflag.ContinueOnError)
	o.BindFlags(file)

	var setErr error
	fs.Visit(func(f *pflag.Flag) {
		if setErr != nil || file.Lookup(f.Name) == nil {
			return
		}
		setErr = file.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return nil, setErr
	}
	return o, nil
}
