package main

import (
	"fmt"

	"github.com/notargets/KernelBench/config"
	"github.com/notargets/KernelBench/logging"
	"github.com/notargets/KernelBench/runner"
	"github.com/spf13/cobra"
)

// app carries the merged configuration from the root command to its children
type app struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "kernelbench",
		Short: "Benchmark an elementwise float32 add on an accelerator against the host",
		Long: `kernelbench dispatches result[i] = A[i] + B[i] to the first available
accelerator backend, verifies the result bit for bit and compares the
dispatch latency with a single threaded host loop.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// flags > environment > config file > defaults
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := logging.Init(cfg.LogLevel, cfg.LogFile, true); err != nil {
				return fmt.Errorf("failed to initialise logging: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./kernelbench.yaml)")
	pf.StringArray("device", nil, "device backend to try, in order: an OCCA mode name, OCCA JSON properties or host")
	pf.Int("length", runner.ArrayLength, "elements per buffer")
	pf.Uint64("seed", 1, "operand fill seed")
	pf.String("module", "", "OKL kernel module file (default: embedded add_arrays.okl)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("log-file", "", "append logs to this file")
	pf.Bool("color", true, "colorize console output")

	root.AddCommand(
		a.newRunCmd(),
		a.newVerifyCmd(),
		a.newDevicesCmd(),
		newVersionCmd(),
	)
	return root
}
