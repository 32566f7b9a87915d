package main

import (
	"github.com/notargets/KernelBench/bench"
	"github.com/notargets/KernelBench/logging"
	"github.com/notargets/KernelBench/report"
	"github.com/notargets/KernelBench/runner"
	"github.com/notargets/KernelBench/utils"
	"github.com/spf13/cobra"
)

func (a *app) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the device and host benchmark phases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd)
		},
	}
	cmd.Flags().IntP("iterations", "n", bench.DefaultIterations, "trials per phase")
	cmd.Flags().String("json", "", "write the full result as JSON to this file")
	cmd.Flags().String("metrics", "", "write Prometheus textfile metrics to this file")
	return cmd
}

func (a *app) run(cmd *cobra.Command) error {
	device, err := utils.CreateDevice(a.cfg.Devices)
	if err != nil {
		return err
	}
	defer device.Free()

	kr, err := runner.NewRunner(device, a.cfg.RunnerConfig())
	if err != nil {
		return err
	}
	defer kr.Free()

	res, err := bench.Run(kr, bench.Options{Iterations: a.cfg.Iterations})
	if err != nil {
		return err
	}

	console := report.NewConsole(cmd.OutOrStdout(), a.cfg.Color)
	if err := console.Mismatch(res.Mismatch); err != nil {
		return err
	}
	if err := report.ReportAll(console, res); err != nil {
		return err
	}

	if a.cfg.JSONOut != "" {
		if err := report.WriteJSON(a.cfg.JSONOut, res); err != nil {
			return err
		}
		logging.Infof("wrote results to %s", a.cfg.JSONOut)
	}
	if a.cfg.MetricsOut != "" {
		if err := report.WriteMetrics(a.cfg.MetricsOut, res); err != nil {
			return err
		}
		logging.Infof("wrote metrics to %s", a.cfg.MetricsOut)
	}
	return nil
}
