package main

import (
	"fmt"

	"github.com/notargets/KernelBench/runner"
	"github.com/notargets/KernelBench/utils"
	"github.com/spf13/cobra"
)

func (a *app) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Dispatch once and check every element of the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if err := kr.Dispatch(); err != nil {
				return err
			}
			m, err := kr.Verify()
			if err != nil {
				return err
			}
			if m != nil {
				return m
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d elements verified, group size %d\n",
				kr.Mode(), kr.Len(), kr.GroupSize())
			return nil
		},
	}
}
