package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/notargets/KernelBench/utils"
	"github.com/spf13/cobra"
)

func (a *app) newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Probe every configured backend and report which are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := color.New(color.FgGreen)
			bad := color.New(color.FgRed)
			if !a.cfg.Color {
				ok.DisableColor()
				bad.DisableColor()
			}

			out := cmd.OutOrStdout()
			available := 0
			for _, r := range utils.ProbeDevices(a.cfg.Devices) {
				if r.Err != nil {
					fmt.Fprintf(out, "%-50s %s\n", r.Backend, bad.Sprintf("unavailable: %v", r.Err))
					continue
				}
				available++
				fmt.Fprintf(out, "%-50s %s\n", r.Backend, ok.Sprint(r.Mode))
			}
			if available == 0 {
				return fmt.Errorf("no device backend available")
			}
			return nil
		},
	}
}
