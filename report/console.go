// Package report renders benchmark results for people and machines.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/notargets/KernelBench/bench"
	"github.com/notargets/KernelBench/runner"
)

// Reporter receives each phase once its statistics are known
type Reporter interface {
	Report(p bench.Phase) error
}

// Console prints phases in the classic two line format:
//
//	GPU computation
//	Total time: 42 ms, iterations: 100, iteration time: 0.42 ms, std dev 0.50
type Console struct {
	out     io.Writer
	label   *color.Color
	failure *color.Color
	phases  int
}

// NewConsole writes to out; colors are disabled unless useColor is set and
// out is a terminal
func NewConsole(out io.Writer, useColor bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	c := &Console{
		out:     out,
		label:   color.New(color.FgCyan, color.Bold),
		failure: color.New(color.FgRed, color.Bold),
	}
	if !useColor || out != os.Stdout || color.NoColor {
		c.label.DisableColor()
		c.failure.DisableColor()
	}
	return c
}

// Report prints one phase, separated from the previous one by a blank line
func (c *Console) Report(p bench.Phase) error {
	if c.phases > 0 {
		if _, err := fmt.Fprintln(c.out); err != nil {
			return err
		}
	}
	c.phases++

	if _, err := c.label.Fprintln(c.out, p.Label); err != nil {
		return err
	}
	_, err := fmt.Fprintln(c.out, StatsLine(p.Stats))
	return err
}

// Mismatch prints a verification failure
func (c *Console) Mismatch(m *runner.Mismatch) error {
	if m == nil {
		return nil
	}
	_, err := c.failure.Fprintln(c.out, m.Error())
	return err
}

// StatsLine formats one phase summary
func StatsLine(s bench.Statistics) string {
	return fmt.Sprintf("Total time: %v ms, iterations: %d, iteration time: %v ms, std dev %.2f",
		s.Total, s.Count, s.Mean, s.StdDev)
}

// ReportAll sends every phase of res to r in order
func ReportAll(r Reporter, res *bench.Result) error {
	for _, p := range res.Phases {
		if err := r.Report(p); err != nil {
			return fmt.Errorf("failed to report %s: %w", p.Label, err)
		}
	}
	return nil
}
