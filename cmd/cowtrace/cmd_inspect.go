package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cowtrace/internal/mobility"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <trace>",
		Short: "Summarize an existing trace",
		Long: `Parse a FAKE-COW trace and report its node count, time span, bounding box
and largest per-sample step. A trace produced by cowtrace is ordered and never
moves a node more than the sample interval along either axis between samples.

Examples:
  cowtrace inspect positions/pos_8_5_10_0.txt
  cowtrace inspect pos.txt --final --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			showFinal, _ := cmd.Flags().GetBool("final")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open trace: %w", err)
			}
			defer f.Close()

			samples, err := mobility.ReadTrace(f)
			if err != nil {
				return fmt.Errorf("failed to read trace %s: %w", args[0], err)
			}
			sum := mobility.Summarize(samples)
			if !showFinal {
				sum.Final = nil
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(sum)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Trace: %s\n", args[0])
			fmt.Fprintf(out, "  nodes:         %d\n", sum.Nodes)
			fmt.Fprintf(out, "  samples:       %d\n", sum.Samples)
			fmt.Fprintf(out, "  sampled ticks: %d (t=%.0f..%.0f)\n", sum.SampledTicks, sum.FirstTime, sum.LastTime)
			fmt.Fprintf(out, "  x range:       %.2f .. %.2f\n", sum.MinX, sum.MaxX)
			fmt.Fprintf(out, "  y range:       %.2f .. %.2f\n", sum.MinY, sum.MaxY)
			fmt.Fprintf(out, "  max step:      %.2f\n", sum.MaxStep)
			fmt.Fprintf(out, "  ordered:       %v\n", sum.Ordered)
			if showFinal {
				fmt.Fprintln(out, "Final positions:")
				for _, s := range sum.Final {
					fmt.Fprintf(out, "  %3d  %10.2f %10.2f\n", s.Node, s.X, s.Y)
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("final", false, "List each node's last sampled position")

	return cmd
}
