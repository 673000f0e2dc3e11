package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pmemkit/pmemkit/pmem"
)

func init() {
	rootCmd.AddCommand(newCompactCmd())
}

func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact <pool>",
		Short: "Merge adjacent free heap blocks",
		Long: `The compact command runs a coalescing pass over the pool's heap,
merging neighboring free blocks into larger ones. Object relocation
requires the owning application, so compaction only reduces free-list
fragmentation, never moves data.

Example:
  pmemctl compact data.pool --layout myapp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(args)
		},
	}
	return cmd
}

func runCompact(args []string) error {
	return withPool(args[0], func(p *pmem.Pool) error {
		before, err := pmem.CtlAs[uint64](p.CtlGet("stats.heap.largest_free"))
		if err != nil {
			return err
		}

		merged, err := pmem.CtlAs[int](p.CtlExec("heap.coalesce", nil))
		if err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}

		after, err := pmem.CtlAs[uint64](p.CtlGet("stats.heap.largest_free"))
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(map[string]interface{}{
				"merged":              merged,
				"largest_free_before": before,
				"largest_free_after":  after,
			})
		}
		printInfo("Merged %d free block(s)\n", merged)
		printInfo("  Largest free block: %s -> %s\n",
			humanize.IBytes(before), humanize.IBytes(after))
		return nil
	})
}
