package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pmemkit/pmemkit/pmem"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <pool>",
		Short: "Show allocator statistics",
		Long: `The stats command reports heap allocator statistics for a pool:
bytes in use, free space, largest free block, and operation counters.

Example:
  pmemctl stats data.pool --layout myapp
  pmemctl stats data.pool --layout myapp --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args)
		},
	}
	return cmd
}

type poolStats struct {
	Path          string `json:"path"`
	Size          uint64 `json:"size"`
	CurrAllocated uint64 `json:"curr_allocated"`
	FreeSpace     uint64 `json:"free_space"`
	LargestFree   uint64 `json:"largest_free"`
	Allocations   uint64 `json:"allocations"`
	Frees         uint64 `json:"frees"`
}

func runStats(args []string) error {
	path := args[0]

	printVerbose("Opening pool: %s\n", path)

	p, err := pmem.Open(path, layout)
	if err != nil {
		return fmt.Errorf("failed to open pool: %w", err)
	}
	defer p.Close()

	stats := poolStats{Path: p.Path(), Size: uint64(p.Size())}
	for name, dst := range map[string]*uint64{
		"stats.heap.curr_allocated": &stats.CurrAllocated,
		"stats.heap.free_space":     &stats.FreeSpace,
		"stats.heap.largest_free":   &stats.LargestFree,
		"stats.heap.allocations":    &stats.Allocations,
		"stats.heap.frees":          &stats.Frees,
	} {
		v, err := pmem.CtlAs[uint64](p.CtlGet(name))
		if err != nil {
			return err
		}
		*dst = v
	}

	if jsonOut {
		return printJSON(stats)
	}

	printInfo("\nPool Statistics: %s\n", path)
	printInfo("  Size: %s\n", humanize.IBytes(stats.Size))
	printInfo("  Allocated: %s\n", humanize.IBytes(stats.CurrAllocated))
	printInfo("  Free: %s (largest block %s)\n",
		humanize.IBytes(stats.FreeSpace), humanize.IBytes(stats.LargestFree))
	printInfo("  Allocations: %s\n", humanize.Comma(int64(stats.Allocations)))
	printInfo("  Frees: %s\n", humanize.Comma(int64(stats.Frees)))
	return nil
}
