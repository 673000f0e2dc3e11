package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pmemkit/pmemkit/pmem"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <pool>",
		Short: "Validate a pool header and report basic metadata",
		Long: `The info command validates a pool file and displays its identity,
layout, size, root object, and transaction log usage.

Example:
  pmemctl info data.pool --layout myapp
  pmemctl info data.pool --layout myapp --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

func runInfo(args []string) error {
	path := args[0]

	printVerbose("Opening pool: %s\n", path)

	p, err := pmem.Open(path, layout)
	if err != nil {
		return fmt.Errorf("failed to open pool: %w", err)
	}
	defer p.Close()

	logCap, err := pmem.CtlAs[uint64](p.CtlGet("tx.log.capacity"))
	if err != nil {
		return err
	}
	logUsed, err := pmem.CtlAs[uint64](p.CtlGet("tx.log.used"))
	if err != nil {
		return err
	}
	freeSpace, err := pmem.CtlAs[uint64](p.CtlGet("stats.heap.free_space"))
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]interface{}{
			"path":         p.Path(),
			"uuid":         p.UUID().String(),
			"layout":       p.Layout(),
			"size":         p.Size(),
			"free_space":   freeSpace,
			"log_capacity": logCap,
			"log_used":     logUsed,
		})
	}

	printInfo("\nPool Information:\n")
	printInfo("  File: %s\n", p.Path())
	printInfo("  UUID: %s\n", p.UUID())
	printInfo("  Layout: %s\n", p.Layout())
	printInfo("  Size: %s\n", humanize.IBytes(uint64(p.Size())))
	printInfo("  Free space: %s\n", humanize.IBytes(freeSpace))
	printInfo("  Tx log: %s of %s used\n", humanize.IBytes(logUsed), humanize.IBytes(logCap))
	return nil
}
