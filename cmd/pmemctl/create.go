package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pmemkit/pmemkit/pmem"
)

var createSize string

func init() {
	cmd := newCreateCmd()
	cmd.Flags().StringVar(&createSize, "size", "8MiB", "Pool size (accepts 8MiB, 1GB, ...)")
	rootCmd.AddCommand(cmd)
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <pool>",
		Short: "Create a new pool file",
		Long: `The create command initializes a new pool file with a formatted header,
an empty transaction log, and a single free heap block.

Example:
  pmemctl create data.pool --layout myapp
  pmemctl create data.pool --layout myapp --size 64MiB`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args)
		},
	}
	return cmd
}

func runCreate(args []string) error {
	path := args[0]

	size, err := humanize.ParseBytes(createSize)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", createSize, err)
	}

	printVerbose("Creating pool: %s (%s)\n", path, humanize.IBytes(size))

	p, err := pmem.Create(path, layout, int64(size), 0o644)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer p.Close()

	if jsonOut {
		return printJSON(map[string]interface{}{
			"path":   p.Path(),
			"uuid":   p.UUID().String(),
			"layout": p.Layout(),
			"size":   p.Size(),
		})
	}

	printInfo("Created pool %s\n", path)
	printInfo("  UUID: %s\n", p.UUID())
	printInfo("  Layout: %s\n", p.Layout())
	printInfo("  Size: %s\n", humanize.IBytes(uint64(p.Size())))
	return nil
}
