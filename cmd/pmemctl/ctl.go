package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pmemkit/pmemkit/pmem"
)

func init() {
	ctl := &cobra.Command{
		Use:   "ctl",
		Short: "Read, write, or run pool control knobs",
		Long: `The ctl commands access a pool's named control entry points, using the
same dotted names the library exposes ("stats.enabled",
"stats.heap.free_space", "heap.coalesce", ...).`,
	}
	ctl.AddCommand(newCtlGetCmd(), newCtlSetCmd(), newCtlExecCmd())
	rootCmd.AddCommand(ctl)
}

func newCtlGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <pool> <name>",
		Short: "Read a control knob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(args[0], func(p *pmem.Pool) error {
				v, err := p.CtlGet(args[1])
				if err != nil {
					return err
				}
				return printCtlValue(args[1], v)
			})
		},
	}
}

func newCtlSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <pool> <name> <value>",
		Short: "Write a control knob",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(args[0], func(p *pmem.Pool) error {
				v, err := p.CtlSet(args[1], parseCtlArg(args[2]))
				if err != nil {
					return err
				}
				return printCtlValue(args[1], v)
			})
		},
	}
}

func newCtlExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <pool> <name>",
		Short: "Run a control operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(args[0], func(p *pmem.Pool) error {
				v, err := p.CtlExec(args[1], nil)
				if err != nil {
					return err
				}
				return printCtlValue(args[1], v)
			})
		},
	}
}

func withPool(path string, fn func(*pmem.Pool) error) error {
	printVerbose("Opening pool: %s\n", path)
	p, err := pmem.Open(path, layout)
	if err != nil {
		return fmt.Errorf("failed to open pool: %w", err)
	}
	defer p.Close()
	return fn(p)
}

// parseCtlArg maps a command-line string onto the Go type the knob
// expects: bools and integers first, everything else stays a string.
func parseCtlArg(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n
	}
	return s
}

func printCtlValue(name string, v interface{}) error {
	if jsonOut {
		return printJSON(map[string]interface{}{name: v})
	}
	printInfo("%s = %v\n", name, v)
	return nil
}
