// Package tools groups developer utility commands that operate on E86
// program files without a running target.
package tools

import (
	"github.com/spf13/cobra"
)

// ToolsCmd groups the utility subcommands.
var ToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Utilities for working with E86 program files",
}

func init() {
	ToolsCmd.AddCommand(DumpCmd)
}
