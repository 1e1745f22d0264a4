package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/liberodark/check-updates/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the install audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify FILE",
	Short: "Check the hash chain of an audit log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = verifyAudit(os.Stdout, args[0])
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

// verifyAudit prints the outcome of audit.Verify and returns 0 for an intact
// chain, 1 for a broken one and 2 when the file cannot be read.
func verifyAudit(out io.Writer, path string) int {
	n, err := audit.Verify(path)
	switch {
	case err == nil:
		fmt.Fprintf(out, "%s: %d entries, chain intact\n", path, n)
		return 0
	case errors.Is(err, audit.ErrChainBroken):
		fmt.Fprintf(out, "%s: %v (after %d valid entries)\n", path, err, n)
		return 1
	default:
		fmt.Fprintf(out, "%s: %v\n", path, err)
		return 2
	}
}
