//go:build !linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(timerCmd)
}

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Manage the systemd timer that runs scheduled checks",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Timer management is only available on Linux with systemd.")
	},
}
