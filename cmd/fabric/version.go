package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fabric version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("fabric version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
