package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/transmute"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the transmute version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("transmute", transmute.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
