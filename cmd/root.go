package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "transporter",
	Short: "Kalla Transporter fleet dispatch service",
	Long:  `Delivery order approval and trip-cost budget service for the Kalla Transporter fleet.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
