package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chocobrew",
		Short: "Batch registry and quality scoring for cacao craft beer",
		Long: `Chocobrew records production batches of cacao craft beer, scores their
quality from eight measurements and publishes a QR-linked lookup page for
every bottle label.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newScoreCmd())
	return root
}
