package main

import (
	"github.com/spf13/cobra"

	"attestor/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	root      string
	policy    string
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "attestor",
	Short: "Inline provenance annotations with out-of-band certification records",
	Long: "Attestor tracks who or what composed each function, method and type,\n" +
		"how closely a human reviewed it, and whether the reviewed body has\n" +
		"drifted since certification.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(rootFlags.logLevel)
		if err != nil {
			return err
		}
		logging.Init(level, rootFlags.logFormat)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.root, "root", ".", "Repository root to operate on")
	pf.StringVar(&rootFlags.policy, "policy", "", "Policy file path (default: .attestor.yml under the root)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(certifyCmd)
	rootCmd.AddCommand(certifyAgentCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(enforceCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}
