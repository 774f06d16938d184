package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for sentinel
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Quality assurance control for multi-agent workflows",
		Long: `Sentinel gates task assignment by validating agents, exercises workflows
through unit, integration and property-based tests, injects failures and
measures recovery, monitors the host and raises alerts, and scores
workflow quality from the results persisted in the analytics store.

Configuration is loaded from .sentinel/config.yaml if present.
CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	addGlobalFlags(cmd)

	cmd.AddCommand(NewGateCommand())
	cmd.AddCommand(NewTestCommand())
	cmd.AddCommand(NewChaosCommand())
	cmd.AddCommand(NewMonitorCommand())
	cmd.AddCommand(NewScoreCommand())
	cmd.AddCommand(NewDevStoreCommand())
	cmd.AddCommand(NewOutboxCommand())

	return cmd
}
