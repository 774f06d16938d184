package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/sentinel/internal/spool"
)

// NewOutboxCommand creates the outbox command group
func NewOutboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay records that could not be delivered",
		Long: `Records that must not be lost (test results, experiment results,
validation and registration episodes, alerts) are spooled to a local
SQLite outbox when the store cannot be reached. These commands list and
replay them.`,
	}
	cmd.AddCommand(newOutboxListCommand())
	cmd.AddCommand(newOutboxDrainCommand())
	return cmd
}

func newOutboxListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending and buried records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.outbox == nil {
				return fmt.Errorf("spool is disabled")
			}

			dead, _ := cmd.Flags().GetBool("dead")
			var records []spool.Record
			if dead {
				records, err = env.outbox.DeadLetters(cmd.Context())
			} else {
				records, err = env.outbox.Pending(cmd.Context(), 0)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%6d  %-6s %-18s attempts=%d  queued %s", r.ID, r.Method, r.Endpoint, r.Attempts, r.CreatedAt.Local().Format(time.DateTime))
				if r.LastError != "" {
					fmt.Fprintf(out, "  last error: %s", r.LastError)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%d record(s)\n", len(records))
			return nil
		},
	}
	cmd.Flags().Bool("dead", false, "List buried records instead of pending ones")
	return cmd
}

func newOutboxDrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay pending records to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.outbox == nil {
				return fmt.Errorf("spool is disabled")
			}

			limit, _ := cmd.Flags().GetInt("limit")
			stats, err := env.reporter.Drain(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d, failed %d, buried %d, remaining %d\n",
				stats.Delivered, stats.Failed, stats.Buried, stats.Remaining)
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "Replay at most this many records (0 = all)")
	return cmd
}
