package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Harsh-BH/Sentinel/orchestrator/internal/config"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/ledger"
)

// newLedgerCmd groups the operator commands that inspect or edit the resume
// ledger between runs.
func newLedgerCmd(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or edit the resume ledger",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlag(config.KeyLedgerPath, cmd.Flags().Lookup(config.KeyLedgerPath)); err != nil {
				return err
			}
			config.BindEnv(v)
			if *configFile != "" {
				v.SetConfigFile(*configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("config: read %s: %w", *configFile, err)
				}
			}
			return nil
		},
	}
	cmd.PersistentFlags().String(config.KeyLedgerPath, "state/ledger.json", "resume ledger file")

	open := func() (*ledger.Ledger, error) {
		return ledger.Open(v.GetString(config.KeyLedgerPath), zap.NewNop())
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List recorded repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := open()
			if err != nil {
				return err
			}
			return printLedger(cmd.OutOrStdout(), l.Entries())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <repo-id>...",
		Short: "Forget repositories so the next run scans them again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := open()
			if err != nil {
				return err
			}
			n, err := l.Reset(args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d of %d repositories\n", n, len(args))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "quarantine <repo-id>...",
		Short: "Stop retrying timed-out repositories automatically",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := open()
			if err != nil {
				return err
			}
			if err := l.Quarantine(args...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "quarantined %d repositories\n", len(args))
			return nil
		},
	})
	return cmd
}

func printLedger(w io.Writer, entries []ledger.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tSTATUS\tATTEMPTS\tUPDATED\tQUARANTINED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%v\n",
			e.ID, e.Status, e.Attempts, e.UpdatedAt.UTC().Format(time.RFC3339), e.Quarantined)
	}
	return tw.Flush()
}
