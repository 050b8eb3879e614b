package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"blockfund/internal/domain"
	pgstore "blockfund/internal/storage/postgres"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded session journals (requires --postgres-dsn)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List journaled sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openJournalStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			sessions, err := store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range sessions {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	var since, until string
	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the entries of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openJournalStore(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			var entries []*domain.JournalEntry
			if since == "" && until == "" {
				entries, err = store.GetBySession(cmd.Context(), args[0])
			} else {
				var start, end int64
				if start, end, err = timeRange(since, until); err != nil {
					return err
				}
				entries, err = store.GetByTimeRange(cmd.Context(), args[0], start, end)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIME\tKIND\tNAME\tOUTCOME\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					e.Seq, time.UnixMilli(e.RecordedAt).UTC().Format(time.RFC3339),
					e.Kind, e.Name, e.Outcome, e.Detail)
			}
			return w.Flush()
		},
	}
	show.Flags().StringVar(&since, "since", "", "only entries recorded at or after this time (RFC3339)")
	show.Flags().StringVar(&until, "until", "", "only entries recorded at or before this time (RFC3339)")
	cmd.AddCommand(show)

	return cmd
}

func openJournalStore(cmd *cobra.Command) (*pgstore.JournalStore, func(), error) {
	if cfg.PostgresDSN == "" {
		return nil, nil, errors.New("--postgres-dsn is required")
	}
	pool, err := openJournalPool(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return pgstore.NewJournalStore(pool), pool.Close, nil
}

// timeRange parses optional RFC3339 bounds into a millisecond range.
func timeRange(since, until string) (int64, int64, error) {
	start, end := int64(0), time.Now().UnixMilli()
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return 0, 0, fmt.Errorf("--since: %w", err)
		}
		start = t.UnixMilli()
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return 0, 0, fmt.Errorf("--until: %w", err)
		}
		end = t.UnixMilli()
	}
	return start, end, nil
}
