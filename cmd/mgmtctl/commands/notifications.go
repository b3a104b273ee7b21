package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mgmtcore/pkg/stores"
)

func newNotificationsCommand() *cobra.Command {
	var (
		resource string
		typ      string
		limit    int
		follow   bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List journaled notifications",
		Example: `  # Show the journal of one subtree
  mgmtctl notifications --resource /server=main

  # Follow attribute changes
  mgmtctl notifications --type ATTRIBUTE_VALUE_CHANGED --follow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			filter := stores.NotificationFilter{Resource: resource, Type: typ, Limit: limit}
			last, err := printNotifications(ctx, cmd.OutOrStdout(), store, filter)
			if err != nil || !follow {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					filter.AfterID = last
					if last, err = printNotifications(ctx, cmd.OutOrStdout(), store, filter); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&resource, "resource", "r", "", "only notifications emitted at or below this address")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "only notifications of this type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of notifications per query")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new notifications")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "polling interval with --follow")

	return cmd
}

// printNotifications prints the records matching filter in wire form and
// returns the highest ID seen, or filter.AfterID when nothing matched.
func printNotifications(ctx context.Context, w io.Writer, store *stores.SQLiteStore, filter stores.NotificationFilter) (int64, error) {
	records, err := store.ListNotifications(ctx, filter)
	if err != nil {
		return filter.AfterID, err
	}
	last := filter.AfterID
	for _, rec := range records {
		n, err := rec.Notification()
		if err != nil {
			return last, fmt.Errorf("notification %d: %w", rec.ID, err)
		}
		data, err := json.Marshal(n)
		if err != nil {
			return last, err
		}
		fmt.Fprintf(w, "%s\n", data)
		if rec.ID > last {
			last = rec.ID
		}
	}
	return last, nil
}

func newAuditCommand() *cobra.Command {
	var (
		operation string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail of submitted operations",
		Example: `  # Last 20 operations
  mgmtctl audit --limit 20

  # Only write-attribute operations
  mgmtctl audit --operation write-attribute`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var filter *string
			if operation != "" {
				filter = &operation
			}
			entries, err := store.ListAuditEntries(ctx, filter, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printValue(cmd.OutOrStdout(), entries)
			}

			w := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(w, "%s  %-7s  %s %s  [%s]", e.Timestamp.Format(time.RFC3339), e.Outcome,
					e.Operation, e.Address, e.Duration.Round(time.Microsecond))
				if e.Principal != nil {
					fmt.Fprintf(w, "  by %s", *e.Principal)
				}
				fmt.Fprintln(w)
				if e.Failure != nil {
					fmt.Fprintf(w, "    %s\n", *e.Failure)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&operation, "operation", "", "only entries for this operation name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of entries to skip")

	return cmd
}
