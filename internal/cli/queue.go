package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the mutation queue",
		Long: `Inspect and manage queued writes.

list, failed, clear-failed and clear work on the local store only. retry and
drain connect to the remote. The local store must not be held open by a
running "offlinesync serve" when using an embedded engine.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending entries in processing order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				entries, err := f.PendingEntries(cmd.Context())
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).entries(entries)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "failed",
		Short: "List entries that will not be retried automatically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				entries, err := f.FailedEntries(cmd.Context())
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).entries(entries)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-failed",
		Short: "Discard every failed entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				n, err := f.ClearFailed(cmd.Context())
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).count("cleared", n)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard every queued entry, pending or failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				n, err := f.ClearQueue(cmd.Context())
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).count("cleared", n)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Move a failed entry back to pending and drain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid entry id", err)
			}
			collector := &reportCollector{}
			return withRemote(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				if _, err := f.Retry(cmd.Context(), id); err != nil {
					return err
				}
				report, err := drainNow(cmd.Context(), f, collector)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).report(report)
			}, offlinesync.WithObserver(collector))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Replay pending entries against the remote now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collector := &reportCollector{}
			return withRemote(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				report, err := drainNow(cmd.Context(), f, collector)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).report(report)
			}, offlinesync.WithObserver(collector))
		},
	})

	return cmd
}
