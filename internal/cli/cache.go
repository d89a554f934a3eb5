package cli

import (
	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage locally cached records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show record counts and queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				stats, err := f.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).stats(stats)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list <collection>",
		Short: "List cached records of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				records, err := f.List(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).records(records)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove records whose retention has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				n, err := f.CleanExpired(cmd.Context())
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).count("removed", n)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <collection>",
		Short: "Drop cached records of a collection; records with queued writes are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				n, err := f.ClearCache(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).count("removed", n)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prefetch <collection> [id...]",
		Short: "Cache documents from the remote; with no ids the whole collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRemote(cmd.Context(), rootOpts, func(f *offlinesync.Facade) error {
				n, err := f.Prefetch(cmd.Context(), args[0], args[1:]...)
				if err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd.OutOrStdout()).count("stored", n)
			})
		},
	})

	return cmd
}
