package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or check the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration after file and environment layering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := offlinesync.LoadConfig(rootOpts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if rootOpts.Format == "json" {
				return newPrinter(rootOpts, cmd.OutOrStdout()).json(cfg)
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without opening anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := offlinesync.LoadConfig(rootOpts.ConfigPath); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return err
		},
	})

	return cmd
}
