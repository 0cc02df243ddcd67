package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every object of every class",
		Long: `Delete every stored object of every class declared in the config
file. Destructive; requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(rootOpts, yes, cmd)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the wipe")
	return cmd
}

func runClear(opts *RootOptions, yes bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if !yes {
		return WrapExitError(ExitCommandError, "clear", fmt.Errorf("refusing to wipe without --yes"))
	}

	ctx := cmd.Context()
	dep, err := LoadDeployment(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer dep.Adapter.Close(ctx)

	if err := dep.Adapter.ClearDatabase(ctx); err != nil {
		return formatter.Failure(ExitFailure, "clear "+dep.Config.Backend, err)
	}
	return formatter.Success("cleared "+dep.Config.Backend, map[string]string{"backend": dep.Config.Backend})
}
