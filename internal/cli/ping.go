package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// PingResult holds the outcome of a connectivity check.
type PingResult struct {
	Backend string `json:"backend"`
	Elapsed string `json:"elapsed"`
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ping",
		Short:         "Check backend connectivity",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(rootOpts, cmd)
		},
	}
}

func runPing(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx := cmd.Context()
	dep, err := LoadDeployment(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}
	defer dep.Adapter.Close(ctx)

	start := time.Now()
	if err := dep.Adapter.Connect(ctx); err != nil {
		return formatter.Failure(ExitFailure, "ping "+dep.Config.Backend, err)
	}
	elapsed := time.Since(start)

	result := PingResult{Backend: dep.Config.Backend, Elapsed: elapsed.String()}
	return formatter.Success("ok "+dep.Config.Backend+" ("+result.Elapsed+")", result)
}
