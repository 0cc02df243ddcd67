package cli

import (
	"github.com/spf13/cobra"
)

// MigrateResult holds the outcome of a migrate run.
type MigrateResult struct {
	Backend string   `json:"backend"`
	Classes []string `json:"classes"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Provision storage for every configured class",
		Long: `Create the physical container for each class declared in the
config file. Safe to run repeatedly; existing classes are left alone.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
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

	result := MigrateResult{Backend: dep.Config.Backend}
	for _, class := range dep.Registry.Classes() {
		formatter.VerboseLog("ensuring class %s", class.Name)
		if err := dep.Adapter.EnsureClass(ctx, class); err != nil {
			return formatter.Failure(ExitFailure, "migrate "+class.Name, err)
		}
		result.Classes = append(result.Classes, class.Name)
	}

	text := "migrated " + dep.Config.Backend
	for _, name := range result.Classes {
		text += "\n  " + name
	}
	return formatter.Success(text, result)
}
