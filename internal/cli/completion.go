package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"xrayclient/internal/app"
)

// ensureApp lazily initializes appInstance. Cobra may invoke
// ValidArgsFunction without running PersistentPreRunE.
func ensureApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}

	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")

	var err error
	appInstance, err = app.New(app.Options{
		ConfigPath: configPath,
		LogLevel:   logLevel,
		AppVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return nil
}

// completeProfileNames provides shell completion for profile names.
func completeProfileNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	profiles, err := appInstance.Storage.GetAllProfiles(context.Background())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, p := range profiles {
		if strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(toComplete)) {
			completions = append(completions, p.Name)
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}
