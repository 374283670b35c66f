package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"xrayclient/internal/tui"
	pkgerrors "xrayclient/pkg/errors"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the interactive monitor for a running daemon",
	Long: `Attach to the daemon's event stream and show engine state, traffic
rates, update progress and the engine log. Profiles can be switched and
latency-tested from the Profiles tab.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		err := tui.Run(ctx, appInstance.APIClient(), tui.Deps{
			Profiles: appInstance.Storage,
			Selector: appInstance.Profiles,
			Tester:   appInstance.LatencyTester(ctx, 0, 0),
		})
		if errors.Is(err, pkgerrors.ErrDaemonUnreachable) {
			return fmt.Errorf("%w: start it with 'xrayclient run'", err)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
