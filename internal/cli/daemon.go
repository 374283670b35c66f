package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine supervisor and control API in the foreground",
	Long: `Install the bundled engine into the store, report versions, autostart
the current profile when it last ran cleanly and serve the control API
until interrupted. On exit the engine is stopped and the system proxy is
restored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen != "" {
			appInstance.Config.API.Listen = listen
		}

		daemon, err := appInstance.NewDaemon()
		if err != nil {
			return fmt.Errorf("failed to build daemon: %w", err)
		}
		return daemon.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().String("listen", "", "control API address (overrides api.listen)")
	rootCmd.AddCommand(runCmd)
}
