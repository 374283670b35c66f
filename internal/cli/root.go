package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xrayclient/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "xrayclient",
	Short: "Xray-core supervisor and control client",
	Long: `xrayclient runs Xray-core for the current profile, keeps its data files
up to date and exposes a local control API.

  Quick start:
    xrayclient profile import "vless://..."
    xrayclient run            # start the daemon
    xrayclient watch          # live status, speed and logs

  The daemon restarts the engine on every change, restores the system
  proxy on crash and reports traffic rates while a monitor is attached.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return ensureApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default ~/.config/xrayclient/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("xrayclient %s\n", version)
		engineVersion, err := appInstance.Engine.Version(context.Background())
		if err != nil {
			fmt.Printf("xray-core  not installed (%v)\n", err)
			return nil
		}
		fmt.Printf("xray-core  %s\n", engineVersion)
		return nil
	},
}
