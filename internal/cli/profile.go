package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"xrayclient/internal/config/parser"
	"xrayclient/internal/latency"
	"xrayclient/internal/storage/models"
	pkgerrors "xrayclient/pkg/errors"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Aliases: []string{"profiles"},
	Short:   "Manage connection profiles",
	Long:    "Create, import, select, test and remove connection profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		current, err := appInstance.Profiles.Current(ctx)
		if err != nil {
			return err
		}
		profiles, err := appInstance.Storage.GetAllProfiles(ctx)
		if err != nil {
			return fmt.Errorf("failed to get profiles: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tNAME\tADDRESS\tNETWORK\tSECURITY\tLATENCY")
		fmt.Fprintln(w, "\t--\t----\t-------\t-------\t--------\t-------")
		for _, p := range profiles {
			marker := ""
			if p.ID == current.ID {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
				marker, p.ID, p.Name, endpoint(p), p.General.Network, orDash(p.General.Security),
				latencyLabel(ctx, p.ID))
		}
		w.Flush()

		fmt.Printf("\nTotal: %d profiles\n", len(profiles))
		return nil
	},
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a profile",
	Long: `Create a profile from flags. Settings not given keep their defaults
(tcp, no security, HTTP 1081, SOCKS 1080). Use --from-current to copy the
current profile instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fromCurrent, _ := cmd.Flags().GetBool("from-current")

		profile := &models.Profile{Name: args[0], ProfileData: models.DefaultProfileData()}
		if fromCurrent {
			current, err := appInstance.Profiles.Current(ctx)
			if err != nil {
				return err
			}
			profile.ProfileData = current.ProfileData
			profile.StartedSuccessfully = false
		}
		if err := applyGeneralFlags(cmd, &profile.General); err != nil {
			return err
		}

		if err := appInstance.Storage.CreateProfile(ctx, profile); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		fmt.Printf("Profile created: %s (ID: %d)\n", profile.Name, profile.ID)
		return nil
	},
}

var profileImportCmd = &cobra.Command{
	Use:   "import <uri>",
	Short: "Import a profile from a vless:// share link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		profile, err := parser.Parse(args[0])
		if err != nil {
			return fmt.Errorf("failed to parse URI: %w", err)
		}
		if name, _ := cmd.Flags().GetString("name"); name != "" {
			profile.Name = name
		}

		if err := appInstance.Storage.CreateProfile(ctx, profile); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		fmt.Printf("Profile imported!\n\n")
		fmt.Printf("  ID:        %d\n", profile.ID)
		fmt.Printf("  Name:      %s\n", profile.Name)
		fmt.Printf("  Address:   %s\n", endpoint(profile))
		fmt.Printf("  Network:   %s\n", profile.General.Network)
		fmt.Printf("  Security:  %s\n", orDash(profile.General.Security))

		if use, _ := cmd.Flags().GetBool("use"); use {
			return selectProfile(ctx, profile)
		}
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:               "use <id-or-name>",
	Short:             "Make a profile current and restart the engine with it",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		profile, err := appInstance.Profiles.Resolve(ctx, args[0])
		if err != nil {
			return fmt.Errorf("profile not found: %s", args[0])
		}
		return selectProfile(ctx, profile)
	},
}

// selectProfile switches the current profile and restarts a running engine.
func selectProfile(ctx context.Context, profile *models.Profile) error {
	if _, err := appInstance.Profiles.Select(ctx, profile.ID); err != nil {
		return err
	}
	fmt.Printf("Current profile: %s\n", profile.Name)

	client := appInstance.APIClient()
	view, err := client.Status(ctx)
	if errors.Is(err, pkgerrors.ErrDaemonUnreachable) {
		return nil
	}
	if err != nil {
		return err
	}
	if !view.Engine.Running {
		return nil
	}
	if _, err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to restart engine: %w", err)
	}
	fmt.Println("Engine restarted.")
	return nil
}

var profileShowCmd = &cobra.Command{
	Use:               "show [id-or-name]",
	Short:             "Show profile details (current profile by default)",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		profile, err := resolveProfile(ctx, args)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(profile)
		}

		g := profile.General
		fmt.Printf("Profile Details\n")
		fmt.Printf("═══════════════\n\n")
		fmt.Printf("ID:           %d\n", profile.ID)
		fmt.Printf("Name:         %s\n", profile.Name)
		fmt.Printf("Address:      %s\n", endpoint(profile))
		fmt.Printf("Network:      %s\n", g.Network)
		fmt.Printf("Security:     %s\n", orDash(g.Security))
		if g.WSPath != "" {
			fmt.Printf("WS Path:      %s\n", g.WSPath)
		}
		fmt.Printf("Listeners:    HTTP %d, SOCKS %d (LAN: %v)\n", g.LocalProxy.HTTP, g.LocalProxy.Socks, g.LocalProxy.LANEnabled)
		fmt.Printf("Log Level:    %s\n", profile.Log.Level)
		fmt.Printf("Sys Proxy:    %v\n", profile.Proxies.Enabled)
		fmt.Printf("Autostart:    %v\n", profile.StartedSuccessfully)
		if profile.LastUsed != nil {
			fmt.Printf("Last Used:    %s\n", profile.LastUsed.Format(time.RFC3339))
		}
		fmt.Printf("Created:      %s\n", profile.CreatedAt.Format(time.RFC3339))

		if l, err := appInstance.Storage.GetLatestLatency(ctx, profile.ID); err == nil && l != nil {
			fmt.Printf("\nLatest Latency Test:\n")
			if l.Success && l.LatencyMS != nil {
				fmt.Printf("  Latency:    %d ms\n", *l.LatencyMS)
			} else {
				fmt.Printf("  Status:     Failed\n")
				if l.ErrorMessage != "" {
					fmt.Printf("  Error:      %s\n", l.ErrorMessage)
				}
			}
			fmt.Printf("  Tested:     %s\n", l.TestedAt.Format(time.RFC3339))
		}

		if g.Address != "" && g.ID != "" {
			fmt.Printf("\nURI:\n%s\n", parser.EncodeVLESS(profile))
		}
		return nil
	},
}

var profilePingCmd = &cobra.Command{
	Use:               "ping [id-or-name]",
	Short:             "Test TCP latency to profile endpoints",
	Long:              "Test the current profile, a named one, or every profile with --all.",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		all, _ := cmd.Flags().GetBool("all")
		workers, _ := cmd.Flags().GetInt64("workers")
		timeoutMS, _ := cmd.Flags().GetInt64("timeout")

		tester := appInstance.LatencyTester(ctx, workers, time.Duration(timeoutMS)*time.Millisecond)

		if !all {
			profile, err := resolveProfile(ctx, args)
			if err != nil {
				return err
			}
			fmt.Printf("Testing %s (%s)... ", profile.Name, endpoint(profile))
			result := tester.TestSingle(ctx, profile)
			if result.Latency.Success {
				fmt.Printf("%d ms\n", *result.Latency.LatencyMS)
			} else {
				fmt.Printf("FAILED (%s)\n", result.Latency.ErrorMessage)
			}
			return nil
		}

		profiles, err := appInstance.Storage.GetAllProfiles(ctx)
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("No profiles found.")
			return nil
		}

		fmt.Printf("Testing %d profiles...\n\n", len(profiles))
		batch := tester.TestBatch(ctx, profiles, func(r *latency.TestResult, current, total int) {
			status := "FAILED"
			if r.Latency.Success {
				status = fmt.Sprintf("%d ms", *r.Latency.LatencyMS)
			}
			fmt.Printf("  [%d/%d] %-30s %s\n", current, total, r.Profile.Name, status)
		})

		fmt.Printf("\nResults (sorted by latency):\n")
		fmt.Println(strings.Repeat("─", 60))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tNAME\tADDRESS\tLATENCY")
		for i, r := range batch.Results {
			lat := "FAILED"
			if r.Latency.Success {
				lat = fmt.Sprintf("%d ms", *r.Latency.LatencyMS)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, r.Profile.Name, endpoint(r.Profile), lat)
		}
		w.Flush()
		fmt.Printf("\n%d succeeded, %d failed in %s\n", batch.Succeeded, batch.Failed, batch.Duration.Round(time.Millisecond))
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:               "remove <id-or-name>",
	Aliases:           []string{"rm", "delete"},
	Short:             "Delete a profile",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProfileNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		profile, err := appInstance.Profiles.Resolve(ctx, args[0])
		if err != nil {
			return fmt.Errorf("profile not found: %s", args[0])
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			fmt.Printf("Delete profile '%s' (ID: %d)? [y/N]: ", profile.Name, profile.ID)
			answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			answer = strings.ToLower(strings.TrimSpace(answer))
			if answer != "y" && answer != "yes" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := appInstance.Profiles.Remove(ctx, profile.ID); err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		fmt.Printf("Profile deleted: %s\n", profile.Name)
		return nil
	},
}

func resolveProfile(ctx context.Context, args []string) (*models.Profile, error) {
	if len(args) == 0 {
		return appInstance.Profiles.Current(ctx)
	}
	profile, err := appInstance.Profiles.Resolve(ctx, args[0])
	if err != nil {
		return nil, fmt.Errorf("profile not found: %s", args[0])
	}
	return profile, nil
}

// applyGeneralFlags copies the connection flags that were set onto g.
func applyGeneralFlags(cmd *cobra.Command, g *models.General) error {
	flags := cmd.Flags()
	if flags.Changed("address") {
		g.Address, _ = flags.GetString("address")
	}
	if flags.Changed("port") {
		g.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("id") {
		g.ID, _ = flags.GetString("id")
	}
	if flags.Changed("network") {
		g.Network, _ = flags.GetString("network")
	}
	if flags.Changed("security") {
		g.Security, _ = flags.GetString("security")
	}
	if flags.Changed("ws-path") {
		g.WSPath, _ = flags.GetString("ws-path")
	}
	if flags.Changed("http-port") {
		g.LocalProxy.HTTP, _ = flags.GetInt("http-port")
	}
	if flags.Changed("socks-port") {
		g.LocalProxy.Socks, _ = flags.GetInt("socks-port")
	}
	if flags.Changed("lan") {
		g.LocalProxy.LANEnabled, _ = flags.GetBool("lan")
	}
	if g.LocalProxy.HTTP == g.LocalProxy.Socks {
		return fmt.Errorf("http and socks ports must differ")
	}
	return nil
}

func endpoint(p *models.Profile) string {
	if p.General.Address == "" {
		return "-"
	}
	return fmt.Sprintf("%s:%d", p.General.Address, p.General.Port)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func latencyLabel(ctx context.Context, profileID int64) string {
	l, err := appInstance.Storage.GetLatestLatency(ctx, profileID)
	if err != nil || l == nil {
		return "-"
	}
	if l.Success && l.LatencyMS != nil {
		return fmt.Sprintf("%d ms", *l.LatencyMS)
	}
	return "failed"
}

func init() {
	profileCreateCmd.Flags().Bool("from-current", false, "copy the current profile")
	profileCreateCmd.Flags().String("address", "", "remote server address")
	profileCreateCmd.Flags().Int("port", 443, "remote server port")
	profileCreateCmd.Flags().String("id", "", "identity (UUID)")
	profileCreateCmd.Flags().String("network", "tcp", "transport network (tcp, ws, ...)")
	profileCreateCmd.Flags().String("security", "", "transport security (tls, xtls)")
	profileCreateCmd.Flags().String("ws-path", "", "websocket path")
	profileCreateCmd.Flags().Int("http-port", 1081, "local HTTP listener port")
	profileCreateCmd.Flags().Int("socks-port", 1080, "local SOCKS listener port")
	profileCreateCmd.Flags().Bool("lan", false, "expose the listeners on the LAN")

	profileImportCmd.Flags().String("name", "", "profile name (defaults to the link remark)")
	profileImportCmd.Flags().Bool("use", false, "make the imported profile current")

	profileShowCmd.Flags().Bool("json", false, "print the stored document as JSON")

	profilePingCmd.Flags().Bool("all", false, "test every profile")
	profilePingCmd.Flags().Int64("workers", 0, "parallel tests (default from settings, else 10)")
	profilePingCmd.Flags().Int64("timeout", 0, "timeout per test in ms (default from settings, else 5000)")

	profileRemoveCmd.Flags().BoolP("yes", "y", false, "skip confirmation")

	profileCmd.AddCommand(profileListCmd, profileCreateCmd, profileImportCmd, profileUseCmd,
		profileShowCmd, profilePingCmd, profileRemoveCmd)
	rootCmd.AddCommand(profileCmd)
}
