package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"xrayclient/internal/api"
	"xrayclient/internal/core/types"
	"xrayclient/internal/events"
	pkgerrors "xrayclient/pkg/errors"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start (or restart) the engine with the current profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := appInstance.APIClient().Start(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Engine started (PID %d, profile %s)\n", st.PID, st.Profile)
		printListeners(st)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the engine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.APIClient().Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Engine stopped.")
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply -f <file>",
	Short: "Apply general, log and rule settings to the current profile",
	Long: `Replace the general, log and rules sections of the current profile with
the contents of a JSON or YAML file and restart the engine.

When no daemon is running the profile is only saved; the next start
uses it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		req, err := readApplyFile(file)
		if err != nil {
			return err
		}

		st, err := appInstance.APIClient().Apply(cmd.Context(), *req)
		if errors.Is(err, pkgerrors.ErrDaemonUnreachable) {
			return applyOffline(cmd.Context(), req)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Changes have been applied (profile %s, PID %d).\n", st.Profile, st.PID)
		printListeners(st)
		return nil
	},
}

// readApplyFile accepts JSON or YAML. Both are decoded generically and
// re-encoded as JSON so field names follow the JSON layout.
func readApplyFile(path string) (*api.ApplyRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var req api.ApplyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &req, nil
}

func applyOffline(ctx context.Context, req *api.ApplyRequest) error {
	profile, err := appInstance.Profiles.Current(ctx)
	if err != nil {
		return err
	}
	profile.General = req.General
	profile.Log.Level = req.Log.Level
	profile.Rules = req.Rules
	if err := profile.Validate(); err != nil {
		return &pkgerrors.ProfileError{ProfileID: profile.ID, Name: profile.Name, Err: fmt.Errorf("%w: %v", pkgerrors.ErrProfileInvalid, err)}
	}
	profile.StartedSuccessfully = true
	if err := appInstance.Profiles.Save(ctx, profile); err != nil {
		return err
	}
	fmt.Printf("Daemon is not running; saved to profile %s. It starts with 'xrayclient run'.\n", profile.Name)
	return nil
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Download fresh geo data and upgrade the engine binary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := appInstance.APIClient()
		wait, _ := cmd.Flags().GetBool("wait")

		if !wait {
			if err := client.Update(ctx); err != nil {
				return err
			}
			fmt.Println("Update started.")
			return nil
		}

		stream, err := client.Events(ctx)
		if err != nil {
			return err
		}
		defer stream.Close()

		if err := client.Update(ctx); err != nil {
			return err
		}
		return followUpdate(stream)
	},
}

// followUpdate prints progress until the session that was just started
// ends. The retained state of an earlier session is skipped.
func followUpdate(stream *api.EventStream) error {
	started := false
	for {
		ev, err := stream.Next()
		if err != nil {
			return fmt.Errorf("event stream closed: %w", err)
		}
		if ev.Kind != events.KindUpdateProgress {
			continue
		}

		var session types.UpdateSession
		if err := ev.Decode(&session); err != nil {
			return err
		}
		if session.Running {
			started = true
		}
		if !started {
			continue
		}

		fmt.Printf("\rUpdating... %3.0f%%", session.Progress)
		if !session.End {
			continue
		}
		fmt.Println()
		if session.Err != "" {
			return fmt.Errorf("update failed: %s", session.Err)
		}
		fmt.Printf("Update complete (geo data: %v, engine upgraded: %v).\n", session.GeoIP, session.Xray)
		return nil
	}
}

var uuidCmd = &cobra.Command{
	Use:   "uuid",
	Short: "Generate an identity with the engine",
	Long: `Generate a UUID with the engine's uuid command. A seed shorter than 30
characters derives a stable UUID from it; longer seeds are ignored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, _ := cmd.Flags().GetString("seed")
		copyOut, _ := cmd.Flags().GetBool("copy")

		id, err := appInstance.APIClient().Identity(cmd.Context(), seed)
		if errors.Is(err, pkgerrors.ErrDaemonUnreachable) {
			id, err = localUUID(cmd.Context(), seed)
		}
		if err != nil {
			return err
		}

		fmt.Println(id)
		if copyOut {
			if err := clipboard.WriteAll(id); err != nil {
				return fmt.Errorf("failed to copy to clipboard: %w", err)
			}
			fmt.Fprintln(os.Stderr, "Copied to clipboard.")
		}
		return nil
	},
}

// localUUID runs the installed engine directly when no daemon is up.
func localUUID(ctx context.Context, seed string) (string, error) {
	if len([]rune(seed)) >= 30 {
		seed = ""
	}
	out, err := appInstance.Engine.UUID(ctx, seed)
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(strings.TrimSpace(out))
	if err != nil {
		return "", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidIdentity, out)
	}
	return id.String(), nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, engine and update status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		view, err := appInstance.APIClient().Status(ctx)
		if errors.Is(err, pkgerrors.ErrDaemonUnreachable) {
			fmt.Println("Daemon:     ○ not running")
			if profile, perr := appInstance.Profiles.Current(ctx); perr == nil {
				fmt.Printf("Profile:    %s (ID: %d)\n", profile.Name, profile.ID)
				fmt.Printf("Autostart:  %v\n", profile.StartedSuccessfully)
			}
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Println("Status")
		fmt.Println("══════")
		fmt.Println()
		st := view.Engine
		if st.Running {
			fmt.Printf("Engine:     ● %s (PID %d, generation %d)\n", st.State, st.PID, st.Generation)
			fmt.Printf("Profile:    %s\n", st.Profile)
			printListeners(&st)
			fmt.Printf("Uptime:     %s\n", st.Uptime)
		} else {
			fmt.Printf("Engine:     ○ %s\n", st.State)
		}
		if v := view.Version; v != nil {
			fmt.Printf("Versions:   app %s, xray-core %s\n", v.AppVersion, v.XrayVersion)
			if !v.GeoLastUpdate.IsZero() {
				fmt.Printf("Geo data:   %s (%s ago)\n", v.GeoLastUpdate.Format(time.RFC3339),
					units.HumanDuration(time.Since(v.GeoLastUpdate)))
			}
		}
		if s := view.Speed; s != nil && st.Running {
			fmt.Printf("Speed:      ↑ %s  ↓ %s\n", formatRate(s.Up), formatRate(s.Down))
		}
		if u := view.Update; u.Running {
			fmt.Printf("Update:     running, %.0f%%\n", u.Progress)
		} else if u.End && u.Err != "" {
			fmt.Printf("Update:     last session failed on %s\n", u.Err)
		}
		fmt.Printf("Monitors:   %d (visible: %v)\n", view.Watchers, view.Visible)
		return nil
	},
}

var proxyCmd = &cobra.Command{
	Use:       "proxy <on|off>",
	Short:     "Point the system proxy at the engine, or release it",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		enabled := args[0] == "on"

		err := appInstance.APIClient().SetProxy(ctx, enabled)
		if errors.Is(err, pkgerrors.ErrDaemonUnreachable) {
			profile, perr := appInstance.Profiles.Current(ctx)
			if perr != nil {
				return perr
			}
			profile.Proxies.Enabled = enabled
			if perr := appInstance.Profiles.Save(ctx, profile); perr != nil {
				return perr
			}
			fmt.Printf("Daemon is not running; system proxy will be %s on next start.\n", args[0])
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("System proxy %s.\n", args[0])
		return nil
	},
}

func printListeners(st *types.Status) {
	if st.HTTP != "" {
		fmt.Printf("HTTP:       %s\n", st.HTTP)
	}
	if st.Socks != "" {
		fmt.Printf("SOCKS5:     %s\n", st.Socks)
	}
}

func formatRate(v *float64) string {
	if v == nil {
		return "-"
	}
	return units.HumanSize(*v) + "/s"
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "JSON or YAML file with general, log and rules")
	_ = applyCmd.MarkFlagRequired("file")

	updateCmd.Flags().Bool("wait", true, "follow progress until the session ends")

	uuidCmd.Flags().StringP("seed", "i", "", "derive the UUID from this seed")
	uuidCmd.Flags().Bool("copy", false, "copy the UUID to the clipboard")

	rootCmd.AddCommand(startCmd, stopCmd, applyCmd, updateCmd, uuidCmd, statusCmd, proxyCmd)
}
