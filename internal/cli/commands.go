package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"notisync/internal/app"
	"notisync/internal/config"
	"notisync/internal/notification"
	"notisync/pkg/systemd"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show notisyncd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "notisyncd %s (%s)\n", version, commit)
			return nil
		},
	}
}

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			a, err := app.New(f.configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				return err
			}
			_, _ = systemd.Ready()
			_, _ = systemd.Status("syncing")

			reason := app.StopAppStop
			select {
			case sig := <-sigCh:
				reason = app.StopSIGTERM
				if sig == os.Interrupt {
					reason = app.StopSIGINT
				}
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			stopErr := a.Stop(stopCtx, reason)
			if err := a.Err(); err != nil {
				return err
			}
			return stopErr
		},
	}
}

func newCheckCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(f.configPath).Parse()
			if err != nil {
				return err
			}
			res, err := cfg.Resolve()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", f.configPath)
			fmt.Fprintf(out, "  feed:     %s (token set: %v)\n", res.FeedBaseURL, res.FeedToken != "")
			fmt.Fprintf(out, "  push:     %s %s\n", res.PushTransport, res.PushURL)
			fmt.Fprintf(out, "  poll:     fast=%s slow=%s\n", res.PollFast, res.PollSlow)
			fmt.Fprintf(out, "  sources:  %d\n", len(res.Sources))
			fmt.Fprintf(out, "  api:      enabled=%v addr=%s\n", res.APIEnabled, res.APIAddr)
			return nil
		},
	}
}

func newPrefsCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change notification preferences on the running daemon",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print every preference key and its value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.client().Preferences(cmd.Context())
			if err != nil {
				return err
			}
			printPrefs(cmd, p)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set key=bool...",
		Short: "Update one or more preferences",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := parseAssignments(args)
			if err != nil {
				return err
			}
			p, err := f.client().SetPreferences(cmd.Context(), partial)
			if err != nil {
				return err
			}
			printPrefs(cmd, p)
			return nil
		},
	})
	return cmd
}

func newSoundCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "sound on|off",
		Short:     "Toggle the new-notification sound",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch strings.ToLower(args[0]) {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			if err := f.client().SetSound(cmd.Context(), enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sound %s\n", strings.ToLower(args[0]))
			return nil
		},
	}
}

func newStatusCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon status document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := f.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
}

// parseAssignments parses key=bool pairs against the known preference keys.
func parseAssignments(args []string) (map[string]bool, error) {
	known := make(map[string]bool, len(notification.PrefKeys))
	for _, k := range notification.PrefKeys {
		known[k] = true
	}
	out := make(map[string]bool, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=true|false)", a)
		}
		if !known[k] {
			return nil, fmt.Errorf("unknown preference %q", k)
		}
		b, err := parseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}

func printPrefs(cmd *cobra.Command, p map[string]bool) {
	keys := make([]string, 0, len(notification.PrefKeys))
	seen := map[string]bool{}
	for _, k := range notification.PrefKeys {
		keys = append(keys, k)
		seen[k] = true
	}
	var extra []string
	for k := range p {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	out := cmd.OutOrStdout()
	for _, k := range keys {
		v, ok := p[k]
		state := "on"
		if ok && !v {
			state = "off"
		}
		fmt.Fprintf(out, "%-22s %s\n", k, state)
	}
}
