package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicelink/internal/settings"
	"github.com/MrWong99/voicelink/pkg/backend"
)

func newSettingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the credentials sent to the backend",
		Long: `Manage the per-session credentials.

Credentials are kept in a local file readable only by you and pushed to the
backend for the session before streaming. Known names:
  ` + strings.Join(backend.CredentialNames, "\n  "),
	}
	cmd.AddCommand(
		newSettingsGetCmd(a),
		newSettingsSetCmd(a),
		newSettingsSyncCmd(a),
	)
	return cmd
}

func newSettingsGetCmd(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show which credentials are set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var set []string
			if remote {
				names, err := a.client.GetSettings(cmd.Context(), a.sessionID)
				if err != nil {
					return err
				}
				set = names
			} else {
				set = settings.Names(a.creds)
			}
			out := cmd.OutOrStdout()
			for _, name := range knownNames(set) {
				state := "not set"
				if slices.Contains(set, name) {
					state = "set"
				}
				fmt.Fprintf(out, "%-20s %s\n", name, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the backend for the session's settings instead of the local store")
	return cmd
}

func newSettingsSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME=VALUE...",
		Short: "Store credentials locally (an empty value removes one)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				name, value, ok := strings.Cut(arg, "=")
				name = strings.TrimSpace(name)
				if !ok || name == "" {
					return fmt.Errorf("invalid assignment %q, want NAME=VALUE", arg)
				}
				if err := a.creds.Set(name, value); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved to %s\n", a.creds.Path())
			return nil
		},
	}
}

func newSettingsSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push the stored credentials to the backend for the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := settings.Sync(cmd.Context(), a.creds, a.client, a.sessionID)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s: no credentials set\n", a.sessionID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", a.sessionID, strings.Join(names, ", "))
			return nil
		},
	}
}

// knownNames returns the backend's credential names followed by any extra
// names in set, sorted.
func knownNames(set []string) []string {
	names := slices.Clone(backend.CredentialNames)
	for _, n := range set {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
