package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/linkkeeper/internal/clifmt"
	"github.com/spf13/cobra"
)

func newModCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mod",
		Short: "Manage link moderators",
	}

	var grantedBy string
	grant := &cobra.Command{
		Use:   "grant <externalID>",
		Short: "Allow an identity to force links and set the verified role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(false); err != nil {
				return err
			}
			log := slog.Default()
			st, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeStore(st, log)
			if err := offlineService(st, log).GrantModerator(cmd.Context(), args[0], grantedBy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is a moderator\n", clifmt.Success("ok"), args[0])
			return nil
		},
	}
	grant.Flags().StringVar(&grantedBy, "by", "cli", "recorded as the granting identity")

	revoke := &cobra.Command{
		Use:   "revoke <externalID>",
		Short: "Remove a moderator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(false); err != nil {
				return err
			}
			log := slog.Default()
			st, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeStore(st, log)
			removed, err := offlineService(st, log).RevokeModerator(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s was not a moderator\n", clifmt.Warn("noop"), args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s revoked\n", clifmt.Success("ok"), args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List moderators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(false); err != nil {
				return err
			}
			log := slog.Default()
			st, err := openStore(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeStore(st, log)
			mods, err := offlineService(st, log).ListModerators(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, clifmt.Headerf("Moderators (%d)", len(mods)))
			for _, m := range mods {
				when := time.Unix(m.CreatedAt, 0).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%s %s\n", m.ExternalID, clifmt.Dim("by "+m.GrantedBy+" at "+when))
			}
			return nil
		},
	}

	cmd.AddCommand(grant, revoke, list)
	return cmd
}
