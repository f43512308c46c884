package main

import (
	"fmt"
	"log/slog"

	"github.com/quailyquaily/linkkeeper/internal/clifmt"
	"github.com/spf13/cobra"
)

func newForceLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forcelink <externalID> <usernameOrID>",
		Short: "Bind an identity to a game account without a challenge",
		Args:  cobra.ExactArgs(2),
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

			res, err := offlineService(st, log).AdminManualLink(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s linked to game account %d\n", clifmt.Success("ok"), args[0], res.SubjectID)
			return nil
		},
	}
}
