package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quailyquaily/linkkeeper/internal/clifmt"
	"github.com/quailyquaily/linkkeeper/linking"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired pending links once and exit",
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

			maxAge := serviceConfigFromViper().Expiry
			n, err := linking.NewSweeper(st, time.Hour, maxAge, log).SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d expired pending link(s) removed\n", clifmt.Success("ok"), n)
			return nil
		},
	}
}
