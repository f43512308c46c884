package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quailyquaily/linkkeeper/discord"
	"github.com/quailyquaily/linkkeeper/linking"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot and the expiry sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfig(true); err != nil {
				return err
			}
			log := slog.Default()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, log)
			if err != nil {
				return err
			}
			defer closeStore(st, log)

			session, err := discord.NewSession(strings.TrimSpace(viper.GetString("discord.token")))
			if err != nil {
				return fmt.Errorf("discord session: %w", err)
			}
			guildID := strings.TrimSpace(viper.GetString("discord.guild_id"))
			api := discord.NewAPI(session)
			game := gameAPIFromViper()

			svc := linking.NewService(linking.Deps{
				Store:    st,
				Resolver: game,
				Profiles: game,
				Notifier: discord.NewNotifier(api),
				Roles:    discord.NewRoleManager(api, st, guildID, log),
				Log:      log,
			}, serviceConfigFromViper())

			sweeper := linking.NewSweeper(st, sweepIntervalFromViper(), svc.Expiry(), log)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			bot := discord.NewBot(session, discord.NewCommandHandler(api, svc, st, guildID, log), log)
			if err := bot.Start(); err != nil {
				return fmt.Errorf("discord connect: %w", err)
			}
			log.Info("serve_started", "store", st.Backend(), "guild_id", guildID, "expiry", svc.Expiry().String())

			<-ctx.Done()
			log.Info("serve_stopping")
			bot.Stop()
			return nil
		},
	}
}
