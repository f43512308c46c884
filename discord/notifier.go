package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/linkkeeper/linkstore"
)

// Notifier delivers link outcomes as direct messages.
type Notifier struct {
	api API
}

func NewNotifier(api API) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) Notify(ctx context.Context, externalID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := n.api.UserChannelCreate(externalID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	if _, err := n.api.ChannelMessageSend(ch, message); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

// RoleManager toggles the guild's verified role. The role id is read from the
// store on every call so !setrole takes effect without a restart.
type RoleManager struct {
	api     API
	store   linkstore.Store
	guildID string
	log     *slog.Logger
}

func NewRoleManager(api API, store linkstore.Store, guildID string, log *slog.Logger) *RoleManager {
	if log == nil {
		log = slog.Default()
	}
	return &RoleManager{api: api, store: store, guildID: strings.TrimSpace(guildID), log: log}
}

func (r *RoleManager) GrantRole(ctx context.Context, externalID string) error {
	roleID, err := r.roleID(ctx)
	if err != nil || roleID == "" {
		return err
	}
	return r.api.GuildMemberRoleAdd(r.guildID, externalID, roleID)
}

func (r *RoleManager) RevokeRole(ctx context.Context, externalID string) error {
	roleID, err := r.roleID(ctx)
	if err != nil || roleID == "" {
		return err
	}
	return r.api.GuildMemberRoleRemove(r.guildID, externalID, roleID)
}

func (r *RoleManager) roleID(ctx context.Context) (string, error) {
	if r.guildID == "" {
		return "", nil
	}
	cfg, ok, err := r.store.GetRoleConfig(ctx, r.guildID)
	if err != nil {
		return "", err
	}
	if !ok || cfg.VerifiedRoleID == "" {
		r.log.Debug("verified_role_unset", "guild_id", r.guildID)
		return "", nil
	}
	return cfg.VerifiedRoleID, nil
}
