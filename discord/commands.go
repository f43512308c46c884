package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/quailyquaily/linkkeeper/linking"
	"github.com/quailyquaily/linkkeeper/linkstore"
)

const (
	ConfirmEmoji   = "✅"
	commandTimeout = 15 * time.Second
)

// Message is the part of an incoming chat message the handler reads.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	AuthorID  string
	Content   string
}

// Reaction is an emoji added to a message.
type Reaction struct {
	UserID    string
	ChannelID string
	MessageID string
	Emoji     string
}

type challengeRef struct {
	externalID string
	expiresAt  time.Time
}

// CommandHandler answers prefix commands and confirmation reactions.
type CommandHandler struct {
	api     API
	svc     *linking.Service
	store   linkstore.Store
	guildID string
	log     *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	challenges map[string]challengeRef
}

func NewCommandHandler(api API, svc *linking.Service, store linkstore.Store, guildID string, log *slog.Logger) *CommandHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CommandHandler{
		api:        api,
		svc:        svc,
		store:      store,
		guildID:    strings.TrimSpace(guildID),
		log:        log,
		now:        time.Now,
		challenges: make(map[string]challengeRef),
	}
}

// parseCommand splits "!name arg1 arg2". ok is false for non-command text.
func parseCommand(content string) (name string, args []string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!") {
		return "", nil, false
	}
	parts := strings.Fields(content)
	name = strings.ToLower(strings.TrimPrefix(parts[0], "!"))
	if name == "" {
		return "", nil, false
	}
	return name, parts[1:], true
}

// parseUserID accepts a mention (<@123>, <@!123>) or a bare snowflake.
func parseUserID(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<@") && strings.HasSuffix(arg, ">") {
		arg = strings.TrimPrefix(strings.TrimSuffix(strings.TrimPrefix(arg, "<@"), ">"), "!")
	}
	if arg == "" {
		return "", false
	}
	for _, r := range arg {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return arg, true
}

// Handle dispatches one message. Unknown commands are ignored.
func (h *CommandHandler) Handle(ctx context.Context, m Message) {
	name, args, ok := parseCommand(m.Content)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch name {
	case "link":
		h.cmdLink(ctx, m, args)
	case "verify":
		h.cmdVerify(ctx, m.ChannelID, m.AuthorID)
	case "unlink":
		h.cmdUnlink(ctx, m)
	case "status":
		h.cmdStatus(ctx, m)
	case "forcelink":
		h.cmdForceLink(ctx, m, args)
	case "setrole":
		h.cmdSetRole(ctx, m, args)
	case "mod":
		h.cmdMod(ctx, m, args)
	case "help":
		h.reply(m.ChannelID, helpText)
	}
}

// HandleReaction treats a confirm emoji on a challenge message as !verify
// from the user the challenge was issued to.
func (h *CommandHandler) HandleReaction(ctx context.Context, r Reaction) {
	if r.Emoji != ConfirmEmoji {
		return
	}
	h.mu.Lock()
	ref, ok := h.challenges[r.MessageID]
	h.mu.Unlock()
	if !ok || ref.externalID != r.UserID {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	h.cmdVerify(ctx, r.ChannelID, r.UserID)
}

const helpText = "Commands:\n" +
	"`!link <username or id>` start linking your game account\n" +
	"`!verify` check your profile for the code (or react " + ConfirmEmoji + ")\n" +
	"`!unlink` remove your link\n" +
	"`!status` show your link state\n" +
	"`!forcelink <@user> <username or id>` moderators only\n" +
	"`!setrole <roleID>` moderators only\n" +
	"`!mod add|remove <@user>` administrators only"

func (h *CommandHandler) cmdLink(ctx context.Context, m Message, args []string) {
	if len(args) != 1 {
		h.reply(m.ChannelID, "Usage: `!link <username or id>`")
		return
	}
	ch, err := h.svc.InitiateLink(ctx, m.AuthorID, args[0])
	if err != nil {
		h.replyErr(m.ChannelID, "link", err)
		return
	}
	text := fmt.Sprintf("Put **%s** anywhere in the About section of game account %d, then type `!verify` or react %s to this message. The code expires in %s.",
		ch.Code, ch.SubjectID, ConfirmEmoji, h.svc.Expiry().Round(time.Minute))
	msgID, err := h.api.ChannelMessageSend(m.ChannelID, text)
	if err != nil {
		h.log.Warn("discord_send_failed", "channel_id", m.ChannelID, "error", err.Error())
		return
	}
	h.track(msgID, m.AuthorID, ch.ExpiresAt)
	if err := h.api.MessageReactionAdd(m.ChannelID, msgID, ConfirmEmoji); err != nil {
		h.log.Debug("discord_reaction_failed", "message_id", msgID, "error", err.Error())
	}
}

func (h *CommandHandler) cmdVerify(ctx context.Context, channelID, userID string) {
	res, err := h.svc.CheckVerification(ctx, userID)
	if err != nil {
		h.replyErr(channelID, "verify", err)
		return
	}
	switch res.State {
	case linking.StateVerified:
		h.forget(userID)
		h.reply(channelID, fmt.Sprintf("<@%s> is verified as game account %d.", userID, res.SubjectID))
	default:
		h.reply(channelID, fmt.Sprintf("Code not found on the profile yet (attempt %d). Save the About section and try again.", res.Attempts))
	}
}

func (h *CommandHandler) cmdUnlink(ctx context.Context, m Message) {
	if err := h.svc.Unlink(ctx, m.AuthorID); err != nil {
		h.replyErr(m.ChannelID, "unlink", err)
		return
	}
	h.reply(m.ChannelID, "Your link has been removed.")
}

func (h *CommandHandler) cmdStatus(ctx context.Context, m Message) {
	st, err := h.svc.Status(ctx, m.AuthorID)
	if err != nil {
		h.replyErr(m.ChannelID, "status", err)
		return
	}
	switch st.State {
	case linking.StateVerified:
		h.reply(m.ChannelID, fmt.Sprintf("Linked to game account %d.", st.SubjectID))
	case linking.StatePending:
		left := st.ExpiresAt.Sub(h.now()).Round(time.Second)
		h.reply(m.ChannelID, fmt.Sprintf("Pending for game account %d with code **%s**, %s left.", st.SubjectID, st.Code, left))
	default:
		h.reply(m.ChannelID, "Not linked. Use `!link <username or id>` to start.")
	}
}

func (h *CommandHandler) cmdForceLink(ctx context.Context, m Message, args []string) {
	if err := h.authorizeModerator(ctx, m); err != nil {
		h.replyErr(m.ChannelID, "forcelink", err)
		return
	}
	target, ok := "", len(args) == 2
	if ok {
		target, ok = parseUserID(args[0])
	}
	if !ok {
		h.reply(m.ChannelID, "Usage: `!forcelink <@user> <username or id>`")
		return
	}
	res, err := h.svc.AdminManualLink(ctx, target, args[1])
	var ale *linking.AlreadyLinkedError
	if errors.As(err, &ale) {
		h.reply(m.ChannelID, fmt.Sprintf("<@%s> is already linked to game account %d. They must `!unlink` first.", target, ale.SubjectID))
		return
	}
	if err != nil {
		h.replyErr(m.ChannelID, "forcelink", err)
		return
	}
	h.log.Info("discord_forcelink", "operator", m.AuthorID, "external_id", target, "subject_id", res.SubjectID)
	h.reply(m.ChannelID, fmt.Sprintf("<@%s> is now linked to game account %d.", target, res.SubjectID))
}

func (h *CommandHandler) cmdSetRole(ctx context.Context, m Message, args []string) {
	if err := h.authorizeModerator(ctx, m); err != nil {
		h.replyErr(m.ChannelID, "setrole", err)
		return
	}
	// The role manager only reads the configured guild.
	if h.guildID == "" || m.GuildID != h.guildID {
		h.reply(m.ChannelID, "`!setrole` only works inside the configured server.")
		return
	}
	roleID := ""
	if len(args) == 1 {
		roleID = strings.Trim(strings.TrimSpace(args[0]), "<@&>")
	}
	if roleID == "" {
		h.reply(m.ChannelID, "Usage: `!setrole <roleID>`")
		return
	}
	err := h.store.PutRoleConfig(ctx, linkstore.RoleConfig{
		GuildID:        h.guildID,
		VerifiedRoleID: roleID,
		UpdatedAt:      h.now().Unix(),
	})
	if err != nil {
		h.replyErr(m.ChannelID, "setrole", err)
		return
	}
	h.reply(m.ChannelID, fmt.Sprintf("Verified role set to <@&%s>.", roleID))
}

func (h *CommandHandler) cmdMod(ctx context.Context, m Message, args []string) {
	if !h.isAdministrator(m) {
		h.replyErr(m.ChannelID, "mod", linking.ErrNotAuthorized)
		return
	}
	target, ok := "", len(args) == 2
	if ok {
		target, ok = parseUserID(args[1])
	}
	if !ok {
		h.reply(m.ChannelID, "Usage: `!mod add|remove <@user>`")
		return
	}
	switch strings.ToLower(args[0]) {
	case "add":
		if err := h.svc.GrantModerator(ctx, target, m.AuthorID); err != nil {
			h.replyErr(m.ChannelID, "mod", err)
			return
		}
		h.reply(m.ChannelID, fmt.Sprintf("<@%s> is now a link moderator.", target))
	case "remove":
		removed, err := h.svc.RevokeModerator(ctx, target)
		if err != nil {
			h.replyErr(m.ChannelID, "mod", err)
			return
		}
		if !removed {
			h.reply(m.ChannelID, fmt.Sprintf("<@%s> was not a link moderator.", target))
			return
		}
		h.reply(m.ChannelID, fmt.Sprintf("<@%s> is no longer a link moderator.", target))
	default:
		h.reply(m.ChannelID, "Usage: `!mod add|remove <@user>`")
	}
}

// authorizeModerator passes stored moderators and server administrators.
func (h *CommandHandler) authorizeModerator(ctx context.Context, m Message) error {
	if h.isAdministrator(m) {
		return nil
	}
	ok, err := h.svc.IsModerator(ctx, m.AuthorID)
	if err != nil {
		return err
	}
	if !ok {
		return linking.ErrNotAuthorized
	}
	return nil
}

func (h *CommandHandler) isAdministrator(m Message) bool {
	if m.GuildID == "" {
		return false
	}
	perms, err := h.api.UserChannelPermissions(m.AuthorID, m.ChannelID)
	if err != nil {
		h.log.Debug("discord_permissions_failed", "user_id", m.AuthorID, "error", err.Error())
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func (h *CommandHandler) track(messageID, externalID string, expiresAt time.Time) {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ref := range h.challenges {
		if now.After(ref.expiresAt) {
			delete(h.challenges, id)
		}
	}
	h.challenges[messageID] = challengeRef{externalID: externalID, expiresAt: expiresAt}
}

func (h *CommandHandler) forget(externalID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ref := range h.challenges {
		if ref.externalID == externalID {
			delete(h.challenges, id)
		}
	}
}

func (h *CommandHandler) reply(channelID, text string) {
	if _, err := h.api.ChannelMessageSend(channelID, text); err != nil {
		h.log.Warn("discord_send_failed", "channel_id", channelID, "error", err.Error())
	}
}

func (h *CommandHandler) replyErr(channelID, op string, err error) {
	if linking.IsTransient(err) {
		h.log.Warn("discord_command_failed", "op", op, "error", err.Error())
	}
	h.reply(channelID, errorText(err))
}

func errorText(err error) string {
	var ale *linking.AlreadyLinkedError
	switch {
	case errors.As(err, &ale):
		return fmt.Sprintf("You are already linked to game account %d. Use `!unlink` first.", ale.SubjectID)
	case errors.Is(err, linking.ErrAlreadyPending):
		return "You already have a pending link. Finish it with `!verify` or wait for it to expire."
	case errors.Is(err, linking.ErrSubjectTaken):
		return "That game account is already linked to someone else."
	case errors.Is(err, linking.ErrNotLinked):
		return "You have no link. Use `!link <username or id>` to start."
	case errors.Is(err, linking.ErrCheckTooSoon):
		return "Checked too recently, give it a moment."
	case errors.Is(err, linking.ErrNotAuthorized):
		return "You are not allowed to do that."
	case errors.Is(err, linking.ErrNotFound):
		return "No game account with that name or id."
	case linking.IsTransient(err):
		return "The game service or storage is not responding. Please try again later."
	default:
		return "Something went wrong."
	}
}
