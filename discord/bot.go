package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Bot owns the gateway connection and routes events to the command handler.
type Bot struct {
	session  *discordgo.Session
	commands *CommandHandler
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBot(session *discordgo.Session, commands *CommandHandler, log *slog.Logger) *Bot {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{session: session, commands: commands, log: log, ctx: ctx, cancel: cancel}
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onReactionAdd)
	return b
}

// Start opens the gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return err
	}
	b.log.Info("discord_connected")
	return nil
}

// Stop cancels in-flight handlers and closes the gateway connection.
func (b *Bot) Stop() {
	b.cancel()
	if err := b.session.Close(); err != nil {
		b.log.Warn("discord_close_failed", "error", err.Error())
		return
	}
	b.log.Info("discord_disconnected")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	b.commands.Handle(b.ctx, Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
	})
}

func (b *Bot) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if s.State != nil && s.State.User != nil && r.UserID == s.State.User.ID {
		return
	}
	b.commands.HandleReaction(b.ctx, Reaction{
		UserID:    r.UserID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     r.Emoji.Name,
	})
}
