package discord

import (
	"github.com/bwmarrin/discordgo"
)

// API is the slice of the Discord REST surface the bot needs.
type API interface {
	ChannelMessageSend(channelID, content string) (string, error)
	UserChannelCreate(userID string) (string, error)
	MessageReactionAdd(channelID, messageID, emoji string) error
	GuildMemberRoleAdd(guildID, userID, roleID string) error
	GuildMemberRoleRemove(guildID, userID, roleID string) error
	UserChannelPermissions(userID, channelID string) (int64, error)
}

// NewSession builds a bot session with the intents the command handler
// listens on. The gateway is not opened.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentsMessageContent
	return s, nil
}

type sessionAPI struct {
	s *discordgo.Session
}

func NewAPI(s *discordgo.Session) API {
	return sessionAPI{s: s}
}

func (a sessionAPI) ChannelMessageSend(channelID, content string) (string, error) {
	msg, err := a.s.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (a sessionAPI) UserChannelCreate(userID string) (string, error) {
	ch, err := a.s.UserChannelCreate(userID)
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

func (a sessionAPI) MessageReactionAdd(channelID, messageID, emoji string) error {
	return a.s.MessageReactionAdd(channelID, messageID, emoji)
}

func (a sessionAPI) GuildMemberRoleAdd(guildID, userID, roleID string) error {
	return a.s.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (a sessionAPI) GuildMemberRoleRemove(guildID, userID, roleID string) error {
	return a.s.GuildMemberRoleRemove(guildID, userID, roleID)
}

func (a sessionAPI) UserChannelPermissions(userID, channelID string) (int64, error) {
	return a.s.UserChannelPermissions(userID, channelID)
}
