package session

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
)

// Error messages
const (
	ErrSessionCreationFailed   = "failed to create Discord session: %w"
	ErrSessionConnectionFailed = "failed to connect to Discord: %w"
)

// Session construction hooks; tests replace them to avoid a live gateway connection.
var (
	newSession   = discordgo.New
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// NewDiscordSession creates a new Discord session with the intents required by
// the voice tracker, ownership engine, starboard engine, and guild sync.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	if token == "" {
		log.DiscordLogger().Error("discord bot token is empty")
		return nil, fmt.Errorf("discord bot token is empty")
	}

	log.DiscordLogger().Info("creating discord session")

	s, err := newSession("Bot " + token)
	if err != nil {
		log.DiscordLogger().Error("failed to create discord session", "error", err)
		return nil, fmt.Errorf(ErrSessionCreationFailed, err)
	}

	log.DiscordLogger().Info("discord session created")
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentMessageContent

	log.DiscordLogger().Info("connecting to discord")
	if err := openSession(s); err != nil {
		log.DiscordLogger().Error("failed to connect to discord", "error", err)
		_ = closeSession(s)
		return nil, fmt.Errorf(ErrSessionConnectionFailed, err)
	}

	log.DiscordLogger().Info("connected to discord")
	return s, nil
}
