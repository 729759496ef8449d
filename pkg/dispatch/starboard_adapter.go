package dispatch

import (
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/starboard"
)

// unknownMessageErrCode is Discord's REST error code for a message that no longer exists.
const unknownMessageErrCode = 10008

// reconcilePageDelay throttles the reconciliation sweep's paginated history fetches.
const reconcilePageDelay = 100 * time.Millisecond

// discordMessageSource implements starboard.MessageSource against a live discordgo session.
type discordMessageSource struct {
	session *discordgo.Session
}

// NewMessageSource adapts a discordgo.Session to starboard.MessageSource.
func NewMessageSource(session *discordgo.Session) starboard.MessageSource {
	return &discordMessageSource{session: session}
}

func (d *discordMessageSource) FetchMessage(channelID, messageID, starEmoji string) (starboard.MessageSnapshot, bool, error) {
	msg, err := d.session.ChannelMessage(channelID, messageID)
	if err != nil {
		if isUnknownMessage(err) {
			return starboard.MessageSnapshot{}, false, nil
		}
		return starboard.MessageSnapshot{}, false, err
	}
	return toSnapshot(msg, starEmoji), true, nil
}

func (d *discordMessageSource) RecentMessages(channelID string, since time.Time, starEmoji string) ([]starboard.MessageSnapshot, error) {
	var out []starboard.MessageSnapshot
	before := ""
	for {
		batch, err := d.session.ChannelMessages(channelID, 100, before, "", "")
		if err != nil {
			return out, err
		}
		if len(batch) == 0 {
			break
		}
		stop := false
		for _, msg := range batch {
			if msg.Timestamp.Before(since) {
				stop = true
				break
			}
			out = append(out, toSnapshot(msg, starEmoji))
			before = msg.ID
		}
		if stop || len(batch) < 100 {
			break
		}
		time.Sleep(reconcilePageDelay)
	}
	return out, nil
}

func toSnapshot(msg *discordgo.Message, starEmoji string) starboard.MessageSnapshot {
	snap := starboard.MessageSnapshot{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		Content:   msg.Content,
		CreatedAt: msg.Timestamp,
	}
	if msg.Author != nil {
		snap.AuthorID = msg.Author.ID
		snap.AuthorUsername = msg.Author.Username
		snap.AuthorAvatarURL = msg.Author.AvatarURL("")
	}
	if msg.MessageReference != nil {
		snap.ReplyToID = msg.MessageReference.MessageID
	}
	for _, r := range msg.Reactions {
		if r.Emoji != nil && r.Emoji.Name == starEmoji {
			snap.StarCount = r.Count
		}
	}
	for _, att := range msg.Attachments {
		snap.Attachments = append(snap.Attachments, starboard.Attachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
	}
	return snap
}

func isUnknownMessage(err error) bool {
	restErr, ok := err.(*discordgo.RESTError)
	return ok && restErr.Message != nil && restErr.Message.Code == unknownMessageErrCode
}

// discordPoster implements starboard.Poster against a live discordgo session.
type discordPoster struct {
	session *discordgo.Session
}

// NewPoster adapts a discordgo.Session to starboard.Poster.
func NewPoster(session *discordgo.Session) starboard.Poster {
	return &discordPoster{session: session}
}

func (p *discordPoster) SendEmbed(channelID string, embed starboard.Embed) (string, error) {
	msg, err := p.session.ChannelMessageSendEmbed(channelID, toDiscordEmbed(embed))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (p *discordPoster) SendEmbedWithVideo(channelID string, embed starboard.Embed, video starboard.Attachment) (string, error) {
	resp, err := http.Get(video.URL)
	if err != nil {
		log.ApplicationLogger().Warn("starboard: failed to fetch video attachment, posting embed only", "url", video.URL, "error", err)
		return p.SendEmbed(channelID, embed)
	}
	defer resp.Body.Close()

	msg, err := p.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{toDiscordEmbed(embed)},
		Files: []*discordgo.File{{
			Name:        video.Filename,
			ContentType: video.ContentType,
			Reader:      resp.Body,
		}},
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (p *discordPoster) EditEmbed(channelID, messageID string, embed starboard.Embed) error {
	_, err := p.session.ChannelMessageEditEmbed(channelID, messageID, toDiscordEmbed(embed))
	return err
}

func (p *discordPoster) DeleteMessage(channelID, messageID string) error {
	if messageID == "" {
		return nil
	}
	return p.session.ChannelMessageDelete(channelID, messageID)
}

func (p *discordPoster) Exists(channelID, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	_, err := p.session.ChannelMessage(channelID, messageID)
	if err != nil {
		if isUnknownMessage(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func toDiscordEmbed(e starboard.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Description: e.Description,
		Color:       e.Color,
	}
	if e.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIcon}
	}
	if e.FooterText != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.FooterText}
	}
	if !e.Timestamp.IsZero() {
		embed.Timestamp = e.Timestamp.Format(time.RFC3339)
	}
	if e.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	return embed
}
