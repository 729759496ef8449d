// Package guildsync pulls a guild's roles, users and recent message history from the
// platform into the persistent store, either as a full resync or an incremental pass
// bounded by the last recorded message per channel.
package guildsync

import (
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ln64-git/arcados-bot-sub003/pkg/files"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

// interPageDelay throttles paginated history fetches to avoid remote rate limits.
const interPageDelay = 100 * time.Millisecond

// incrementalMessagesPerChannel bounds the incremental (non-forced) pass.
const incrementalMessagesPerChannel = 100

// messagePageSize is the platform's per-request page size for channel history.
const messagePageSize = 100

// Result summarizes a completed sync pass.
type Result struct {
	SyncedUsers    int
	SyncedRoles    int
	SyncedMessages int
	Errors         []error
}

// RemoteSource abstracts the platform calls a sync pass needs, so the engine's pagination
// and filtering logic can be exercised against a fake in tests instead of a live gateway
// connection, the way pkg/ownership's PermissionApplier and pkg/starboard's MessageSource do.
type RemoteSource interface {
	GuildRoles(guildID string) ([]*discordgo.Role, error)
	GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error)
	GuildTextChannels(guildID string) ([]*discordgo.Channel, error)
	Guild(guildID string) (*discordgo.Guild, error)
	CachedGuild(guildID string) (*discordgo.Guild, error)
}

// sessionRemoteSource adapts a live discordgo.Session into a RemoteSource.
type sessionRemoteSource struct {
	session *discordgo.Session
}

func (s sessionRemoteSource) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	return s.session.GuildRoles(guildID)
}

func (s sessionRemoteSource) GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error) {
	return s.session.GuildMembers(guildID, after, limit)
}

func (s sessionRemoteSource) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error) {
	return s.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID)
}

func (s sessionRemoteSource) GuildTextChannels(guildID string) ([]*discordgo.Channel, error) {
	return files.GetTextChannels(s.session, guildID)
}

func (s sessionRemoteSource) Guild(guildID string) (*discordgo.Guild, error) {
	return s.session.Guild(guildID)
}

func (s sessionRemoteSource) CachedGuild(guildID string) (*discordgo.Guild, error) {
	return s.session.State.Guild(guildID)
}

// Engine performs guild sync passes against a RemoteSource and store.
type Engine struct {
	remote RemoteSource
	store  *storage.Store
}

// New creates a sync Engine backed by a live discordgo session.
func New(session *discordgo.Session, store *storage.Store) *Engine {
	return &Engine{remote: sessionRemoteSource{session}, store: store}
}

// NewWithRemote creates a sync Engine against an arbitrary RemoteSource, for tests.
func NewWithRemote(remote RemoteSource, store *storage.Store) *Engine {
	return &Engine{remote: remote, store: store}
}

// MemberCount implements watchdog.RemoteCounts by reading the guild's approximate member
// count from the gateway-cached guild state, falling back to a REST fetch on cache miss.
func (e *Engine) MemberCount(guildID string) (int, error) {
	if g, err := e.remote.CachedGuild(guildID); err == nil && g != nil && g.MemberCount > 0 {
		return g.MemberCount, nil
	}
	g, err := e.remote.Guild(guildID)
	if err != nil {
		return 0, err
	}
	return g.MemberCount, nil
}

// RoleCount implements watchdog.RemoteCounts.
func (e *Engine) RoleCount(guildID string) (int, error) {
	roles, err := e.remote.GuildRoles(guildID)
	if err != nil {
		return 0, err
	}
	return len(roles), nil
}

// SyncGuild implements watchdog.GuildSyncer. messageLimit bounds a forced full sync;
// incremental passes are always capped to the last 100 messages per channel regardless
// of messageLimit.
func (e *Engine) SyncGuild(guildID string, forceFullSync bool, messageLimit int) error {
	_, err := e.Sync(guildID, forceFullSync, messageLimit)
	return err
}

// Sync runs a full or incremental sync pass and returns the detailed result.
func (e *Engine) Sync(guildID string, forceFullSync bool, messageLimit int) (Result, error) {
	var result Result

	prior, err := e.store.GetGuildSync(guildID)
	if err != nil {
		return result, err
	}
	full := forceFullSync || prior == nil || !prior.IsFullySynced

	roleCount, err := e.syncRoles(guildID)
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.SyncedRoles = roleCount

	userCount, err := e.syncUsers(guildID)
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.SyncedUsers = userCount

	limit := incrementalMessagesPerChannel
	if full {
		limit = messageLimit
		if limit <= 0 {
			limit = 1000
		}
	}
	priorLastMessageID := ""
	if !full && prior != nil {
		priorLastMessageID = prior.LastMessageID
	}
	msgCount, lastMessageID, err := e.syncMessages(guildID, limit, full, priorLastMessageID)
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.SyncedMessages = msgCount

	if err := e.store.UpsertGuildSync(storage.GuildSyncState{
		GuildID:       guildID,
		LastSyncAt:    time.Now().UTC(),
		LastMessageID: lastMessageID,
		TotalUsers:    userCount,
		TotalRoles:    roleCount,
		TotalMessages: msgCount,
		IsFullySynced: true,
	}); err != nil {
		result.Errors = append(result.Errors, err)
	}

	return result, nil
}

func (e *Engine) syncRoles(guildID string) (int, error) {
	roles, err := e.remote.GuildRoles(guildID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, r := range roles {
		if upErr := e.store.UpsertRole(guildID, r.ID, r.Name, int(r.Color), r.Mentionable, now); upErr != nil {
			return 0, upErr
		}
	}
	return len(roles), nil
}

func (e *Engine) syncUsers(guildID string) (int, error) {
	var after string
	total := 0
	now := time.Now().UTC()
	for {
		members, err := e.remote.GuildMembers(guildID, after, 1000)
		if err != nil {
			return total, err
		}
		if len(members) == 0 {
			break
		}
		for _, m := range members {
			if m.User == nil {
				continue
			}
			roleIDs := strings.Join(m.Roles, ",")
			if err := e.store.UpsertUser(storage.UserRecord{
				DiscordID:     m.User.ID,
				GuildID:       guildID,
				Bot:           m.User.Bot,
				Username:      m.User.Username,
				DisplayName:   m.Nick,
				Discriminator: m.User.Discriminator,
				Avatar:        m.User.Avatar,
				Roles:         roleIDs,
				JoinedAt:      m.JoinedAt,
				LastSeen:      now,
			}); err != nil {
				return total, err
			}
			total++
		}
		after = members[len(members)-1].User.ID
		if len(members) < 1000 {
			break
		}
		time.Sleep(interPageDelay)
	}
	return total, nil
}

// syncMessages paginates backward per text channel, skipping bot authors, members with a
// role literally named "bot" (case-insensitive), and moderation-prefixed (`m!`) content.
// Pagination for a channel stops on whichever of three conditions comes first: the page
// reaches sincePreviousMessageID (the last message id recorded by a prior pass, so an
// incremental sync never re-walks already-synced history), perChannelLimit messages have
// been processed, or the remote returns a short page (end of channel history).
func (e *Engine) syncMessages(guildID string, perChannelLimit int, full bool, sincePreviousMessageID string) (int, string, error) {
	channels, err := e.remote.GuildTextChannels(guildID)
	if err != nil {
		return 0, "", err
	}

	botRoleIDs, err := e.botRoleIDs(guildID)
	if err != nil {
		log.ApplicationLogger().Warn("failed to resolve bot role ids, continuing without role filter", "guildID", guildID, "error", err)
	}

	total := 0
	var lastMessageID string
	for _, ch := range channels {
		before := ""
		processed := 0
	page:
		for {
			batch, err := e.remote.ChannelMessages(ch.ID, messagePageSize, before, "", "")
			if err != nil {
				log.ApplicationLogger().Warn("failed to fetch channel messages", "channelID", ch.ID, "error", err)
				break
			}
			if len(batch) == 0 {
				break
			}
			for _, msg := range batch {
				if processed >= perChannelLimit {
					break page
				}
				if sincePreviousMessageID != "" && msg.ID == sincePreviousMessageID {
					break page
				}
				processed++
				before = msg.ID
				if lastMessageID == "" {
					lastMessageID = msg.ID
				}
				if shouldSkipMessage(msg, botRoleIDs) {
					continue
				}
				if existing, _ := e.store.GetMessage(guildID, msg.ID); existing != nil {
					continue
				}
				if err := e.store.UpsertMessage(storage.MessageRecord{
					GuildID:        guildID,
					MessageID:      msg.ID,
					ChannelID:      ch.ID,
					AuthorID:       msg.Author.ID,
					AuthorUsername: msg.Author.Username,
					Content:        msg.Content,
					CachedAt:       time.Now().UTC(),
				}); err != nil {
					return total, lastMessageID, err
				}
				total++
			}
			if len(batch) < messagePageSize || processed >= perChannelLimit {
				break
			}
			time.Sleep(interPageDelay)
		}
	}
	return total, lastMessageID, nil
}

func (e *Engine) botRoleIDs(guildID string) (map[string]bool, error) {
	roles, err := e.remote.GuildRoles(guildID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool)
	for _, r := range roles {
		if strings.EqualFold(r.Name, "bot") {
			ids[r.ID] = true
		}
	}
	return ids, nil
}

func shouldSkipMessage(msg *discordgo.Message, botRoleIDs map[string]bool) bool {
	if msg.Author == nil {
		return true
	}
	if msg.Author.Bot {
		return true
	}
	if strings.HasPrefix(msg.Content, "m!") {
		return true
	}
	if msg.Member != nil {
		for _, rid := range msg.Member.Roles {
			if botRoleIDs[rid] {
				return true
			}
		}
	}
	return false
}
