// Package starboard promotes messages that cross a star-reaction threshold into a
// dedicated channel, keeps the posted embed's star count in sync with live reactions,
// and periodically reconciles against history the gateway may have missed events for.
// The engine itself is platform-agnostic; pkg/dispatch supplies the discordgo-backed
// MessageSource and Poster implementations.
package starboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/cache"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

// starboardBacking adapts the dedicated starboard_entries domain table into a
// cache.Backing[storage.StarboardEntry] scoped to one guild, so starboard-entry
// reads/writes route through the Two-Tier cache-through facade. The cache key
// combines guildID and messageID since messageID alone is not globally unique.
type starboardBacking struct {
	store   *storage.Store
	guildID string
}

func (b starboardBacking) Load(messageID string) (storage.StarboardEntry, bool, error) {
	e, err := b.store.GetStarboardEntry(b.guildID, messageID)
	if err != nil || e == nil {
		return storage.StarboardEntry{}, false, err
	}
	return *e, true, nil
}

func (b starboardBacking) Save(messageID string, value storage.StarboardEntry) error {
	return b.store.UpsertStarboardEntry(value)
}

func (b starboardBacking) Remove(messageID string) error {
	return b.store.DeleteStarboardEntry(b.guildID, messageID)
}

// starGold is the embed color used for every starboard post.
const starGold = 0xFFD700

// replyContextFooter marks the context embed posted ahead of a starred reply so a
// human glancing at the channel can tell it apart from the starred message itself.
const replyContextFooter = "Replying to"

// Attachment is the platform-agnostic shape of a message attachment.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

// IsVideo reports whether the attachment is a video worth reposting as a file
// alongside the embed, since Discord does not render video previews inside embeds.
func (a Attachment) IsVideo() bool {
	return strings.HasPrefix(a.ContentType, "video/")
}

// IsImage reports whether the attachment can be used as an embed image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.ContentType, "image/")
}

// MessageSnapshot is the minimal view of a source message the engine needs.
type MessageSnapshot struct {
	ID              string
	ChannelID       string
	AuthorID        string
	AuthorUsername  string
	AuthorAvatarURL string
	Content         string
	CreatedAt       time.Time
	StarCount       int
	ReplyToID       string
	Attachments     []Attachment
}

// Embed is the platform-agnostic embed payload the engine posts or edits.
type Embed struct {
	Description string
	Color       int
	AuthorName  string
	AuthorIcon  string
	FooterText  string
	Timestamp   time.Time
	ImageURL    string
}

// MessageSource abstracts the platform calls needed to inspect messages and reactions.
type MessageSource interface {
	// FetchMessage returns a snapshot of a message with its count of starEmoji
	// reactions, or ok=false if the message no longer exists.
	FetchMessage(channelID, messageID, starEmoji string) (snap MessageSnapshot, ok bool, err error)
	// RecentMessages returns snapshots for messages posted in channelID at or after
	// since, used by the periodic reconciliation sweep.
	RecentMessages(channelID string, since time.Time, starEmoji string) ([]MessageSnapshot, error)
}

// Poster abstracts posting, editing and deleting the engine's own messages.
type Poster interface {
	SendEmbed(channelID string, embed Embed) (messageID string, err error)
	SendEmbedWithVideo(channelID string, embed Embed, video Attachment) (messageID string, err error)
	EditEmbed(channelID, messageID string, embed Embed) error
	DeleteMessage(channelID, messageID string) error
	// Exists reports whether messageID is still present in channelID, used during
	// reconciliation to detect a starred embed a moderator deleted by hand.
	Exists(channelID, messageID string) (bool, error)
}

// Config controls the promotion threshold, emoji and reconciliation cadence.
type Config struct {
	Threshold          int
	StarEmoji          string
	StarboardChannelID string
	ReconcileInterval  time.Duration
	ReconcileWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.StarEmoji == "" {
		c.StarEmoji = "⭐"
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Minute
	}
	if c.ReconcileWindow <= 0 {
		c.ReconcileWindow = 24 * time.Hour
	}
	return c
}

// Engine evaluates and maintains the starboard for a single guild's configured channel.
type Engine struct {
	store   *storage.Store
	source  MessageSource
	poster  Poster
	cfg     Config
	twotier *cache.TwoTier // nil routes starboard-entry reads/writes to store directly
}

// New constructs an Engine, applying documented defaults to any zero-valued Config fields.
// twotier may be nil, in which case starboard entries are read and written straight to store.
func New(store *storage.Store, source MessageSource, poster Poster, cfg Config, twotier *cache.TwoTier) *Engine {
	return &Engine{store: store, source: source, poster: poster, cfg: cfg.withDefaults(), twotier: twotier}
}

func (e *Engine) getStarboardEntry(guildID, messageID string) (*storage.StarboardEntry, error) {
	if e.twotier == nil {
		return e.store.GetStarboardEntry(guildID, messageID)
	}
	v, ok, err := cache.Get(e.twotier, cache.EntityStarboardEntry, guildID+":"+messageID, starboardBacking{e.store, guildID})
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (e *Engine) upsertStarboardEntry(entry storage.StarboardEntry) error {
	if e.twotier == nil {
		return e.store.UpsertStarboardEntry(entry)
	}
	return cache.Set(e.twotier, cache.EntityStarboardEntry, entry.GuildID+":"+entry.OriginalMessageID, entry, starboardBacking{e.store, entry.GuildID})
}

func (e *Engine) deleteStarboardEntry(guildID, messageID string) error {
	if e.twotier == nil {
		return e.store.DeleteStarboardEntry(guildID, messageID)
	}
	return e.twotier.Delete(cache.EntityStarboardEntry, guildID+":"+messageID, func() error {
		return e.store.DeleteStarboardEntry(guildID, messageID)
	})
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// HandleReaction re-evaluates a single source message's star count after a reaction
// add or remove event. Idempotent: calling it repeatedly with an unchanged star count
// performs no platform writes.
func (e *Engine) HandleReaction(guildID, channelID, messageID string) error {
	snap, ok, err := e.source.FetchMessage(channelID, messageID, e.cfg.StarEmoji)
	if err != nil {
		return fmt.Errorf("fetch message: %w", err)
	}
	if !ok {
		return nil
	}
	return e.reconcileOne(guildID, snap)
}

// HandleMessageUpdate refreshes a starred message's embed content after the source
// message is edited. A no-op if the message has no starboard entry.
func (e *Engine) HandleMessageUpdate(guildID, channelID, messageID string) error {
	existing, err := e.getStarboardEntry(guildID, messageID)
	if err != nil {
		return fmt.Errorf("get starboard entry: %w", err)
	}
	if existing == nil {
		return nil
	}
	snap, ok, err := e.source.FetchMessage(channelID, messageID, e.cfg.StarEmoji)
	if err != nil {
		return fmt.Errorf("fetch message: %w", err)
	}
	if !ok {
		return nil
	}
	return e.edit(guildID, *existing, snap)
}

// HandleMessageDelete removes any starboard entry for a message deleted at the source,
// since there is nothing left for the embed to reflect. A no-op if untracked.
func (e *Engine) HandleMessageDelete(guildID, messageID string) error {
	existing, err := e.getStarboardEntry(guildID, messageID)
	if err != nil {
		return fmt.Errorf("get starboard entry: %w", err)
	}
	if existing == nil {
		return nil
	}
	return e.remove(guildID, *existing)
}

func (e *Engine) reconcileOne(guildID string, snap MessageSnapshot) error {
	existing, err := e.getStarboardEntry(guildID, snap.ID)
	if err != nil {
		return fmt.Errorf("get starboard entry: %w", err)
	}

	switch {
	case existing == nil && snap.StarCount >= e.cfg.Threshold:
		return e.create(guildID, snap)
	case existing != nil && snap.StarCount < e.cfg.Threshold:
		return e.remove(guildID, *existing)
	case existing != nil && snap.StarCount != existing.StarCount:
		return e.edit(guildID, *existing, snap)
	default:
		return nil
	}
}

// create posts a starred embed (and, for a reply, a preceding context embed naming the
// parent author) and records the entry. A failure fetching the reply parent degrades to
// a plain single embed rather than abandoning the promotion.
func (e *Engine) create(guildID string, snap MessageSnapshot) error {
	var contextMessageID string
	if snap.ReplyToID != "" {
		parent, ok, err := e.source.FetchMessage(snap.ChannelID, snap.ReplyToID, e.cfg.StarEmoji)
		switch {
		case err != nil:
			log.ApplicationLogger().Warn("starboard: failed to fetch reply parent, posting without context", "messageID", snap.ID, "error", err)
		case ok:
			id, err := e.poster.SendEmbed(e.cfg.StarboardChannelID, contextEmbedFor(parent))
			if err != nil {
				log.ApplicationLogger().Warn("starboard: failed to post reply context embed, posting without context", "messageID", snap.ID, "error", err)
			} else {
				contextMessageID = id
			}
		}
	}

	embed := embedFor(snap, e.cfg.StarEmoji)
	var (
		starboardMessageID string
		err                error
	)
	if video, ok := firstVideo(snap.Attachments); ok {
		starboardMessageID, err = e.poster.SendEmbedWithVideo(e.cfg.StarboardChannelID, embed, video)
	} else {
		starboardMessageID, err = e.poster.SendEmbed(e.cfg.StarboardChannelID, embed)
	}
	if err != nil {
		return fmt.Errorf("post starboard embed: %w", err)
	}

	now := time.Now().UTC()
	return e.upsertStarboardEntry(storage.StarboardEntry{
		GuildID:            guildID,
		OriginalMessageID:  snap.ID,
		OriginalChannelID:  snap.ChannelID,
		StarboardMessageID: starboardMessageID,
		StarboardChannelID: e.cfg.StarboardChannelID,
		ContextMessageID:   contextMessageID,
		StarCount:          snap.StarCount,
		CreatedAt:          now,
		LastUpdated:        now,
	})
}

func (e *Engine) edit(guildID string, existing storage.StarboardEntry, snap MessageSnapshot) error {
	if err := e.poster.EditEmbed(e.cfg.StarboardChannelID, existing.StarboardMessageID, embedFor(snap, e.cfg.StarEmoji)); err != nil {
		return fmt.Errorf("edit starboard embed: %w", err)
	}
	existing.StarCount = snap.StarCount
	existing.LastUpdated = time.Now().UTC()
	return e.upsertStarboardEntry(existing)
}

func (e *Engine) remove(guildID string, existing storage.StarboardEntry) error {
	if err := e.poster.DeleteMessage(e.cfg.StarboardChannelID, existing.StarboardMessageID); err != nil {
		log.ApplicationLogger().Warn("starboard: failed to delete starred embed", "messageID", existing.OriginalMessageID, "error", err)
	}
	if existing.ContextMessageID != "" {
		if err := e.poster.DeleteMessage(e.cfg.StarboardChannelID, existing.ContextMessageID); err != nil {
			log.ApplicationLogger().Warn("starboard: failed to delete reply context embed", "messageID", existing.OriginalMessageID, "error", err)
		}
	}
	return e.deleteStarboardEntry(guildID, existing.OriginalMessageID)
}

// Reconcile re-evaluates every channel's recent history against the starboard: messages
// that crossed the threshold without a recorded gateway event get created, entries whose
// starred embed was deleted out-of-band get reposted, and stale star counts get corrected.
func (e *Engine) Reconcile(guildID string, channelIDs []string) {
	since := time.Now().UTC().Add(-e.cfg.ReconcileWindow)

	for _, channelID := range channelIDs {
		snaps, err := e.source.RecentMessages(channelID, since, e.cfg.StarEmoji)
		if err != nil {
			log.ApplicationLogger().Warn("starboard: reconcile fetch failed", "channelID", channelID, "error", err)
			continue
		}
		for _, snap := range snaps {
			if snap.StarCount < e.cfg.Threshold {
				continue
			}
			if err := e.reconcileCrossed(guildID, snap); err != nil {
				log.ApplicationLogger().Warn("starboard: reconcile entry failed", "messageID", snap.ID, "error", err)
			}
		}
	}
}

func (e *Engine) reconcileCrossed(guildID string, snap MessageSnapshot) error {
	existing, err := e.getStarboardEntry(guildID, snap.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return e.create(guildID, snap)
	}
	if ok, err := e.poster.Exists(e.cfg.StarboardChannelID, existing.StarboardMessageID); err == nil && !ok {
		if delErr := e.deleteStarboardEntry(guildID, existing.OriginalMessageID); delErr != nil {
			return delErr
		}
		return e.create(guildID, snap)
	}
	if existing.StarCount != snap.StarCount {
		return e.edit(guildID, *existing, snap)
	}
	return nil
}

func embedFor(snap MessageSnapshot, starEmoji string) Embed {
	return Embed{
		Description: snap.Content,
		Color:       starGold,
		AuthorName:  snap.AuthorUsername,
		AuthorIcon:  snap.AuthorAvatarURL,
		FooterText:  fmt.Sprintf("%s %d", starEmoji, snap.StarCount),
		Timestamp:   snap.CreatedAt,
		ImageURL:    firstImage(snap.Attachments),
	}
}

func contextEmbedFor(parent MessageSnapshot) Embed {
	return Embed{
		Description: parent.Content,
		Color:       starGold,
		AuthorName:  parent.AuthorUsername,
		AuthorIcon:  parent.AuthorAvatarURL,
		FooterText:  replyContextFooter,
		Timestamp:   parent.CreatedAt,
	}
}

func firstVideo(attachments []Attachment) (Attachment, bool) {
	for _, a := range attachments {
		if a.IsVideo() {
			return a, true
		}
	}
	return Attachment{}, false
}

func firstImage(attachments []Attachment) string {
	for _, a := range attachments {
		if a.IsImage() {
			return a.URL
		}
	}
	return ""
}
