// Package ownership elects and maintains voice-channel owners and applies the
// channel-naming policy derived from the current owner's preferences.
package ownership

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/cache"
	"github.com/ln64-git/arcados-bot-sub003/pkg/files"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

// ownershipBacking adapts the dedicated channel_ownership domain table into a
// cache.Backing[storage.ChannelOwnership] so channel-owner reads/writes route
// through the Two-Tier cache-through facade instead of the store directly.
type ownershipBacking struct {
	store *storage.Store
}

func (b ownershipBacking) Load(channelID string) (storage.ChannelOwnership, bool, error) {
	o, err := b.store.GetChannelOwnership(channelID)
	if err != nil || o == nil {
		return storage.ChannelOwnership{}, false, err
	}
	return *o, true, nil
}

func (b ownershipBacking) Save(channelID string, value storage.ChannelOwnership) error {
	return b.store.UpsertChannelOwnership(value)
}

func (b ownershipBacking) Remove(channelID string) error {
	return b.store.DeleteChannelOwnership(channelID)
}

// OwnerCapabilities are the platform permission bits granted to a channel owner.
// Named constants rather than raw discordgo permission ints so callers don't need
// to import discordgo just to reason about ownership.
const (
	CapManageChannel = 1 << iota
	CapPriority
	CapStream
	CapVoiceActivity
	CapSpeak
	CapConnect
	CapCreateInvite
)

// OwnerAllCapabilities is the full grant applied to a newly-elected owner.
const OwnerAllCapabilities = CapManageChannel | CapPriority | CapStream | CapVoiceActivity | CapSpeak | CapConnect | CapCreateInvite

// PermissionApplier abstracts the platform call that grants/revokes a channel permission
// overwrite for a user, so this package stays independent of discordgo in its core logic.
type PermissionApplier interface {
	GrantOwnerCapabilities(guildID, channelID, userID string, caps int) error
	RevokeOverride(guildID, channelID, userID string) error
	RenameChannel(guildID, channelID, name string) error
}

// Manager elects and maintains channel owners and applies the renaming policy.
type Manager struct {
	store      *storage.Store
	perms      PermissionApplier
	twotier    *cache.TwoTier // nil routes ownership reads/writes to store directly
	lastRename map[string]time.Time // channelID -> last successful/attempted rename
}

// New creates an ownership Manager. twotier may be nil, in which case channel
// ownership reads and writes go straight to store.
func New(store *storage.Store, perms PermissionApplier, twotier *cache.TwoTier) *Manager {
	return &Manager{store: store, perms: perms, twotier: twotier, lastRename: make(map[string]time.Time)}
}

func (m *Manager) getOwnership(channelID string) (*storage.ChannelOwnership, error) {
	if m.twotier == nil {
		return m.store.GetChannelOwnership(channelID)
	}
	v, ok, err := cache.Get(m.twotier, cache.EntityChannelOwner, channelID, ownershipBacking{m.store})
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func (m *Manager) upsertOwnership(o storage.ChannelOwnership) error {
	if m.twotier == nil {
		return m.store.UpsertChannelOwnership(o)
	}
	return cache.Set(m.twotier, cache.EntityChannelOwner, o.ChannelID, o, ownershipBacking{m.store})
}

func (m *Manager) deleteOwnership(channelID string) error {
	if m.twotier == nil {
		return m.store.DeleteChannelOwnership(channelID)
	}
	return m.twotier.Delete(cache.EntityChannelOwner, channelID, func() error {
		return m.store.DeleteChannelOwnership(channelID)
	})
}

// PresentMember identifies a user currently present in a channel, for election purposes.
type PresentMember struct {
	UserID      string
	Nickname    string
	DisplayName string
	Username    string
}

// ElectOwner selects the owner for a channel from its historical voice sessions: the
// present member with the greatest cumulative duration. If no historical user is present,
// falls back to the longest-standing historical user regardless of presence. Returns ""
// if the channel has no session history at all.
func (m *Manager) ElectOwner(channelID string, present []PresentMember) (string, error) {
	type candidate struct {
		userID    string
		totalSecs int64
		earliest  time.Time
	}
	rows, err := m.store.DB().Query(`
SELECT user_id, COALESCE(SUM(duration), 0) AS total, MIN(joined_at) AS earliest
FROM voice_channel_sessions WHERE channel_id=? GROUP BY user_id`, channelID)
	if err != nil {
		return "", fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	presentSet := make(map[string]bool, len(present))
	for _, p := range present {
		presentSet[p.UserID] = true
	}

	var byDuration []candidate
	var longestStanding *candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.userID, &c.totalSecs, &c.earliest); err != nil {
			return "", err
		}
		byDuration = append(byDuration, c)
		if longestStanding == nil || c.earliest.Before(longestStanding.earliest) {
			cc := c
			longestStanding = &cc
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(byDuration) == 0 {
		return "", nil
	}

	var best *candidate
	for i := range byDuration {
		c := &byDuration[i]
		if !presentSet[c.userID] {
			continue
		}
		if best == nil || c.totalSecs > best.totalSecs {
			best = c
		}
	}
	if best != nil {
		return best.userID, nil
	}
	return longestStanding.userID, nil
}

// EnsureValidOwner clears and re-elects the owner if the stored owner is no longer present,
// and applies the permission transfer. Returns the resulting owner id (may be unchanged, may
// be empty if no candidate exists).
func (m *Manager) EnsureValidOwner(guildID, channelID string, present []PresentMember) (string, error) {
	current, err := m.getOwnership(channelID)
	if err != nil {
		return "", fmt.Errorf("get channel ownership: %w", err)
	}

	presentSet := make(map[string]bool, len(present))
	for _, p := range present {
		presentSet[p.UserID] = true
	}

	if current != nil && presentSet[current.OwnerUserID] {
		return current.OwnerUserID, nil
	}

	newOwner, err := m.ElectOwner(channelID, present)
	if err != nil {
		return "", err
	}
	if newOwner == "" {
		if current != nil {
			if err := m.deleteOwnership(channelID); err != nil {
				return "", err
			}
		}
		return "", nil
	}

	previousOwnerID := ""
	if current != nil {
		previousOwnerID = current.OwnerUserID
		if previousOwnerID != "" && previousOwnerID != newOwner {
			if err := m.perms.RevokeOverride(guildID, channelID, previousOwnerID); err != nil {
				log.ApplicationLogger().Warn("failed to revoke former owner override", "channelID", channelID, "userID", previousOwnerID, "error", err)
			}
		}
	}

	if err := m.upsertOwnership(storage.ChannelOwnership{
		ChannelID:       channelID,
		GuildID:         guildID,
		OwnerUserID:     newOwner,
		OwnedSince:      time.Now().UTC(),
		PreviousOwnerID: previousOwnerID,
		PreferredName:   preservedPreferredName(current, newOwner, previousOwnerID),
	}); err != nil {
		return "", fmt.Errorf("upsert channel ownership: %w", err)
	}

	if err := m.perms.GrantOwnerCapabilities(guildID, channelID, newOwner, OwnerAllCapabilities); err != nil {
		log.ApplicationLogger().Warn("failed to grant owner capabilities", "channelID", channelID, "userID", newOwner, "error", err)
	}

	return newOwner, nil
}

// preservedPreferredName keeps the channel's preferred name only when the same owner is
// re-confirmed; a genuine ownership transfer clears it so the new owner's default applies.
func preservedPreferredName(current *storage.ChannelOwnership, newOwner, previousOwner string) string {
	if current == nil {
		return ""
	}
	if newOwner == previousOwner || previousOwner == "" {
		return current.PreferredName
	}
	return ""
}

// SetPreferredName stores the owner's preferred channel name for future renames.
func (m *Manager) SetPreferredName(channelID, name string) error {
	o, err := m.getOwnership(channelID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("channel %s has no owner to set a preferred name for", channelID)
	}
	o.PreferredName = name
	return m.upsertOwnership(*o)
}

// MaybeRename applies the rename policy for a channel given its owner and the owner's
// current display identity, honoring the cooldown and skip-pattern rules.
func (m *Manager) MaybeRename(guildID, channelID, currentName string, owner PresentMember, cfg *files.RuntimeConfig) error {
	if owner.UserID == "" {
		return nil
	}
	cooldown := cfg.EffectiveRenameCooldown()
	if last, ok := m.lastRename[channelID]; ok && time.Since(last) < cooldown {
		return nil
	}

	for _, pattern := range cfg.EffectiveNameSkipPatterns() {
		if pattern == "" {
			continue
		}
		if strings.Contains(strings.ToLower(currentName), strings.ToLower(pattern)) {
			return nil
		}
	}

	target := m.resolveTargetName(channelID, owner)
	if target == "" || target == currentName {
		return nil
	}

	m.lastRename[channelID] = time.Now()
	if err := m.perms.RenameChannel(guildID, channelID, target); err != nil {
		log.ApplicationLogger().Warn("channel rename failed, leaving name unchanged", "channelID", channelID, "target", target, "error", err)
		return nil
	}

	return m.store.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE channel_ownership SET last_renamed_at=? WHERE channel_id=?`, time.Now().UTC(), channelID)
		return err
	})
}

func (m *Manager) resolveTargetName(channelID string, owner PresentMember) string {
	if o, err := m.getOwnership(channelID); err == nil && o != nil && o.PreferredName != "" {
		return o.PreferredName
	}
	identity := owner.Nickname
	if identity == "" {
		identity = owner.DisplayName
	}
	if identity == "" {
		identity = owner.Username
	}
	if identity == "" {
		return ""
	}
	return fmt.Sprintf("%s's Channel", identity)
}
