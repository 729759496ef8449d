// Package voice tracks members joining, leaving and moving between voice channels,
// persisting session history so other components (ownership election, affinity) can
// reason about who has spent time where.
package voice

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/cache"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

// Tracker records voice-channel occupancy transitions for a single configured guild.
type Tracker struct {
	store   *storage.Store
	cache   cache.CacheManager // best-effort; may be nil
	guildID string
}

// New creates a Tracker scoped to guildID. Cache may be nil to disable the best-effort
// active-session cache writes.
func New(store *storage.Store, c cache.CacheManager, guildID string) *Tracker {
	return &Tracker{store: store, cache: c, guildID: guildID}
}

// Member is the minimal identity the tracker needs from a gateway voice-state event.
type Member struct {
	UserID string
	Bot    bool
}

// Channel is the minimal channel identity the tracker needs.
type Channel struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

func (t *Tracker) inScope(guildID string) bool {
	return guildID == t.guildID
}

// TrackJoin records a member entering a voice channel.
func (t *Tracker) TrackJoin(guildID string, member Member, ch Channel) error {
	if !t.inScope(guildID) || member.Bot {
		return nil
	}
	now := time.Now().UTC()

	err := t.store.WithTransaction(func(tx *sql.Tx) error {
		if err := closeOtherActiveSessions(tx, member.UserID, ch.ID, now); err != nil {
			return err
		}
		if err := upsertChannelRow(tx, guildID, ch, now); err != nil {
			return err
		}
		if _, err := tx.Exec(`
INSERT INTO voice_channel_sessions (user_id, guild_id, channel_id, channel_name, joined_at, is_active)
SELECT ?, ?, ?, ?, ?, 1
WHERE NOT EXISTS (
  SELECT 1 FROM voice_channel_sessions WHERE user_id=? AND channel_id=? AND is_active=1
)`, member.UserID, guildID, ch.ID, ch.Name, now, member.UserID, ch.ID); err != nil {
			return fmt.Errorf("insert voice session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.cacheSet(fmt.Sprintf("active_voice:%s", member.UserID), ch.ID, 24*time.Hour)
	t.cacheSAdd(fmt.Sprintf("channel_members:%s", ch.ID), member.UserID)
	t.reconcileChannelCounts(ch.ID)
	return nil
}

// TrackLeave records a member leaving a voice channel.
func (t *Tracker) TrackLeave(guildID string, member Member, ch Channel) error {
	if !t.inScope(guildID) || member.Bot {
		return nil
	}
	now := time.Now().UTC()

	err := t.store.WithTransaction(func(tx *sql.Tx) error {
		return closeActiveSession(tx, member.UserID, now)
	})
	if err != nil {
		return err
	}

	t.cacheDelete(fmt.Sprintf("active_voice:%s", member.UserID))
	t.cacheSRem(fmt.Sprintf("channel_members:%s", ch.ID), member.UserID)
	t.reconcileChannelCounts(ch.ID)
	return nil
}

// TrackMove records a member moving from one voice channel to another atomically.
func (t *Tracker) TrackMove(guildID string, member Member, oldCh, newCh Channel) error {
	if !t.inScope(guildID) || member.Bot {
		return nil
	}
	now := time.Now().UTC()

	err := t.store.WithTransaction(func(tx *sql.Tx) error {
		if err := closeActiveSession(tx, member.UserID, now); err != nil {
			return err
		}
		if err := upsertChannelRow(tx, guildID, newCh, now); err != nil {
			return err
		}
		if _, err := tx.Exec(`
INSERT INTO voice_channel_sessions (user_id, guild_id, channel_id, channel_name, joined_at, is_active)
SELECT ?, ?, ?, ?, ?, 1
WHERE NOT EXISTS (
  SELECT 1 FROM voice_channel_sessions WHERE user_id=? AND channel_id=? AND is_active=1
)`, member.UserID, guildID, newCh.ID, newCh.Name, now, member.UserID, newCh.ID); err != nil {
			return fmt.Errorf("insert voice session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.cacheSet(fmt.Sprintf("active_voice:%s", member.UserID), newCh.ID, 24*time.Hour)
	t.cacheSRem(fmt.Sprintf("channel_members:%s", oldCh.ID), member.UserID)
	t.cacheSAdd(fmt.Sprintf("channel_members:%s", newCh.ID), member.UserID)
	t.reconcileChannelCounts(oldCh.ID)
	t.reconcileChannelCounts(newCh.ID)
	return nil
}

// closeOtherActiveSessions closes any active session for userID in a channel other than keepChannelID.
func closeOtherActiveSessions(tx *sql.Tx, userID, keepChannelID string, now time.Time) error {
	rows, err := tx.Query(`SELECT id, channel_id, joined_at FROM voice_channel_sessions WHERE user_id=? AND is_active=1 AND channel_id != ?`, userID, keepChannelID)
	if err != nil {
		return err
	}
	type openSession struct {
		id       int64
		joinedAt time.Time
	}
	var toClose []openSession
	for rows.Next() {
		var s openSession
		var channelID string
		if err := rows.Scan(&s.id, &channelID, &s.joinedAt); err != nil {
			rows.Close()
			return err
		}
		toClose = append(toClose, s)
	}
	rows.Close()

	for _, s := range toClose {
		duration := now.Sub(s.joinedAt)
		if duration < 0 {
			duration = 0
		}
		if _, err := tx.Exec(`UPDATE voice_channel_sessions SET is_active=0, left_at=?, duration=? WHERE id=?`,
			now, int64(duration.Seconds()), s.id); err != nil {
			return fmt.Errorf("close other active session: %w", err)
		}
	}
	return nil
}

// closeActiveSession closes whichever session is currently active for userID, defensively
// closing more than one if found (there should only ever be at most one).
func closeActiveSession(tx *sql.Tx, userID string, now time.Time) error {
	return closeOtherActiveSessions(tx, userID, "", now)
}

func upsertChannelRow(tx *sql.Tx, guildID string, ch Channel, now time.Time) error {
	recentlyCreated := !ch.CreatedAt.IsZero() && now.Sub(ch.CreatedAt) < 30*time.Second
	if recentlyCreated {
		_, err := tx.Exec(`
INSERT INTO channels (discord_id, guild_id, channel_name, is_active, member_count)
VALUES (?, ?, ?, 1, 0)
ON CONFLICT(discord_id) DO UPDATE SET channel_name=excluded.channel_name`,
			ch.ID, guildID, ch.Name)
		return err
	}
	_, err := tx.Exec(`
INSERT INTO channels (discord_id, guild_id, channel_name, is_active, member_count)
VALUES (?, ?, ?, 1, 0)
ON CONFLICT(discord_id) DO UPDATE SET channel_name=excluded.channel_name, is_active=1`,
		ch.ID, guildID, ch.Name)
	return err
}

// reconcileChannelCounts recomputes active_user_ids/member_count for a channel from the
// session index. Best-effort: logged, never returned, since it runs after the transaction
// that actually recorded the transition has already committed.
func (t *Tracker) reconcileChannelCounts(channelID string) {
	if channelID == "" {
		return
	}
	rows, err := t.store.DB().Query(`SELECT user_id FROM voice_channel_sessions WHERE channel_id=? AND is_active=1`, channelID)
	if err != nil {
		log.DatabaseLogger().Warn("reconcile channel counts query failed", "channelID", channelID, "error", err)
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	joined := ""
	for i, id := range ids {
		if i > 0 {
			joined += ","
		}
		joined += id
	}
	if _, err := t.store.DB().Exec(`UPDATE channels SET active_user_ids=?, member_count=? WHERE discord_id=?`, joined, len(ids), channelID); err != nil {
		log.DatabaseLogger().Warn("reconcile channel counts update failed", "channelID", channelID, "error", err)
	}
}

func (t *Tracker) cacheSet(key string, value any, ttl time.Duration) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(key, value, ttl); err != nil {
		log.ApplicationLogger().Warn("voice cache set failed", "key", key, "error", err)
	}
}

func (t *Tracker) cacheDelete(key string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Delete(key); err != nil {
		log.ApplicationLogger().Warn("voice cache delete failed", "key", key, "error", err)
	}
}

func (t *Tracker) cacheSAdd(key, member string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.SAdd(key, member); err != nil {
		log.ApplicationLogger().Warn("voice cache sadd failed", "key", key, "error", err)
	}
}

func (t *Tracker) cacheSRem(key, member string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.SRem(key, member); err != nil {
		log.ApplicationLogger().Warn("voice cache srem failed", "key", key, "error", err)
	}
}
