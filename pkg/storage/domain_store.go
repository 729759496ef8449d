package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ensureDomainSchema creates the tables backing the bot's guild-management domain:
// users, roles, channels, voice sessions, channel ownership, guild sync checkpoints,
// starboard entries and relationship affinity scores.
func ensureDomainSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id               INTEGER PRIMARY KEY AUTOINCREMENT,
  discord_id       TEXT NOT NULL,
  guild_id         TEXT NOT NULL,
  bot              BOOLEAN NOT NULL DEFAULT 0,
  username         TEXT,
  display_name     TEXT,
  discriminator    TEXT,
  avatar           TEXT,
  status           TEXT,
  roles            TEXT,
  joined_at        TIMESTAMP,
  last_seen        TIMESTAMP,
  created_at       TIMESTAMP NOT NULL,
  updated_at       TIMESTAMP NOT NULL,
  UNIQUE(discord_id, guild_id)
);`,
		`CREATE TABLE IF NOT EXISTS roles (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  discord_id     TEXT NOT NULL,
  guild_id       TEXT NOT NULL,
  name           TEXT,
  color          INTEGER,
  mentionable    BOOLEAN,
  created_at     TIMESTAMP NOT NULL,
  updated_at     TIMESTAMP NOT NULL,
  UNIQUE(discord_id, guild_id)
);`,
		`CREATE TABLE IF NOT EXISTS channels (
  discord_id       TEXT NOT NULL UNIQUE,
  guild_id         TEXT NOT NULL,
  channel_name     TEXT,
  position         INTEGER,
  is_active        BOOLEAN NOT NULL DEFAULT 1,
  active_user_ids  TEXT,
  member_count     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_channels_guild ON channels(guild_id);`,
		`CREATE TABLE IF NOT EXISTS voice_channel_sessions (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id      TEXT NOT NULL,
  guild_id     TEXT NOT NULL,
  channel_id   TEXT NOT NULL,
  channel_name TEXT,
  joined_at    TIMESTAMP NOT NULL,
  left_at      TIMESTAMP,
  duration     INTEGER NOT NULL DEFAULT 0,
  is_active    BOOLEAN NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_voice_sessions_active ON voice_channel_sessions(user_id, channel_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_voice_sessions_guild ON voice_channel_sessions(guild_id, joined_at);`,
		`CREATE TABLE IF NOT EXISTS channel_ownership (
  channel_id       TEXT NOT NULL UNIQUE,
  guild_id         TEXT NOT NULL,
  owner_user_id    TEXT NOT NULL,
  owned_since      TIMESTAMP NOT NULL,
  previous_owner_id TEXT,
  preferred_name   TEXT,
  last_renamed_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_channel_ownership_guild ON channel_ownership(guild_id);`,
		`CREATE TABLE IF NOT EXISTS guild_syncs (
  guild_id         TEXT NOT NULL UNIQUE,
  last_sync_at     TIMESTAMP,
  last_message_id  TEXT,
  total_users      INTEGER NOT NULL DEFAULT 0,
  total_messages   INTEGER NOT NULL DEFAULT 0,
  total_roles      INTEGER NOT NULL DEFAULT 0,
  is_fully_synced  BOOLEAN NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS starboard_entries (
  guild_id             TEXT NOT NULL,
  original_message_id  TEXT NOT NULL,
  original_channel_id  TEXT NOT NULL,
  starboard_message_id TEXT,
  starboard_channel_id TEXT,
  context_message_id   TEXT,
  star_count           INTEGER NOT NULL DEFAULT 0,
  created_at           TIMESTAMP NOT NULL,
  last_updated         TIMESTAMP NOT NULL,
  UNIQUE(guild_id, original_message_id)
);`,
		`CREATE TABLE IF NOT EXISTS relationships (
  user_id1          TEXT NOT NULL,
  user_id2          TEXT NOT NULL,
  guild_id          TEXT NOT NULL,
  affinity_percentage REAL NOT NULL DEFAULT 0,
  interaction_count   INTEGER NOT NULL DEFAULT 0,
  last_interaction    TIMESTAMP,
  UNIQUE(user_id1, user_id2, guild_id)
);
CREATE INDEX IF NOT EXISTS idx_relationships_guild ON relationships(guild_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create domain schema: %w", err)
		}
	}
	// messages gains the columns the distilled entity model expects beyond the
	// cache-oriented columns already present from ensureSchema.
	alters := []string{
		`ALTER TABLE messages ADD COLUMN reply_to TEXT`,
		`ALTER TABLE messages ADD COLUMN mentions TEXT`,
		`ALTER TABLE messages ADD COLUMN reactions TEXT`,
		`ALTER TABLE messages ADD COLUMN embeds TEXT`,
		`ALTER TABLE messages ADD COLUMN attachments TEXT`,
		`ALTER TABLE messages ADD COLUMN edited_at TIMESTAMP`,
		`ALTER TABLE messages ADD COLUMN deleted_at TIMESTAMP`,
	}
	for _, stmt := range alters {
		if _, err := db.Exec(stmt); err != nil {
			// SQLite has no "ADD COLUMN IF NOT EXISTS"; ignore the duplicate-column error
			// on re-init and fail on anything else.
			if !isDuplicateColumnErr(err) {
				return fmt.Errorf("extend messages schema: %w", err)
			}
		}
	}
	return nil
}

func isDuplicateColumnErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// UserRecord mirrors a row in users.
type UserRecord struct {
	DiscordID     string
	GuildID       string
	Bot           bool
	Username      string
	DisplayName   string
	Discriminator string
	Avatar        string
	Roles         string // comma-separated role ids
	JoinedAt      time.Time
	LastSeen      time.Time
}

// UpsertUser creates or refreshes a guild member's cached profile.
func (s *Store) UpsertUser(u UserRecord) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
INSERT INTO users (discord_id, guild_id, bot, username, display_name, discriminator, avatar, status, roles, joined_at, last_seen, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?)
ON CONFLICT(discord_id, guild_id) DO UPDATE SET
  bot=excluded.bot,
  username=excluded.username,
  display_name=excluded.display_name,
  discriminator=excluded.discriminator,
  avatar=excluded.avatar,
  roles=excluded.roles,
  last_seen=excluded.last_seen,
  updated_at=excluded.updated_at`,
		u.DiscordID, u.GuildID, u.Bot, u.Username, u.DisplayName, u.Discriminator, u.Avatar, u.Roles, u.JoinedAt, u.LastSeen, now, now)
	return err
}

// GetUser returns a cached guild member profile, if any.
func (s *Store) GetUser(guildID, discordID string) (*UserRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var u UserRecord
	err := s.db.QueryRow(`
SELECT discord_id, guild_id, bot, username, display_name, discriminator, avatar, roles, joined_at, last_seen
FROM users WHERE discord_id=? AND guild_id=?`, discordID, guildID,
	).Scan(&u.DiscordID, &u.GuildID, &u.Bot, &u.Username, &u.DisplayName, &u.Discriminator, &u.Avatar, &u.Roles, &u.JoinedAt, &u.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertRole creates or refreshes a guild role's cached metadata.
func (s *Store) UpsertRole(guildID, discordID, name string, color int, mentionable bool, now time.Time) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`
INSERT INTO roles (discord_id, guild_id, name, color, mentionable, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(discord_id, guild_id) DO UPDATE SET
  name=excluded.name,
  color=excluded.color,
  mentionable=excluded.mentionable,
  updated_at=excluded.updated_at`,
		discordID, guildID, name, color, mentionable, now, now)
	return err
}

// ChannelOwnership mirrors a row in channel_ownership.
type ChannelOwnership struct {
	ChannelID       string
	GuildID         string
	OwnerUserID     string
	OwnedSince      time.Time
	PreviousOwnerID string
	PreferredName   string
	LastRenamedAt   time.Time
}

// UpsertChannelOwnership creates or transfers ownership of a channel.
func (s *Store) UpsertChannelOwnership(o ChannelOwnership) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`
INSERT INTO channel_ownership (channel_id, guild_id, owner_user_id, owned_since, previous_owner_id, preferred_name, last_renamed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(channel_id) DO UPDATE SET
  owner_user_id=excluded.owner_user_id,
  owned_since=excluded.owned_since,
  previous_owner_id=excluded.previous_owner_id,
  preferred_name=excluded.preferred_name,
  last_renamed_at=excluded.last_renamed_at`,
		o.ChannelID, o.GuildID, o.OwnerUserID, o.OwnedSince, o.PreviousOwnerID, o.PreferredName, o.LastRenamedAt)
	return err
}

// GetChannelOwnership returns the current ownership record for a channel, if any.
func (s *Store) GetChannelOwnership(channelID string) (*ChannelOwnership, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var o ChannelOwnership
	var previousOwner, preferredName sql.NullString
	var lastRenamed sql.NullTime
	err := s.db.QueryRow(
		`SELECT channel_id, guild_id, owner_user_id, owned_since, previous_owner_id, preferred_name, last_renamed_at
		 FROM channel_ownership WHERE channel_id=?`, channelID,
	).Scan(&o.ChannelID, &o.GuildID, &o.OwnerUserID, &o.OwnedSince, &previousOwner, &preferredName, &lastRenamed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.PreviousOwnerID = previousOwner.String
	o.PreferredName = preferredName.String
	o.LastRenamedAt = lastRenamed.Time
	return &o, nil
}

// DeleteChannelOwnership removes the ownership record for a channel (e.g. the channel was deleted).
func (s *Store) DeleteChannelOwnership(channelID string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`DELETE FROM channel_ownership WHERE channel_id=?`, channelID)
	return err
}

// GuildSyncState mirrors a row in guild_syncs.
type GuildSyncState struct {
	GuildID        string
	LastSyncAt     time.Time
	LastMessageID  string
	TotalUsers     int
	TotalMessages  int
	TotalRoles     int
	IsFullySynced  bool
}

// UpsertGuildSync records the latest sync checkpoint for a guild.
func (s *Store) UpsertGuildSync(gs GuildSyncState) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`
INSERT INTO guild_syncs (guild_id, last_sync_at, last_message_id, total_users, total_messages, total_roles, is_fully_synced)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(guild_id) DO UPDATE SET
  last_sync_at=excluded.last_sync_at,
  last_message_id=excluded.last_message_id,
  total_users=excluded.total_users,
  total_messages=excluded.total_messages,
  total_roles=excluded.total_roles,
  is_fully_synced=excluded.is_fully_synced`,
		gs.GuildID, gs.LastSyncAt, gs.LastMessageID, gs.TotalUsers, gs.TotalMessages, gs.TotalRoles, gs.IsFullySynced)
	return err
}

// GetGuildSync returns the sync checkpoint for a guild, if any.
func (s *Store) GetGuildSync(guildID string) (*GuildSyncState, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var gs GuildSyncState
	var lastSyncAt sql.NullTime
	var lastMessageID sql.NullString
	err := s.db.QueryRow(
		`SELECT guild_id, last_sync_at, last_message_id, total_users, total_messages, total_roles, is_fully_synced
		 FROM guild_syncs WHERE guild_id=?`, guildID,
	).Scan(&gs.GuildID, &lastSyncAt, &lastMessageID, &gs.TotalUsers, &gs.TotalMessages, &gs.TotalRoles, &gs.IsFullySynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	gs.LastSyncAt = lastSyncAt.Time
	gs.LastMessageID = lastMessageID.String
	return &gs, nil
}

// StarboardEntry mirrors a row in starboard_entries. ContextMessageID is the id of the
// reply-context embed posted immediately before the starred embed, if the original message
// was a reply; empty when there was no parent to show.
type StarboardEntry struct {
	GuildID            string
	OriginalMessageID  string
	OriginalChannelID  string
	StarboardMessageID string
	StarboardChannelID string
	ContextMessageID   string
	StarCount          int
	CreatedAt          time.Time
	LastUpdated        time.Time
}

// UpsertStarboardEntry creates or updates the tracked starboard post for an original message.
func (s *Store) UpsertStarboardEntry(e StarboardEntry) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`
INSERT INTO starboard_entries (guild_id, original_message_id, original_channel_id, starboard_message_id, starboard_channel_id, context_message_id, star_count, created_at, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(guild_id, original_message_id) DO UPDATE SET
  starboard_message_id=excluded.starboard_message_id,
  starboard_channel_id=excluded.starboard_channel_id,
  context_message_id=excluded.context_message_id,
  star_count=excluded.star_count,
  last_updated=excluded.last_updated`,
		e.GuildID, e.OriginalMessageID, e.OriginalChannelID, e.StarboardMessageID, e.StarboardChannelID, e.ContextMessageID, e.StarCount, e.CreatedAt, e.LastUpdated)
	return err
}

// GetStarboardEntry returns the tracked starboard post for an original message, if any.
func (s *Store) GetStarboardEntry(guildID, originalMessageID string) (*StarboardEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var e StarboardEntry
	var starboardMessageID, starboardChannelID, contextMessageID sql.NullString
	err := s.db.QueryRow(
		`SELECT guild_id, original_message_id, original_channel_id, starboard_message_id, starboard_channel_id, context_message_id, star_count, created_at, last_updated
		 FROM starboard_entries WHERE guild_id=? AND original_message_id=?`, guildID, originalMessageID,
	).Scan(&e.GuildID, &e.OriginalMessageID, &e.OriginalChannelID, &starboardMessageID, &starboardChannelID, &contextMessageID, &e.StarCount, &e.CreatedAt, &e.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.StarboardMessageID = starboardMessageID.String
	e.StarboardChannelID = starboardChannelID.String
	e.ContextMessageID = contextMessageID.String
	return &e, nil
}

// DeleteStarboardEntry removes the tracked starboard post for an original message, e.g. once
// its star count falls back below the promotion threshold.
func (s *Store) DeleteStarboardEntry(guildID, originalMessageID string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	_, err := s.db.Exec(`DELETE FROM starboard_entries WHERE guild_id=? AND original_message_id=?`, guildID, originalMessageID)
	return err
}

// ListStarboardEntriesForReconcile returns every tracked starboard entry for a guild.
// The starboard reconciliation pass does not call it; it walks recent channel history.
func (s *Store) ListStarboardEntriesForReconcile(guildID string) ([]StarboardEntry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	rows, err := s.db.Query(
		`SELECT guild_id, original_message_id, original_channel_id, starboard_message_id, starboard_channel_id, context_message_id, star_count, created_at, last_updated
		 FROM starboard_entries WHERE guild_id=?`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StarboardEntry
	for rows.Next() {
		var e StarboardEntry
		var starboardMessageID, starboardChannelID, contextMessageID sql.NullString
		if err := rows.Scan(&e.GuildID, &e.OriginalMessageID, &e.OriginalChannelID, &starboardMessageID, &starboardChannelID, &contextMessageID, &e.StarCount, &e.CreatedAt, &e.LastUpdated); err != nil {
			return nil, err
		}
		e.StarboardMessageID = starboardMessageID.String
		e.StarboardChannelID = starboardChannelID.String
		e.ContextMessageID = contextMessageID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Relationship mirrors a row in relationships. UserID1/UserID2 are stored in a stable
// order (UserID1 < UserID2 lexicographically) so each pair has exactly one row.
type Relationship struct {
	UserID1            string
	UserID2            string
	GuildID            string
	AffinityPercentage float64
	InteractionCount   int
	LastInteraction    time.Time
}

// OrderedPair returns a and b sorted so relationship rows are keyed consistently regardless
// of which user triggered the interaction.
func OrderedPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// UpsertRelationship records the current computed state of a relationship: the affinity
// percentage (or other normalized score) and the total interaction count observed so far,
// both as absolute values rather than deltas. Callers that recompute from a running
// in-memory total, like pkg/affinity, should pass that total directly.
func (s *Store) UpsertRelationship(userID1, userID2, guildID string, affinityPercentage float64, interactionCount int, at time.Time) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	u1, u2 := OrderedPair(userID1, userID2)
	_, err := s.db.Exec(`
INSERT INTO relationships (user_id1, user_id2, guild_id, affinity_percentage, interaction_count, last_interaction)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id1, user_id2, guild_id) DO UPDATE SET
  affinity_percentage=excluded.affinity_percentage,
  interaction_count=excluded.interaction_count,
  last_interaction=excluded.last_interaction`,
		u1, u2, guildID, affinityPercentage, interactionCount, at)
	return err
}

// GetTopRelationships returns a user's strongest relationships in a guild, ordered by
// affinity percentage descending, limited to limit rows.
func (s *Store) GetTopRelationships(guildID, userID string, limit int) ([]Relationship, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	rows, err := s.db.Query(`
SELECT user_id1, user_id2, guild_id, affinity_percentage, interaction_count, last_interaction
FROM relationships
WHERE guild_id=? AND (user_id1=? OR user_id2=?)
ORDER BY affinity_percentage DESC
LIMIT ?`, guildID, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.UserID1, &r.UserID2, &r.GuildID, &r.AffinityPercentage, &r.InteractionCount, &r.LastInteraction); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
