package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/util"
)

// Environment enumerates the recognized deployment environments.
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentTest        = "test"
)

// AffinityWeights configures the point values assigned to each interaction
// kind by the relationship affinity engine. Zero values fall back to defaults
// (same_channel=1, mention=3, reply=5).
type AffinityWeights struct {
	SameChannel int `json:"same_channel,omitempty"`
	Mention     int `json:"mention,omitempty"`
	Reply       int `json:"reply,omitempty"`
}

// Normalized fills in default weights for any zero fields.
func (w AffinityWeights) Normalized() AffinityWeights {
	if w.SameChannel <= 0 {
		w.SameChannel = 1
	}
	if w.Mention <= 0 {
		w.Mention = 3
	}
	if w.Reply <= 0 {
		w.Reply = 5
	}
	return w
}

// RuntimeConfig centralizes operational toggles/parameters persisted in
// settings.json.
type RuntimeConfig struct {
	// Starboard
	StarboardThreshold      int    `json:"starboard_threshold,omitempty"`       // default: 3
	StarboardReconcileMins  int    `json:"starboard_reconcile_mins,omitempty"`  // default: 30
	StarboardEmojiName      string `json:"starboard_emoji_name,omitempty"`      // default: "⭐"
	DisableStarboard        bool   `json:"disable_starboard,omitempty"`

	// Channel ownership / naming
	RenameCooldownSecs int      `json:"rename_cooldown_secs,omitempty"` // default: 5
	NameSkipPatterns   []string `json:"name_skip_patterns,omitempty"`   // default: available, new channel, temp

	// Affinity
	AffinityWeights           AffinityWeights `json:"affinity_weights,omitempty"`
	AffinityCacheTTLMinutes   int             `json:"affinity_cache_ttl_minutes,omitempty"`   // default: 60
	AffinityWindowMinutes     int             `json:"affinity_window_minutes,omitempty"`       // default: 5
	AffinityUseLogNormalized  bool            `json:"affinity_use_log_normalized,omitempty"`

	// Guild sync / watchdog
	SyncMessageLimit       int `json:"sync_message_limit,omitempty"`        // default: 1000
	HealthCheckIntervalMin int `json:"health_check_interval_minutes,omitempty"` // default: 5
	MaintenanceIntervalMin int `json:"maintenance_interval_minutes,omitempty"`  // default: 30

	// Cache TTL overrides (per-guild tuning)
	ChannelOwnerCacheTTL   string `json:"channel_owner_cache_ttl,omitempty"`
	ActiveVoiceCacheTTL    string `json:"active_voice_cache_ttl,omitempty"`
	ChannelMembersCacheTTL string `json:"channel_members_cache_ttl,omitempty"`
}

func normalizeStringSlice(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultNameSkipPatterns returns the built-in case-insensitive substrings
// that suppress a channel rename when they already appear in the name.
func DefaultNameSkipPatterns() []string {
	return []string{"available", "new channel", "temp"}
}

// EffectiveNameSkipPatterns resolves the configured skip patterns, falling
// back to the default set when unset.
func (rc RuntimeConfig) EffectiveNameSkipPatterns() []string {
	patterns := normalizeStringSlice(rc.NameSkipPatterns)
	if len(patterns) == 0 {
		return DefaultNameSkipPatterns()
	}
	return patterns
}

// EffectiveRenameCooldown resolves the rename cooldown, default 5s.
func (rc RuntimeConfig) EffectiveRenameCooldown() time.Duration {
	if rc.RenameCooldownSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(rc.RenameCooldownSecs) * time.Second
}

// EffectiveStarboardThreshold resolves the star count threshold, default 3.
func (rc RuntimeConfig) EffectiveStarboardThreshold() int {
	if rc.StarboardThreshold <= 0 {
		return 3
	}
	return rc.StarboardThreshold
}

// EffectiveStarboardEmoji resolves the configured starboard emoji, default star.
func (rc RuntimeConfig) EffectiveStarboardEmoji() string {
	if strings.TrimSpace(rc.StarboardEmojiName) == "" {
		return "⭐"
	}
	return rc.StarboardEmojiName
}

// EffectiveStarboardReconcileInterval resolves the reconciliation cadence, default 30m.
func (rc RuntimeConfig) EffectiveStarboardReconcileInterval() time.Duration {
	if rc.StarboardReconcileMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(rc.StarboardReconcileMins) * time.Minute
}

// EffectiveAffinityWindow resolves the rolling interaction window, default 5m.
func (rc RuntimeConfig) EffectiveAffinityWindow() time.Duration {
	if rc.AffinityWindowMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(rc.AffinityWindowMinutes) * time.Minute
}

// EffectiveAffinityCacheTTL resolves the affinity list cache freshness window, default 60m.
func (rc RuntimeConfig) EffectiveAffinityCacheTTL() time.Duration {
	if rc.AffinityCacheTTLMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(rc.AffinityCacheTTLMinutes) * time.Minute
}

// EffectiveSyncMessageLimit resolves the per-channel message sync cap, default 1000.
func (rc RuntimeConfig) EffectiveSyncMessageLimit() int {
	if rc.SyncMessageLimit <= 0 {
		return 1000
	}
	return rc.SyncMessageLimit
}

// EffectiveHealthCheckInterval resolves the watchdog health-check cadence, default 5m.
func (rc RuntimeConfig) EffectiveHealthCheckInterval() time.Duration {
	if rc.HealthCheckIntervalMin <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(rc.HealthCheckIntervalMin) * time.Minute
}

// EffectiveMaintenanceInterval resolves the watchdog maintenance cadence, default 30m.
func (rc RuntimeConfig) EffectiveMaintenanceInterval() time.Duration {
	if rc.MaintenanceIntervalMin <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(rc.MaintenanceIntervalMin) * time.Minute
}

// GuildConfig holds the per-guild configuration recognized by the bot.
type GuildConfig struct {
	GuildID             string `json:"guild_id"`
	SpawnChannelID      string `json:"spawn_channel_id,omitempty"`
	StarboardChannelID  string `json:"starboard_channel_id,omitempty"`

	// Cache TTL configuration (per-guild tuning)
	RolesCacheTTL   string `json:"roles_cache_ttl,omitempty"`   // default: "5m"
	MemberCacheTTL  string `json:"member_cache_ttl,omitempty"`  // default: "5m"
	GuildCacheTTL   string `json:"guild_cache_ttl,omitempty"`   // default: "15m"
	ChannelCacheTTL string `json:"channel_cache_ttl,omitempty"` // default: "15m"

	RuntimeConfig RuntimeConfig `json:"runtime_config,omitempty"`
}

func (gc *GuildConfig) UnmarshalJSON(data []byte) error {
	type alias GuildConfig
	var parsed alias
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	*gc = GuildConfig(parsed)
	return nil
}

// RolesCacheTTLDuration returns the configured TTL for the roles cache or a default of 5m.
func (gc *GuildConfig) RolesCacheTTLDuration() time.Duration {
	return parseTTLOrDefault(gc, func(g *GuildConfig) string { return g.RolesCacheTTL }, 5*time.Minute)
}

// MemberCacheTTLDuration returns the configured TTL for the members cache or a default of 5m.
func (gc *GuildConfig) MemberCacheTTLDuration() time.Duration {
	return parseTTLOrDefault(gc, func(g *GuildConfig) string { return g.MemberCacheTTL }, 5*time.Minute)
}

// GuildCacheTTLDuration returns the configured TTL for the guilds cache or a default of 15m.
func (gc *GuildConfig) GuildCacheTTLDuration() time.Duration {
	return parseTTLOrDefault(gc, func(g *GuildConfig) string { return g.GuildCacheTTL }, 15*time.Minute)
}

// ChannelCacheTTLDuration returns the configured TTL for the channels cache or a default of 15m.
func (gc *GuildConfig) ChannelCacheTTLDuration() time.Duration {
	return parseTTLOrDefault(gc, func(g *GuildConfig) string { return g.ChannelCacheTTL }, 15*time.Minute)
}

func parseTTLOrDefault(gc *GuildConfig, get func(*GuildConfig) string, def time.Duration) time.Duration {
	if gc == nil {
		return def
	}
	raw := get(gc)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// BotConfig holds the top-level configuration for the bot.
type BotConfig struct {
	// BotToken is read from the environment, not persisted in settings.json.
	BotToken string `json:"-"`

	// GuildID is the primary guild this deployment is scoped to. Required:
	// voice tracking, ownership, starboard, and guild sync all operate
	// against this single configured guild.
	GuildID string `json:"guild_id"`

	SpawnChannelID     string `json:"spawn_channel_id,omitempty"`
	StarboardChannelID string `json:"starboard_channel_id,omitempty"`

	PrimaryStoreURL string `json:"primary_store_url,omitempty"`
	CacheURL        string `json:"cache_url,omitempty"`
	Environment     string `json:"environment,omitempty"`
	Port            int    `json:"port,omitempty"`

	Guilds []GuildConfig `json:"guilds,omitempty"`

	// RuntimeConfig holds bot-level runtime overrides.
	// These are NOT environment variables; they are persisted in settings.json.
	RuntimeConfig RuntimeConfig `json:"runtime_config,omitempty"`
}

// EffectiveEnvironment resolves the deployment environment, default "development".
func (cfg *BotConfig) EffectiveEnvironment() string {
	if cfg == nil {
		return EnvironmentDevelopment
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Environment)) {
	case EnvironmentProduction:
		return EnvironmentProduction
	case EnvironmentTest:
		return EnvironmentTest
	default:
		return EnvironmentDevelopment
	}
}

// Validate enforces the required configuration surface: botToken and guildId
// must be present. Missing required keys are a refusal-to-start condition.
func (cfg *BotConfig) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return fmt.Errorf("botToken is required")
	}
	if strings.TrimSpace(cfg.GuildID) == "" {
		return fmt.Errorf("guildId is required")
	}
	return nil
}

// ResolveRuntimeConfig returns the effective runtime configuration for a
// guild, falling back to the bot-level config for any field left at its
// zero value in the guild-level override.
func (cfg *BotConfig) ResolveRuntimeConfig(guildID string) RuntimeConfig {
	global := cfg.RuntimeConfig
	if guildID == "" {
		return global
	}

	var guildRC RuntimeConfig
	found := false
	for _, g := range cfg.Guilds {
		if g.GuildID == guildID {
			guildRC = g.RuntimeConfig
			found = true
			break
		}
	}
	if !found {
		return global
	}

	resolved := global
	if guildRC.StarboardThreshold > 0 {
		resolved.StarboardThreshold = guildRC.StarboardThreshold
	}
	if guildRC.StarboardReconcileMins > 0 {
		resolved.StarboardReconcileMins = guildRC.StarboardReconcileMins
	}
	if strings.TrimSpace(guildRC.StarboardEmojiName) != "" {
		resolved.StarboardEmojiName = guildRC.StarboardEmojiName
	}
	if guildRC.DisableStarboard {
		resolved.DisableStarboard = true
	}
	if guildRC.RenameCooldownSecs > 0 {
		resolved.RenameCooldownSecs = guildRC.RenameCooldownSecs
	}
	if len(guildRC.NameSkipPatterns) > 0 {
		resolved.NameSkipPatterns = guildRC.NameSkipPatterns
	}
	if guildRC.AffinityWeights != (AffinityWeights{}) {
		resolved.AffinityWeights = guildRC.AffinityWeights
	}
	if guildRC.AffinityCacheTTLMinutes > 0 {
		resolved.AffinityCacheTTLMinutes = guildRC.AffinityCacheTTLMinutes
	}
	if guildRC.AffinityWindowMinutes > 0 {
		resolved.AffinityWindowMinutes = guildRC.AffinityWindowMinutes
	}
	if guildRC.AffinityUseLogNormalized {
		resolved.AffinityUseLogNormalized = true
	}
	if guildRC.SyncMessageLimit > 0 {
		resolved.SyncMessageLimit = guildRC.SyncMessageLimit
	}
	if guildRC.HealthCheckIntervalMin > 0 {
		resolved.HealthCheckIntervalMin = guildRC.HealthCheckIntervalMin
	}
	if guildRC.MaintenanceIntervalMin > 0 {
		resolved.MaintenanceIntervalMin = guildRC.MaintenanceIntervalMin
	}
	if guildRC.ChannelOwnerCacheTTL != "" {
		resolved.ChannelOwnerCacheTTL = guildRC.ChannelOwnerCacheTTL
	}
	if guildRC.ActiveVoiceCacheTTL != "" {
		resolved.ActiveVoiceCacheTTL = guildRC.ActiveVoiceCacheTTL
	}
	if guildRC.ChannelMembersCacheTTL != "" {
		resolved.ChannelMembersCacheTTL = guildRC.ChannelMembersCacheTTL
	}
	return resolved
}

// ResolveStarboardChannelID returns the configured starboard channel for a guild,
// falling back to the bot-level default when the guild has no override.
func (cfg *BotConfig) ResolveStarboardChannelID(guildID string) string {
	for _, g := range cfg.Guilds {
		if g.GuildID == guildID && g.StarboardChannelID != "" {
			return g.StarboardChannelID
		}
	}
	return cfg.StarboardChannelID
}

// ConfigManager handles bot configuration management.
type ConfigManager struct {
	configFilePath  string
	logsDirPath     string
	config          *BotConfig
	guildIndex      map[string]int
	indexRebuilds   atomic.Uint64
	indexMisses     atomic.Uint64
	indexDuplicates atomic.Uint64
	mu              sync.RWMutex
	jsonManager     *util.JSONManager
}

// GuildIndexStats exposes counters for the guild config index.
type GuildIndexStats struct {
	Rebuilds   uint64
	Misses     uint64
	Duplicates uint64
}

// ## Error Types

// ValidationError represents a validation error with field context.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value interface{}, message string) ValidationError {
	return ValidationError{Field: field, Value: value, Message: message}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Operation string
	Path      string
	Cause     error
}

func (e ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config %s failed for %s: %v", e.Operation, e.Path, e.Cause)
	}
	return fmt.Sprintf("config %s failed for %s", e.Operation, e.Path)
}

func (e ConfigError) Unwrap() error { return e.Cause }

// NewConfigError creates a new configuration error.
func NewConfigError(operation, path string, cause error) ConfigError {
	return ConfigError{Operation: operation, Path: path, Cause: cause}
}

// ErrRateLimited is returned by helpers that detect a platform rate limit.
var ErrRateLimited = errors.New("rate limited")

// DiscordError represents Discord API related errors.
type DiscordError struct {
	Operation string
	Code      int
	Message   string
	Cause     error
}

func (e DiscordError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("discord API error during %s (code %d): %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("discord API error during %s: %s", e.Operation, e.Message)
}

func (e DiscordError) Unwrap() error { return e.Cause }

// NewDiscordError creates a new Discord API error.
func NewDiscordError(operation string, code int, message string, cause error) DiscordError {
	return DiscordError{Operation: operation, Code: code, Message: message, Cause: cause}
}

// IsRetryableError determines if an error can be retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var discordErr DiscordError
	if errors.As(err, &discordErr) {
		return discordErr.Code >= 500 && discordErr.Code < 600
	}
	return false
}
