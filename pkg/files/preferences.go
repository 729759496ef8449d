package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/util"
)

// --- Initialization & Persistence ---

func NewConfigManager() *ConfigManager {
	configFilePath := util.GetSettingsFilePath()
	return &ConfigManager{
		configFilePath: configFilePath,
		jsonManager:    util.NewJSONManager(configFilePath),
	}
}

// NewConfigManagerWithPath creates a new configuration manager at an explicit path.
func NewConfigManagerWithPath(configPath string) *ConfigManager {
	return &ConfigManager{
		configFilePath: configPath,
		jsonManager:    util.NewJSONManager(configPath),
	}
}

// LoadConfig loads the configuration from file.
func (mgr *ConfigManager) LoadConfig() error {
	mgr.mu.Lock()

	if mgr.config == nil {
		mgr.config = &BotConfig{Guilds: []GuildConfig{}}
	}

	err := mgr.jsonManager.Load(mgr.config)
	if err != nil {
		if os.IsNotExist(err) {
			log.ApplicationLogger().Info("settings file not found, using defaults", "path", mgr.configFilePath)
			mgr.mu.Unlock()
			return nil
		}
		mgr.mu.Unlock()
		return NewConfigError("read", mgr.configFilePath, err)
	}

	if len(mgr.config.Guilds) == 0 {
		log.ApplicationLogger().Info("config has no guild overrides", "path", mgr.configFilePath)
	}

	dupCount, err := mgr.rebuildGuildIndexLocked("load")
	if err != nil {
		log.ApplicationLogger().Warn("guild config index rebuild warning", "error", err, "path", mgr.configFilePath)
	}
	mgr.mu.Unlock()

	if dupCount > 0 {
		if saveErr := mgr.SaveConfig(); saveErr != nil {
			return fmt.Errorf("save config after dedupe: %w", saveErr)
		}
		log.ApplicationLogger().Info("saved config after dedupe", "path", mgr.configFilePath, "duplicates", dupCount)
	}
	return nil
}

// SaveConfig saves the current configuration to file.
func (mgr *ConfigManager) SaveConfig() error {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	if mgr.config == nil {
		return errors.New("cannot save nil config")
	}

	if err := mgr.jsonManager.Save(mgr.config); err != nil {
		return NewConfigError("write", mgr.configFilePath, err)
	}

	log.ApplicationLogger().Info("settings saved", "path", mgr.configFilePath)
	return nil
}

// --- Getters ---

// ConfigPath returns the config file path.
func (mgr *ConfigManager) ConfigPath() string { return mgr.configFilePath }

// Config returns the current configuration.
func (mgr *ConfigManager) Config() *BotConfig {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.config
}

// HasAnyGuilds checks if there are configured guild overrides.
func (mgr *ConfigManager) HasAnyGuilds() bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.config != nil && len(mgr.config.Guilds) > 0
}

// --- Guild Config Management ---

// GuildConfig returns the override configuration for a specific guild, or nil
// if the guild has no override on file.
func (mgr *ConfigManager) GuildConfig(guildID string) *GuildConfig {
	if guildID == "" {
		return nil
	}
	mgr.mu.RLock()
	if mgr.config == nil {
		mgr.mu.RUnlock()
		return nil
	}
	if mgr.guildIndex != nil {
		if idx, ok := mgr.guildIndex[guildID]; ok {
			if idx >= 0 && idx < len(mgr.config.Guilds) && mgr.config.Guilds[idx].GuildID == guildID {
				gc := &mgr.config.Guilds[idx]
				mgr.mu.RUnlock()
				return gc
			}
		}
	}
	mgr.mu.RUnlock()
	mgr.indexMisses.Add(1)
	// Fallback: rebuild index and try once more under write lock.
	return mgr.guildConfigWithRebuild(guildID)
}

func (mgr *ConfigManager) guildConfigWithRebuild(guildID string) *GuildConfig {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.config == nil || guildID == "" {
		return nil
	}
	if _, err := mgr.rebuildGuildIndexLocked("lookup_miss"); err != nil {
		log.ApplicationLogger().Warn("guild config index rebuild warning", "guildID", guildID, "error", err)
	}
	if idx, ok := mgr.guildIndex[guildID]; ok {
		if idx >= 0 && idx < len(mgr.config.Guilds) && mgr.config.Guilds[idx].GuildID == guildID {
			return &mgr.config.Guilds[idx]
		}
	}
	log.ApplicationLogger().Info("guild config not found", "guildID", guildID)
	return nil
}

func (mgr *ConfigManager) rebuildGuildIndexLocked(reason string) (int, error) {
	mgr.indexRebuilds.Add(1)
	if mgr.config == nil {
		mgr.guildIndex = nil
		log.ApplicationLogger().Info("guild config index cleared", "reason", reason)
		return 0, nil
	}
	index := make(map[string]int, len(mgr.config.Guilds))
	deduped := make([]GuildConfig, 0, len(mgr.config.Guilds))
	dupCount := 0

	for _, g := range mgr.config.Guilds {
		gid := g.GuildID
		if gid == "" {
			deduped = append(deduped, g)
			continue
		}
		if _, exists := index[gid]; exists {
			dupCount++
			continue
		}
		index[gid] = len(deduped)
		deduped = append(deduped, g)
	}

	if dupCount > 0 {
		mgr.indexDuplicates.Add(uint64(dupCount))
		log.ApplicationLogger().Warn("duplicate guild configs removed", "reason", reason, "duplicates", dupCount, "remaining", len(deduped))
		mgr.config.Guilds = deduped
	}

	mgr.guildIndex = index
	log.ApplicationLogger().Info("guild config index rebuilt", "reason", reason, "guilds", len(mgr.config.Guilds))
	if dupCount > 0 {
		return dupCount, fmt.Errorf("removed %d duplicate guild configs", dupCount)
	}
	return dupCount, nil
}

// GuildIndexStats returns counters for index rebuilds, misses, and duplicate removals.
func (mgr *ConfigManager) GuildIndexStats() GuildIndexStats {
	if mgr == nil {
		return GuildIndexStats{}
	}
	return GuildIndexStats{
		Rebuilds:   mgr.indexRebuilds.Load(),
		Misses:     mgr.indexMisses.Load(),
		Duplicates: mgr.indexDuplicates.Load(),
	}
}

// AddGuildConfig adds or replaces a guild override configuration.
func (mgr *ConfigManager) AddGuildConfig(guildCfg GuildConfig) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.config == nil {
		mgr.config = &BotConfig{Guilds: []GuildConfig{}}
	}
	mgr.config.Guilds = append(slices.DeleteFunc(mgr.config.Guilds, func(g GuildConfig) bool {
		return g.GuildID == guildCfg.GuildID
	}), guildCfg)
	if _, err := mgr.rebuildGuildIndexLocked("add"); err != nil {
		return fmt.Errorf("add guild config: %w", err)
	}
	return nil
}

// RemoveGuildConfig removes a guild override configuration.
func (mgr *ConfigManager) RemoveGuildConfig(guildID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.config == nil {
		return
	}
	mgr.config.Guilds = slices.DeleteFunc(mgr.config.Guilds, func(g GuildConfig) bool {
		return g.GuildID == guildID
	})
	if _, err := mgr.rebuildGuildIndexLocked("remove"); err != nil {
		log.ApplicationLogger().Warn("guild config index rebuild warning", "guildID", guildID, "error", err)
	}
}

// --- Discord helpers ---

// GetTextChannels returns the text channels the bot can send messages in for a guild.
// Used by the guild sync engine to enumerate message-sync targets.
func GetTextChannels(session *discordgo.Session, guildID string) ([]*discordgo.Channel, error) {
	if session == nil || session.State == nil || session.State.User == nil {
		return nil, fmt.Errorf("session not properly initialized")
	}
	channels, err := session.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}
	var textChannels []*discordgo.Channel
	for _, channel := range channels {
		if channel.Type == discordgo.ChannelTypeGuildText {
			permissions, err := session.UserChannelPermissions(session.State.User.ID, channel.ID)
			if err == nil && (permissions&discordgo.PermissionSendMessages) != 0 {
				textChannels = append(textChannels, channel)
			}
		}
	}
	return textChannels, nil
}

// ValidateChannel checks that a channel belongs to the given guild, is a text
// channel, and the bot can send messages in it.
func ValidateChannel(session *discordgo.Session, guildID, channelID string) error {
	if session == nil || session.State == nil || session.State.User == nil {
		return errors.New("session not properly initialized")
	}
	channel, err := session.Channel(channelID)
	if err != nil {
		return fmt.Errorf("channel not found: %w", err)
	}
	if channel.GuildID != guildID {
		return errors.New("channel belongs to a different guild")
	}
	if channel.Type != discordgo.ChannelTypeGuildText {
		return errors.New("channel is not a text channel")
	}
	permissions, err := session.UserChannelPermissions(session.State.User.ID, channelID)
	if err != nil {
		return fmt.Errorf("failed to check channel permissions: %w", err)
	}
	if (permissions & discordgo.PermissionSendMessages) == 0 {
		return errors.New("bot lacks send-message permission in channel")
	}
	return nil
}

// --- Settings file bootstrap ---

func EnsureConfigFiles() error {
	if err := os.MkdirAll(util.ApplicationSupportPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := EnsureSettingsFile(); err != nil {
		return fmt.Errorf("failed to ensure settings file: %w", err)
	}
	return nil
}

// EnsureSettingsFile ensures the settings.json file exists and is properly
// initialized. If the file already exists and has a valid structure, it is
// not modified.
func EnsureSettingsFile() error {
	if err := os.MkdirAll(util.ApplicationSupportPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	preferencesDir := filepath.Join(util.ApplicationSupportPath, "preferences")
	if err := os.MkdirAll(preferencesDir, 0755); err != nil {
		return fmt.Errorf("failed to create preferences directory: %w", err)
	}

	exists, valid, settingsFilePath, err := SettingsFileStatus()
	if err != nil {
		return fmt.Errorf("failed to check settings file status: %w", err)
	}

	if !exists {
		log.ApplicationLogger().Info("settings file not found, creating default", "path", settingsFilePath)
		return writeDefaultSettings(settingsFilePath)
	}

	if valid {
		log.ApplicationLogger().Info("settings file exists and is valid, no changes made", "path", settingsFilePath)
		return nil
	}

	log.ApplicationLogger().Warn("settings file exists but is invalid, rewriting with default schema", "path", settingsFilePath)
	return writeDefaultSettings(settingsFilePath)
}

func writeDefaultSettings(path string) error {
	defaultConfig := BotConfig{Guilds: []GuildConfig{}}
	configData, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default settings: %w", err)
	}
	if err := os.WriteFile(path, configData, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// SettingsFileStatus reports whether settings.json exists and whether its
// structure is valid.
func SettingsFileStatus() (exists bool, valid bool, path string, err error) {
	path = util.GetSettingsFilePath()
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, false, path, nil
		}
		return false, false, path, fmt.Errorf("failed to stat settings file: %w", statErr)
	}
	if info.IsDir() {
		return true, false, path, fmt.Errorf("settings path is a directory")
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return true, false, path, fmt.Errorf("failed to read settings file: %w", readErr)
	}

	var tmp BotConfig
	if json.Unmarshal(data, &tmp) != nil {
		return true, false, path, nil
	}
	return true, true, path, nil
}

// LoadSettingsFile loads settings from the standardized settings.json file.
func LoadSettingsFile() (*BotConfig, error) {
	settingsPath := util.GetSettingsFilePath()
	jsonManager := util.NewJSONManager(settingsPath)

	config := &BotConfig{Guilds: []GuildConfig{}}
	err := jsonManager.Load(config)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to load settings from %s: %w", settingsPath, err)
	}
	return config, nil
}

// SaveSettingsFile saves settings to the standardized settings.json file.
func SaveSettingsFile(config *BotConfig) error {
	if config == nil {
		return fmt.Errorf("cannot save nil config")
	}
	settingsPath := util.GetSettingsFilePath()
	jsonManager := util.NewJSONManager(settingsPath)
	if err := jsonManager.Save(config); err != nil {
		return fmt.Errorf("failed to save settings to %s: %w", settingsPath, err)
	}
	return nil
}

// LogConfiguredGuilds logs a summary of configured guild overrides. Returns an
// error if the primary configured guild is inaccessible.
func LogConfiguredGuilds(configManager *ConfigManager, session *discordgo.Session) error {
	cfg := configManager.Config()
	if cfg == nil || cfg.GuildID == "" {
		log.ApplicationLogger().Warn("no primary guild configured")
		return nil
	}
	guild, err := session.Guild(cfg.GuildID)
	if err != nil {
		return fmt.Errorf("configured guild %s is not accessible: %w", cfg.GuildID, err)
	}
	log.ApplicationLogger().Info("monitoring guild", "guildName", guild.Name, "guildID", guild.ID)

	if len(cfg.Guilds) > 0 {
		log.ApplicationLogger().Info("guild overrides present", "count", len(cfg.Guilds))
		for _, g := range cfg.Guilds {
			if _, err := session.Guild(g.GuildID); err != nil {
				log.ApplicationLogger().Warn("guild override not accessible", "guildID", g.GuildID)
			}
		}
	}
	return nil
}
