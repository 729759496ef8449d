package util

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// DiscordBotName is set at runtime via SetBotName using the Discord API username.
	// It has no hardcoded default to avoid stale paths; when empty, EffectiveBotName() provides a fallback.
	DiscordBotName string

	// Paths are recalculated when SetBotName is called.
	ApplicationSupportPath string
	ApplicationCachesPath  string

	CurrentGitBranch string
)

func init() {
	// Detect current git branch (best-effort; GetApplicationSupportPath ignores it).
	CurrentGitBranch = getCurrentGitBranch()

	// Initialize base paths with a fallback bot name; SetBotName will recompute them once the session is available.
	ApplicationSupportPath = GetApplicationSupportPath(CurrentGitBranch)
	ApplicationCachesPath = GetApplicationCachesPath()
}

func getCurrentGitBranch() string {
	data, err := os.ReadFile(".git/HEAD")
	if err != nil {
		log.Printf("Failed to read git HEAD: %v", err)
		return "unknown"
	}
	line := strings.TrimSpace(string(data))
	if strings.HasPrefix(line, "ref: ") {
		parts := strings.Split(line, "/")
		if len(parts) > 0 {
			return parts[len(parts)-1]
		}
	}
	return line
}

// GetDiscordBotToken removed.
//
// Token selection by branch and automatic environment lookups were intentionally removed
// from this package to avoid implicit behavior shared across projects. Use
// `LoadEnvWithLocalBinFallback(tokenEnvName)` from this package to load a token from
// environment with the fallback to `$HOME/.local/bin/.env` when needed.

// SetBotName sets the bot name (from Discord API) and recomputes base paths.
// Files under the previously computed paths are not moved.
func SetBotName(name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	DiscordBotName = sanitizeName(name)

	// Recompute base paths now that we have a proper bot name.
	ApplicationSupportPath = GetApplicationSupportPath(CurrentGitBranch)
	ApplicationCachesPath = GetApplicationCachesPath()

}

// EffectiveBotName returns the current bot name or a safe fallback if unset.
func EffectiveBotName() string {
	n := strings.TrimSpace(DiscordBotName)
	if n == "" {
		return "DiscordBot"
	}
	return n
}

// GetApplicationSupportPath returns the OS-specific path for application support files.
// - macOS: ~/Library/Application Support/[BotName]
// - Linux: ~/.local/lib/[BotName]
// Preferences are stored here.
func GetApplicationSupportPath(_ string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", EffectiveBotName())
	case "linux":
		return filepath.Join(homeDir(), ".local", "lib", EffectiveBotName())
	default:
		// Fallback for other platforms (e.g., Windows), using a common convention.
		return filepath.Join(homeDir(), "AppData", "Roaming", EffectiveBotName())
	}
}

// GetApplicationCachesPath returns the OS-specific path for cache files.
// - macOS: ~/Library/Cache/[BotName]
// - Linux: ~/.local/lib/[BotName]
// All caches are stored here.
func GetApplicationCachesPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Cache", EffectiveBotName())
	case "linux":
		return filepath.Join(homeDir(), ".local", "lib", EffectiveBotName())
	default:
		// Fallback for other platforms, using a common convention.
		return filepath.Join(homeDir(), "AppData", "Local", EffectiveBotName())
	}
}

// GetMessageDBPath returns the SQLite DB path for message persistence.
// - macOS: ~/Library/Cache/[BotName]/messages/messages.db
// - Linux: ~/.local/lib/[BotName]/messages/messages.db
func GetMessageDBPath() string {
	return filepath.Join(ApplicationCachesPath, "messages", "messages.db")
}

// GetSettingsFilePath returns the standardized path for settings.json.
// - macOS: ~/Library/Application Support/[BotName]/preferences/settings.json
// - Linux: ~/.local/lib/[BotName]/preferences/settings.json
func GetSettingsFilePath() string {
	return filepath.Join(ApplicationSupportPath, "preferences", "settings.json")
}

// GetLogFilePath returns the path to the log file.
// - macOS: ~/Library/Application Support/[BotName]/logs/discordcore.log
// - Linux: ~/.local/lib/[BotName]/logs/discordcore.log
func GetLogFilePath() string {
	return filepath.Join(ApplicationSupportPath, "logs", "discordcore.log")
}

// EnsureCacheDirs creates base cache directories as needed.
// Safe to call multiple times.
func EnsureCacheDirs() error {
	dirs := []string{
		filepath.Dir(GetMessageDBPath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory %s: %w", d, err)
		}
	}
	return nil
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	// Fallback to current working directory if HOME is not set (unlikely on macOS).
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func sanitizeName(s string) string {
	// Keep it simple: trim spaces and replace slashes to avoid path issues.
	out := strings.TrimSpace(s)
	out = strings.ReplaceAll(out, "/", "-")
	out = strings.ReplaceAll(out, string(filepath.Separator), "-")
	if out == "" {
		return "DiscordBot"
	}
	return out
}
