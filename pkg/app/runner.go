package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ln64-git/arcados-bot-sub003/pkg/affinity"
	"github.com/ln64-git/arcados-bot-sub003/pkg/cache"
	"github.com/ln64-git/arcados-bot-sub003/pkg/discord/session"
	"github.com/ln64-git/arcados-bot-sub003/pkg/dispatch"
	"github.com/ln64-git/arcados-bot-sub003/pkg/errors"
	"github.com/ln64-git/arcados-bot-sub003/pkg/files"
	"github.com/ln64-git/arcados-bot-sub003/pkg/guildsync"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/ownership"
	"github.com/ln64-git/arcados-bot-sub003/pkg/service"
	"github.com/ln64-git/arcados-bot-sub003/pkg/starboard"
	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
	"github.com/ln64-git/arcados-bot-sub003/pkg/task"
	"github.com/ln64-git/arcados-bot-sub003/pkg/util"
	"github.com/ln64-git/arcados-bot-sub003/pkg/voice"
	"github.com/ln64-git/arcados-bot-sub003/pkg/watchdog"
)

// Run bootstraps the bot with a unified flow and blocks until shutdown.
// appName affects config/cache/log paths; tokenEnv is the environment variable
// containing the bot token. The tokenEnv is read from the current process
// environment first; if empty, a fallback $HOME/.local/bin/.env file is loaded
// and the variable re-checked.
func Run(appName, tokenEnv string) error {
	started := time.Now()

	// Load env (with $HOME/.local/bin fallback)
	token, loadErr := util.LoadEnvWithLocalBinFallback(tokenEnv)
	if loadErr != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", loadErr)
	}

	// Logger first so subsequent steps can log meaningfully
	if err := log.SetupLogger(); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()

	// Global error handler for the service manager
	errorHandler := errors.NewErrorHandler()

	log.ApplicationLogger().Info("starting bot", "app", appName)

	if token == "" {
		return fmt.Errorf("%s not set in environment or .env file", tokenEnv)
	}

	// Discord session
	log.DiscordLogger().Info("authenticating with Discord API")
	discordSession, err := session.NewDiscordSession(token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	if discordSession.State == nil || discordSession.State.User == nil {
		return fmt.Errorf("discord session state not properly initialized")
	}
	log.DiscordLogger().Info("authenticated", "username", discordSession.State.User.Username)

	util.SetBotName(discordSession.State.User.Username)

	if err := util.EnsureCacheDirs(); err != nil {
		return fmt.Errorf("create cache directories: %w", err)
	}
	if err := files.EnsureConfigFiles(); err != nil {
		return fmt.Errorf("ensure config files: %w", err)
	}

	// Config manager
	configManager := files.NewConfigManager()
	if err := configManager.LoadConfig(); err != nil {
		log.ErrorLoggerRaw().Error("failed to load settings file", "error", err)
	}

	// SQLite store (support override for test/dev environments)
	dbPath := util.GetMessageDBPath()
	if v := os.Getenv("ARCADOS_MESSAGE_DB_PATH"); v != "" {
		dbPath = v
	}
	store := storage.NewStore(dbPath)
	if err := store.Init(); err != nil {
		return fmt.Errorf("initialize SQLite store: %w", err)
	}

	if err := files.LogConfiguredGuilds(configManager, discordSession); err != nil {
		log.ErrorLoggerRaw().Error("some configured guilds could not be accessed", "error", err)
	}

	// Downtime-aware heartbeat: a gap longer than the maintenance interval is logged
	// as detected downtime; the watchdog is not told and starts on its normal cadence.
	cfg := configManager.Config()
	maintenanceInterval := cfg.RuntimeConfig.EffectiveMaintenanceInterval()
	if lastHB, ok, err := store.GetHeartbeat(); err == nil {
		if ok && time.Since(lastHB) > maintenanceInterval {
			log.ApplicationLogger().Warn("detected downtime since last heartbeat", "since", lastHB)
		}
	} else {
		log.ErrorLoggerRaw().Error("failed to read last heartbeat", "error", err)
	}
	_ = store.SetHeartbeat(time.Now())

	serviceManager := service.NewServiceManager(errorHandler)

	guildID := cfg.GuildID
	localCache := cache.NewTTLMap("local", 5*time.Minute, time.Minute, 10000)
	defer localCache.Close()

	hotCache := cache.NewCompositeCache("hot", localCache)
	var redisClient *redis.Client
	if cfg.CacheURL != "" {
		opts, err := redis.ParseURL(cfg.CacheURL)
		if err != nil {
			log.ApplicationLogger().Warn("invalid cache url, falling back to in-process cache only", "error", err)
		} else {
			redisClient = redis.NewClient(opts)
			if pingErr := redisClient.Ping(context.Background()).Err(); pingErr != nil {
				log.ApplicationLogger().Warn("cache backend unreachable at startup, continuing with in-process tier only", "error", pingErr)
			} else {
				hotCache.AddCache(cache.NewRedisCache("arcados", redisClient))
			}
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	twotier := cache.NewTwoTier(hotCache, 5*time.Minute)

	tracker := voice.New(store, hotCache, guildID)
	syncEngine := guildsync.New(discordSession, store)
	permApplier := dispatch.NewPermissionApplier(discordSession)
	ownerMgr := ownership.New(store, permApplier, twotier)

	taskRouter := task.NewRouter(task.Defaults())
	defer taskRouter.Close()

	runtimeCfg := cfg.ResolveRuntimeConfig(guildID)

	normalizationPolicy := affinity.NormalizationPercentage
	if runtimeCfg.AffinityUseLogNormalized {
		normalizationPolicy = affinity.NormalizationLogarithmic
	}
	affinityEngine := affinity.New(store,
		affinity.WeightsFromConfig(runtimeCfg.AffinityWeights),
		runtimeCfg.EffectiveAffinityWindow(),
		runtimeCfg.EffectiveAffinityCacheTTL(),
		normalizationPolicy)

	var starEngine *starboard.Engine
	if !runtimeCfg.DisableStarboard {
		if starboardChannelID := cfg.ResolveStarboardChannelID(guildID); starboardChannelID == "" {
			log.ApplicationLogger().Warn("starboard enabled but no starboard channel configured, disabling", "guildID", guildID)
		} else {
			starEngine = starboard.New(store,
				dispatch.NewMessageSource(discordSession),
				dispatch.NewPoster(discordSession),
				starboard.Config{
					Threshold:          runtimeCfg.EffectiveStarboardThreshold(),
					StarEmoji:          runtimeCfg.EffectiveStarboardEmoji(),
					StarboardChannelID: starboardChannelID,
					ReconcileInterval:  runtimeCfg.EffectiveStarboardReconcileInterval(),
				},
				twotier)
		}
	}

	edge := dispatch.New(discordSession, taskRouter, guildID, tracker, ownerMgr, starEngine, affinityEngine)
	edge.Register()
	defer edge.Close()

	wd := watchdog.New(store, syncEngine, syncEngine, guildID,
		cfg.RuntimeConfig.EffectiveHealthCheckInterval(), cfg.RuntimeConfig.EffectiveMaintenanceInterval(), hotCache)
	wd.Start()
	defer wd.Stop()

	if _, err := syncEngine.Sync(guildID, false, cfg.RuntimeConfig.EffectiveSyncMessageLimit()); err != nil {
		log.ApplicationLogger().Warn("initial guild sync failed (continuing)", "guildID", guildID, "error", err)
	}

	log.ApplicationLogger().Info("starting all services")
	if err := serviceManager.StartAll(); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	log.ApplicationLogger().Info("bot initialized", "app", appName, "elapsed", time.Since(started).Round(time.Millisecond))
	log.ApplicationLogger().Info("bot running, press Ctrl+C to stop", "app", appName)

	util.WaitForInterrupt()
	log.ApplicationLogger().Info("stopping bot", "app", appName)
	log.GlobalLogger.Sync()

	shutdownCtx, shutdownCancel := context.WithTimeoutCause(context.Background(), 30*time.Second, fmt.Errorf("application shutdown"))
	defer shutdownCancel()

	if err := serviceManager.StopAll(); err != nil {
		log.ErrorLoggerRaw().Error("some services failed to stop cleanly", "error", err)
	}

	time.Sleep(100 * time.Millisecond)

	if store != nil {
		_ = store.Close()
	}
	if discordSession != nil {
		_ = discordSession.Close()
	}

	_ = shutdownCtx
	return nil
}
