// Package watchdog runs the periodic health-check and maintenance loop that keeps the
// persistent store's view of a guild in sync with the platform and closes stale voice
// sessions left behind by missed gateway events.
package watchdog

import (
	"sync"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/cache"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

// GuildSyncer performs a full or incremental sync of a guild's users, roles and messages.
// Implemented by pkg/guildsync; declared here as an interface to keep this package
// independent of the sync engine's own Discord-facing dependencies.
type GuildSyncer interface {
	SyncGuild(guildID string, forceFullSync bool, messageLimit int) error
}

// RemoteCounts reports the platform's current member/role totals for a guild, used to
// compute sync drift without re-syncing.
type RemoteCounts interface {
	MemberCount(guildID string) (int, error)
	RoleCount(guildID string) (int, error)
}

// CacheReporter reports guild-scoped cache statistics, e.g. a cache.CompositeCache
// fronting the hot in-process/Redis tier alongside the persistent cache tier.
type CacheReporter interface {
	GuildStats(guildID string) cache.CacheStats
}

// Watchdog runs the dual-cadence health/maintenance loop described for guild sync health.
type Watchdog struct {
	store   *storage.Store
	syncer  GuildSyncer
	remote  RemoteCounts
	guildID string

	healthInterval      time.Duration
	maintenanceInterval time.Duration

	cacheReporter CacheReporter // nil disables cache-stats logging during maintenance

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a Watchdog for the configured primary guild. cacheReporter may be nil
// to disable the guild cache-stats log line emitted during each maintenance pass.
func New(store *storage.Store, syncer GuildSyncer, remote RemoteCounts, guildID string, healthInterval, maintenanceInterval time.Duration, cacheReporter CacheReporter) *Watchdog {
	return &Watchdog{
		store:               store,
		syncer:              syncer,
		remote:              remote,
		guildID:             guildID,
		healthInterval:      healthInterval,
		maintenanceInterval: maintenanceInterval,
		cacheReporter:       cacheReporter,
		stopCh:              make(chan struct{}),
		done:                make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine. Call Stop to request shutdown.
func (w *Watchdog) Start() {
	go w.run()
}

// Stop signals the loop to exit and waits up to 1 second for it to drain in-flight work.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	select {
	case <-w.done:
	case <-time.After(1 * time.Second):
		log.ApplicationLogger().Warn("watchdog did not stop within grace period")
	}
}

func (w *Watchdog) run() {
	defer close(w.done)

	healthTicker := time.NewTicker(w.healthInterval)
	maintenanceTicker := time.NewTicker(w.maintenanceInterval)
	defer healthTicker.Stop()
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-healthTicker.C:
			w.checkHealth()
		case <-maintenanceTicker.C:
			w.runMaintenance()
		}
	}
}

func (w *Watchdog) checkHealth() {
	gs, err := w.store.GetGuildSync(w.guildID)
	if err != nil {
		log.ApplicationLogger().Warn("watchdog: failed to read guild sync state", "guildID", w.guildID, "error", err)
		return
	}

	remoteMembers, err := w.remote.MemberCount(w.guildID)
	if err != nil {
		log.ApplicationLogger().Warn("watchdog: failed to read remote member count", "guildID", w.guildID, "error", err)
		return
	}
	remoteRoles, err := w.remote.RoleCount(w.guildID)
	if err != nil {
		log.ApplicationLogger().Warn("watchdog: failed to read remote role count", "guildID", w.guildID, "error", err)
		return
	}

	localUsers, localRoles := 0, 0
	stale := true
	if gs != nil {
		localUsers, localRoles = gs.TotalUsers, gs.TotalRoles
		stale = !gs.IsFullySynced
	}

	userSyncPercent := ratio(localUsers, remoteMembers)
	roleSyncPercent := ratio(localRoles, remoteRoles)
	unhealthy := userSyncPercent < 0.95 || roleSyncPercent < 0.95 || stale

	if !unhealthy {
		return
	}

	log.ApplicationLogger().Warn("watchdog: guild unhealthy, forcing full sync",
		"guildID", w.guildID, "userSyncPercent", userSyncPercent, "roleSyncPercent", roleSyncPercent, "stale", stale)

	if err := w.syncer.SyncGuild(w.guildID, true, 1000); err != nil {
		log.ApplicationLogger().Warn("watchdog: forced sync failed", "guildID", w.guildID, "error", err)
	}
}

func ratio(local, remote int) float64 {
	if remote <= 0 {
		if local == 0 {
			return 1
		}
		return 0
	}
	return float64(local) / float64(remote)
}

func (w *Watchdog) runMaintenance() {
	closed, err := w.closeStaleSessions()
	if err != nil {
		log.ApplicationLogger().Warn("watchdog: maintenance pass failed", "guildID", w.guildID, "error", err)
		return
	}
	if closed > 0 {
		log.ApplicationLogger().Info("watchdog: closed stale voice sessions", "guildID", w.guildID, "count", closed)
	}

	if w.cacheReporter != nil {
		stats := w.cacheReporter.GuildStats(w.guildID)
		log.ApplicationLogger().Info("watchdog: guild cache stats",
			"guildID", w.guildID, "entries", stats.TotalEntries, "memoryBytes", stats.MemoryUsage)
	}
}

// closeStaleSessions closes active voice_channel_sessions rows whose channel no longer
// exists in the channels table (the authoritative record of currently-known channels),
// computing each closed session's whole-second duration from its recorded joined_at.
func (w *Watchdog) closeStaleSessions() (int, error) {
	res, err := w.store.DB().Exec(`
UPDATE voice_channel_sessions
SET is_active=0,
    left_at=CURRENT_TIMESTAMP,
    duration=CAST((julianday('now') - julianday(joined_at)) * 86400 AS INTEGER)
WHERE is_active=1
  AND guild_id=?
  AND channel_id NOT IN (SELECT discord_id FROM channels WHERE is_active=1)`, w.guildID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
