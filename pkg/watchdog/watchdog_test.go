package watchdog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fakeSyncer struct {
	calls []bool // forceFullSync values passed in
}

func (f *fakeSyncer) SyncGuild(guildID string, forceFullSync bool, messageLimit int) error {
	f.calls = append(f.calls, forceFullSync)
	return nil
}

type fakeRemote struct {
	members int
	roles   int
}

func (f *fakeRemote) MemberCount(guildID string) (int, error) { return f.members, nil }
func (f *fakeRemote) RoleCount(guildID string) (int, error)    { return f.roles, nil }

func TestRatio(t *testing.T) {
	cases := []struct {
		local, remote int
		want          float64
	}{
		{10, 10, 1.0},
		{5, 10, 0.5},
		{0, 0, 1.0},
		{5, 0, 0.0},
	}
	for _, c := range cases {
		if got := ratio(c.local, c.remote); got != c.want {
			t.Errorf("ratio(%d, %d) = %v, want %v", c.local, c.remote, got, c.want)
		}
	}
}

func TestCheckHealthForcesSyncWhenBelowThreshold(t *testing.T) {
	store := newTestStore(t)
	if err := store.UpsertGuildSync(storage.GuildSyncState{
		GuildID:       "g1",
		LastSyncAt:    time.Now().UTC(),
		TotalUsers:    5,
		TotalRoles:    5,
		IsFullySynced: true,
	}); err != nil {
		t.Fatalf("seed guild sync: %v", err)
	}

	syncer := &fakeSyncer{}
	remote := &fakeRemote{members: 100, roles: 5} // 5% user sync, below 95% threshold
	wd := New(store, syncer, remote, "g1", time.Hour, time.Hour, nil)

	wd.checkHealth()

	if len(syncer.calls) != 1 {
		t.Fatalf("expected exactly one forced sync, got %d", len(syncer.calls))
	}
	if !syncer.calls[0] {
		t.Fatal("expected forced full sync (forceFullSync=true)")
	}
}

func TestCheckHealthSkipsSyncWhenHealthy(t *testing.T) {
	store := newTestStore(t)
	if err := store.UpsertGuildSync(storage.GuildSyncState{
		GuildID:       "g1",
		LastSyncAt:    time.Now().UTC(),
		TotalUsers:    100,
		TotalRoles:    10,
		IsFullySynced: true,
	}); err != nil {
		t.Fatalf("seed guild sync: %v", err)
	}

	syncer := &fakeSyncer{}
	remote := &fakeRemote{members: 100, roles: 10}
	wd := New(store, syncer, remote, "g1", time.Hour, time.Hour, nil)

	wd.checkHealth()

	if len(syncer.calls) != 0 {
		t.Fatalf("expected no forced sync when healthy, got %d calls", len(syncer.calls))
	}
}

func TestStopReturnsPromptlyAfterRunExits(t *testing.T) {
	store := newTestStore(t)
	wd := New(store, &fakeSyncer{}, &fakeRemote{}, "g1", time.Hour, time.Hour, nil)
	wd.Start()

	start := time.Now()
	wd.Stop()
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("expected Stop to return within the grace period, took %v", elapsed)
	}
}

func TestCloseStaleSessionsClosesOrphanedSessions(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if _, err := store.DB().Exec(`INSERT INTO channels (discord_id, guild_id, channel_name, is_active) VALUES ('c1', 'g1', 'General', 1)`); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO voice_channel_sessions (user_id, guild_id, channel_id, joined_at, is_active) VALUES ('alice', 'g1', 'c1', ?, 1)`, now); err != nil {
		t.Fatalf("seed live session: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT INTO voice_channel_sessions (user_id, guild_id, channel_id, joined_at, is_active) VALUES ('bob', 'g1', 'c-deleted', ?, 1)`, now); err != nil {
		t.Fatalf("seed orphaned session: %v", err)
	}

	wd := New(store, &fakeSyncer{}, &fakeRemote{}, "g1", time.Hour, time.Hour, nil)
	closed, err := wd.closeStaleSessions()
	if err != nil {
		t.Fatalf("close stale sessions: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed orphaned session, got %d", closed)
	}

	var activeCount int
	row := store.DB().QueryRow(`SELECT COUNT(*) FROM voice_channel_sessions WHERE is_active=1`)
	if err := row.Scan(&activeCount); err != nil {
		t.Fatalf("count active sessions: %v", err)
	}
	if activeCount != 1 {
		t.Fatalf("expected alice's session to remain active, got %d active", activeCount)
	}

	var duration int64
	durationRow := store.DB().QueryRow(`SELECT duration FROM voice_channel_sessions WHERE user_id='bob'`)
	if err := durationRow.Scan(&duration); err != nil {
		t.Fatalf("read bob's closed duration: %v", err)
	}
	if duration < 0 {
		t.Fatalf("expected a non-negative computed duration, got %d", duration)
	}
}
