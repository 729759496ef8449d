package ownership

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/files"
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

func insertSession(t *testing.T, store *storage.Store, channelID, userID string, joinedAt time.Time, durationSeconds int64) {
	t.Helper()
	_, err := store.DB().Exec(`INSERT INTO voice_channel_sessions
		(user_id, guild_id, channel_id, channel_name, joined_at, left_at, duration, is_active)
		VALUES (?, 'g1', ?, 'general', ?, ?, ?, 0)`,
		userID, channelID, joinedAt, joinedAt.Add(time.Duration(durationSeconds)*time.Second), durationSeconds)
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}
}

type fakePerms struct {
	granted []string
	revoked []string
	renamed []string
}

func (f *fakePerms) GrantOwnerCapabilities(guildID, channelID, userID string, caps int) error {
	f.granted = append(f.granted, userID)
	return nil
}
func (f *fakePerms) RevokeOverride(guildID, channelID, userID string) error {
	f.revoked = append(f.revoked, userID)
	return nil
}
func (f *fakePerms) RenameChannel(guildID, channelID, name string) error {
	f.renamed = append(f.renamed, name)
	return nil
}

func TestElectOwnerPrefersPresentGreatestDuration(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	insertSession(t, store, "c1", "alice", now.Add(-time.Hour), 10)
	insertSession(t, store, "c1", "bob", now.Add(-2*time.Hour), 50)
	insertSession(t, store, "c1", "carol", now.Add(-3*time.Hour), 90)

	mgr := New(store, &fakePerms{}, nil)

	owner, err := mgr.ElectOwner("c1", []PresentMember{{UserID: "alice"}, {UserID: "bob"}})
	if err != nil {
		t.Fatalf("elect owner: %v", err)
	}
	if owner != "bob" {
		t.Fatalf("expected bob (greatest present duration), got %q", owner)
	}
}

func TestElectOwnerFallsBackToEarliestWhenNonePresent(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	insertSession(t, store, "c1", "alice", now.Add(-time.Hour), 10)
	insertSession(t, store, "c1", "bob", now.Add(-5*time.Hour), 50)

	mgr := New(store, &fakePerms{}, nil)

	owner, err := mgr.ElectOwner("c1", nil)
	if err != nil {
		t.Fatalf("elect owner: %v", err)
	}
	if owner != "bob" {
		t.Fatalf("expected bob (earliest joined_at), got %q", owner)
	}
}

func TestElectOwnerEmptyWithNoHistory(t *testing.T) {
	store := newTestStore(t)
	mgr := New(store, &fakePerms{}, nil)

	owner, err := mgr.ElectOwner("no-history-channel", nil)
	if err != nil {
		t.Fatalf("elect owner: %v", err)
	}
	if owner != "" {
		t.Fatalf("expected empty owner for channel with no history, got %q", owner)
	}
}

func TestEnsureValidOwnerKeepsOwnerWhilePresent(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	insertSession(t, store, "c1", "alice", now.Add(-time.Hour), 10)

	perms := &fakePerms{}
	mgr := New(store, perms, nil)

	owner, err := mgr.EnsureValidOwner("g1", "c1", []PresentMember{{UserID: "alice"}})
	if err != nil {
		t.Fatalf("ensure valid owner: %v", err)
	}
	if owner != "alice" {
		t.Fatalf("expected alice elected, got %q", owner)
	}
	if len(perms.granted) != 1 || perms.granted[0] != "alice" {
		t.Fatalf("expected capabilities granted to alice, got %v", perms.granted)
	}

	// Re-run with alice still present: should be a no-op re-confirmation, no new grant.
	owner2, err := mgr.EnsureValidOwner("g1", "c1", []PresentMember{{UserID: "alice"}})
	if err != nil {
		t.Fatalf("ensure valid owner (2nd): %v", err)
	}
	if owner2 != "alice" {
		t.Fatalf("expected alice to remain owner, got %q", owner2)
	}
	if len(perms.granted) != 1 {
		t.Fatalf("expected no additional grant when owner unchanged, got %v", perms.granted)
	}
}

func TestEnsureValidOwnerTransfersWhenOwnerLeaves(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	insertSession(t, store, "c1", "alice", now.Add(-time.Hour), 10)
	insertSession(t, store, "c1", "bob", now.Add(-2*time.Hour), 50)

	perms := &fakePerms{}
	mgr := New(store, perms, nil)

	if _, err := mgr.EnsureValidOwner("g1", "c1", []PresentMember{{UserID: "alice"}}); err != nil {
		t.Fatalf("initial ownership: %v", err)
	}

	// alice leaves, bob is present: bob should be elected and alice's override revoked.
	owner, err := mgr.EnsureValidOwner("g1", "c1", []PresentMember{{UserID: "bob"}})
	if err != nil {
		t.Fatalf("ensure valid owner after departure: %v", err)
	}
	if owner != "bob" {
		t.Fatalf("expected bob elected after alice left, got %q", owner)
	}
	if len(perms.revoked) != 1 || perms.revoked[0] != "alice" {
		t.Fatalf("expected alice's override revoked, got %v", perms.revoked)
	}
}

func TestMaybeRenameSkipsWithinCooldownAndSkipPatterns(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	insertSession(t, store, "c1", "alice", now.Add(-time.Hour), 10)

	perms := &fakePerms{}
	mgr := New(store, perms, nil)
	if _, err := mgr.EnsureValidOwner("g1", "c1", []PresentMember{{UserID: "alice"}}); err != nil {
		t.Fatalf("ensure valid owner: %v", err)
	}

	cfg := &files.RuntimeConfig{}
	owner := PresentMember{UserID: "alice", DisplayName: "Alice"}

	if err := mgr.MaybeRename("g1", "c1", "available", owner, cfg); err != nil {
		t.Fatalf("maybe rename (skip pattern): %v", err)
	}
	if len(perms.renamed) != 0 {
		t.Fatalf("expected no rename for a skip-pattern name, got %v", perms.renamed)
	}

	if err := mgr.MaybeRename("g1", "c1", "Bob's old channel", owner, cfg); err != nil {
		t.Fatalf("maybe rename (first): %v", err)
	}
	if len(perms.renamed) != 1 || perms.renamed[0] != "Alice's Channel" {
		t.Fatalf("expected rename to Alice's Channel, got %v", perms.renamed)
	}

	// Within cooldown, should not rename even with a different current name.
	if err := mgr.MaybeRename("g1", "c1", "Something else", owner, cfg); err != nil {
		t.Fatalf("maybe rename (cooldown): %v", err)
	}
	if len(perms.renamed) != 1 {
		t.Fatalf("expected rename suppressed by cooldown, got %v", perms.renamed)
	}
}
