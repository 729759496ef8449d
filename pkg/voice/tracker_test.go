package voice

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/ln64-git/arcados-bot-sub003/pkg/cache"
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

func activeSessionCount(t *testing.T, store *storage.Store, userID string) int {
	t.Helper()
	var n int
	row := store.DB().QueryRow(`SELECT COUNT(*) FROM voice_channel_sessions WHERE user_id=? AND is_active=1`, userID)
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count active sessions: %v", err)
	}
	return n
}

func TestTrackJoinCreatesActiveSession(t *testing.T) {
	store := newTestStore(t)
	tracker := New(store, nil, "g1")

	err := tracker.TrackJoin("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"})
	if err != nil {
		t.Fatalf("track join: %v", err)
	}

	if got := activeSessionCount(t, store, "alice"); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}
}

func TestTrackJoinIgnoresOtherGuildsAndBots(t *testing.T) {
	store := newTestStore(t)
	tracker := New(store, nil, "g1")

	if err := tracker.TrackJoin("other-guild", Member{UserID: "alice"}, Channel{ID: "c1"}); err != nil {
		t.Fatalf("track join (other guild): %v", err)
	}
	if got := activeSessionCount(t, store, "alice"); got != 0 {
		t.Fatalf("expected no session for an out-of-scope guild, got %d", got)
	}

	if err := tracker.TrackJoin("g1", Member{UserID: "bot1", Bot: true}, Channel{ID: "c1"}); err != nil {
		t.Fatalf("track join (bot): %v", err)
	}
	if got := activeSessionCount(t, store, "bot1"); got != 0 {
		t.Fatalf("expected no session for a bot member, got %d", got)
	}
}

func TestTrackLeaveClosesActiveSession(t *testing.T) {
	store := newTestStore(t)
	tracker := New(store, nil, "g1")

	if err := tracker.TrackJoin("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"}); err != nil {
		t.Fatalf("track join: %v", err)
	}
	if err := tracker.TrackLeave("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"}); err != nil {
		t.Fatalf("track leave: %v", err)
	}

	if got := activeSessionCount(t, store, "alice"); got != 0 {
		t.Fatalf("expected 0 active sessions after leave, got %d", got)
	}

	var duration int64
	row := store.DB().QueryRow(`SELECT duration FROM voice_channel_sessions WHERE user_id='alice' ORDER BY id DESC LIMIT 1`)
	if err := row.Scan(&duration); err != nil {
		t.Fatalf("read duration: %v", err)
	}
	if duration < 0 {
		t.Fatalf("expected non-negative recorded duration in whole seconds, got %d", duration)
	}
}

func TestTrackMoveClosesOldAndOpensNewSession(t *testing.T) {
	store := newTestStore(t)
	tracker := New(store, nil, "g1")

	if err := tracker.TrackJoin("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"}); err != nil {
		t.Fatalf("track join: %v", err)
	}
	if err := tracker.TrackMove("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"}, Channel{ID: "c2", Name: "Gaming"}); err != nil {
		t.Fatalf("track move: %v", err)
	}

	var activeChannel string
	row := store.DB().QueryRow(`SELECT channel_id FROM voice_channel_sessions WHERE user_id='alice' AND is_active=1`)
	if err := row.Scan(&activeChannel); err != nil {
		t.Fatalf("read active channel: %v", err)
	}
	if activeChannel != "c2" {
		t.Fatalf("expected active session in c2 after move, got %q", activeChannel)
	}
	if got := activeSessionCount(t, store, "alice"); got != 1 {
		t.Fatalf("expected exactly 1 active session after move, got %d", got)
	}
}

func TestTrackJoinWritesBestEffortCacheEntry(t *testing.T) {
	store := newTestStore(t)
	c := cache.NewTTLMap("test", time.Minute, 0, 0)
	tracker := New(store, c, "g1")

	if err := tracker.TrackJoin("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"}); err != nil {
		t.Fatalf("track join: %v", err)
	}

	v, ok := c.Get("active_voice:alice")
	if !ok {
		t.Fatal("expected active voice cache entry after join")
	}
	if v != "c1" {
		t.Fatalf("expected cached channel id c1, got %v", v)
	}
}

func TestChannelMembersSetTracksJoinLeaveAndMove(t *testing.T) {
	store := newTestStore(t)
	c := cache.NewTTLMap("test", time.Minute, 0, 0)
	tracker := New(store, c, "g1")

	if err := tracker.TrackJoin("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"}); err != nil {
		t.Fatalf("track join: %v", err)
	}
	members, err := c.SMembers("channel_members:c1")
	if err != nil {
		t.Fatalf("smembers c1: %v", err)
	}
	if !containsMember(members, "alice") {
		t.Fatalf("expected alice in channel_members:c1, got %v", members)
	}

	if err := tracker.TrackMove("g1", Member{UserID: "alice"}, Channel{ID: "c1", Name: "General"}, Channel{ID: "c2", Name: "Gaming"}); err != nil {
		t.Fatalf("track move: %v", err)
	}
	oldMembers, err := c.SMembers("channel_members:c1")
	if err != nil {
		t.Fatalf("smembers c1 after move: %v", err)
	}
	if containsMember(oldMembers, "alice") {
		t.Fatalf("expected alice removed from channel_members:c1 after move, got %v", oldMembers)
	}
	newMembers, err := c.SMembers("channel_members:c2")
	if err != nil {
		t.Fatalf("smembers c2: %v", err)
	}
	if !containsMember(newMembers, "alice") {
		t.Fatalf("expected alice in channel_members:c2 after move, got %v", newMembers)
	}

	if err := tracker.TrackLeave("g1", Member{UserID: "alice"}, Channel{ID: "c2", Name: "Gaming"}); err != nil {
		t.Fatalf("track leave: %v", err)
	}
	afterLeave, err := c.SMembers("channel_members:c2")
	if err != nil {
		t.Fatalf("smembers c2 after leave: %v", err)
	}
	if containsMember(afterLeave, "alice") {
		t.Fatalf("expected alice removed from channel_members:c2 after leave, got %v", afterLeave)
	}
}

func containsMember(members []string, userID string) bool {
	for _, m := range members {
		if m == userID {
			return true
		}
	}
	return false
}

// TestVoiceTransitionInvariants generates randomized sequences of join/leave/move
// transitions across several users and channels and checks, after every step, that:
//  1. a user has at most one active session at a time
//  2. a closed session's duration is non-negative whole seconds and never exceeds
//     the elapsed wall-clock time between join and close
//  3. an active session's channel always matches the tracker's last known state
//     for that user
//  4. the channel_members cache set for a channel always matches the set of users
//     whose active session is in that channel
func TestVoiceTransitionInvariants(t *testing.T) {
	const (
		users      = 5
		channels   = 3
		iterations = 200
	)

	store := newTestStore(t)
	c := cache.NewTTLMap("test", time.Minute, 0, 0)
	tracker := New(store, c, "g1")

	userIDs := make([]string, users)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("user%d", i)
	}
	chans := make([]Channel, channels)
	for i := range chans {
		chans[i] = Channel{ID: fmt.Sprintf("chan%d", i), Name: fmt.Sprintf("Channel %d", i)}
	}

	rng := rand.New(rand.NewSource(1))
	current := make(map[string]string) // userID -> channelID, absent means not in voice

	for step := 0; step < iterations; step++ {
		userID := userIDs[rng.Intn(users)]
		curChID, inVoice := current[userID]
		member := Member{UserID: userID}

		switch {
		case !inVoice:
			target := chans[rng.Intn(channels)]
			if err := tracker.TrackJoin("g1", member, target); err != nil {
				t.Fatalf("step %d: track join: %v", step, err)
			}
			current[userID] = target.ID
		case rng.Intn(2) == 0:
			var cur Channel
			for _, ch := range chans {
				if ch.ID == curChID {
					cur = ch
				}
			}
			if err := tracker.TrackLeave("g1", member, cur); err != nil {
				t.Fatalf("step %d: track leave: %v", step, err)
			}
			delete(current, userID)
		default:
			var old Channel
			for _, ch := range chans {
				if ch.ID == curChID {
					old = ch
				}
			}
			target := chans[rng.Intn(channels)]
			if err := tracker.TrackMove("g1", member, old, target); err != nil {
				t.Fatalf("step %d: track move: %v", step, err)
			}
			current[userID] = target.ID
		}

		// Invariant 1: at most one active session per user.
		for _, uid := range userIDs {
			if got := activeSessionCount(t, store, uid); got > 1 {
				t.Fatalf("step %d: user %s has %d active sessions, want at most 1", step, uid, got)
			}
		}

		// Invariant 2: every closed session has a non-negative whole-second duration
		// that does not exceed the time between its join and close.
		rows, err := store.DB().Query(`SELECT joined_at, left_at, duration FROM voice_channel_sessions WHERE is_active=0`)
		if err != nil {
			t.Fatalf("step %d: query closed sessions: %v", step, err)
		}
		for rows.Next() {
			var joinedAt, leftAt time.Time
			var duration int64
			if err := rows.Scan(&joinedAt, &leftAt, &duration); err != nil {
				rows.Close()
				t.Fatalf("step %d: scan closed session: %v", step, err)
			}
			if duration < 0 {
				rows.Close()
				t.Fatalf("step %d: negative duration %d", step, duration)
			}
			if elapsed := leftAt.Sub(joinedAt).Seconds(); duration > int64(elapsed)+1 {
				rows.Close()
				t.Fatalf("step %d: duration %d exceeds elapsed %.0f seconds", step, duration, elapsed)
			}
		}
		rows.Close()

		// Invariant 3: the tracker's view of "current channel" matches the store's
		// active session row for every user still in voice.
		for uid, chID := range current {
			var activeChannel string
			row := store.DB().QueryRow(`SELECT channel_id FROM voice_channel_sessions WHERE user_id=? AND is_active=1`, uid)
			if err := row.Scan(&activeChannel); err != nil {
				t.Fatalf("step %d: read active channel for %s: %v", step, uid, err)
			}
			if activeChannel != chID {
				t.Fatalf("step %d: expected %s active in %s, store says %s", step, uid, chID, activeChannel)
			}
		}

		// Invariant 4: channel_members cache matches active-session membership.
		for _, ch := range chans {
			want := make(map[string]bool)
			for uid, chID := range current {
				if chID == ch.ID {
					want[uid] = true
				}
			}
			got, err := c.SMembers(fmt.Sprintf("channel_members:%s", ch.ID))
			if err != nil {
				t.Fatalf("step %d: smembers %s: %v", step, ch.ID, err)
			}
			if len(got) != len(want) {
				t.Fatalf("step %d: channel %s cache membership %v, want %v", step, ch.ID, got, want)
			}
			for _, uid := range got {
				if !want[uid] {
					t.Fatalf("step %d: channel %s cache has unexpected member %s", step, ch.ID, uid)
				}
			}
		}
	}
}
