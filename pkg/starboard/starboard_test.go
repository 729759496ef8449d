package starboard

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

type fakeSource struct {
	byID map[string]MessageSnapshot
}

func (f *fakeSource) FetchMessage(channelID, messageID, starEmoji string) (MessageSnapshot, bool, error) {
	snap, ok := f.byID[messageID]
	return snap, ok, nil
}

func (f *fakeSource) RecentMessages(channelID string, since time.Time, starEmoji string) ([]MessageSnapshot, error) {
	var out []MessageSnapshot
	for _, snap := range f.byID {
		if snap.ChannelID == channelID && !snap.CreatedAt.Before(since) {
			out = append(out, snap)
		}
	}
	return out, nil
}

type fakePoster struct {
	nextID     int
	posted     map[string]Embed // messageID -> embed
	videoPosts int
	deleted    []string
}

func newFakePoster() *fakePoster {
	return &fakePoster{posted: make(map[string]Embed)}
}

func (f *fakePoster) SendEmbed(channelID string, embed Embed) (string, error) {
	f.nextID++
	id := "star-" + string(rune('a'+f.nextID))
	f.posted[id] = embed
	return id, nil
}

func (f *fakePoster) SendEmbedWithVideo(channelID string, embed Embed, video Attachment) (string, error) {
	f.videoPosts++
	return f.SendEmbed(channelID, embed)
}

func (f *fakePoster) EditEmbed(channelID, messageID string, embed Embed) error {
	f.posted[messageID] = embed
	return nil
}

func (f *fakePoster) DeleteMessage(channelID, messageID string) error {
	delete(f.posted, messageID)
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakePoster) Exists(channelID, messageID string) (bool, error) {
	_, ok := f.posted[messageID]
	return ok, nil
}

func TestHandleReactionCreatesEntryAtThreshold(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{byID: map[string]MessageSnapshot{
		"m1": {ID: "m1", ChannelID: "c1", AuthorID: "alice", Content: "hi", StarCount: 3, CreatedAt: time.Now()},
	}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb"}, nil)

	if err := e.HandleReaction("g1", "c1", "m1"); err != nil {
		t.Fatalf("handle reaction: %v", err)
	}

	entry, err := store.GetStarboardEntry("g1", "m1")
	if err != nil {
		t.Fatalf("get starboard entry: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected a starboard entry to be created")
	}
	if len(poster.posted) != 1 {
		t.Fatalf("expected exactly 1 posted embed, got %d", len(poster.posted))
	}
}

func TestHandleReactionIsIdempotentBelowThreshold(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{byID: map[string]MessageSnapshot{
		"m1": {ID: "m1", ChannelID: "c1", AuthorID: "alice", StarCount: 1, CreatedAt: time.Now()},
	}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb"}, nil)

	if err := e.HandleReaction("g1", "c1", "m1"); err != nil {
		t.Fatalf("handle reaction: %v", err)
	}
	if len(poster.posted) != 0 {
		t.Fatalf("expected no posts below threshold, got %d", len(poster.posted))
	}
}

func TestHandleReactionRemovesEntryWhenCountDrops(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{byID: map[string]MessageSnapshot{
		"m1": {ID: "m1", ChannelID: "c1", AuthorID: "alice", StarCount: 3, CreatedAt: time.Now()},
	}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb"}, nil)

	if err := e.HandleReaction("g1", "c1", "m1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	source.byID["m1"] = MessageSnapshot{ID: "m1", ChannelID: "c1", AuthorID: "alice", StarCount: 2, CreatedAt: time.Now()}
	if err := e.HandleReaction("g1", "c1", "m1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	entry, err := store.GetStarboardEntry("g1", "m1")
	if err != nil {
		t.Fatalf("get starboard entry: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected entry to be removed once below threshold")
	}
	if len(poster.posted) != 0 {
		t.Fatalf("expected the starred embed to be deleted, got %d remaining", len(poster.posted))
	}
}

func TestCreatePostsReplyContextEmbedFirst(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	source := &fakeSource{byID: map[string]MessageSnapshot{
		"parent": {ID: "parent", ChannelID: "c1", AuthorID: "carol", Content: "original thought", CreatedAt: now},
		"reply":  {ID: "reply", ChannelID: "c1", AuthorID: "alice", Content: "+1", StarCount: 3, ReplyToID: "parent", CreatedAt: now},
	}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb"}, nil)

	if err := e.HandleReaction("g1", "c1", "reply"); err != nil {
		t.Fatalf("handle reaction: %v", err)
	}

	entry, err := store.GetStarboardEntry("g1", "reply")
	if err != nil {
		t.Fatalf("get starboard entry: %v", err)
	}
	if entry == nil {
		t.Fatalf("expected an entry for the starred reply")
	}
	if entry.ContextMessageID == "" {
		t.Fatalf("expected a reply context embed id to be recorded")
	}
	if len(poster.posted) != 2 {
		t.Fatalf("expected 2 embeds posted (context + starred), got %d", len(poster.posted))
	}
	// The fake poster hands out increasing ids in posting order.
	if entry.ContextMessageID >= entry.StarboardMessageID {
		t.Fatalf("expected the context embed (%s) to be posted before the starred embed (%s)", entry.ContextMessageID, entry.StarboardMessageID)
	}
}

func TestHandleMessageUpdateRefreshesEmbedContent(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{byID: map[string]MessageSnapshot{
		"m1": {ID: "m1", ChannelID: "c1", AuthorID: "alice", Content: "original", StarCount: 3, CreatedAt: time.Now()},
	}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb"}, nil)

	if err := e.HandleReaction("g1", "c1", "m1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	entry, err := store.GetStarboardEntry("g1", "m1")
	if err != nil || entry == nil {
		t.Fatalf("expected entry after create, err=%v entry=%v", err, entry)
	}

	source.byID["m1"] = MessageSnapshot{ID: "m1", ChannelID: "c1", AuthorID: "alice", Content: "edited", StarCount: 3, CreatedAt: time.Now()}
	if err := e.HandleMessageUpdate("g1", "c1", "m1"); err != nil {
		t.Fatalf("handle message update: %v", err)
	}

	if got := poster.posted[entry.StarboardMessageID].Description; got != "edited" {
		t.Fatalf("expected embed content refreshed to %q, got %q", "edited", got)
	}
}

func TestHandleMessageUpdateIgnoresUntrackedMessage(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{byID: map[string]MessageSnapshot{}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb"}, nil)

	if err := e.HandleMessageUpdate("g1", "c1", "missing"); err != nil {
		t.Fatalf("expected no error for untracked message, got %v", err)
	}
}

func TestHandleMessageDeleteRemovesStarboardEntry(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{byID: map[string]MessageSnapshot{
		"m1": {ID: "m1", ChannelID: "c1", AuthorID: "alice", StarCount: 3, CreatedAt: time.Now()},
	}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb"}, nil)

	if err := e.HandleReaction("g1", "c1", "m1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.HandleMessageDelete("g1", "m1"); err != nil {
		t.Fatalf("handle message delete: %v", err)
	}

	entry, err := store.GetStarboardEntry("g1", "m1")
	if err != nil {
		t.Fatalf("get starboard entry: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected starboard entry removed after source delete")
	}
	if len(poster.posted) != 0 {
		t.Fatalf("expected starred embed deleted, got %d remaining", len(poster.posted))
	}
}

func TestReconcileRepostsAfterStarredEmbedDeletedOutOfBand(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	source := &fakeSource{byID: map[string]MessageSnapshot{
		"m1": {ID: "m1", ChannelID: "c1", AuthorID: "alice", StarCount: 3, CreatedAt: now},
	}}
	poster := newFakePoster()
	e := New(store, source, poster, Config{Threshold: 3, StarboardChannelID: "sb", ReconcileWindow: 24 * time.Hour}, nil)

	if err := e.HandleReaction("g1", "c1", "m1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	entry, err := store.GetStarboardEntry("g1", "m1")
	if err != nil || entry == nil {
		t.Fatalf("expected entry after create, err=%v entry=%v", err, entry)
	}

	// A moderator deletes the starred embed directly.
	delete(poster.posted, entry.StarboardMessageID)

	e.Reconcile("g1", []string{"c1"})

	after, err := store.GetStarboardEntry("g1", "m1")
	if err != nil {
		t.Fatalf("get starboard entry: %v", err)
	}
	if after == nil {
		t.Fatalf("expected a fresh entry after reconcile reposts it")
	}
	if after.StarboardMessageID == entry.StarboardMessageID {
		t.Fatalf("expected a newly posted starboard message id")
	}
}
