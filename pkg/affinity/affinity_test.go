package affinity

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

func defaultWeights() WeightTable {
	return WeightTable{SameChannel: 1, Mention: 3, Reply: 5}
}

func pointsFor(t *testing.T, e *Engine, guildID, from, to string) (int, bool) {
	t.Helper()
	bucket, ok := e.raw.Get(guildID + ":" + from)
	if !ok {
		return 0, false
	}
	agg, ok := bucket[to]
	if !ok {
		return 0, false
	}
	return agg.points, true
}

func TestRecordMessageAwardsSameChannelBothWays(t *testing.T) {
	store := newTestStore(t)
	e := New(store, defaultWeights(), 5*time.Minute, time.Hour, NormalizationPercentage)

	now := time.Now()
	e.RecordMessage("g1", "c1", "alice", nil, "", now)
	e.RecordMessage("g1", "c1", "bob", nil, "", now.Add(time.Second))

	if got, _ := pointsFor(t, e, "g1", "alice", "bob"); got != 1 {
		t.Fatalf("expected alice -> bob same_channel point, got %d", got)
	}
	if got, _ := pointsFor(t, e, "g1", "bob", "alice"); got != 1 {
		t.Fatalf("expected bob -> alice same_channel point, got %d", got)
	}
}

func TestRecordMessageIgnoresSelfAndExpiredWindow(t *testing.T) {
	store := newTestStore(t)
	e := New(store, defaultWeights(), time.Minute, time.Hour, NormalizationPercentage)

	now := time.Now()
	e.RecordMessage("g1", "c1", "alice", []string{"alice"}, "", now)
	e.RecordMessage("g1", "c1", "alice", nil, "", now)
	if _, ok := e.raw.Get("g1:alice"); ok {
		t.Fatalf("expected no self-interaction points recorded")
	}

	e.RecordMessage("g1", "c1", "bob", nil, "", now.Add(2*time.Minute))
	if _, ok := pointsFor(t, e, "g1", "bob", "alice"); ok {
		t.Fatalf("expected alice's message to have aged out of the co-presence window")
	}
}

func TestRecordMessageMentionAndReply(t *testing.T) {
	store := newTestStore(t)
	e := New(store, defaultWeights(), 5*time.Minute, time.Hour, NormalizationPercentage)

	now := time.Now()
	e.RecordMessage("g1", "c1", "alice", []string{"bob"}, "carol", now)

	if got, _ := pointsFor(t, e, "g1", "alice", "bob"); got != 3 {
		t.Fatalf("expected 3 mention points, got %d", got)
	}
	if got, _ := pointsFor(t, e, "g1", "alice", "carol"); got != 5 {
		t.Fatalf("expected 5 reply points, got %d", got)
	}
}

func TestGetTopAffinitiesPercentagesSumToHundred(t *testing.T) {
	store := newTestStore(t)
	e := New(store, defaultWeights(), 5*time.Minute, time.Hour, NormalizationPercentage)

	now := time.Now()
	e.RecordMessage("g1", "c1", "alice", []string{"bob"}, "", now)
	e.RecordMessage("g1", "c1", "alice", []string{"carol"}, "", now)

	ranked, err := e.GetTopAffinities("g1", "alice", now)
	if err != nil {
		t.Fatalf("get top affinities: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked relationships, got %d", len(ranked))
	}

	var total float64
	for _, r := range ranked {
		total += r.Score
	}
	if total < 99.9 || total > 100.1 {
		t.Fatalf("expected percentages to sum to ~100, got %f", total)
	}
}

func TestGetTopAffinitiesEmptyWhenNoInteractions(t *testing.T) {
	store := newTestStore(t)
	e := New(store, defaultWeights(), 5*time.Minute, time.Hour, NormalizationPercentage)

	ranked, err := e.GetTopAffinities("g1", "nobody", time.Now())
	if err != nil {
		t.Fatalf("get top affinities: %v", err)
	}
	if len(ranked) != 0 {
		t.Fatalf("expected no relationships, got %d", len(ranked))
	}
}

func TestGetTopAffinitiesServesFreshCacheWithoutRecompute(t *testing.T) {
	store := newTestStore(t)
	e := New(store, defaultWeights(), 5*time.Minute, time.Hour, NormalizationPercentage)

	now := time.Now()
	e.RecordMessage("g1", "c1", "alice", []string{"bob"}, "", now)
	if _, err := e.GetTopAffinities("g1", "alice", now); err != nil {
		t.Fatalf("get top affinities: %v", err)
	}

	// More points accrue after the persisted snapshot, but a fresh cache read should
	// still serve the previously persisted percentage rather than recomputing.
	e.RecordMessage("g1", "c1", "alice", []string{"carol"}, "", now)
	ranked, err := e.GetTopAffinities("g1", "alice", now.Add(time.Second))
	if err != nil {
		t.Fatalf("get top affinities: %v", err)
	}
	if len(ranked) != 1 || ranked[0].UserID != "bob" {
		t.Fatalf("expected cached single-relationship result, got %+v", ranked)
	}
}

func TestLogNormalizationDoesNotRequireSumToHundred(t *testing.T) {
	store := newTestStore(t)
	e := New(store, defaultWeights(), 5*time.Minute, time.Hour, NormalizationLogarithmic)

	now := time.Now()
	e.RecordMessage("g1", "c1", "alice", []string{"bob"}, "", now)

	ranked, err := e.GetTopAffinities("g1", "alice", now)
	if err != nil {
		t.Fatalf("get top affinities: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("expected 1 ranked relationship, got %d", len(ranked))
	}
	if ranked[0].Score <= 0 || ranked[0].Score > 100 {
		t.Fatalf("expected a bounded positive log-normalized score, got %f", ranked[0].Score)
	}
}
