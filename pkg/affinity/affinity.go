// Package affinity scores pairwise interaction strength between guild members from
// message co-occurrence, mentions and replies, producing each user's bounded,
// percentage-ranked relationship list.
package affinity

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ln64-git/arcados-bot-sub003/pkg/files"
	"github.com/ln64-git/arcados-bot-sub003/pkg/log"
	"github.com/ln64-git/arcados-bot-sub003/pkg/storage"
)

// rawWorkingSetSize bounds how many distinct "guildID:userID" interaction buckets stay
// resident at once; a long-uptime bot across many guilds would otherwise accumulate one
// entry per user ever seen. Least-recently-touched users are evicted first and their
// in-memory running total is dropped; a later recompute for that user starts from an
// empty bucket (the persisted relationships rows are only served while still fresh).
const rawWorkingSetSize = 4096

// InteractionKind classifies the event contributing affinity points.
type InteractionKind string

const (
	KindSameChannel InteractionKind = "same_channel"
	KindMention     InteractionKind = "mention"
	KindReply       InteractionKind = "reply"
)

// WeightTable assigns point values to each interaction kind.
type WeightTable struct {
	SameChannel int
	Mention     int
	Reply       int
}

// WeightsFromConfig converts the configured (possibly zero-valued) weights into a
// table with files.AffinityWeights' documented defaults applied.
func WeightsFromConfig(cfg files.AffinityWeights) WeightTable {
	n := cfg.Normalized()
	return WeightTable{SameChannel: n.SameChannel, Mention: n.Mention, Reply: n.Reply}
}

func (w WeightTable) points(kind InteractionKind) int {
	switch kind {
	case KindSameChannel:
		return w.SameChannel
	case KindMention:
		return w.Mention
	case KindReply:
		return w.Reply
	default:
		return 0
	}
}

// NormalizationPolicy selects the formula converting raw points into a reported score.
type NormalizationPolicy int

const (
	// NormalizationPercentage reports each relationship as its share of the user's
	// total raw points: 100 * points / total. This is the default.
	NormalizationPercentage NormalizationPolicy = iota
	// NormalizationLogarithmic reports a diminishing-returns score that does not sum
	// to 100 across a user's relationships; kept behind a policy flag for guilds that
	// found the percentage view too volatile for very active pairs.
	NormalizationLogarithmic
)

// topN bounds the ranked list retained per user.
const topN = 50

// Ranked is a single entry in a user's ranked relationship list.
type Ranked struct {
	UserID string
	Score  float64
}

type aggregate struct {
	points       int
	interactions int
}

type recentAuthor struct {
	userID string
	at     time.Time
}

// Engine aggregates interaction points over a rolling window in memory and
// persists each user's top-50 ranking to the store on read, cache-through style.
type Engine struct {
	store    *storage.Store
	weights  WeightTable
	window   time.Duration
	cacheTTL time.Duration
	policy   NormalizationPolicy

	mu     sync.Mutex
	recent map[string][]recentAuthor                  // "guildID:channelID" -> recent authors in window
	raw    *lru.Cache[string, map[string]*aggregate] // "guildID:userID" -> otherUserID -> points/interactions
}

// New constructs an Engine. window bounds same-channel co-presence; cacheTTL bounds
// how long a persisted ranking is served before the next read triggers a recompute.
func New(store *storage.Store, weights WeightTable, window, cacheTTL time.Duration, policy NormalizationPolicy) *Engine {
	raw, err := lru.New[string, map[string]*aggregate](rawWorkingSetSize)
	if err != nil {
		// Only returns an error for a non-positive size, which rawWorkingSetSize never is.
		panic(fmt.Sprintf("affinity: invalid working set size: %v", err))
	}
	return &Engine{
		store:    store,
		weights:  weights,
		window:   window,
		cacheTTL: cacheTTL,
		policy:   policy,
		recent:   make(map[string][]recentAuthor),
		raw:      raw,
	}
}

// RecordMessage folds one message event into the rolling interaction window:
// same-channel co-presence with every other recent author in channelID, a direct
// edge to each mentioned user, and a reply edge to the parent message's author.
// Self-interactions are ignored. Purely in-memory; does not touch the store.
func (e *Engine) RecordMessage(guildID, channelID, authorID string, mentionedUserIDs []string, replyToAuthorID string, at time.Time) {
	if authorID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	channelKey := guildID + ":" + channelID
	cutoff := at.Add(-e.window)
	bucket := e.recent[channelKey]
	kept := bucket[:0]
	for _, a := range bucket {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}
	for _, a := range kept {
		if a.userID == authorID {
			continue
		}
		e.addPoints(guildID, authorID, a.userID, KindSameChannel)
		e.addPoints(guildID, a.userID, authorID, KindSameChannel)
	}
	kept = append(kept, recentAuthor{userID: authorID, at: at})
	e.recent[channelKey] = kept

	for _, mention := range mentionedUserIDs {
		if mention == "" || mention == authorID {
			continue
		}
		e.addPoints(guildID, authorID, mention, KindMention)
	}

	if replyToAuthorID != "" && replyToAuthorID != authorID {
		e.addPoints(guildID, authorID, replyToAuthorID, KindReply)
	}
}

// addPoints must be called with e.mu held.
func (e *Engine) addPoints(guildID, from, to string, kind InteractionKind) {
	points := e.weights.points(kind)
	if points <= 0 {
		return
	}
	key := guildID + ":" + from
	bucket, ok := e.raw.Get(key)
	if !ok {
		bucket = make(map[string]*aggregate)
		e.raw.Add(key, bucket)
	}
	agg, ok := bucket[to]
	if !ok {
		agg = &aggregate{}
		bucket[to] = agg
	}
	agg.points += points
	agg.interactions++
}

// GetTopAffinities returns a user's ranked relationships, serving the persisted
// list when it is fresher than the configured cache TTL and recomputing from the
// in-memory interaction window otherwise.
func (e *Engine) GetTopAffinities(guildID, userID string, now time.Time) ([]Ranked, error) {
	cached, err := e.store.GetTopRelationships(guildID, userID, topN)
	if err != nil {
		return nil, fmt.Errorf("load cached relationships: %w", err)
	}
	if len(cached) > 0 && !e.stale(cached, now) {
		return toRanked(userID, cached), nil
	}
	return e.recompute(guildID, userID, now)
}

func (e *Engine) stale(rows []storage.Relationship, now time.Time) bool {
	var freshest time.Time
	for _, r := range rows {
		if r.LastInteraction.After(freshest) {
			freshest = r.LastInteraction
		}
	}
	return freshest.IsZero() || now.Sub(freshest) > e.cacheTTL
}

func toRanked(userID string, rows []storage.Relationship) []Ranked {
	out := make([]Ranked, 0, len(rows))
	for _, r := range rows {
		other := r.UserID1
		if other == userID {
			other = r.UserID2
		}
		out = append(out, Ranked{UserID: other, Score: r.AffinityPercentage})
	}
	return out
}

func (e *Engine) recompute(guildID, userID string, now time.Time) ([]Ranked, error) {
	e.mu.Lock()
	bucket, _ := e.raw.Get(guildID + ":" + userID)
	snapshot := make(map[string]aggregate, len(bucket))
	for other, agg := range bucket {
		snapshot[other] = *agg
	}
	e.mu.Unlock()

	total := 0
	for _, agg := range snapshot {
		total += agg.points
	}

	ranked := make([]Ranked, 0, len(snapshot))
	for other, agg := range snapshot {
		ranked = append(ranked, Ranked{UserID: other, Score: e.normalize(agg.points, total)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	for _, r := range ranked {
		agg := snapshot[r.UserID]
		if err := e.store.UpsertRelationship(userID, r.UserID, guildID, r.Score, agg.interactions, now); err != nil {
			log.ApplicationLogger().Warn("affinity: failed to persist relationship", "guildID", guildID, "userID", userID, "other", r.UserID, "error", err)
		}
	}
	return ranked, nil
}

func (e *Engine) normalize(points, total int) float64 {
	if e.policy == NormalizationLogarithmic {
		return math.Min(100, 25*math.Log10(float64(points)+1))
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(points) / float64(total)
}
