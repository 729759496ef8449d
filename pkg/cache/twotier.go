package cache

import (
	"encoding/json"
	"time"
)

// EntityClass names one of the domain entity kinds that routes through a
// cache-through TwoTier instead of hitting its backing store directly.
type EntityClass string

const (
	EntityChannelOwner   EntityClass = "channel_owner"
	EntityUserPrefs      EntityClass = "user_prefs"
	EntityGuildConfig    EntityClass = "guild_config"
	EntityStarboardEntry EntityClass = "starboard_entry"
	EntityRoleData       EntityClass = "role_data"
	EntityUserRoleData   EntityClass = "user_role_data"
)

// Backing is the Component-B loader/saver/remover for one entity class and
// value type T. A caller supplies its own Backing at each call, so the same
// TwoTier can front a dedicated domain table (channel ownership, starboard
// entries) for one entity class and the general-purpose persistent cache
// table for another.
type Backing[T any] interface {
	Load(id string) (T, bool, error)
	Save(id string, value T) error
	Remove(id string) error
}

// TwoTier is a cache-through facade over a hot tier (Component A, an
// in-process or Redis CacheManager) and a persistent tier (Component B,
// supplied per call as a Backing[T]) for a fixed set of named entity
// classes. Get checks the hot tier first, falls back to the backing store on
// a miss, and repopulates the hot tier from that hit. Set writes the hot
// tier first (best-effort; a hot-tier failure is not fatal) and then the
// backing store (authoritative; its error bubbles to the caller). Delete
// removes the entry from both tiers.
type TwoTier struct {
	hot CacheManager
	ttl time.Duration
}

// NewTwoTier constructs a TwoTier over hot, applying defaultTTL to every
// hot-tier write.
func NewTwoTier(hot CacheManager, defaultTTL time.Duration) *TwoTier {
	return &TwoTier{hot: hot, ttl: defaultTTL}
}

func entityKey(class EntityClass, id string) string {
	return string(class) + ":" + id
}

// Get is a package-level function, not a method, because Go does not allow a
// method to introduce a new type parameter. It checks the hot tier for class:id,
// falling back to backing.Load on a miss and repopulating the hot tier from
// that hit.
func Get[T any](t *TwoTier, class EntityClass, id string, backing Backing[T]) (T, bool, error) {
	key := entityKey(class, id)
	if v, ok := t.hot.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, true, nil
		}
	}

	var zero T
	value, ok, err := backing.Load(id)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}

	_ = t.hot.Set(key, value, t.ttl)
	return value, true, nil
}

// Set writes the hot tier (best-effort) and then backing (authoritative).
func Set[T any](t *TwoTier, class EntityClass, id string, value T, backing Backing[T]) error {
	key := entityKey(class, id)
	_ = t.hot.Set(key, value, t.ttl)
	return backing.Save(id, value)
}

// Delete removes class:id from the hot tier and invokes remove to clear the
// backing store. remove is a closure rather than a Backing[T] method since
// deletion needs no value type.
func (t *TwoTier) Delete(class EntityClass, id string, remove func() error) error {
	_ = t.hot.Delete(entityKey(class, id))
	return remove()
}

// BackingStore is the persistent_cache CRUD surface a PersistentBacking wraps.
// *storage.Store satisfies this directly.
type BackingStore interface {
	UpsertCacheEntry(key, cacheType, data string, expiresAt time.Time) error
	GetCacheEntry(key string) (cacheType, data string, expiresAt time.Time, ok bool, err error)
	DeleteCacheEntry(key string) error
}

// PersistentBacking adapts a BackingStore's general-purpose cache-entry CRUD
// into a Backing[T], for entity classes with no domain table of their own.
type PersistentBacking[T any] struct {
	Store BackingStore
	Class EntityClass
	TTL   time.Duration
}

// defaultPersistentTTL applies when a PersistentBacking is not given one; the
// persistent_cache schema requires a non-null expiry even for effectively
// long-lived entries like role snapshots.
const defaultPersistentTTL = 30 * 24 * time.Hour

func (b PersistentBacking[T]) Load(id string) (T, bool, error) {
	var zero T
	_, data, _, ok, err := b.Store.GetCacheEntry(entityKey(b.Class, id))
	if err != nil || !ok {
		return zero, false, err
	}
	var value T
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return zero, false, err
	}
	return value, true, nil
}

func (b PersistentBacking[T]) Save(id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ttl := b.TTL
	if ttl <= 0 {
		ttl = defaultPersistentTTL
	}
	return b.Store.UpsertCacheEntry(entityKey(b.Class, id), string(b.Class), string(payload), time.Now().Add(ttl))
}

func (b PersistentBacking[T]) Remove(id string) error {
	return b.Store.DeleteCacheEntry(entityKey(b.Class, id))
}
