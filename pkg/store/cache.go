package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"inboxsync/pkg/logger"
	"inboxsync/pkg/models"
)

// Cache is an advisory pebble-backed snapshot of the store: the
// conversation list plus a capped tail of confirmed messages per
// conversation. A restart loads it so the inbox renders immediately while
// the fresh fetch reconciles. Every failure here is logged and swallowed;
// the cache is a disposable mirror of server state, never the truth.
type Cache struct {
	db   *pebble.DB
	tail int

	mu    sync.Mutex
	timer *time.Timer
}

const defaultMessageTail = 50

// schemaVersion guards the snapshot layout. The cache is a disposable
// mirror, so a version bump does not migrate anything: Load discards the
// old snapshot and lets the first fetch rebuild it.
const schemaVersion = "1"

var schemaKey = []byte("meta:schema")

// snapshot is what gets persisted: meta per conversation plus confirmed
// message tails. Pending and failed entries never survive a restart; a
// reconcile after restart is impossible anyway.
type snapshot struct {
	convs []models.Conversation
	msgs  map[string][]models.Message
}

// OpenCache opens (or creates) the snapshot cache at path.
func OpenCache(path string, tail int) (*Cache, error) {
	if tail <= 0 {
		tail = defaultMessageTail
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open cache at %s: %w", path, err)
	}
	logger.Info("cache_opened", "path", path)
	return &Cache{db: db, tail: tail}, nil
}

func (c *Cache) Close() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	if err := c.db.Close(); err != nil {
		logger.Warn("cache_close_failed", "error", err)
	}
}

// Load reads the snapshot back. Returns empty state on a fresh cache or on
// a schema mismatch from an older build.
func (c *Cache) Load() ([]models.Conversation, map[string][]models.Message, error) {
	if v, closer, err := c.db.Get(schemaKey); err == nil {
		ok := string(v) == schemaVersion
		closer.Close()
		if !ok {
			logger.Info("cache_schema_mismatch_discarding", "found", string(v), "want", schemaVersion)
			return nil, nil, nil
		}
	} else if err != pebble.ErrNotFound {
		return nil, nil, err
	}

	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer iter.Close()

	var convs []models.Conversation
	msgs := make(map[string][]models.Message)

	convPrefix := []byte("conv:")
	for iter.SeekGE(convPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), convPrefix) {
			break
		}
		var cv models.Conversation
		if err := json.Unmarshal(iter.Value(), &cv); err != nil {
			logger.Warn("cache_conv_decode_failed", "key", string(iter.Key()), "error", err)
			continue
		}
		convs = append(convs, cv)
	}
	msgPrefix := []byte("msgs:")
	for iter.SeekGE(msgPrefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), msgPrefix) {
			break
		}
		convID := string(iter.Key()[len(msgPrefix):])
		var list []models.Message
		if err := json.Unmarshal(iter.Value(), &list); err != nil {
			logger.Warn("cache_msgs_decode_failed", "conv", convID, "error", err)
			continue
		}
		msgs[convID] = list
	}
	return convs, msgs, nil
}

// persist writes the snapshot in one batch, replacing previous content.
func (c *Cache) persist(snap snapshot) {
	wb := c.db.NewBatch()
	if err := wb.DeleteRange([]byte("conv:"), []byte("conv;"), pebble.NoSync); err != nil {
		logger.Warn("cache_clear_failed", "error", err)
	}
	_ = wb.DeleteRange([]byte("msgs:"), []byte("msgs;"), pebble.NoSync)
	_ = wb.Set(schemaKey, []byte(schemaVersion), pebble.NoSync)
	for _, cv := range snap.convs {
		b, err := json.Marshal(cv)
		if err != nil {
			continue
		}
		_ = wb.Set([]byte("conv:"+cv.ID), b, pebble.NoSync)
	}
	for convID, list := range snap.msgs {
		b, err := json.Marshal(list)
		if err != nil {
			continue
		}
		_ = wb.Set([]byte("msgs:"+convID), b, pebble.NoSync)
	}
	if err := c.db.Apply(wb, pebble.Sync); err != nil {
		logger.Warn("cache_persist_failed", "error", err)
		return
	}
	logger.Debug("cache_persisted", "conversations", len(snap.convs))
}

// schedule debounces persistence: bursts of mutations collapse into one
// write two seconds after the last.
func (c *Cache) schedule(take func() snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(2*time.Second, func() {
		c.persist(take())
	})
}

// persistAsync schedules a debounced snapshot write if a cache is attached.
func (s *Store) persistAsync() {
	if s.cache == nil {
		return
	}
	s.cache.schedule(func() snapshot {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.snapshotLocked()
	})
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{msgs: make(map[string][]models.Message, len(s.convs))}
	tail := defaultMessageTail
	if s.cache != nil && s.cache.tail > 0 {
		tail = s.cache.tail
	}
	for id, c := range s.convs {
		snap.convs = append(snap.convs, copyConversation(c.meta))
		var list []models.Message
		for _, m := range c.msgs {
			if m.Ident.Kind == models.IdentConfirmed {
				list = append(list, m)
			}
		}
		if len(list) > tail {
			list = list[len(list)-tail:]
		}
		if len(list) > 0 {
			snap.msgs[id] = list
		}
	}
	return snap
}

// LoadFromCache seeds the store from the snapshot cache. Called once at
// session start, before the first fetch lands.
func (s *Store) LoadFromCache() {
	if s.cache == nil {
		return
	}
	convs, msgs, err := s.cache.Load()
	if err != nil {
		logger.Warn("cache_load_failed", "error", err)
		return
	}
	s.UpsertConversations(convs)
	for convID, list := range msgs {
		s.ReplaceMessages(convID, list)
	}
	logger.Info("cache_loaded", "conversations", len(convs))
}
