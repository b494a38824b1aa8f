// Package session shadows the live editor graph so an interrupted session can
// be restored on the next mount.
//
// There is one process-wide key. Concurrent writers race and the last one wins.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rendis/pinnacle/internal/store"
	"github.com/rendis/pinnacle/pkg/schema"
)

// Key is the storage key of the session snapshot.
const Key = "pinnacle-flow-session"

// Snapshot is the cached editor state.
type Snapshot struct {
	Nodes     []schema.FlowNode `json:"nodes"`
	Edges     []schema.FlowEdge `json:"edges"`
	Viewport  schema.Viewport   `json:"viewport"`
	Timestamp int64             `json:"timestamp"`
}

// Empty reports whether the snapshot holds neither nodes nor edges.
func (s Snapshot) Empty() bool { return len(s.Nodes) == 0 && len(s.Edges) == 0 }

// Cache stores at most one Snapshot.
type Cache interface {
	// Load returns the cached snapshot, or nil when none exists.
	// A stored blob that cannot be parsed yields a SESSION_ERROR.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Clear(ctx context.Context) error
}

// Encode serializes a snapshot, stamping it with now when it has no timestamp.
func Encode(snap Snapshot, now time.Time) ([]byte, error) {
	if snap.Timestamp == 0 {
		snap.Timestamp = now.UnixMilli()
	}
	if snap.Nodes == nil {
		snap.Nodes = []schema.FlowNode{}
	}
	if snap.Edges == nil {
		snap.Edges = []schema.FlowEdge{}
	}
	return json.Marshal(snap)
}

// Decode parses a stored blob.
func Decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, schema.NewError(schema.ErrCodeSession, "session snapshot is corrupt").WithCause(err)
	}
	return &snap, nil
}

// MemoryCache keeps the snapshot blob in memory.
type MemoryCache struct {
	mu   sync.Mutex
	data []byte
	now  func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

// Load implements Cache.
func (c *MemoryCache) Load(_ context.Context) (*Snapshot, error) {
	c.mu.Lock()
	data := c.data
	c.mu.Unlock()
	if data == nil {
		return nil, nil
	}
	return Decode(data)
}

// Save implements Cache.
func (c *MemoryCache) Save(_ context.Context, snap Snapshot) error {
	data, err := Encode(snap, c.now())
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
	return nil
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
	return nil
}

// SetRaw stores data verbatim. Useful to seed a cache with an external blob.
func (c *MemoryCache) SetRaw(data []byte) {
	c.mu.Lock()
	c.data = append([]byte(nil), data...)
	c.mu.Unlock()
}

// StoreCache keeps the snapshot in the session_cache table.
type StoreCache struct {
	store store.Store
	key   string
}

// NewStoreCache creates a cache backed by st under Key.
func NewStoreCache(st store.Store) *StoreCache {
	return &StoreCache{store: st, key: Key}
}

// Load implements Cache.
func (c *StoreCache) Load(ctx context.Context) (*Snapshot, error) {
	e, err := c.store.GetSession(ctx, c.key)
	if schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return Decode(e.Data)
}

// Save implements Cache.
func (c *StoreCache) Save(ctx context.Context, snap Snapshot) error {
	data, err := Encode(snap, time.Now())
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return c.store.PutSession(ctx, c.key, data)
}

// Clear implements Cache.
func (c *StoreCache) Clear(ctx context.Context) error {
	return c.store.DeleteSession(ctx, c.key)
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*StoreCache)(nil)
)
