package graph

import (
	"sync"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Canvas is the view of the rendering surface that non-UI components depend on.
// It is injected at construction; nothing looks it up globally.
type Canvas interface {
	Viewport() schema.Viewport
	SetViewport(v schema.Viewport)
	Nodes() []schema.FlowNode
	Edges() []schema.FlowEdge
}

// StoreCanvas is a headless Canvas backed by a Store. It keeps the viewport
// itself since the Store has no notion of one.
type StoreCanvas struct {
	store *Store

	mu       sync.RWMutex
	viewport schema.Viewport
}

var _ Canvas = (*StoreCanvas)(nil)

// NewStoreCanvas creates a canvas over s with a unit zoom viewport at the origin.
func NewStoreCanvas(s *Store) *StoreCanvas {
	return &StoreCanvas{store: s, viewport: schema.Viewport{Zoom: 1}}
}

func (c *StoreCanvas) Viewport() schema.Viewport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewport
}

func (c *StoreCanvas) SetViewport(v schema.Viewport) {
	c.mu.Lock()
	c.viewport = v
	c.mu.Unlock()
}

func (c *StoreCanvas) Nodes() []schema.FlowNode { return c.store.Nodes() }

func (c *StoreCanvas) Edges() []schema.FlowEdge { return c.store.Edges() }
