package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"
)

// entry is one decoded drawing.
type entry struct {
	img    image.Image
	format string
	size   int64
}

// DrawingCache keeps decoded drawing images keyed by path, so the contour
// extraction and overlay tools can work on the same drawing without reading
// it again.
//
// DrawingCache is safe for concurrent use. Entries stay until Evict or Clear.
type DrawingCache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewDrawingCache returns an empty cache.
func NewDrawingCache() *DrawingCache {
	return &DrawingCache{entries: make(map[string]entry)}
}

// Load returns the decoded drawing at path, reading it on first use.
//
// Parameters:
//   - path: File path of a PNG, JPEG or GIF drawing. The exact string is the
//     cache key.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: Non-nil if the file cannot be opened or decoded.
func (c *DrawingCache) Load(path string) (image.Image, error) {
	e, err := c.load(path)
	if err != nil {
		return nil, err
	}
	return e.img, nil
}

func (c *DrawingCache) load(path string) (entry, error) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return entry{}, fmt.Errorf("failed to open drawing: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return entry{}, fmt.Errorf("failed to decode drawing %s: %w", path, err)
	}
	e = entry{img: img, format: format}
	if st, err := f.Stat(); err == nil {
		e.size = st.Size()
	}

	c.mu.Lock()
	c.entries[path] = e
	c.mu.Unlock()
	return e, nil
}

// Len returns the number of cached drawings.
func (c *DrawingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every cached drawing.
func (c *DrawingCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Evict drops one drawing. Unknown paths are ignored.
func (c *DrawingCache) Evict(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// DrawingInfo describes a loaded drawing.
type DrawingInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`

	// Format is the decoder name reported by image.Decode ("png", "jpeg",
	// "gif"), so it follows the file contents rather than the extension.
	Format string `json:"format"`

	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Info loads the drawing at path and describes it.
func (c *DrawingCache) Info(path string) (*DrawingInfo, error) {
	e, err := c.load(path)
	if err != nil {
		return nil, err
	}
	b := e.img.Bounds()
	return &DrawingInfo{
		Width:         b.Dx(),
		Height:        b.Dy(),
		Format:        e.format,
		FileSizeBytes: e.size,
	}, nil
}
