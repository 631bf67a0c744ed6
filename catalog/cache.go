package catalog

import (
	"os"
	"sync"
	"time"
)

// Cache memoizes parsed catalogs keyed by source path. An entry is
// invalidated when the file's modification time or size changes, so
// editing a catalog on disk takes effect on the next lookup without a
// restart.
type Cache struct {
	mu         sync.Mutex
	parameters map[string]parameterEntry
	status     map[string]statusEntry
}

type parameterEntry struct {
	modTime time.Time
	size    int64
	params  []Parameter
}

type statusEntry struct {
	modTime time.Time
	size    int64
	entries []Status
}

// NewCache returns an empty catalog cache.
func NewCache() *Cache {
	return &Cache{
		parameters: make(map[string]parameterEntry),
		status:     make(map[string]statusEntry),
	}
}

// Parameters returns the parameter table at path, reloading it only if
// the file changed since the last call.
func (c *Cache) Parameters(path string) ([]Parameter, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.parameters[path]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.params, nil
	}
	params, err := LoadParameters(path)
	if err != nil {
		return nil, err
	}
	c.parameters[path] = parameterEntry{modTime: info.ModTime(), size: info.Size(), params: params}
	return params, nil
}

// Status returns the status table at path with the same invalidation
// rule as Parameters.
func (c *Cache) Status(path string) ([]Status, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.status[path]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.entries, nil
	}
	entries, err := LoadStatus(path)
	if err != nil {
		return nil, err
	}
	c.status[path] = statusEntry{modTime: info.ModTime(), size: info.Size(), entries: entries}
	return entries, nil
}
