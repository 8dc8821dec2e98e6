package host

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
)

// ModuleFunc initializes one built-in module.
type ModuleFunc func(ctx context.Context) error

// Catalog maps module names to their initializers and implements the load
// capability handed to the loader.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]ModuleFunc
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]ModuleFunc)}
}

// Add registers fn under name, replacing any previous entry.
func (c *Catalog) Add(name string, fn ModuleFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[name] = fn
}

// Load runs the module named by specifier. A specifier is matched exactly
// first, then by the base name of its path without extension, so
// "file:///srv/scripts/plots.js" finds "plots".
func (c *Catalog) Load(ctx context.Context, specifier string) error {
	c.mu.RLock()
	fn, ok := c.modules[specifier]
	if !ok {
		fn, ok = c.modules[moduleName(specifier)]
	}
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("module %q not found", specifier)
	}
	return fn(ctx)
}

func moduleName(specifier string) string {
	p := specifier
	if u, err := url.Parse(specifier); err == nil && u.Scheme != "" {
		p = u.Path
	}
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
