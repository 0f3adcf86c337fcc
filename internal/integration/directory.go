package integration

import (
	"sort"
	"sync"

	"github.com/ajitpratap0/integrationd/pkg/errors"
)

type directoryEntry struct {
	handler *ConnectorHandler
	owner   string
}

// Directory indexes every handler of a daemon by connector id. Services and
// groups register their handlers here, which keeps connector ids unique
// across owners and lets operator requests find a connector by id alone.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]directoryEntry
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]directoryEntry)}
}

// Register adds h under its connector id. It fails with a conflict error if
// the id is already taken.
func (d *Directory) Register(h *ConnectorHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[h.ID()]; ok {
		return errors.Newf(errors.ErrorTypeConflict,
			"connector %s is already supervised by %s", h.ID(), existing.owner).
			WithDetail("connector_id", h.ID()).
			WithDetail("owner", existing.owner)
	}
	d.entries[h.ID()] = directoryEntry{handler: h, owner: h.Owner()}
	return nil
}

// Lookup returns the handler registered under id
func (d *Directory) Lookup(id string) (*ConnectorHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[id]
	return e.handler, ok
}

// Owner returns the owner of the handler registered under id
func (d *Directory) Owner(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[id]
	return e.owner, ok
}

// Remove drops h, but only if it is still the handler registered under its id
func (d *Directory) Remove(h *ConnectorHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[h.ID()]; ok && e.handler == h {
		delete(d.entries, h.ID())
	}
}

// Handlers returns every registered handler ordered by connector id
func (d *Directory) Handlers() []*ConnectorHandler {
	d.mu.RLock()
	out := make([]*ConnectorHandler, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.handler)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// FindByName returns the handlers whose display name is name
func (d *Directory) FindByName(name string) []*ConnectorHandler {
	var out []*ConnectorHandler
	for _, h := range d.Handlers() {
		if h.Name() == name {
			out = append(out, h)
		}
	}
	return out
}

// Len returns the number of registered handlers
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
