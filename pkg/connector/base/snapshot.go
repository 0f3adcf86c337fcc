package base

import (
	"sort"
	"sync"

	"github.com/ajitpratap0/integrationd/pkg/connector/core"
)

// Changes lists the element ids that differ between two catalogue reads,
// each slice sorted.
type Changes struct {
	Created []string
	Updated []string
	Deleted []string
}

// Empty reports whether nothing changed
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Report forwards the changes to the integration context
func (c Changes) Report(ictx core.Context) {
	if ictx == nil {
		return
	}
	for _, id := range c.Created {
		ictx.ReportElementCreated(id)
	}
	for _, id := range c.Updated {
		ictx.ReportElementUpdated(id)
	}
	for _, id := range c.Deleted {
		ictx.ReportElementDeleted(id)
	}
}

// Snapshot remembers the version of every element a polled connector saw on
// its last refresh. The first Apply establishes the baseline and reports
// every element as created.
type Snapshot struct {
	mu       sync.Mutex
	versions map[string]string
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Apply replaces the snapshot with next and returns what changed
func (s *Snapshot) Apply(next map[string]string) Changes {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ch Changes
	for id, version := range next {
		prev, seen := s.versions[id]
		switch {
		case !seen:
			ch.Created = append(ch.Created, id)
		case prev != version:
			ch.Updated = append(ch.Updated, id)
		}
	}
	for id := range s.versions {
		if _, ok := next[id]; !ok {
			ch.Deleted = append(ch.Deleted, id)
		}
	}

	s.versions = make(map[string]string, len(next))
	for id, version := range next {
		s.versions[id] = version
	}

	sort.Strings(ch.Created)
	sort.Strings(ch.Updated)
	sort.Strings(ch.Deleted)
	return ch
}

// Len returns the number of elements in the snapshot
func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.versions)
}

// Reset forgets the snapshot so the next Apply starts a new baseline
func (s *Snapshot) Reset() {
	s.mu.Lock()
	s.versions = nil
	s.mu.Unlock()
}
