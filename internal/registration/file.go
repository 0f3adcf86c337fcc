package registration

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ajitpratap0/integrationd/pkg/config"
	"github.com/ajitpratap0/integrationd/pkg/errors"
)

// registrationFile is the on-disk layout of a FileStore
type registrationFile struct {
	Groups map[string][]config.ConnectorConfig `yaml:"groups"`
}

// FileStore serves registrations from a YAML file. The file is re-read on
// every call so edits are picked up by the next reconciliation.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. A missing file is an empty
// store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "file registration store requires a file path")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) read() (*registrationFile, error) {
	rf := &registrationFile{}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		rf.Groups = map[string][]config.ConnectorConfig{}
		return rf, nil
	}
	if err := config.Load(s.path, rf); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, errors.Wrap(err, errors.ErrorTypePermission, "read registration file")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeUnavailable, "read registration file").
			WithDetail("path", s.path)
	}
	if rf.Groups == nil {
		rf.Groups = map[string][]config.ConnectorConfig{}
	}
	return rf, nil
}

func (s *FileStore) write(rf *registrationFile) error {
	tmp := filepath.Join(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp")
	if err := config.Save(tmp, rf); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUnavailable, "write registration file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUnavailable, "replace registration file")
	}
	return nil
}

// sortedGroup returns the group's registrations in connector id order with
// later duplicates replacing earlier ones
func sortedGroup(regs []config.ConnectorConfig) []config.ConnectorConfig {
	byID := make(map[string]config.ConnectorConfig, len(regs))
	var unkeyed []config.ConnectorConfig
	for _, r := range regs {
		if r.ConnectorID == "" {
			unkeyed = append(unkeyed, r)
			continue
		}
		byID[r.ConnectorID] = r
	}
	out := make([]config.ConnectorConfig, 0, len(byID)+len(unkeyed))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	// registrations without an id are served so the group can report them
	return append(unkeyed, out...)
}

// ListRegistrations implements Store
func (s *FileStore) ListRegistrations(_ context.Context, group string, startFrom, pageSize int) ([]config.ConnectorConfig, error) {
	if err := validatePage(group, startFrom, pageSize); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.read()
	if err != nil {
		return nil, err
	}
	regs := sortedGroup(rf.Groups[group])
	if startFrom >= len(regs) {
		return nil, nil
	}
	end := startFrom + pageSize
	if end > len(regs) {
		end = len(regs)
	}
	return regs[startFrom:end], nil
}

// GetRegistration implements Store
func (s *FileStore) GetRegistration(_ context.Context, group, connectorID string) (*config.ConnectorConfig, error) {
	if err := validateKey(group, connectorID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, r := range sortedGroup(rf.Groups[group]) {
		if r.ConnectorID == connectorID {
			r := r
			return &r, nil
		}
	}
	return nil, notFound(group, connectorID)
}

// PutRegistration implements Store
func (s *FileStore) PutRegistration(_ context.Context, group string, reg config.ConnectorConfig) error {
	if err := validateKey(group, reg.ConnectorID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.read()
	if err != nil {
		return err
	}
	regs := rf.Groups[group]
	replaced := false
	for i := range regs {
		if regs[i].ConnectorID == reg.ConnectorID {
			regs[i] = reg
			replaced = true
		}
	}
	if !replaced {
		regs = append(regs, reg)
	}
	rf.Groups[group] = regs
	return s.write(rf)
}

// DeleteRegistration implements Store
func (s *FileStore) DeleteRegistration(_ context.Context, group, connectorID string) error {
	if err := validateKey(group, connectorID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rf, err := s.read()
	if err != nil {
		return err
	}
	regs := rf.Groups[group]
	kept := regs[:0]
	for _, r := range regs {
		if r.ConnectorID != connectorID {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(regs) {
		return notFound(group, connectorID)
	}
	rf.Groups[group] = kept
	return s.write(rf)
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}
