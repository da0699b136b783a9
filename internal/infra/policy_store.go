package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/proclean/proclean/internal/domain"
)

const policyFileName = "policy.json"

// FilePolicyStore implements domain.PolicyStore using a JSON file.
// Reads are served from an in-memory copy guarded by a RWMutex, so a
// reader never observes a torn policy while the administrative path
// writes. Writes go to disk through write + rename.
type FilePolicyStore struct {
	path string

	mu     sync.RWMutex
	loaded bool
	policy domain.Policy
}

// NewFilePolicyStore creates a policy store under dataDir. The policy
// defaults to enabled with an empty username until Set is called.
func NewFilePolicyStore(dataDir string) *FilePolicyStore {
	return &FilePolicyStore{path: filepath.Join(dataDir, policyFileName)}
}

// NewFilePolicyStoreWithPath creates a store at a specific file path
// (for testing).
func NewFilePolicyStoreWithPath(path string) *FilePolicyStore {
	return &FilePolicyStore{path: path}
}

// Get returns the current policy, loading it from disk on first use.
func (s *FilePolicyStore) Get() (domain.Policy, error) {
	s.mu.RLock()
	if s.loaded {
		p := s.policy
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.policy, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.policy = domain.Policy{}
			s.loaded = true
			return s.policy, nil
		}
		return domain.Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p domain.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	s.policy = p
	s.loaded = true
	return p, nil
}

// Set replaces the policy and persists it.
func (s *FilePolicyStore) Set(p domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.atomicWrite(p); err != nil {
		return err
	}
	s.policy = p
	s.loaded = true
	return nil
}

// atomicWrite persists the policy via write + rename so a crashed write
// never leaves a half-written file behind.
func (s *FilePolicyStore) atomicWrite(p domain.Policy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}

	// Temp file is unique per process to avoid write races
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FilePolicyStore implements domain.PolicyStore.
var _ domain.PolicyStore = (*FilePolicyStore)(nil)
