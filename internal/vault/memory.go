package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"pakr/internal/pakr"
)

// MemoryVault keeps generations in memory. It is safe for concurrent use
// and backs the "memory" vault type used by tests.
type MemoryVault struct {
	name    string
	content map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		content: make(map[string][]byte),
	}
}

// Name returns the configured vault name.
func (m *MemoryVault) Name() string {
	return m.name
}

// PutContent stores content identified by its checksum.
func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[checksum] = data
	return nil
}

// GetContent writes the content stored under checksum to w.
func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content not found: %s", checksum)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Has reports whether a generation with checksum is stored.
func (m *MemoryVault) Has(checksum string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok
}

// Len returns the number of stored generations.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ pakr.Vault = (*MemoryVault)(nil)
