package checkpoint

import (
	"context"
	"sync"

	"github.com/sells-group/crm-dedup/internal/model"
)

// MemoryStore keeps the encoded checkpoint in memory. Saved values are
// serialized so later mutations of the caller's checkpoint are not visible
// until the next Save, as with the persistent stores.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return decode(s.data, "memory")
}

func (s *MemoryStore) Save(_ context.Context, cp *model.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// SetRaw replaces the stored document with arbitrary bytes.
func (s *MemoryStore) SetRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}
