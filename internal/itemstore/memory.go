package itemstore

import (
	"context"
	"sync"

	"github.com/openresponses/orchestrator/internal/chatmodel"
)

// MemoryStore is an in-process Store, used by tests and as a
// no-external-dependency fallback.
type MemoryStore struct {
	mu          sync.RWMutex
	completions map[string]chatmodel.ModelCompletion
	inputItems  map[string][]chatmodel.InputItem
	outputItems map[string][]chatmodel.InputItem
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		completions: make(map[string]chatmodel.ModelCompletion),
		inputItems:  make(map[string][]chatmodel.InputItem),
		outputItems: make(map[string][]chatmodel.InputItem),
	}
}

// StoreResponse implements Store.
func (s *MemoryStore) StoreResponse(ctx context.Context, completion chatmodel.ModelCompletion, messages []chatmodel.Message, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[completion.ID] = completion
	s.inputItems[completion.ID] = ToItems(messages)
	s.outputItems[completion.ID] = outputItemsFromCompletion(completion)
	return nil
}

// GetResponse implements Store.
func (s *MemoryStore) GetResponse(ctx context.Context, id string) (chatmodel.ModelCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	completion, ok := s.completions[id]
	if !ok {
		return chatmodel.ModelCompletion{}, wrapNotFound(id)
	}
	return completion, nil
}

// GetInputItems implements Store.
func (s *MemoryStore) GetInputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.inputItems[id]
	if !ok {
		return nil, wrapNotFound(id)
	}
	return items, nil
}

// GetOutputItems implements Store.
func (s *MemoryStore) GetOutputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.outputItems[id]
	if !ok {
		return nil, wrapNotFound(id)
	}
	return items, nil
}
