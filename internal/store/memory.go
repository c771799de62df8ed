package store

import (
	"context"
	"sync"
	"time"

	"ratechat-backend/internal/models"
)

var _ ThreadStore = (*MemoryThreadStore)(nil)

// MemoryThreadStore keeps threads in process memory for the lifetime of the server.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string][]models.Message
	now     func() time.Time
}

func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{
		threads: make(map[string][]models.Message),
		now:     time.Now,
	}
}

func (s *MemoryThreadStore) Load(ctx context.Context, threadID string) ([]models.Message, error) {
	if threadID == "" {
		return nil, ErrInvalidThreadID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := models.CloneMessages(s.threads[threadID])
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func (s *MemoryThreadStore) Append(ctx context.Context, threadID string, msgs ...models.Message) error {
	prepared, err := PrepareMessages(threadID, msgs, s.now())
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID], prepared...)
	return nil
}
