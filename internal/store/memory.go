package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"wabridge/internal/constants"
	apperrors "wabridge/internal/errors"
	"wabridge/internal/models"
)

type memoryEntry struct {
	msg *models.Message
	// seq records when the id entered its current index.
	seq uint64
}

// MemoryStore is an in-process Store. A single lock covers each message and
// its index membership so the pair always changes together.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*memoryEntry
	indices  map[models.Status]map[string]struct{}
	seq      uint64
	state    models.State
	settings map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*memoryEntry),
		indices: map[models.Status]map[string]struct{}{
			models.StatusPending:   {},
			models.StatusProcessed: {},
		},
		settings: make(map[string]string),
		now:      now,
	}
}

func (s *MemoryStore) Backend() string { return constants.StoreBackendMemory }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) PutMessage(_ context.Context, msg *models.Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInvalidParams, "invalid message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.messages[msg.ID]
	if ok && existing.msg.Status == msg.Status {
		existing.msg = msg.Clone()
		return false, nil
	}
	if ok {
		delete(s.indices[existing.msg.Status], msg.ID)
	}

	s.seq++
	s.messages[msg.ID] = &memoryEntry{msg: msg.Clone(), seq: s.seq}
	s.indices[msg.Status][msg.ID] = struct{}{}
	return !ok, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.messages[id]
	if !ok {
		return nil, false, nil
	}
	return entry.msg.Clone(), true, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, status models.Status, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	entries := make([]memoryEntry, 0, len(s.indices[status]))
	for id := range s.indices[status] {
		e := s.messages[id]
		entries = append(entries, memoryEntry{msg: e.msg.Clone(), seq: e.seq})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].msg.Timestamp != entries[j].msg.Timestamp {
			return entries[i].msg.Timestamp > entries[j].msg.Timestamp
		}
		return entries[i].seq > entries[j].seq
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*models.Message, len(entries))
	for i := range entries {
		out[i] = entries[i].msg
	}
	return out, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.messages[id]
	if !ok || entry.msg.Status != models.StatusPending {
		return false, nil
	}

	updated := entry.msg.Clone()
	updated.Status = models.StatusProcessed
	updated.Timestamp = s.now().UnixMilli()

	s.seq++
	delete(s.indices[models.StatusPending], id)
	s.indices[models.StatusProcessed][id] = struct{}{}
	s.messages[id] = &memoryEntry{msg: updated, seq: s.seq}
	return true, nil
}

func (s *MemoryStore) PruneProcessed(_ context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id := range s.indices[models.StatusProcessed] {
		if s.messages[id].msg.Timestamp < cutoff {
			delete(s.indices[models.StatusProcessed], id)
			delete(s.messages, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *MemoryStore) Counts(context.Context) (map[models.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[models.Status]int{
		models.StatusPending:   len(s.indices[models.StatusPending]),
		models.StatusProcessed: len(s.indices[models.StatusProcessed]),
	}, nil
}

func (s *MemoryStore) GetState(context.Context) (models.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

func (s *MemoryStore) SetState(_ context.Context, patch models.StatePatch) (models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = patch.Apply(s.state)
	return s.state, nil
}

func (s *MemoryStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}
