package secrets

import (
	"context"
	"sync"
	"time"
)

// InMemSecretRepository implements SecretRepository with an in-memory
// map. Intended for tests and quick-start setups; nothing survives a
// restart.
type InMemSecretRepository struct {
	records map[Key]SecretRecord
	mutex   sync.RWMutex
}

// NewInMemSecretRepository creates an empty in-memory secret repository.
func NewInMemSecretRepository() *InMemSecretRepository {
	return &InMemSecretRepository{
		records: make(map[Key]SecretRecord),
	}
}

func (r *InMemSecretRepository) Get(ctx context.Context, key Key) (SecretRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, exists := r.records[key]
	if !exists {
		return SecretRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (r *InMemSecretRepository) Put(ctx context.Context, record SecretRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	if previous, exists := r.records[record.Key()]; exists {
		record.CreatedAt = previous.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	r.records[record.Key()] = record
	return nil
}

func (r *InMemSecretRepository) Delete(ctx context.Context, key Key) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.records[key]; !exists {
		return ErrRecordNotFound
	}
	delete(r.records, key)
	return nil
}
