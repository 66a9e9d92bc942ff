package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const secretsFileName = "twofa_secrets.json"

// FileSecretRepository implements SecretRepository using file-based
// storage. All records live in a single JSON file that is rewritten
// atomically on every mutation.
type FileSecretRepository struct {
	dataDir string
	records map[Key]SecretRecord
	mutex   sync.RWMutex
}

// NewFileSecretRepository creates a new file-based secret repository.
func NewFileSecretRepository(dataDir string) (*FileSecretRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileSecretRepository{
		dataDir: dataDir,
		records: make(map[Key]SecretRecord),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileSecretRepository) Get(ctx context.Context, key Key) (SecretRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, exists := r.records[key]
	if !exists {
		return SecretRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (r *FileSecretRepository) Put(ctx context.Context, record SecretRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now().UTC()
	previous, existed := r.records[record.Key()]
	if existed {
		record.CreatedAt = previous.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	r.records[record.Key()] = record

	if err := r.save(); err != nil {
		// Rollback
		if existed {
			r.records[record.Key()] = previous
		} else {
			delete(r.records, record.Key())
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileSecretRepository) Delete(ctx context.Context, key Key) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, exists := r.records[key]
	if !exists {
		return ErrRecordNotFound
	}
	delete(r.records, key)

	if err := r.save(); err != nil {
		r.records[key] = record
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads secret records from file
func (r *FileSecretRepository) load() error {
	filePath := filepath.Join(r.dataDir, secretsFileName)

	// If file doesn't exist, start with empty map
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var records []SecretRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.records = make(map[Key]SecretRecord)
	for _, record := range records {
		r.records[record.Key()] = record
	}

	return nil
}

// save writes secret records to file atomically
func (r *FileSecretRepository) save() error {
	records := make([]SecretRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temp file first
	tempFile := filepath.Join(r.dataDir, secretsFileName+".tmp")
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Atomic rename
	finalFile := filepath.Join(r.dataDir, secretsFileName)
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
