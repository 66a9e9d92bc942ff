package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrAuthenticationFailed is the single outward failure for both unknown
// accounts and wrong passwords; callers must never distinguish the two.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrAccountNotFound is returned by account stores; it never leaves the
// verifier.
var ErrAccountNotFound = errors.New("account not found")

// Account identifies a successfully verified account.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// AccountRecord is the stored shape of an account.
type AccountRecord struct {
	ID           string
	Username     string
	PasswordHash string
}

// AccountStore looks up accounts by username.
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (AccountRecord, error)
}

// CredentialVerifier checks a primary credential pair. The state machine
// calls it exactly once per authentication attempt.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (Account, error)
}

// dummyHash is a valid bcrypt hash compared against on the unknown-user
// path so response latency does not leak account existence.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// BcryptVerifier verifies passwords against bcrypt hashes from an
// account store.
type BcryptVerifier struct {
	store AccountStore
}

// NewBcryptVerifier creates a credential verifier backed by the given store.
func NewBcryptVerifier(store AccountStore) *BcryptVerifier {
	return &BcryptVerifier{store: store}
}

func (v *BcryptVerifier) VerifyCredentials(ctx context.Context, username, password string) (Account, error) {
	record, err := v.store.FindByUsername(ctx, username)
	if err != nil {
		// Burn a comparison so the not-found path takes as long as a
		// wrong password.
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrAuthenticationFailed
		}
		return Account{}, fmt.Errorf("failed to look up account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		slog.Warn("Password verification failed", "username", username)
		return Account{}, ErrAuthenticationFailed
	}

	return Account{ID: record.ID, Username: record.Username}, nil
}

// HashPassword hashes a plain-text password with bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// InMemAccountStore is a map-backed account store for tests and the
// quick-start binary.
type InMemAccountStore struct {
	accounts map[string]AccountRecord
	mutex    sync.RWMutex
}

// NewInMemAccountStore creates an empty in-memory account store.
func NewInMemAccountStore() *InMemAccountStore {
	return &InMemAccountStore{accounts: make(map[string]AccountRecord)}
}

// AddAccount hashes the password and stores the account.
func (s *InMemAccountStore) AddAccount(id, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.accounts[username] = AccountRecord{ID: id, Username: username, PasswordHash: hash}
	return nil
}

func (s *InMemAccountStore) FindByUsername(ctx context.Context, username string) (AccountRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, exists := s.accounts[username]
	if !exists {
		return AccountRecord{}, ErrAccountNotFound
	}
	return record, nil
}
