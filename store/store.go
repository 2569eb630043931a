// Package store provides the database storage layer.
// All database operations should go through this package.
package store

import (
	"database/sql"
	"fmt"
	"futurex/logger"
	"sync"

	_ "modernc.org/sqlite"
)

// Store unified data storage
type Store struct {
	db *sql.DB

	// Sub-stores (lazy initialization)
	account    *AccountStore
	credential *CredentialStore

	// Encryption functions for sensitive columns (optional; identity when unset)
	encryptFunc func(string) string
	decryptFunc func(string) string

	mu sync.RWMutex
}

// New creates new Store instance backed by SQLite
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite: single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db}

	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	logger.Infof("✅ Database initialized: %s", dbPath)
	return s, nil
}

// SetCredentialCipher installs encrypt/decrypt functions for credential columns.
// Must be called before the first credential read/write.
func (s *Store) SetCredentialCipher(encrypt, decrypt func(string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptFunc = encrypt
	s.decryptFunc = decrypt
}

func (s *Store) encrypt(value string) string {
	s.mu.RLock()
	fn := s.encryptFunc
	s.mu.RUnlock()
	if fn == nil {
		return value
	}
	return fn(value)
}

func (s *Store) decrypt(value string) string {
	s.mu.RLock()
	fn := s.decryptFunc
	s.mu.RUnlock()
	if fn == nil {
		return value
	}
	return fn(value)
}

func (s *Store) initTables() error {
	if err := s.Account().initTables(); err != nil {
		return err
	}
	return s.Credential().initTables()
}

// Account returns the account sub-store
func (s *Store) Account() *AccountStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		s.account = &AccountStore{db: s.db}
	}
	return s.account
}

// Credential returns the Binance credential sub-store
func (s *Store) Credential() *CredentialStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential == nil {
		s.credential = &CredentialStore{db: s.db, store: s}
	}
	return s.credential
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
