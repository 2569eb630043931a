package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountStore trading account storage
type AccountStore struct {
	db *sql.DB
}

// Account a trading account owning per-environment API credentials
type Account struct {
	ID        string    `json:"id"` // UUID
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *AccountStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Create inserts a new account and returns it
func (s *AccountStore) Create(name string) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("account name is required")
	}

	account := &Account{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO accounts (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		account.ID, account.Name, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Get returns an account by ID
func (s *AccountStore) Get(id string) (*Account, error) {
	var account Account
	err := s.db.QueryRow(
		`SELECT id, name, created_at, updated_at FROM accounts WHERE id = ?`, id,
	).Scan(&account.ID, &account.Name, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// List returns all accounts
func (s *AccountStore) List() ([]*Account, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at, updated_at FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		var account Account
		if err := rows.Scan(&account.ID, &account.Name, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}

// Delete removes an account and its credentials
func (s *AccountStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM binance_credentials WHERE account_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	return err
}
