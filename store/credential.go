package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CredentialStore Binance API credential storage
// API keys/secrets are encrypted at rest via the Store's credential cipher;
// values returned from this store are already decrypted.
type CredentialStore struct {
	db    *sql.DB
	store *Store
}

// BinanceCredential one account's API credential for a single environment
type BinanceCredential struct {
	ID          string    `json:"id"` // UUID
	AccountID   string    `json:"account_id"`
	Environment string    `json:"environment"` // "mainnet" or "testnet"
	APIKey      string    `json:"-"`
	APISecret   string    `json:"-"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *CredentialStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS binance_credentials (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			environment TEXT NOT NULL,
			api_key_encrypted TEXT NOT NULL,
			api_secret_encrypted TEXT NOT NULL,
			is_active BOOLEAN DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account_id, environment)
		)
	`)
	return err
}

// Save creates or updates the credential for (accountID, environment).
// Returns the stored credential with decrypted values.
func (s *CredentialStore) Save(accountID, environment, apiKey, apiSecret string) (*BinanceCredential, error) {
	if environment != "mainnet" && environment != "testnet" {
		return nil, fmt.Errorf("environment must be 'mainnet' or 'testnet'")
	}
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("api_key and api_secret are required")
	}

	encryptedKey := s.store.encrypt(apiKey)
	encryptedSecret := s.store.encrypt(apiSecret)
	now := time.Now()

	var id string
	err := s.db.QueryRow(
		`SELECT id FROM binance_credentials WHERE account_id = ? AND environment = ?`,
		accountID, environment,
	).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		id = uuid.New().String()
		_, err = s.db.Exec(
			`INSERT INTO binance_credentials
			 (id, account_id, environment, api_key_encrypted, api_secret_encrypted, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			id, accountID, environment, encryptedKey, encryptedSecret, now, now,
		)
	case err == nil:
		_, err = s.db.Exec(
			`UPDATE binance_credentials
			 SET api_key_encrypted = ?, api_secret_encrypted = ?, is_active = 1, updated_at = ?
			 WHERE id = ?`,
			encryptedKey, encryptedSecret, now, id,
		)
	}
	if err != nil {
		return nil, err
	}

	return s.Get(accountID, environment)
}

// Get returns the active credential for (accountID, environment), decrypted
func (s *CredentialStore) Get(accountID, environment string) (*BinanceCredential, error) {
	var cred BinanceCredential
	var encryptedKey, encryptedSecret string
	err := s.db.QueryRow(
		`SELECT id, account_id, environment, api_key_encrypted, api_secret_encrypted, is_active, created_at, updated_at
		 FROM binance_credentials WHERE account_id = ? AND environment = ? AND is_active = 1`,
		accountID, environment,
	).Scan(&cred.ID, &cred.AccountID, &cred.Environment, &encryptedKey, &encryptedSecret,
		&cred.IsActive, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no %s credential for account %s", environment, accountID)
	}
	if err != nil {
		return nil, err
	}

	cred.APIKey = s.store.decrypt(encryptedKey)
	cred.APISecret = s.store.decrypt(encryptedSecret)
	return &cred, nil
}

// ListEnvironments reports which environments have an active credential
func (s *CredentialStore) ListEnvironments(accountID string) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT environment FROM binance_credentials WHERE account_id = ? AND is_active = 1`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	envs := map[string]bool{"mainnet": false, "testnet": false}
	for rows.Next() {
		var env string
		if err := rows.Scan(&env); err != nil {
			return nil, err
		}
		envs[env] = true
	}
	return envs, rows.Err()
}

// Delete removes the credential for (accountID, environment).
// Returns true when a row was actually removed.
func (s *CredentialStore) Delete(accountID, environment string) (bool, error) {
	result, err := s.db.Exec(
		`DELETE FROM binance_credentials WHERE account_id = ? AND environment = ?`,
		accountID, environment,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
