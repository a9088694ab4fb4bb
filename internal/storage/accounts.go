package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AccountRecord is a keyring entry as persisted.
type AccountRecord struct {
	Address        string
	KeyType        string // ethereum, ed25519
	Name           string
	GenesisHash    string
	IsExternal     bool
	IsHardware     bool
	SecretKind     string // raw, mnemonic or empty for external accounts
	DerivationPath string
	Secret         []byte // encrypted envelope (JSON)
	CreatedAt      time.Time
}

// SaveAccount inserts or replaces an account.
func (s *Storage) SaveAccount(a *AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var secret interface{}
	if len(a.Secret) > 0 {
		secret = string(a.Secret)
	}

	_, err := s.db.Exec(`
		INSERT INTO accounts (address, key_type, name, genesis_hash, is_external, is_hardware,
			secret_kind, derivation_path, secret, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			key_type = excluded.key_type,
			name = excluded.name,
			genesis_hash = excluded.genesis_hash,
			is_external = excluded.is_external,
			is_hardware = excluded.is_hardware,
			secret_kind = excluded.secret_kind,
			derivation_path = excluded.derivation_path,
			secret = excluded.secret
	`,
		a.Address,
		a.KeyType,
		a.Name,
		a.GenesisHash,
		boolToInt(a.IsExternal),
		boolToInt(a.IsHardware),
		a.SecretKind,
		a.DerivationPath,
		secret,
		a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount loads one account by address.
func (s *Storage) GetAccount(address string) (*AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT address, key_type, name, genesis_hash, is_external, is_hardware,
			secret_kind, derivation_path, secret, created_at
		FROM accounts WHERE address = ?
	`, address)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts in creation order.
func (s *Storage) ListAccounts() ([]*AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT address, key_type, name, genesis_hash, is_external, is_hardware,
			secret_kind, derivation_path, secret, created_at
		FROM accounts ORDER BY created_at, address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*AccountRecord
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountName renames an account.
func (s *Storage) UpdateAccountName(address, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE accounts SET name = ? WHERE address = ?", name, address)
	if err != nil {
		return fmt.Errorf("failed to rename account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes an account.
func (s *Storage) DeleteAccount(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM accounts WHERE address = ?", address)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*AccountRecord, error) {
	var (
		a          AccountRecord
		isExternal int
		isHardware int
		secret     sql.NullString
		createdAt  int64
	)
	err := row.Scan(&a.Address, &a.KeyType, &a.Name, &a.GenesisHash, &isExternal, &isHardware,
		&a.SecretKind, &a.DerivationPath, &secret, &createdAt)
	if err != nil {
		return nil, err
	}
	a.IsExternal = isExternal == 1
	a.IsHardware = isHardware == 1
	if secret.Valid {
		a.Secret = []byte(secret.String)
	}
	a.CreatedAt = time.UnixMilli(createdAt)
	return &a, nil
}
