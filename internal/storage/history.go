package storage

import (
	"fmt"
	"time"
)

// HistoryRecord is one transaction history entry for an (address, network) pair.
type HistoryRecord struct {
	ID            int64
	Address       string
	NetworkKey    string
	Time          time.Time
	Change        string
	ChangeSymbol  string
	Fee           string
	FeeSymbol     string
	IsSuccess     bool
	ExtrinsicHash string
	Action        string // send, received
}

// AddHistory stores an entry. Entries with a hash already recorded for the same
// owner, network and action are ignored; the returned bool reports whether a row was written.
func (s *Storage) AddHistory(h *HistoryRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Time.IsZero() {
		h.Time = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO transaction_history
			(address, network_key, time, change, change_symbol, fee, fee_symbol, is_success, extrinsic_hash, action)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.Address,
		h.NetworkKey,
		h.Time.UnixMilli(),
		h.Change,
		h.ChangeSymbol,
		h.Fee,
		h.FeeSymbol,
		boolToInt(h.IsSuccess),
		h.ExtrinsicHash,
		h.Action,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add history: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add history: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	h.ID, _ = res.LastInsertId()
	return true, nil
}

// ListHistory returns entries for an address, newest first. An empty networkKey
// returns entries across every network.
func (s *Storage) ListHistory(address, networkKey string) ([]*HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, address, network_key, time, change, change_symbol, fee, fee_symbol,
			is_success, extrinsic_hash, action
		FROM transaction_history
		WHERE address = ?
	`
	args := []interface{}{address}
	if networkKey != "" {
		query += " AND network_key = ?"
		args = append(args, networkKey)
	}
	query += " ORDER BY time DESC, id DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var records []*HistoryRecord
	for rows.Next() {
		var (
			h         HistoryRecord
			ts        int64
			isSuccess int
		)
		if err := rows.Scan(&h.ID, &h.Address, &h.NetworkKey, &ts, &h.Change, &h.ChangeSymbol,
			&h.Fee, &h.FeeSymbol, &isSuccess, &h.ExtrinsicHash, &h.Action); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.Time = time.UnixMilli(ts)
		h.IsSuccess = isSuccess == 1
		records = append(records, &h)
	}
	return records, rows.Err()
}

// DeleteHistory removes every entry owned by address.
func (s *Storage) DeleteHistory(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM transaction_history WHERE address = ?", address); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}
