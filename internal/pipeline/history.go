package pipeline

import (
	"fmt"
	"time"

	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// History actions.
const (
	ActionSend     = "send"
	ActionReceived = "received"
)

// History records transaction history and publishes it to the store.
type History struct {
	storage *storage.Storage
	state   *state.Store
	log     *logging.Logger
}

// NewHistory creates the history service.
func NewHistory(store *storage.Storage, st *state.Store) *History {
	return &History{
		storage: store,
		state:   st,
		log:     logging.GetDefault().Component("history"),
	}
}

// Load publishes the stored history of every address.
func (h *History) Load(addresses []string) error {
	all := state.History{}
	for _, addr := range addresses {
		items, err := h.List(addr, "")
		if err != nil {
			return err
		}
		if len(items) > 0 {
			all[addr] = items
		}
	}
	h.state.History.Set(all)
	return nil
}

// Add stores an entry for address. Entries already recorded for the same
// network, hash and action are ignored and reported as not added.
func (h *History) Add(address string, item state.HistoryItem) (bool, error) {
	rec := &storage.HistoryRecord{
		Address:       address,
		NetworkKey:    item.NetworkKey,
		Change:        item.Change,
		ChangeSymbol:  item.ChangeSymbol,
		Fee:           item.Fee,
		FeeSymbol:     item.FeeSymbol,
		IsSuccess:     item.IsSuccess,
		ExtrinsicHash: item.ExtrinsicHash,
		Action:        item.Action,
	}
	if item.Time > 0 {
		rec.Time = time.UnixMilli(item.Time)
	}

	added, err := h.storage.AddHistory(rec)
	if err != nil {
		return false, err
	}
	if !added {
		h.log.Debug("Duplicate history entry ignored", "address", address, "hash", item.ExtrinsicHash)
		return false, nil
	}

	items, err := h.List(address, "")
	if err != nil {
		return true, err
	}
	h.state.History.Update(func(cur state.History) state.History {
		next := make(state.History, len(cur)+1)
		for k, v := range cur {
			next[k] = v
		}
		next[address] = items
		return next
	})
	return true, nil
}

// List returns the entries of address, newest first. An empty networkKey
// lists every network.
func (h *History) List(address, networkKey string) ([]state.HistoryItem, error) {
	records, err := h.storage.ListHistory(address, networkKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", address, err)
	}
	items := make([]state.HistoryItem, 0, len(records))
	for _, r := range records {
		items = append(items, state.HistoryItem{
			Time:          r.Time.UnixMilli(),
			NetworkKey:    r.NetworkKey,
			Change:        r.Change,
			ChangeSymbol:  r.ChangeSymbol,
			Fee:           r.Fee,
			FeeSymbol:     r.FeeSymbol,
			IsSuccess:     r.IsSuccess,
			ExtrinsicHash: r.ExtrinsicHash,
			Action:        r.Action,
		})
	}
	return items, nil
}

// Forget drops every entry of address.
func (h *History) Forget(address string) error {
	if err := h.storage.DeleteHistory(address); err != nil {
		return err
	}
	h.state.History.Update(func(cur state.History) state.History {
		next := make(state.History, len(cur))
		for k, v := range cur {
			if k != address {
				next[k] = v
			}
		}
		return next
	})
	return nil
}
