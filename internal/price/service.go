// Package price keeps the token price snapshot fresh.
package price

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// Config configures the price service.
type Config struct {
	Currency        string
	RefreshInterval time.Duration
	StartDelay      time.Duration
	FetchTimeout    time.Duration
}

// Service is the writer of the price domain.
type Service struct {
	fetcher Fetcher
	storage *storage.Storage
	state   *state.Store
	config  Config
	log     *logging.Logger

	mu       sync.Mutex
	priceIDs mapset.Set[string]

	refresh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates the service.
func New(fetcher Fetcher, store *storage.Storage, st *state.Store, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		fetcher:  fetcher,
		storage:  store,
		state:    st,
		config:   cfg,
		log:      logging.GetDefault().Component("price"),
		priceIDs: mapset.NewSet[string](),
		refresh:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Load publishes the last persisted snapshot, or the empty default.
func (s *Service) Load() error {
	var saved state.PriceJSON
	err := s.storage.GetJSON(storage.KeyPrice, &saved)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		s.state.Price.Set(state.DefaultPrice())
		return nil
	case err != nil:
		s.state.Price.Set(state.DefaultPrice())
		return err
	}

	if saved.PriceMap == nil {
		saved.PriceMap = map[string]float64{}
	}
	if saved.Price24hMap == nil {
		saved.Price24hMap = map[string]float64{}
	}
	if saved.Currency == "" {
		saved.Currency = s.config.Currency
	}
	s.state.Price.Set(saved)
	return nil
}

// Start begins periodic refreshes after the start delay and follows asset
// registry changes.
func (s *Service) Start() {
	_, unsubscribe := s.state.AssetRegistry.Subscribe(func(state.AssetRegistry) {
		if s.updatePriceIDs() {
			s.Trigger()
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.run()
	}()
	s.log.Info("Price service started", "interval", s.config.RefreshInterval, "currency", s.config.Currency)
}

// Stop stops the refresh loop.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info("Price service stopped")
}

// Trigger asks the loop for an immediate refresh.
func (s *Service) Trigger() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.config.StartDelay):
	}

	s.updatePriceIDs()
	s.Refresh(s.ctx)

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(s.ctx)
		case <-s.refresh:
			s.Refresh(s.ctx)
			ticker.Reset(s.config.RefreshInterval)
		}
	}
}

// Refresh fetches prices once. Failures keep the previous snapshot.
func (s *Service) Refresh(ctx context.Context) {
	ids := s.PriceIDs()
	if len(ids) == 0 {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	quote, err := s.fetcher.Fetch(fetchCtx, ids, s.config.Currency)
	if err != nil {
		s.log.Warn("Failed to fetch prices", "error", err)
		return
	}

	snapshot := state.PriceJSON{
		Ready:       true,
		Currency:    quote.Currency,
		PriceMap:    quote.PriceMap,
		Price24hMap: quote.Price24hMap,
	}
	s.state.Price.Set(snapshot)
	if err := s.storage.SetJSON(storage.KeyPrice, snapshot); err != nil {
		s.log.Warn("Failed to persist prices", "error", err)
	}
	s.log.Debug("Prices refreshed", "count", len(quote.PriceMap))
}

// PriceIDs returns the sorted ids currently tracked.
func (s *Service) PriceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.priceIDs.ToSlice()
	sort.Strings(ids)
	return ids
}

// updatePriceIDs recomputes tracked ids from the asset registry and
// reports whether the set changed.
func (s *Service) updatePriceIDs() bool {
	next := mapset.NewSet[string]()
	for _, a := range s.state.AssetRegistry.Get() {
		if a.PriceID != "" {
			next.Add(a.PriceID)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next.Equal(s.priceIDs) {
		return false
	}
	s.priceIDs = next
	return true
}
