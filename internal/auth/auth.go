// Package auth manages which sites may see which wallet accounts.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

var (
	ErrSiteNotFound = errors.New("the source is not known")
	ErrInvalidURL   = errors.New("invalid site url")
)

// Service is the writer of the AuthUrls domain. Every isAllowedMap is kept
// keyed by exactly the set of wallet addresses.
type Service struct {
	mu        sync.Mutex
	storage   *storage.Storage
	state     *state.Store
	addresses func() mapset.Set[string]
	log       *logging.Logger
}

// New creates the service. addresses returns the current wallet addresses.
func New(store *storage.Storage, st *state.Store, addresses func() mapset.Set[string]) *Service {
	return &Service{
		storage:   store,
		state:     st,
		addresses: addresses,
		log:       logging.GetDefault().Component("auth"),
	}
}

// Load restores the persisted list.
func (s *Service) Load() error {
	var urls state.AuthUrls
	err := s.storage.GetJSON(storage.KeyAuthUrls, &urls)
	if errors.Is(err, storage.ErrKeyNotFound) {
		urls = state.AuthUrls{}
	} else if err != nil {
		return fmt.Errorf("failed to load auth urls: %w", err)
	}
	if urls == nil {
		urls = state.AuthUrls{}
	}
	s.state.AuthUrls.Set(urls)
	return nil
}

// List returns the authorization list after bringing every site's map in
// line with the wallet's accounts.
func (s *Service) List() (state.AuthUrls, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := s.state.AuthUrls.Get()
	wallet := s.addresses()

	dirty := false
	for _, site := range urls {
		if !keySet(site.IsAllowedMap).Equal(wallet) {
			dirty = true
			break
		}
	}
	if !dirty {
		return urls, nil
	}

	next := urls.Clone()
	for id, site := range next {
		site.IsAllowedMap = syncMap(site.IsAllowedMap, wallet)
		next[id] = site
	}
	return next, s.saveLocked(next)
}

// ChangeSite sets every account of one site to connectValue.
func (s *Service) ChangeSite(siteURL string, connectValue bool) (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		site, ok := urls[siteURL]
		if !ok {
			return ErrSiteNotFound
		}
		for addr := range site.IsAllowedMap {
			site.IsAllowedMap[addr] = connectValue
		}
		return nil
	})
}

// ChangeSiteAll sets every account of every site to connectValue.
func (s *Service) ChangeSiteAll(connectValue bool) (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		for _, site := range urls {
			for addr := range site.IsAllowedMap {
				site.IsAllowedMap[addr] = connectValue
			}
		}
		return nil
	})
}

// ChangeSitePerAccount sets one account of one site.
func (s *Service) ChangeSitePerAccount(siteURL, address string, connectValue bool) (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		site, ok := urls[siteURL]
		if !ok {
			return ErrSiteNotFound
		}
		if !s.addresses().Contains(address) {
			return fmt.Errorf("unknown account %s", address)
		}
		site.IsAllowedMap[address] = connectValue
		return nil
	})
}

// ChangeSitePerSite replaces the account map of one site. Accounts missing
// from values are disallowed; unknown addresses are dropped.
func (s *Service) ChangeSitePerSite(id string, values map[string]bool) (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		site, ok := urls[id]
		if !ok {
			return ErrSiteNotFound
		}
		site.IsAllowedMap = syncMap(values, s.addresses())
		urls[id] = site
		return nil
	})
}

// ChangeSiteBlock blocks or unblocks a site as a whole.
func (s *Service) ChangeSiteBlock(id string, connectedValue bool) (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		site, ok := urls[id]
		if !ok {
			return ErrSiteNotFound
		}
		site.IsAllowed = connectedValue
		urls[id] = site
		return nil
	})
}

// Toggle flips the site-wide isAllowed flag.
func (s *Service) Toggle(siteURL string) (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		site, ok := urls[siteURL]
		if !ok {
			return ErrSiteNotFound
		}
		site.IsAllowed = !site.IsAllowed
		urls[siteURL] = site
		return nil
	})
}

// ForgetSite removes one site.
func (s *Service) ForgetSite(siteURL string) (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		delete(urls, siteURL)
		return nil
	})
}

// ForgetAllSites removes every site.
func (s *Service) ForgetAllSites() (state.AuthUrls, error) {
	return s.mutate(func(urls state.AuthUrls) error {
		for id := range urls {
			delete(urls, id)
		}
		return nil
	})
}

// AddSite authorizes a site for the given accounts. The key is the page's
// origin; re-adding a site keeps its id and replaces its map.
func (s *Service) AddSite(rawURL string, accounts []string) (state.AuthUrls, error) {
	origin, err := Origin(rawURL)
	if err != nil {
		return nil, err
	}

	return s.mutate(func(urls state.AuthUrls) error {
		allowed := mapset.NewThreadUnsafeSet(accounts...)
		m := make(map[string]bool)
		for _, addr := range s.addresses().ToSlice() {
			m[addr] = allowed.Contains(addr)
		}

		site, ok := urls[origin]
		if !ok {
			site = state.AuthURLInfo{ID: uuid.NewString(), Origin: origin}
		}
		site.URL = rawURL
		site.IsAllowed = true
		site.IsAllowedMap = m
		urls[origin] = site
		return nil
	})
}

// AddAddress adds a new wallet account to every site.
func (s *Service) AddAddress(address string, isAllowed bool) error {
	_, err := s.mutate(func(urls state.AuthUrls) error {
		for _, site := range urls {
			site.IsAllowedMap[address] = isAllowed
		}
		return nil
	})
	return err
}

// RemoveAddress drops a forgotten account from every site.
func (s *Service) RemoveAddress(address string) error {
	_, err := s.mutate(func(urls state.AuthUrls) error {
		for _, site := range urls {
			delete(site.IsAllowedMap, address)
		}
		return nil
	})
	return err
}

// Origin normalizes a page URL to scheme://host[:port].
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// mutate applies fn to a private copy, then persists and publishes it.
func (s *Service) mutate(fn func(urls state.AuthUrls) error) (state.AuthUrls, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.AuthUrls.Get().Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := s.saveLocked(next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Service) saveLocked(urls state.AuthUrls) error {
	if err := s.storage.SetJSON(storage.KeyAuthUrls, urls); err != nil {
		return fmt.Errorf("failed to persist auth urls: %w", err)
	}
	s.state.AuthUrls.Set(urls)
	return nil
}

func keySet(m map[string]bool) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(m))
	for k := range m {
		set.Add(k)
	}
	return set
}

// syncMap returns a map keyed by exactly wallet, keeping known values and
// defaulting new addresses to false.
func syncMap(m map[string]bool, wallet mapset.Set[string]) map[string]bool {
	out := make(map[string]bool, wallet.Cardinality())
	for _, addr := range wallet.ToSlice() {
		out[addr] = m[addr]
	}
	return out
}
