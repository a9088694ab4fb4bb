package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
)

func TestCoinGeckoFetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/markets" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"polkadot","name":"Polkadot","current_price":6.5,"price_change_24h":0.5},
			{"id":"acala-token","name":"Acala","current_price":0.25,"price_change_24h":-0.05},
			{"id":"kusama","name":"Kusama","current_price":30,"price_change_24h":null}
		]`))
	}))
	defer srv.Close()

	quote, err := NewCoinGecko(srv.URL+"/").Fetch(context.Background(), []string{"polkadot", "acala", "kusama"}, "usd")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if !strings.Contains(gotQuery, "acala-token") || strings.Contains(gotQuery, "ids=acala%2C") {
		t.Errorf("query did not use the alias: %s", gotQuery)
	}
	if !strings.Contains(gotQuery, "vs_currency=usd") {
		t.Errorf("query missing currency: %s", gotQuery)
	}

	tests := []struct {
		id       string
		price    float64
		price24h float64
	}{
		{"polkadot", 6.5, 6.0},
		{"acala", 0.25, 0.3},
		{"kusama", 30, 30},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := quote.PriceMap[tt.id]; got != tt.price {
				t.Errorf("price = %v, want %v", got, tt.price)
			}
			if got := quote.Price24hMap[tt.id]; got != tt.price24h {
				t.Errorf("price24h = %v, want %v", got, tt.price24h)
			}
		})
	}
	if _, ok := quote.PriceMap["acala-token"]; ok {
		t.Error("alias id leaked into the price map")
	}
}

func TestCoinGeckoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := NewCoinGecko(srv.URL).Fetch(context.Background(), []string{"polkadot"}, "usd"); err == nil {
		t.Fatal("expected error on 429")
	}
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	ids   []string
	quote *Quote
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ids []string, currency string) (*Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ids = ids
	if f.err != nil {
		return nil, f.err
	}
	return f.quote, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setup(t *testing.T, fetcher Fetcher) (*Service, *state.Store, *storage.Storage) {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	st := state.New()
	st.AssetRegistry.Set(state.AssetRegistry{
		"polkadot-NATIVE-DOT": {Slug: "polkadot-NATIVE-DOT", OriginChain: "polkadot", Symbol: "DOT", AssetType: state.AssetTypeNative, PriceID: "polkadot"},
		"kusama-NATIVE-KSM":   {Slug: "kusama-NATIVE-KSM", OriginChain: "kusama", Symbol: "KSM", AssetType: state.AssetTypeNative, PriceID: "kusama"},
		"local-NATIVE-UNIT":   {Slug: "local-NATIVE-UNIT", OriginChain: "local", Symbol: "UNIT", AssetType: state.AssetTypeNative},
	})

	svc := New(fetcher, store, st, Config{RefreshInterval: time.Hour})
	return svc, st, store
}

func TestLoadDefaultsAndWarmStart(t *testing.T) {
	svc, st, store := setup(t, &fakeFetcher{})

	if err := svc.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p := st.Price.Get(); p.Ready || p.Currency != "usd" || p.PriceMap == nil {
		t.Errorf("default price = %+v", p)
	}

	saved := state.PriceJSON{Ready: true, Currency: "eur", PriceMap: map[string]float64{"polkadot": 5}}
	if err := store.SetJSON(storage.KeyPrice, saved); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	if err := svc.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p := st.Price.Get()
	if p.Currency != "eur" || p.PriceMap["polkadot"] != 5 || p.Price24hMap == nil {
		t.Errorf("warm price = %+v", p)
	}
}

func TestRefresh(t *testing.T) {
	fetcher := &fakeFetcher{quote: &Quote{
		Currency:    "usd",
		PriceMap:    map[string]float64{"polkadot": 6},
		Price24hMap: map[string]float64{"polkadot": 5.5},
	}}
	svc, st, store := setup(t, fetcher)
	svc.Load()
	svc.updatePriceIDs()

	svc.Refresh(context.Background())

	if got := strings.Join(fetcher.ids, ","); got != "kusama,polkadot" {
		t.Errorf("fetched ids = %s", got)
	}
	p := st.Price.Get()
	if !p.Ready || p.PriceMap["polkadot"] != 6 {
		t.Errorf("price = %+v", p)
	}

	var persisted state.PriceJSON
	if err := store.GetJSON(storage.KeyPrice, &persisted); err != nil || !persisted.Ready {
		t.Errorf("persisted = %+v, %v", persisted, err)
	}

	fetcher.err = errors.New("offline")
	svc.Refresh(context.Background())
	if st.Price.Get().PriceMap["polkadot"] != 6 {
		t.Error("failed refresh replaced the snapshot")
	}
}

func TestPriceIDsFollowRegistry(t *testing.T) {
	svc, st, _ := setup(t, &fakeFetcher{})

	if !svc.updatePriceIDs() {
		t.Fatal("first update reported no change")
	}
	if svc.updatePriceIDs() {
		t.Error("unchanged registry reported a change")
	}

	next := st.AssetRegistry.Get()
	updated := make(state.AssetRegistry, len(next)+1)
	for k, v := range next {
		updated[k] = v
	}
	updated["moonbeam-NATIVE-GLMR"] = state.AssetInfo{Slug: "moonbeam-NATIVE-GLMR", OriginChain: "moonbeam", AssetType: state.AssetTypeNative, PriceID: "moonbeam"}
	st.AssetRegistry.Set(updated)

	if !svc.updatePriceIDs() {
		t.Error("new price id not detected")
	}
	if got := strings.Join(svc.PriceIDs(), ","); got != "kusama,moonbeam,polkadot" {
		t.Errorf("PriceIDs() = %s", got)
	}
}

func TestStartRefreshesAfterDelay(t *testing.T) {
	fetcher := &fakeFetcher{quote: &Quote{Currency: "usd", PriceMap: map[string]float64{}, Price24hMap: map[string]float64{}}}
	svc, _, _ := setup(t, fetcher)
	svc.config.StartDelay = time.Millisecond

	svc.Start()
	defer svc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("price service never fetched")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
