package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/keyring"
	"github.com/klingon-exchange/walletd/internal/price"
	"github.com/klingon-exchange/walletd/internal/state"
)

type offlineFetcher struct{}

func (offlineFetcher) Fetch(context.Context, []string, string) (*price.Quote, error) {
	return nil, errors.New("offline")
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Price.Enabled = false
	cfg.Keyring = config.KeyringConfig{ArgonTime: 1, ArgonMemory: 64, ArgonThreads: 1}
	return cfg
}

func offlineDial(context.Context, config.NetworkConfig) (chain.Adapter, error) {
	return nil, errors.New("offline")
}

func TestAppStartStop(t *testing.T) {
	a, err := New(testConfig(t), Options{Dial: offlineDial, PriceFetcher: offlineFetcher{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Stop()

	resp, err := http.Get("http://" + a.Server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	for key, cs := range a.State.ChainStateMap.Get() {
		if cs.ConnectionStatus == state.ConnectionConnected {
			t.Errorf("network %s connected while offline", key)
		}
	}
	if got := a.State.CurrentAccount.Get().Address; got != "" {
		t.Errorf("current account on a fresh install = %q", got)
	}
}

func TestAppReloadsAccounts(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg, Options{Dial: offlineDial, PriceFetcher: offlineFetcher{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = a.Keyring.CreateWithSecret(keyring.CreateWithSecretRequest{
		SecretKey:  "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		Name:       "main",
		Password:   "Passw0rd!",
		IsEthereum: true,
	})
	if err != nil {
		t.Fatalf("CreateWithSecret() error = %v", err)
	}
	a.Stop()

	b, err := New(cfg, Options{Dial: offlineDial, PriceFetcher: offlineFetcher{}})
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer b.Stop()

	if !b.Keyring.IsLocal("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23") {
		t.Error("account not reloaded")
	}
}
