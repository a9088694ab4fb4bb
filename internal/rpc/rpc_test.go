package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/klingon-exchange/walletd/internal/auth"
	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/external"
	"github.com/klingon-exchange/walletd/internal/keyring"
	"github.com/klingon-exchange/walletd/internal/pipeline"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/internal/subscription"
)

const (
	testSecret  = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

type noChains struct{}

func (noChains) Adapter(string) (chain.Adapter, error) { return nil, chain.ErrUnknownNetwork }
func (noChains) ExistentialDeposit(string) *big.Int    { return new(big.Int) }

type testServer struct {
	http   *httptest.Server
	router *Router
	st     *state.Store
	subs   *subscription.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	st := state.New()
	kr := keyring.New(store, st, keyring.KDFParams{Time: 1, Memory: 64, Threads: 1})
	if err := kr.Load(); err != nil {
		t.Fatalf("keyring Load() error = %v", err)
	}
	authSvc := auth.New(store, st, kr.Addresses)
	if err := authSvc.Load(); err != nil {
		t.Fatalf("auth Load() error = %v", err)
	}
	prefs := NewPreferences(store, st, kr)
	if err := prefs.Load(); err != nil {
		t.Fatalf("preferences Load() error = %v", err)
	}
	history := pipeline.NewHistory(store, st)
	coordinator := external.NewCoordinator(st.Confirmations)

	metrics := NewMetrics()
	subs := subscription.NewRegistry()
	subs.OnChange = metrics.SetSubscriptions

	router := NewRouter(subs, metrics)
	Register(router, Services{
		State:       st,
		Keyring:     kr,
		Auth:        authSvc,
		Preferences: prefs,
		Pipeline: pipeline.New(pipeline.Deps{
			Chains:      noChains{},
			Assets:      st,
			History:     history,
			Coordinator: coordinator,
		}),
		History:     history,
		Coordinator: coordinator,
	})

	srv := NewServer(router, metrics, ServerConfig{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})

	return &testServer{http: ts, router: router, st: st, subs: subs}
}

// post sends one message over the one-shot endpoint.
func (s *testServer) post(t *testing.T, msgType string, request any) (int, Frame) {
	t.Helper()

	body := map[string]any{"id": "1", "type": msgType}
	if request != nil {
		body["request"] = request
	}
	data, _ := json.Marshal(body)
	resp, err := http.Post(s.http.URL+"/", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	var f Frame
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	return resp.StatusCode, f
}

// decode re-encodes v (a decoded JSON value) into out.
func decode(t *testing.T, v any, out any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
}

type portClient struct {
	conn *websocket.Conn
}

func (s *testServer) dial(t *testing.T) *portClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/port"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &portClient{conn: conn}
}

func (c *portClient) send(t *testing.T, id, msgType string, request any) {
	t.Helper()
	msg := map[string]any{"id": id, "type": msgType}
	if request != nil {
		msg["request"] = request
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func (c *portClient) read(t *testing.T) Frame {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

// readUntil reads frames until match returns true.
func (c *portClient) readUntil(t *testing.T, match func(Frame) bool) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := c.read(t); match(f) {
			return f
		}
	}
	t.Fatal("expected frame not received")
	return Frame{}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestUnknownRequestType(t *testing.T) {
	s := newTestServer(t)

	status, f := s.post(t, "no.such.type", nil)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", status)
	}
	if !strings.Contains(f.Error, "unknown request type") {
		t.Errorf("error = %q", f.Error)
	}
}

func TestInvalidRequestPayload(t *testing.T) {
	s := newTestServer(t)

	_, f := s.post(t, "accounts.get.meta", "not an object")
	if !strings.Contains(f.Error, "invalid request") {
		t.Errorf("error = %q", f.Error)
	}
}

func TestStreamingNeedsPort(t *testing.T) {
	s := newTestServer(t)

	_, f := s.post(t, "price.getSubscription", nil)
	if f.Error != ErrPortRequired.Error() {
		t.Errorf("error = %q, want %q", f.Error, ErrPortRequired)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.post(t, "price.getPrice", nil)

	resp, err := http.Get(s.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(s.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `walletd_requests_total{outcome="ok",type="price.getPrice"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", body)
	}
}

func TestRegisteredTypes(t *testing.T) {
	s := newTestServer(t)
	types := s.router.Types()
	want := []string{
		"accounts.transfer", "transfer.qr.create", "cross.transfer.ledger.create",
		"staking.bond", "staking.bond.qr", "staking.cancelCompound.ledger",
		"nft.transfer.ledger", "account.external.reject", "subscription.cancel",
		"chainService.subscribeAssetRegistry", "transaction.history.getSubscription",
	}
	for _, name := range want {
		found := false
		for _, typ := range types {
			if typ == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%s not registered", name)
		}
	}
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t)

	_, f := s.post(t, "accounts.create.withSecret", map[string]any{
		"secretKey": testSecret, "name": "main", "password": "Passw0rd!", "isEthereum": true, "isAllowed": true,
	})
	if f.Error != "" {
		t.Fatalf("create error = %s", f.Error)
	}
	var account state.AccountJSON
	decode(t, f.Response, &account)
	if account.Address != testAddress {
		t.Fatalf("address = %s", account.Address)
	}

	_, f = s.post(t, "accounts.get.meta", map[string]string{"address": strings.ToLower(testAddress)})
	decode(t, f.Response, &account)
	if account.Address != testAddress || account.Name != "main" {
		t.Errorf("meta = %+v", account)
	}
	if got := s.st.CurrentAccount.Get().Address; got != testAddress {
		t.Errorf("current account = %s", got)
	}

	_, f = s.post(t, "accounts.validatePassword", map[string]string{"address": testAddress, "password": "nope"})
	if f.Response != false {
		t.Errorf("validatePassword(wrong) = %v", f.Response)
	}

	_, f = s.post(t, "authorize.addSite", map[string]any{"url": "https://dapp.example/app", "accounts": []string{testAddress}})
	if f.Error != "" {
		t.Fatalf("addSite error = %s", f.Error)
	}
	site := s.st.AuthUrls.Get()["https://dapp.example"]
	if !site.IsAllowedMap[testAddress] {
		t.Errorf("site map = %+v", site.IsAllowedMap)
	}

	_, f = s.post(t, "accounts.forget", map[string]string{"address": testAddress})
	if f.Response != true {
		t.Fatalf("forget = %+v", f)
	}
	if _, ok := s.st.AuthUrls.Get()["https://dapp.example"].IsAllowedMap[testAddress]; ok {
		t.Error("forgotten account still authorized")
	}
	if got := s.st.CurrentAccount.Get().Address; got != state.AllAccountKey {
		t.Errorf("current account = %s, want ALL", got)
	}
	if _, f = s.post(t, "accounts.get.meta", map[string]string{"address": testAddress}); f.Error == "" {
		t.Error("meta of forgotten account succeeded")
	}
}

func TestSeedCreateAndValidate(t *testing.T) {
	s := newTestServer(t)

	_, f := s.post(t, "seed.create", map[string]any{"length": 24, "type": "ethereum"})
	var seed SeedResponse
	decode(t, f.Response, &seed)
	if len(strings.Fields(seed.Seed)) != 24 || !strings.HasPrefix(seed.Address, "0x") {
		t.Fatalf("seed = %+v", seed)
	}

	_, f = s.post(t, "seed.validate", map[string]any{"suri": seed.Seed, "type": "ethereum"})
	var validated SeedResponse
	decode(t, f.Response, &validated)
	if validated.Address != seed.Address {
		t.Errorf("validated address = %s, want %s", validated.Address, seed.Address)
	}

	if _, f = s.post(t, "seed.validate", map[string]any{"suri": "abandon abandon"}); f.Error == "" {
		t.Error("invalid seed validated")
	}
}

func TestSettingsPersistAndStream(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t)

	c.send(t, "sub", "settings.subscribe", nil)
	f := c.read(t)
	var settings state.UISettings
	decode(t, f.Response, &settings)
	if f.ID != "sub" || settings.Theme != "dark" {
		t.Fatalf("first frame = %+v", f)
	}

	c.send(t, "theme", "settings.saveTheme", "light")
	update := c.readUntil(t, func(f Frame) bool { return f.ID == "sub" })
	decode(t, update.Subscription, &settings)
	if settings.Theme != "light" {
		t.Errorf("streamed theme = %s", settings.Theme)
	}

	c.send(t, "cancel", "subscription.cancel", "sub")
	cancelled := c.readUntil(t, func(f Frame) bool { return f.ID == "cancel" })
	if cancelled.Response != true {
		t.Errorf("cancel = %+v", cancelled)
	}
	if s.subs.Len() != 0 {
		t.Error("subscription still live after cancel")
	}

	c.send(t, "again", "subscription.cancel", "sub")
	if f := c.readUntil(t, func(f Frame) bool { return f.ID == "again" }); f.Response != false {
		t.Errorf("second cancel = %+v", f)
	}
}

func TestDisconnectCancelsSubscriptions(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t)

	c.send(t, "a", "price.getSubscription", nil)
	c.send(t, "b", "keyring.subscribe", nil)
	c.read(t)
	c.read(t)
	if s.subs.Len() != 2 {
		t.Fatalf("subscriptions = %d, want 2", s.subs.Len())
	}

	c.conn.Close()
	eventually(t, func() bool { return s.subs.Len() == 0 })

	// Writes after the port is gone are dropped.
	s.st.Price.Set(state.DefaultPrice())
}

func TestSameIDOnTwoPorts(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t)
	b := s.dial(t)

	a.send(t, "1", "price.getSubscription", nil)
	a.read(t)
	b.send(t, "1", "price.getSubscription", nil)
	b.read(t)
	if s.subs.Len() != 2 {
		t.Fatalf("subscriptions = %d, want 2", s.subs.Len())
	}

	// Cancelling id 1 on port B leaves port A's feed running.
	b.send(t, "cancel", "subscription.cancel", "1")
	if f := b.readUntil(t, func(f Frame) bool { return f.ID == "cancel" }); f.Response != true {
		t.Fatalf("cancel = %+v", f)
	}
	if s.subs.Len() != 1 {
		t.Fatalf("subscriptions = %d, want 1", s.subs.Len())
	}

	price := state.DefaultPrice()
	price.Ready = true
	s.st.Price.Set(price)
	f := a.readUntil(t, func(f Frame) bool { return f.ID == "1" && f.Subscription != nil })
	var got state.PriceJSON
	decode(t, f.Subscription, &got)
	if !got.Ready {
		t.Errorf("port A frame = %+v", f)
	}
}

func TestTransferStreamsFinalFrame(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t)

	c.send(t, "tx", "accounts.transfer", map[string]any{
		"networkKey": "nowhere", "from": testAddress, "to": testAddress, "value": "1",
	})
	ack := c.read(t)
	if ack.ID != "tx" || ack.Response != true {
		t.Fatalf("ack = %+v", ack)
	}

	f := c.readUntil(t, func(f Frame) bool { return f.ID == "tx" && f.Final })
	var resp pipeline.TxResponse
	decode(t, f.Subscription, &resp)
	if resp.Stage != pipeline.StageRejectedInvalid || !resp.TxError {
		t.Errorf("resp = %+v", resp)
	}
	eventually(t, func() bool { return s.subs.Len() == 0 })
}

func TestExternalResolveUnknown(t *testing.T) {
	s := newTestServer(t)

	_, f := s.post(t, "account.external.resolve", map[string]string{"id": "missing", "signature": "0x01"})
	if f.Response != false {
		t.Errorf("resolve unknown = %+v", f)
	}
	_, f = s.post(t, "account.external.reject", map[string]string{})
	if f.Error == "" {
		t.Error("reject without id succeeded")
	}
}

func TestHistoryAddAndGet(t *testing.T) {
	s := newTestServer(t)

	item := map[string]any{"change": "5", "extrinsicHash": "0x01", "action": "send", "isSuccess": true}
	req := map[string]any{"address": testAddress, "networkKey": "moonbeam", "item": item}

	_, f := s.post(t, "transaction.history.add", req)
	if f.Response != true {
		t.Fatalf("add = %+v", f)
	}
	_, f = s.post(t, "transaction.history.add", req)
	if f.Response != false {
		t.Errorf("duplicate add = %+v", f)
	}

	_, f = s.post(t, "transaction.history.get", map[string]string{"address": testAddress})
	var items []state.HistoryItem
	decode(t, f.Response, &items)
	if len(items) != 1 || items[0].NetworkKey != "moonbeam" {
		t.Errorf("items = %+v", items)
	}
}

func TestTypedDecodesEmptyRequest(t *testing.T) {
	h := Typed(func(_ context.Context, _ *Call, req struct{ N int }) (int, error) {
		return req.N, nil
	})
	got, err := h(context.Background(), &Call{})
	if err != nil || got != 0 {
		t.Errorf("Typed(empty) = %v, %v", got, err)
	}
	got, err = h(context.Background(), &Call{Data: json.RawMessage(`{"N":3}`)})
	if err != nil || got != 3 {
		t.Errorf("Typed({N:3}) = %v, %v", got, err)
	}
}
