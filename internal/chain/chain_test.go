package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/state"
)

// fakeEVM is an in-memory EVMClient.
type fakeEVM struct {
	mu           sync.Mutex
	chainID      *big.Int
	balances     map[common.Address]*big.Int
	tokenBalance *big.Int
	gasPrice     *big.Int
	sent         []*types.Transaction
	receiptAfter int
	receiptCalls int
	head         uint64
	status       uint64
	closed       bool
}

func newFakeEVM() *fakeEVM {
	return &fakeEVM{
		chainID:  big.NewInt(1284),
		balances: make(map[common.Address]*big.Int),
		gasPrice: big.NewInt(10),
		head:     100,
		status:   types.ReceiptStatusSuccessful,
	}
}

func (f *fakeEVM) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeEVM) BalanceAt(ctx context.Context, a common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[a]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeEVM) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return parsedTokenABI.Methods["balanceOf"].Outputs.Pack(f.tokenBalance)
}

func (f *fakeEVM) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if len(msg.Data) > 0 {
		return 50000, nil
	}
	return 21000, nil
}

func (f *fakeEVM) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeEVM) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeEVM) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEVM) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.receiptCalls <= f.receiptAfter {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:            f.status,
		TxHash:            h,
		BlockNumber:       big.NewInt(100),
		GasUsed:           21000,
		EffectiveGasPrice: f.gasPrice,
	}, nil
}

func (f *fakeEVM) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head++
	return f.head, nil
}

func (f *fakeEVM) Close() { f.closed = true }

func (f *fakeEVM) sentTxs() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) *keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return &keySigner{key: key}
}

func (s *keySigner) Address() string { return crypto.PubkeyToAddress(s.key.PublicKey).Hex() }

func (s *keySigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	return crypto.Sign(payload, s.key)
}

var moonbeam = config.NetworkConfig{
	Key:           "moonbeam",
	Name:          "Moonbeam",
	ChainType:     config.ChainTypeEVM,
	RPCURL:        "http://localhost:0",
	ChainID:       1284,
	NativeSymbol:  "GLMR",
	Decimals:      18,
	Confirmations: 2,
	Tokens: []config.TokenConfig{
		{Symbol: "USDC", Decimals: 6, Contract: "0x931715FEE2d06333043d11F658C8CE934aC61D0c"},
	},
}

func newTestAdapter(t *testing.T) (*EVMAdapter, *fakeEVM) {
	t.Helper()
	client := newFakeEVM()
	adapter, err := NewEVMAdapter(context.Background(), moonbeam, client)
	if err != nil {
		t.Fatalf("NewEVMAdapter() error = %v", err)
	}
	adapter.SetPollInterval(time.Millisecond)
	return adapter, client
}

func nativeAsset() state.AssetInfo {
	return state.AssetInfo{Slug: "moonbeam-NATIVE-GLMR", OriginChain: "moonbeam", Symbol: "GLMR", AssetType: state.AssetTypeNative}
}

func TestNewEVMAdapterChainIDMismatch(t *testing.T) {
	client := newFakeEVM()
	client.chainID = big.NewInt(1)
	if _, err := NewEVMAdapter(context.Background(), moonbeam, client); err == nil {
		t.Fatal("expected chain id mismatch error")
	}
}

func TestEVMFreeBalance(t *testing.T) {
	adapter, client := newTestAdapter(t)
	owner := common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	client.balances[owner] = big.NewInt(1234)
	client.tokenBalance = big.NewInt(500)

	got, err := adapter.FreeBalance(context.Background(), owner.Hex(), nativeAsset())
	if err != nil || got.Int64() != 1234 {
		t.Errorf("native balance = %v, %v", got, err)
	}

	usdc := state.AssetInfo{Slug: "moonbeam-ERC20-USDC", AssetType: state.AssetTypeERC20, Contract: moonbeam.Tokens[0].Contract}
	got, err = adapter.FreeBalance(context.Background(), owner.Hex(), usdc)
	if err != nil || got.Int64() != 500 {
		t.Errorf("token balance = %v, %v", got, err)
	}

	if _, err := adapter.FreeBalance(context.Background(), "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", nativeAsset()); err == nil {
		t.Error("expected error for substrate address")
	}
}

func TestEVMEstimateFee(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	fee, err := adapter.EstimateFee(context.Background(), &Payload{
		Kind:  KindTransfer,
		From:  "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		To:    "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		Asset: nativeAsset(),
		Value: big.NewInt(40),
	})
	if err != nil {
		t.Fatalf("EstimateFee() error = %v", err)
	}
	if fee.Int64() != 210000 {
		t.Errorf("fee = %s, want 210000", fee)
	}
}

func TestEVMSubmitReportsProgress(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.receiptAfter = 2
	signer := newKeySigner(t)
	to := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"

	var statuses []StatusUpdate
	err := adapter.Submit(context.Background(), &Payload{
		Kind:  KindTransfer,
		From:  signer.Address(),
		To:    to,
		Asset: nativeAsset(),
		Value: big.NewInt(40),
	}, signer, func(u StatusUpdate) { statuses = append(statuses, u) })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	want := []Status{StatusBroadcast, StatusIncluded, StatusFinalized}
	if len(statuses) != len(want) {
		t.Fatalf("got %d updates, want %d", len(statuses), len(want))
	}
	for i, s := range want {
		if statuses[i].Status != s {
			t.Errorf("update %d = %s, want %s", i, statuses[i].Status, s)
		}
		if statuses[i].ExtrinsicHash == "" {
			t.Errorf("update %d has no hash", i)
		}
	}
	if statuses[1].Result == nil || statuses[1].Result.Fee != "210000" || statuses[1].Result.Change != "40" {
		t.Errorf("included result = %+v", statuses[1].Result)
	}

	sent := client.sentTxs()
	if len(sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(sent))
	}
	tx := sent[0]
	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1284)), tx)
	if err != nil || sender.Hex() != signer.Address() {
		t.Errorf("sender = %s, %v", sender.Hex(), err)
	}
	if tx.Nonce() != 7 || tx.Value().Int64() != 40 || tx.To().Hex() != to {
		t.Errorf("tx = nonce %d value %s to %s", tx.Nonce(), tx.Value(), tx.To().Hex())
	}
}

func TestEVMSubmitReverted(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.status = types.ReceiptStatusFailed
	signer := newKeySigner(t)

	var last StatusUpdate
	err := adapter.Submit(context.Background(), &Payload{
		Kind:  KindTransfer,
		From:  signer.Address(),
		To:    "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		Asset: nativeAsset(),
		Value: big.NewInt(1),
	}, signer, func(u StatusUpdate) { last = u })
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if last.Status != StatusFailed || last.Err == nil {
		t.Errorf("last update = %+v, want FAILED with error", last)
	}
}

func TestEVMSubmitWrongSigner(t *testing.T) {
	adapter, client := newTestAdapter(t)
	owner := newKeySigner(t)
	other := newKeySigner(t)

	err := adapter.Submit(context.Background(), &Payload{
		Kind:  KindTransfer,
		From:  owner.Address(),
		To:    "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		Asset: nativeAsset(),
		Value: big.NewInt(1),
	}, other, func(StatusUpdate) {})
	if !errors.Is(err, ErrWrongSigner) {
		t.Errorf("Submit() error = %v, want ErrWrongSigner", err)
	}
	if len(client.sentTxs()) != 0 {
		t.Error("transaction was broadcast with a foreign signature")
	}
}

func TestEVMSubmitUnsupportedKind(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	signer := newKeySigner(t)
	err := adapter.Submit(context.Background(), &Payload{Kind: KindBond, From: signer.Address()}, signer, func(StatusUpdate) {})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Submit() error = %v, want ErrUnsupported", err)
	}
}

func TestEVMSubmitTransferAll(t *testing.T) {
	adapter, client := newTestAdapter(t)
	signer := newKeySigner(t)
	client.balances[common.HexToAddress(signer.Address())] = big.NewInt(1_000_000)

	err := adapter.Submit(context.Background(), &Payload{
		Kind:        KindTransfer,
		From:        signer.Address(),
		To:          "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		Asset:       nativeAsset(),
		TransferAll: true,
	}, signer, func(StatusUpdate) {})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	sent := client.sentTxs()
	if len(sent) != 1 || sent[0].Value().Int64() != 1_000_000-210000 {
		t.Errorf("transfer-all value = %v", sent[0].Value())
	}
}

// stubAdapter is a minimal Adapter for registry and poller tests.
type stubAdapter struct {
	key      string
	balances map[string]*big.Int
	err      error
	closed   bool
}

func (s *stubAdapter) NetworkKey() string      { return s.key }
func (s *stubAdapter) Supports(kind Kind) bool { return kind == KindTransfer }
func (s *stubAdapter) Close()                  { s.closed = true }

func (s *stubAdapter) FreeBalance(ctx context.Context, address string, asset state.AssetInfo) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	if b, ok := s.balances[address]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func (s *stubAdapter) EstimateFee(ctx context.Context, p *Payload) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (s *stubAdapter) Submit(ctx context.Context, p *Payload, signer Signer, onStatus func(StatusUpdate)) error {
	return ErrUnsupported
}

func TestRegistryPublishesNetworks(t *testing.T) {
	st := state.New()
	r := NewRegistry(append(config.DefaultNetworks(), moonbeam), st)

	infos := st.ChainInfoMap.Get()
	if infos["polkadot"].NativeSymbol != "DOT" || infos["polkadot"].ExistentialDeposit != "10000000000" {
		t.Errorf("polkadot info = %+v", infos["polkadot"])
	}

	assets := st.AssetRegistry.Get()
	if a, ok := assets["polkadot-NATIVE-DOT"]; !ok || !a.IsNative() {
		t.Errorf("missing native DOT asset: %+v", a)
	}
	if a, ok := assets["moonbeam-ERC20-USDC"]; !ok || a.Contract == "" || a.Decimals != 6 {
		t.Errorf("missing USDC asset: %+v", a)
	}
	if _, ok := st.FindAsset("moonbeam", "USDC"); !ok {
		t.Error("FindAsset(USDC) not found")
	}

	states := st.ChainStateMap.Get()
	if states["polkadot"].ConnectionStatus != state.ConnectionUnsupported {
		t.Errorf("polkadot state = %+v", states["polkadot"])
	}
	if states["ethereum"].ConnectionStatus != state.ConnectionDisconnected {
		t.Errorf("ethereum state = %+v", states["ethereum"])
	}

	if _, err := r.Adapter("polkadot"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Adapter(polkadot) error = %v", err)
	}
	if _, err := r.Adapter("nope"); !errors.Is(err, ErrUnknownNetwork) {
		t.Errorf("Adapter(nope) error = %v", err)
	}
	if got := r.ExistentialDeposit("kusama").String(); got != "333333333" {
		t.Errorf("ExistentialDeposit(kusama) = %s", got)
	}
}

func TestRegistryConnect(t *testing.T) {
	st := state.New()
	r := NewRegistry(config.DefaultNetworks(), st)

	r.Connect(context.Background(), func(ctx context.Context, n config.NetworkConfig) (Adapter, error) {
		if n.Key == "ethereum" {
			return nil, errors.New("unreachable")
		}
		return &stubAdapter{key: n.Key}, nil
	})

	states := st.ChainStateMap.Get()
	if states["moonbeam"].ConnectionStatus != state.ConnectionConnected {
		t.Errorf("moonbeam state = %+v", states["moonbeam"])
	}
	if states["ethereum"].ConnectionStatus != state.ConnectionDisconnected {
		t.Errorf("ethereum state = %+v", states["ethereum"])
	}
	if got := r.Connected(); len(got) != 1 || got[0] != "moonbeam" {
		t.Errorf("Connected() = %v", got)
	}

	a, _ := r.Adapter("moonbeam")
	r.Close()
	if !a.(*stubAdapter).closed {
		t.Error("Close() did not close adapter")
	}
}

func TestBalancePollerPollOnce(t *testing.T) {
	st := state.New()
	r := NewRegistry([]config.NetworkConfig{moonbeam}, st)

	evmAddr := "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	subAddr := "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	r.Register(&stubAdapter{key: "moonbeam", balances: map[string]*big.Int{evmAddr: big.NewInt(99)}})

	var emissions int
	st.Balance.Subscribe(func(state.BalanceJSON) { emissions++ })

	p := NewBalancePoller(r, st, func() []string { return []string{evmAddr, subAddr} }, nil, PollerConfig{})
	p.PollOnce(context.Background())

	details := st.Balance.Get().Details
	item, ok := details[evmAddr]["moonbeam"]
	if !ok || item.Free != "99" || item.State != state.BalanceStateReady || item.Symbol != "GLMR" {
		t.Errorf("balance item = %+v", item)
	}
	if _, ok := details[subAddr]; ok {
		t.Error("substrate address polled on an EVM network")
	}
	if emissions != 1 {
		t.Errorf("emissions = %d, want 1", emissions)
	}
}

func TestBalancePollerMarksFailures(t *testing.T) {
	st := state.New()
	r := NewRegistry([]config.NetworkConfig{moonbeam}, st)
	r.Register(&stubAdapter{key: "moonbeam", err: errors.New("timeout")})

	addr := "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	p := NewBalancePoller(r, st, func() []string { return []string{addr} }, nil, PollerConfig{})
	p.PollOnce(context.Background())

	item := st.Balance.Get().Details[addr]["moonbeam"]
	if item.State != state.BalanceStateError || item.Error == "" {
		t.Errorf("item = %+v", item)
	}
	if got := st.ChainStateMap.Get()["moonbeam"].ConnectionStatus; got != state.ConnectionDisconnected {
		t.Errorf("connection = %s, want DISCONNECTED", got)
	}
}
