package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/klingon-exchange/walletd/internal/config"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// Gas limits used when estimation fails or is not possible.
const (
	DefaultGasLimit       = uint64(21000)
	DefaultERC20GasLimit  = uint64(65000)
	DefaultERC721GasLimit = uint64(100000)
)

const tokenABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

var parsedTokenABI = mustParseABI(tokenABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid token ABI: %v", err))
	}
	return parsed
}

// EVMClient is the subset of ethclient.Client the adapter uses.
type EVMClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// EVMAdapter implements Adapter over an EVM JSON-RPC endpoint.
type EVMAdapter struct {
	key           string
	client        EVMClient
	chainID       *big.Int
	confirmations uint64
	pollInterval  time.Duration
	log           *logging.Logger
}

// DialEVM connects to the network's RPC endpoint and checks its chain id.
func DialEVM(ctx context.Context, n config.NetworkConfig) (Adapter, error) {
	client, err := ethclient.DialContext(ctx, n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	adapter, err := NewEVMAdapter(ctx, n, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return adapter, nil
}

// NewEVMAdapter wraps an existing client.
func NewEVMAdapter(ctx context.Context, n config.NetworkConfig, client EVMClient) (*EVMAdapter, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if n.ChainID != 0 && chainID.Uint64() != n.ChainID {
		return nil, fmt.Errorf("network %s: RPC reports chain ID %s, expected %d", n.Key, chainID, n.ChainID)
	}

	return &EVMAdapter{
		key:           n.Key,
		client:        client,
		chainID:       chainID,
		confirmations: n.Confirmations,
		pollInterval:  2 * time.Second,
		log:           logging.GetDefault().Component("chain").With("network", n.Key),
	}, nil
}

// SetPollInterval changes how often receipts and heads are polled.
func (e *EVMAdapter) SetPollInterval(d time.Duration) { e.pollInterval = d }

func (e *EVMAdapter) NetworkKey() string { return e.key }

func (e *EVMAdapter) Supports(kind Kind) bool {
	return kind == KindTransfer || kind == KindNFTTransfer
}

func (e *EVMAdapter) Close() { e.client.Close() }

// FreeBalance returns the native or ERC-20 balance of address.
func (e *EVMAdapter) FreeBalance(ctx context.Context, address string, asset state.AssetInfo) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid EVM address: %s", address)
	}
	owner := common.HexToAddress(address)

	if asset.IsNative() {
		return e.client.BalanceAt(ctx, owner, nil)
	}
	if !common.IsHexAddress(asset.Contract) {
		return nil, fmt.Errorf("asset %s has no contract address", asset.Slug)
	}

	data, err := parsedTokenABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(asset.Contract)
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf failed: %w", err)
	}
	values, err := parsedTokenABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("failed to decode balanceOf: %v", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf result")
	}
	return balance, nil
}

// EstimateFee returns gasLimit * gasPrice for the payload.
func (e *EVMAdapter) EstimateFee(ctx context.Context, p *Payload) (*big.Int, error) {
	msg, err := e.callMsg(p, p.Value)
	if err != nil {
		return nil, err
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	gasLimit := e.gasLimit(ctx, p, msg)
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit)), nil
}

// Submit builds a legacy EIP-155 transaction, has signer sign its hash and
// broadcasts it, then follows it to inclusion and the configured depth.
func (e *EVMAdapter) Submit(ctx context.Context, p *Payload, signer Signer, onStatus func(StatusUpdate)) error {
	if !e.Supports(p.Kind) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupported, p.Kind, e.key)
	}
	if !common.IsHexAddress(p.From) || !common.IsHexAddress(signer.Address()) {
		return fmt.Errorf("%w: not an EVM account", ErrWrongSigner)
	}
	from := common.HexToAddress(p.From)

	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %w", err)
	}

	value := p.Value
	if p.Kind == KindTransfer && p.TransferAll {
		value, err = e.FreeBalance(ctx, p.From, p.Asset)
		if err != nil {
			return err
		}
	}

	msg, err := e.callMsg(p, value)
	if err != nil {
		return err
	}
	gasLimit := e.gasLimit(ctx, p, msg)
	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))

	if p.Kind == KindTransfer && p.TransferAll && p.Asset.IsNative() {
		msg.Value = new(big.Int).Sub(value, fee)
		if msg.Value.Sign() <= 0 {
			return errors.New("balance does not cover the fee")
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       msg.To,
		Value:    msg.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     msg.Data,
	})

	txSigner := types.NewEIP155Signer(e.chainID)
	sig, err := signer.Sign(ctx, txSigner.Hash(tx).Bytes())
	if err != nil {
		return err
	}
	signed, err := tx.WithSignature(txSigner, sig)
	if err != nil {
		return fmt.Errorf("failed to apply signature: %w", err)
	}
	sender, err := types.Sender(txSigner, signed)
	if err != nil || sender != from {
		return ErrWrongSigner
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	hash := signed.Hash()
	e.log.Info("Transaction broadcast", "hash", hash.Hex(), "kind", p.Kind)
	onStatus(StatusUpdate{Status: StatusBroadcast, ExtrinsicHash: hash.Hex()})

	return e.follow(ctx, hash, changeOf(p, msg.Value), onStatus)
}

// follow polls for the receipt, then for the confirmation depth.
func (e *EVMAdapter) follow(ctx context.Context, hash common.Hash, change *big.Int, onStatus func(StatusUpdate)) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			receipt = r
			break
		}
		if !errors.Is(err, ethereum.NotFound) {
			e.log.Debug("Receipt lookup failed", "hash", hash.Hex(), "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	fee := new(big.Int).SetUint64(receipt.GasUsed)
	if receipt.EffectiveGasPrice != nil {
		fee.Mul(fee, receipt.EffectiveGasPrice)
	}
	block := receipt.BlockNumber.Uint64()

	if receipt.Status != types.ReceiptStatusSuccessful {
		onStatus(StatusUpdate{
			Status:        StatusFailed,
			ExtrinsicHash: hash.Hex(),
			Result:        &TxResult{Change: change.String(), Fee: fee.String(), BlockNumber: block},
			Err:           errors.New("transaction reverted"),
		})
		return nil
	}

	result := &TxResult{Change: change.String(), Fee: fee.String(), BlockNumber: block}
	onStatus(StatusUpdate{Status: StatusIncluded, ExtrinsicHash: hash.Hex(), Result: result})

	for {
		head, err := e.client.BlockNumber(ctx)
		if err == nil && head+1 >= block+e.confirmations {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	onStatus(StatusUpdate{Status: StatusFinalized, ExtrinsicHash: hash.Hex(), Result: result})
	return nil
}

func (e *EVMAdapter) callMsg(p *Payload, value *big.Int) (ethereum.CallMsg, error) {
	if !common.IsHexAddress(p.From) {
		return ethereum.CallMsg{}, fmt.Errorf("invalid sender address: %s", p.From)
	}
	from := common.HexToAddress(p.From)
	if value == nil {
		value = new(big.Int)
	}

	switch p.Kind {
	case KindTransfer:
		if !common.IsHexAddress(p.To) {
			return ethereum.CallMsg{}, fmt.Errorf("invalid recipient address: %s", p.To)
		}
		to := common.HexToAddress(p.To)
		if p.Asset.IsNative() {
			return ethereum.CallMsg{From: from, To: &to, Value: new(big.Int).Set(value)}, nil
		}
		contract := common.HexToAddress(p.Asset.Contract)
		data, err := parsedTokenABI.Pack("transfer", to, value)
		if err != nil {
			return ethereum.CallMsg{}, err
		}
		return ethereum.CallMsg{From: from, To: &contract, Value: new(big.Int), Data: data}, nil

	case KindNFTTransfer:
		if !common.IsHexAddress(p.To) || !common.IsHexAddress(p.NFTContract) {
			return ethereum.CallMsg{}, errors.New("invalid NFT transfer addresses")
		}
		tokenID, ok := new(big.Int).SetString(p.NFTTokenID, 10)
		if !ok {
			return ethereum.CallMsg{}, fmt.Errorf("invalid token id %q", p.NFTTokenID)
		}
		contract := common.HexToAddress(p.NFTContract)
		data, err := parsedTokenABI.Pack("transferFrom", from, common.HexToAddress(p.To), tokenID)
		if err != nil {
			return ethereum.CallMsg{}, err
		}
		return ethereum.CallMsg{From: from, To: &contract, Value: new(big.Int), Data: data}, nil

	default:
		return ethereum.CallMsg{}, fmt.Errorf("%w: %s on %s", ErrUnsupported, p.Kind, e.key)
	}
}

func (e *EVMAdapter) gasLimit(ctx context.Context, p *Payload, msg ethereum.CallMsg) uint64 {
	if gas, err := e.client.EstimateGas(ctx, msg); err == nil && gas > 0 {
		return gas
	}
	switch {
	case p.Kind == KindNFTTransfer:
		return DefaultERC721GasLimit
	case len(msg.Data) > 0:
		return DefaultERC20GasLimit
	default:
		return DefaultGasLimit
	}
}

func changeOf(p *Payload, sent *big.Int) *big.Int {
	if p.Kind == KindTransfer && p.Asset.IsNative() && sent != nil {
		return sent
	}
	if p.Value != nil {
		return p.Value
	}
	return new(big.Int)
}
