// Package chain holds the network registry, the chain adapters that read
// balances and submit transactions, and the background balance poller.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/klingon-exchange/walletd/internal/state"
)

var (
	ErrUnknownNetwork = errors.New("unknown network")
	ErrUnsupported    = errors.New("operation not supported on this network")
	ErrWrongSigner    = errors.New("signature does not match sender")
)

// Kind is the transaction family a pipeline submits.
type Kind string

const (
	KindTransfer           Kind = "transfer"
	KindCrossChainTransfer Kind = "cross_chain_transfer"
	KindBond               Kind = "bond"
	KindUnbond             Kind = "unbond"
	KindWithdraw           Kind = "withdraw"
	KindClaimReward        Kind = "claim_reward"
	KindCompound           Kind = "compound"
	KindCancelCompound     Kind = "cancel_compound"
	KindNFTTransfer        Kind = "nft_transfer"
)

// Status is the progress of a submitted transaction.
type Status string

const (
	StatusBroadcast Status = "BROADCAST"
	StatusIncluded  Status = "INCLUDED"
	StatusFinalized Status = "FINALIZED"
	StatusFailed    Status = "FAILED"
)

// Payload is an unsigned transaction request.
type Payload struct {
	Kind        Kind
	NetworkKey  string
	From        string
	To          string
	Asset       state.AssetInfo
	Value       *big.Int
	TransferAll bool

	// DestinationNetwork is set for cross-chain transfers.
	DestinationNetwork string

	// NFT transfers.
	NFTContract string
	NFTTokenID  string

	// Staking parameters (validator, nominator, collator...).
	Params map[string]string
}

// TxResult summarizes an included transaction.
type TxResult struct {
	Change      string `json:"change"`
	Fee         string `json:"fee,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

// StatusUpdate is reported by Submit as the transaction progresses.
type StatusUpdate struct {
	Status        Status
	ExtrinsicHash string
	Result        *TxResult
	Err           error
}

// Signer produces a signature over an adapter-specific payload. For EVM
// networks the payload is the 32-byte signing hash and the signature is
// r || s || v with v in {0,1}.
type Signer interface {
	Address() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Adapter talks to one network.
type Adapter interface {
	NetworkKey() string
	Supports(kind Kind) bool
	FreeBalance(ctx context.Context, address string, asset state.AssetInfo) (*big.Int, error)
	EstimateFee(ctx context.Context, p *Payload) (*big.Int, error)
	// Submit signs and broadcasts p, calling onStatus from the submitting
	// goroutine until a terminal status (FINALIZED or FAILED) or an error.
	Submit(ctx context.Context, p *Payload, signer Signer, onStatus func(StatusUpdate)) error
	Close()
}
