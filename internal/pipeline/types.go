package pipeline

import (
	"github.com/klingon-exchange/walletd/internal/chain"
)

// Mode selects how a transaction is signed.
type Mode string

const (
	ModePassword Mode = "PASSWORD"
	ModeQR       Mode = "QR"
	ModeLedger   Mode = "LEDGER"
)

// Stage is the pipeline state reported with every frame.
type Stage string

const (
	StageCreated          Stage = "CREATED"
	StageValidating       Stage = "VALIDATING"
	StageRejectedInvalid  Stage = "REJECTED_INVALID"
	StageSubmitting       Stage = "SUBMITTING"
	StageAwaitingExternal Stage = "AWAITING_EXTERNAL_SIGNATURE"
	StageBroadcast        Stage = "BROADCAST"
	StageIncluded         Stage = "INCLUDED"
	StageFinalized        Stage = "FINALIZED"
	StageFailed           Stage = "FAILED"
)

// Terminal reports whether the pipeline ends in this stage.
func (s Stage) Terminal() bool {
	return s == StageRejectedInvalid || s == StageFinalized || s == StageFailed
}

// ErrorCode classifies a TxError.
type ErrorCode string

const (
	CodeInvalidParam   ErrorCode = "INVALID_PARAM"
	CodeInvalidValue   ErrorCode = "INVALID_VALUE"
	CodeInvalidToken   ErrorCode = "INVALID_TOKEN"
	CodeNotEnoughValue ErrorCode = "NOT_ENOUGH_VALUE"
	CodeNotEnoughFee   ErrorCode = "NOT_ENOUGH_FEE"
	CodeTransferError  ErrorCode = "TRANSFER_ERROR"
	CodeUnsupported    ErrorCode = "UNSUPPORTED"
	CodeKeyringError   ErrorCode = "KEYRING_ERROR"

	// CodeNotEnoughExistentialDeposit is only ever a warning.
	CodeNotEnoughExistentialDeposit ErrorCode = "NOT_ENOUGH_EXISTENTIAL_DEPOSIT"
)

// TxError is a domain error reported as data.
type TxError struct {
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message"`
}

// TxWarning does not block submission.
type TxWarning struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ExternalState links a response to its external signature request.
type ExternalState struct {
	ExternalID string `json:"externalId"`
}

// QrState carries the unsigned payload to display as a QR code.
type QrState struct {
	QrAddress  string `json:"qrAddress"`
	QrPayload  string `json:"qrPayload"`
	QrID       string `json:"qrId"`
	IsQrHashed bool   `json:"isQrHashed"`
}

// LedgerState carries the unsigned payload for a hardware wallet.
type LedgerState struct {
	LedgerPayload string `json:"ledgerPayload"`
	LedgerID      string `json:"ledgerId"`
}

// TxResponse is streamed on every pipeline update.
type TxResponse struct {
	Stage         Stage           `json:"stage"`
	TxError       bool            `json:"txError,omitempty"`
	Status        *bool           `json:"status,omitempty"`
	ExtrinsicHash string          `json:"extrinsicHash,omitempty"`
	Errors        []TxError       `json:"errors,omitempty"`
	Warnings      []TxWarning     `json:"warnings,omitempty"`
	IsFinalized   bool            `json:"isFinalized,omitempty"`
	TxResult      *chain.TxResult `json:"txResult,omitempty"`
	IsBusy        bool            `json:"isBusy,omitempty"`
	ExternalState *ExternalState  `json:"externalState,omitempty"`
	QrState       *QrState        `json:"qrState,omitempty"`
	LedgerState   *LedgerState    `json:"ledgerState,omitempty"`
}

// Update is one frame of a pipeline. The last frame has Final set, after
// which the channel is closed.
type Update struct {
	Response TxResponse
	Final    bool
}

// TransferRequest moves a token within one network.
type TransferRequest struct {
	NetworkKey  string `json:"networkKey"`
	From        string `json:"from"`
	To          string `json:"to"`
	Token       string `json:"token,omitempty"`
	Value       string `json:"value,omitempty"`
	TransferAll bool   `json:"transferAll,omitempty"`
	Password    string `json:"password,omitempty"`
}

// CheckTransferResponse is the pre-flight of a transfer.
type CheckTransferResponse struct {
	Errors          []TxError   `json:"errors"`
	Warnings        []TxWarning `json:"warnings"`
	FromAccountFree string      `json:"fromAccountFree"`
	ToAccountFree   string      `json:"toAccountFree"`
	EstimateFee     string      `json:"estimateFee"`
	FeeSymbol       string      `json:"feeSymbol,omitempty"`
}

// CrossChainTransferRequest moves a token to another network.
type CrossChainTransferRequest struct {
	OriginNetworkKey      string `json:"originNetworkKey"`
	DestinationNetworkKey string `json:"destinationNetworkKey"`
	From                  string `json:"from"`
	To                    string `json:"to"`
	Token                 string `json:"token"`
	Value                 string `json:"value"`
	Password              string `json:"password,omitempty"`
}

// CheckCrossChainTransferResponse is the pre-flight of a cross-chain transfer.
type CheckCrossChainTransferResponse struct {
	Errors       []TxError `json:"errors"`
	EstimatedFee string    `json:"estimatedFee"`
	FeeSymbol    string    `json:"feeSymbol"`
}

// StakingRequest covers bond, unbond, withdraw, claim-reward and the
// compounding tasks. Which fields are required depends on the kind.
type StakingRequest struct {
	NetworkKey       string `json:"networkKey"`
	NominatorAddress string `json:"nominatorAddress"`
	ValidatorAddress string `json:"validatorAddress,omitempty"`
	Amount           string `json:"amount,omitempty"`
	UnlockAll        bool   `json:"unlockAll,omitempty"`
	TaskID           string `json:"taskId,omitempty"`
	Password         string `json:"password,omitempty"`
}

// NFTTransferRequest sends one NFT.
type NFTTransferRequest struct {
	NetworkKey       string `json:"networkKey"`
	SenderAddress    string `json:"senderAddress"`
	RecipientAddress string `json:"recipientAddress"`
	ContractAddress  string `json:"contractAddress"`
	TokenID          string `json:"tokenId"`
	Password         string `json:"password,omitempty"`
}
