// Package pipeline runs wallet transactions from request to finality.
//
// Every run validates its request, checks balances and fees, obtains a
// signature (keyring password or an external QR/Ledger signer), submits
// through the network's chain adapter and streams each step as an Update.
// The last Update has Final set and the channel is closed after it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/walletd/internal/chain"
	"github.com/klingon-exchange/walletd/internal/external"
	"github.com/klingon-exchange/walletd/internal/keyring"
	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/helpers"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

const (
	updateBuffer = 16

	// DefaultSubmitTimeout bounds how long a submitted transaction is followed.
	DefaultSubmitTimeout = 10 * time.Minute
)

// Chains resolves network adapters.
type Chains interface {
	Adapter(networkKey string) (chain.Adapter, error)
	ExistentialDeposit(networkKey string) *big.Int
}

// Assets resolves tokens from the asset registry.
type Assets interface {
	FindAsset(networkKey, token string) (state.AssetInfo, bool)
	NativeAsset(networkKey string) (state.AssetInfo, bool)
}

// SignerSource returns a password signer for a local account.
type SignerSource func(address, password string) (chain.Signer, error)

// Deps are the collaborators of a Service.
type Deps struct {
	Chains      Chains
	Assets      Assets
	Signers     SignerSource
	IsLocal     func(address string) bool
	History     *History
	Coordinator *external.Coordinator

	// SubmitTimeout bounds a submission that outlives its port.
	SubmitTimeout time.Duration
}

// Service starts transaction pipelines.
type Service struct {
	deps Deps
	log  *logging.Logger

	// OnOutcome, when set, is called once per run with its last stage.
	OnOutcome func(kind chain.Kind, mode Mode, stage Stage)
}

// New creates a pipeline service.
func New(deps Deps) *Service {
	if deps.SubmitTimeout <= 0 {
		deps.SubmitTimeout = DefaultSubmitTimeout
	}
	return &Service{
		deps: deps,
		log:  logging.GetDefault().Component("pipeline"),
	}
}

// job is a validated transaction ready to check and submit.
type job struct {
	adapter  chain.Adapter
	payload  *chain.Payload
	password string

	// check runs before signing. Errors reject the run.
	check func(ctx context.Context) ([]TxError, []TxWarning, error)

	history      bool
	changeSymbol string
	feeSymbol    string
	// receivedOn is the network of the recipient's history entry.
	receivedOn string
}

// run is the state of one pipeline. It is only touched by the pipeline's
// own goroutine.
type run struct {
	ctx      context.Context
	kind     chain.Kind
	mode     Mode
	out      chan Update
	stage    Stage
	final    bool
	warnings []TxWarning
}

func (r *run) emit(resp TxResponse, final bool) {
	if r.final {
		return
	}
	resp.Stage = r.stage
	if resp.Warnings == nil {
		resp.Warnings = r.warnings
	}
	r.final = final
	select {
	case r.out <- Update{Response: resp, Final: final}:
	case <-r.ctx.Done():
	}
}

func (r *run) reject(errs []TxError) {
	if r.final {
		return
	}
	r.stage = StageRejectedInvalid
	r.emit(TxResponse{TxError: true, Status: boolPtr(false), Errors: errs}, true)
}

func (r *run) fail(resp TxResponse) {
	if r.final {
		return
	}
	r.stage = StageFailed
	resp.TxError = true
	resp.Status = boolPtr(false)
	r.emit(resp, true)
}

// start runs body on its own goroutine and returns the update stream.
func (s *Service) start(ctx context.Context, kind chain.Kind, mode Mode, body func(r *run)) <-chan Update {
	r := &run{
		ctx:   ctx,
		kind:  kind,
		mode:  mode,
		out:   make(chan Update, updateBuffer),
		stage: StageCreated,
	}

	go func() {
		defer close(r.out)
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("Pipeline panicked", "kind", kind, "panic", rec)
				r.fail(TxResponse{Errors: []TxError{{Code: CodeTransferError, Message: fmt.Sprint(rec)}}})
			}
			if !r.final {
				r.fail(TxResponse{Errors: []TxError{{
					Code:    CodeTransferError,
					Message: "submission ended without a final status",
				}}})
			}
			s.log.Debug("Pipeline finished", "kind", kind, "mode", mode, "stage", r.stage)
			if s.OnOutcome != nil {
				s.OnOutcome(kind, mode, r.stage)
			}
		}()
		r.stage = StageValidating
		body(r)
	}()

	return r.out
}

// execute checks, signs and submits j.
func (s *Service) execute(r *run, j *job) {
	if j.check != nil {
		errs, warnings, err := j.check(r.ctx)
		if err != nil {
			r.fail(TxResponse{Errors: []TxError{{Code: CodeTransferError, Message: err.Error()}}})
			return
		}
		r.warnings = warnings
		if len(errs) > 0 {
			r.reject(errs)
			return
		}
	}

	r.stage = StageSubmitting
	signer, err := s.signerFor(r, j)
	if err != nil {
		r.fail(errorResponse(err))
		return
	}

	// The submission outlives a closed port: only its frames are dropped.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), s.deps.SubmitTimeout)
	defer cancel()

	err = j.adapter.Submit(ctx, j.payload, signer, func(u chain.StatusUpdate) {
		s.onStatus(r, j, u)
	})
	if err != nil && !r.final {
		s.log.Warn("Transaction failed", "kind", r.kind, "network", j.payload.NetworkKey, "error", err)
		r.fail(errorResponse(err))
	}
}

func (s *Service) signerFor(r *run, j *job) (chain.Signer, error) {
	switch r.mode {
	case ModeQR, ModeLedger:
		if s.deps.Coordinator == nil {
			return nil, fmt.Errorf("%w: external signing", chain.ErrUnsupported)
		}
		return &externalSigner{
			run:         r,
			coordinator: s.deps.Coordinator,
			address:     j.payload.From,
			networkKey:  j.payload.NetworkKey,
		}, nil
	default:
		if s.deps.Signers == nil {
			return nil, keyring.ErrKeyringLocked
		}
		return s.deps.Signers(j.payload.From, j.password)
	}
}

func (s *Service) onStatus(r *run, j *job, u chain.StatusUpdate) {
	resp := TxResponse{ExtrinsicHash: u.ExtrinsicHash, TxResult: u.Result}
	switch u.Status {
	case chain.StatusBroadcast:
		r.stage = StageBroadcast
	case chain.StatusIncluded:
		r.stage = StageIncluded
		resp.Status = boolPtr(true)
	case chain.StatusFinalized:
		r.stage = StageFinalized
		resp.Status = boolPtr(true)
		resp.IsFinalized = true
	case chain.StatusFailed:
		r.stage = StageFailed
		resp.TxError = true
		resp.Status = boolPtr(false)
		msg := "transaction failed"
		if u.Err != nil {
			msg = u.Err.Error()
		}
		resp.Errors = []TxError{{Code: CodeTransferError, Message: msg}}
	default:
		s.log.Warn("Unknown transaction status", "status", u.Status)
		return
	}

	if j.history && !resp.IsFinalized && resp.TxResult != nil && resp.ExtrinsicHash != "" {
		s.record(j, resp, u.Status != chain.StatusFailed)
	}

	r.emit(resp, r.stage.Terminal())
}

// record writes the sender's entry and, for a local recipient, a received one.
func (s *Service) record(j *job, resp TxResponse, success bool) {
	if s.deps.History == nil {
		return
	}
	p := j.payload
	change := resp.TxResult.Change
	if change == "" && p.Value != nil {
		change = p.Value.String()
	}

	item := state.HistoryItem{
		Time:          time.Now().UnixMilli(),
		NetworkKey:    p.NetworkKey,
		Change:        change,
		ChangeSymbol:  j.changeSymbol,
		Fee:           resp.TxResult.Fee,
		FeeSymbol:     j.feeSymbol,
		IsSuccess:     success,
		ExtrinsicHash: resp.ExtrinsicHash,
		Action:        ActionSend,
	}
	if _, err := s.deps.History.Add(p.From, item); err != nil {
		s.log.Error("Failed to record history", "address", p.From, "error", err)
	}

	if s.deps.IsLocal != nil && s.deps.IsLocal(p.To) {
		item.Action = ActionReceived
		if j.receivedOn != "" {
			item.NetworkKey = j.receivedOn
		}
		if _, err := s.deps.History.Add(p.To, item); err != nil {
			s.log.Error("Failed to record history", "address", p.To, "error", err)
		}
	}
}

// adapterFor resolves the adapter of networkKey and checks it offers kind.
func (s *Service) adapterFor(networkKey string, kind chain.Kind) (chain.Adapter, []TxError) {
	a, err := s.deps.Chains.Adapter(networkKey)
	if errors.Is(err, chain.ErrUnknownNetwork) {
		return nil, []TxError{{Code: CodeInvalidParam, Message: "Unknown network " + networkKey}}
	}
	if err != nil {
		return nil, []TxError{{Code: CodeUnsupported, Message: err.Error()}}
	}
	if !a.Supports(kind) {
		return nil, []TxError{{
			Code:    CodeUnsupported,
			Message: fmt.Sprintf("%s is not supported on %s", kind, networkKey),
		}}
	}
	return a, nil
}

// externalSigner hands the signing payload to a QR or Ledger signer through
// the coordinator and waits for the answer.
type externalSigner struct {
	run         *run
	coordinator *external.Coordinator
	address     string
	networkKey  string
}

func (e *externalSigner) Address() string { return e.address }

// Sign waits on the port's context, not the submission's, so a closed port
// abandons the request.
func (e *externalSigner) Sign(_ context.Context, payload []byte) ([]byte, error) {
	r := e.run
	kind := external.KindQR
	if r.mode == ModeLedger {
		kind = external.KindLedger
	}

	h := e.coordinator.Prepare()
	unsigned := helpers.BytesToHex(payload)
	h.SetState(external.Request{
		Kind:       kind,
		Address:    e.address,
		NetworkKey: e.networkKey,
		Payload:    unsigned,
	})

	resp := TxResponse{IsBusy: true, ExternalState: &ExternalState{ExternalID: h.ID}}
	if kind == external.KindQR {
		resp.QrState = &QrState{
			QrAddress:  e.address,
			QrPayload:  unsigned,
			QrID:       h.ID,
			IsQrHashed: true,
		}
	} else {
		resp.LedgerState = &LedgerState{LedgerPayload: unsigned, LedgerID: h.ID}
	}
	r.stage = StageAwaitingExternal
	r.emit(resp, false)

	res, err := h.Wait(r.ctx)
	if err != nil {
		return nil, err
	}
	sig, err := helpers.HexToBytes(res.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	r.stage = StageSubmitting
	return sig, nil
}

// errorResponse maps a signing or submission error to response data.
func errorResponse(err error) TxResponse {
	var (
		resp      TxResponse
		signerErr *external.SignerError
	)
	switch {
	case errors.Is(err, external.ErrUserCancelled), errors.Is(err, context.Canceled):
		// A cancel carries no message.
	case errors.As(err, &signerErr):
		resp.Errors = []TxError{{Code: CodeTransferError, Message: signerErr.Message}}
	case errors.Is(err, chain.ErrUnsupported):
		resp.Errors = []TxError{{Code: CodeUnsupported, Message: err.Error()}}
	case errors.Is(err, keyring.ErrInvalidPassword),
		errors.Is(err, keyring.ErrAccountNotFound),
		errors.Is(err, keyring.ErrExternalAccount),
		errors.Is(err, keyring.ErrKeyringLocked),
		errors.Is(err, keyring.ErrInvalidAddress):
		resp.Errors = []TxError{{Code: CodeKeyringError, Message: err.Error()}}
	default:
		resp.Errors = []TxError{{Code: CodeTransferError, Message: err.Error()}}
	}
	return resp
}

func boolPtr(b bool) *bool { return &b }
