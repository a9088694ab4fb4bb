package pipeline

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/walletd/internal/chain"
)

// NFTTransfer sends one NFT. Only the fee is checked before submission.
func (s *Service) NFTTransfer(ctx context.Context, mode Mode, req NFTTransferRequest) <-chan Update {
	return s.start(ctx, chain.KindNFTTransfer, mode, func(r *run) {
		if req.NetworkKey == "" || req.SenderAddress == "" || req.RecipientAddress == "" ||
			req.ContractAddress == "" || req.TokenID == "" {
			r.reject([]TxError{invalidParams()})
			return
		}
		native, ok := s.deps.Assets.NativeAsset(req.NetworkKey)
		if !ok {
			r.reject([]TxError{{Code: CodeInvalidToken, Message: "Not found token from registry"}})
			return
		}
		adapter, errs := s.adapterFor(req.NetworkKey, chain.KindNFTTransfer)
		if len(errs) > 0 {
			r.reject(errs)
			return
		}

		p := &chain.Payload{
			Kind:        chain.KindNFTTransfer,
			NetworkKey:  req.NetworkKey,
			From:        req.SenderAddress,
			To:          req.RecipientAddress,
			Asset:       native,
			NFTContract: req.ContractAddress,
			NFTTokenID:  req.TokenID,
		}
		s.execute(r, &job{
			adapter:  adapter,
			payload:  p,
			password: req.Password,
			check: func(ctx context.Context) ([]TxError, []TxWarning, error) {
				fee, err := adapter.EstimateFee(ctx, p)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to estimate fee: %w", err)
				}
				free, err := adapter.FreeBalance(ctx, p.From, native)
				if err != nil {
					return nil, nil, fmt.Errorf("failed to get sender balance: %w", err)
				}
				if free.Cmp(fee) < 0 {
					return []TxError{feeError()}, nil, nil
				}
				return nil, nil, nil
			},
		})
	})
}
