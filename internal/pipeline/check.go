package pipeline

import (
	"math/big"

	"github.com/klingon-exchange/walletd/pkg/helpers"
)

// balanceCheck holds the numbers a transfer pre-flight is decided on. All
// amounts are in base units of their own asset.
type balanceCheck struct {
	free        *big.Int // sender balance of the transferred asset
	native      *big.Int // sender balance of the network's native asset
	value       *big.Int
	fee         *big.Int // in native units
	ed          *big.Int // existential deposit of the native asset
	isMain      bool
	transferAll bool
}

// evaluate applies the transfer balance rules.
func (c balanceCheck) evaluate() ([]TxError, []TxWarning) {
	var (
		errs     []TxError
		warnings []TxWarning
	)
	free, native := orZero(c.free), orZero(c.native)
	value, fee, ed := orZero(c.value), orZero(c.fee), orZero(c.ed)

	if !c.transferAll && free.Cmp(value) < 0 {
		errs = append(errs, TxError{
			Code:    CodeNotEnoughValue,
			Message: "Not enough balance free to make transfer",
		})
		return errs, warnings
	}

	if c.isMain {
		if !c.transferAll && ed.Sign() > 0 && free.Cmp(helpers.Sum(value, fee, ed)) < 0 {
			warnings = append(warnings, edWarning())
		}
		if free.Cmp(helpers.Sum(value, fee)) < 0 {
			errs = append(errs, feeError())
		}
		return errs, warnings
	}

	if !c.transferAll && ed.Sign() > 0 && native.Cmp(helpers.Sum(ed, fee)) < 0 {
		warnings = append(warnings, edWarning())
	}
	if native.Cmp(fee) < 0 {
		errs = append(errs, feeError())
	}
	return errs, warnings
}

// evaluateCrossChain applies the cross-chain rule: value and fee both come
// out of the transferred balance.
func evaluateCrossChain(free, value, fee *big.Int) []TxError {
	if orZero(free).Cmp(helpers.Sum(value, fee)) < 0 {
		return []TxError{{
			Code:    CodeNotEnoughValue,
			Message: "Not enough balance free to make transfer",
		}}
	}
	return nil
}

func edWarning() TxWarning {
	return TxWarning{
		Code:    CodeNotEnoughExistentialDeposit,
		Message: "Account might be reaped after transfer",
	}
}

func feeError() TxError {
	return TxError{
		Code:    CodeNotEnoughFee,
		Message: "Not enough balance free to pay fee",
	}
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}
