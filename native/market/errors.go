package market

import "errors"

var (
	ErrUnauthorized             = errors.New("market: caller not authorized")
	ErrNotForSale               = errors.New("market: asset not for sale")
	ErrInvalidPrice             = errors.New("market: price below minimum")
	ErrUnapprovedCurrency       = errors.New("market: currency not accepted")
	ErrPaymentMismatch          = errors.New("market: payment does not match price")
	ErrTransferFailure          = errors.New("market: transfer failed")
	ErrContractCallerNotAllowed = errors.New("market: contract callers not allowed")
	ErrReentrantCall            = errors.New("market: reentrant call")
)
