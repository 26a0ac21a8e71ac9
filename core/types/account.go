package types

import "math/big"

// Account holds the ledger-side view of an address: its spendable native
// balance and, when the address hosts deployed code, the hash of that code.
// The marketplace uses CodeHash to distinguish externally-owned accounts from
// contracts when gating purchases.
type Account struct {
	Nonce    uint64   `json:"nonce"`
	Balance  *big.Int `json:"balance"`
	CodeHash []byte   `json:"codeHash"`
}

// IsContract reports whether the account carries deployed code.
func (a *Account) IsContract() bool {
	return a != nil && len(a.CodeHash) > 0
}
