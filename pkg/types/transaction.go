// Package types holds the wire-level value types shared by every layer of
// the node: transactions, blocks and peer descriptors.
package types

import "sync/atomic"

// nextTxID is the process-wide monotonic transaction id counter. Ids are
// never recycled.
var nextTxID uint64

// NextTxID returns the next process-wide unique transaction id.
func NextTxID() uint64 {
	return atomic.AddUint64(&nextTxID, 1) - 1
}

// Transaction is a value transfer between two wallets, identified by their
// PEM-encoded RSA public keys.
type Transaction struct {
	ID     uint64
	Amount float64
	Payer  string
	Payee  string
}

// NewTransaction builds a transaction with a freshly allocated id.
func NewTransaction(payer, payee string, amount float64) Transaction {
	return Transaction{
		ID:     NextTxID(),
		Amount: amount,
		Payer:  payer,
		Payee:  payee,
	}
}

// Equal compares transactions by structural content; tail-dedup checks
// in the ledger engine depend on it.
func (tx Transaction) Equal(other Transaction) bool {
	return tx.ID == other.ID &&
		tx.Amount == other.Amount &&
		tx.Payer == other.Payer &&
		tx.Payee == other.Payee
}
