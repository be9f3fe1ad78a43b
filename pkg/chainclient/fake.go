package chainclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Fake is a deterministic in-memory Provider for tests. Transactions
// appear exactly as scripted with SetStatus.
type Fake struct {
	mu        sync.Mutex
	statuses  map[string]TxStatus
	submitted [][]byte
	submitErr error
	nextHash  int
}

var _ Provider = (*Fake)(nil)

// NewFake creates an empty fake chain.
func NewFake() *Fake {
	return &Fake{statuses: make(map[string]TxStatus)}
}

// SetStatus scripts the status returned for a transaction hash.
func (f *Fake) SetStatus(txHash string, st TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[txHash] = st
}

// Confirm scripts a confirmed transaction with the given amount and a
// deep confirmation count.
func (f *Fake) Confirm(txHash, amount string) {
	f.SetStatus(txHash, TxStatus{
		State:         TxConfirmed,
		Amount:        decimal.RequireFromString(amount),
		Confirmations: 1000,
	})
}

// FailSubmit makes subsequent SubmitTransaction calls fail with err.
func (f *Fake) FailSubmit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func (f *Fake) SubmitTransaction(_ context.Context, signed []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, signed)
	f.nextHash++
	hash := fmt.Sprintf("0xfake%060x", f.nextHash)
	f.statuses[hash] = TxStatus{State: TxPending}
	return hash, nil
}

func (f *Fake) TransactionStatus(_ context.Context, txHash string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[txHash]
	if !ok {
		return TxStatus{State: TxNotFound}, nil
	}
	return st, nil
}

func (f *Fake) ValidateAddress(addr string) bool { return addr != "" }
