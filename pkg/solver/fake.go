package solver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is a deterministic in-memory solver for tests. It honors the
// idempotency key exactly like the real solver: resubmitting a key
// returns the existing order and never creates a second payout.
type Fake struct {
	mu sync.Mutex

	orders          map[string]*Order
	submitFailures  int
	rejectRecipient map[string]bool
	confirmAfter    int
	polls           map[string]int

	SubmitCalls int
}

var _ Client = (*Fake)(nil)

// NewFake creates a solver whose orders confirm on the first poll.
func NewFake() *Fake {
	return &Fake{
		orders:          make(map[string]*Order),
		rejectRecipient: make(map[string]bool),
		polls:           make(map[string]int),
	}
}

// FailSubmits makes the next n SubmitPayout calls return an error.
func (f *Fake) FailSubmits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitFailures = n
}

// RejectRecipient makes payouts to the recipient fail permanently as
// unreachable.
func (f *Fake) RejectRecipient(recipient string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectRecipient[recipient] = true
}

// ConfirmAfter makes orders report submitted for n polls before confirming.
func (f *Fake) ConfirmAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmAfter = n
}

func (f *Fake) SubmitPayout(_ context.Context, req PayoutRequest) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SubmitCalls++

	// Idempotency: a known key returns the original order untouched.
	if existing, ok := f.orders[req.IdempotencyKey]; ok {
		return *existing, nil
	}

	if f.submitFailures > 0 {
		f.submitFailures--
		return Order{}, errors.New("solver temporarily unavailable")
	}

	order := &Order{
		ID:    "order-" + uuid.NewString(),
		State: OrderSubmitted,
	}
	if f.rejectRecipient[req.Recipient] {
		order.State = OrderRejected
		order.Reason = "recipient invalid or unreachable"
	} else {
		order.TxHash = fmt.Sprintf("0xsolver%058x", f.SubmitCalls)
	}

	f.orders[req.IdempotencyKey] = order
	return *order, nil
}

// Order returns the order placed for the key without advancing its
// state, so tests can look up the payout tx hash.
func (f *Fake) Order(idempotencyKey string) (Order, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[idempotencyKey]
	if !ok {
		return Order{}, false
	}
	return *order, true
}

func (f *Fake) GetOrder(_ context.Context, idempotencyKey string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.orders[idempotencyKey]
	if !ok {
		return Order{}, fmt.Errorf("order not found for key %s", idempotencyKey)
	}

	if order.State == OrderSubmitted {
		f.polls[idempotencyKey]++
		if f.polls[idempotencyKey] > f.confirmAfter {
			order.State = OrderConfirmed
		}
	}
	return *order, nil
}
