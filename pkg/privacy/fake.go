package privacy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FakePool is a deterministic in-memory Pool for tests. Operations
// settle after a configurable number of status polls, and submissions
// can be scripted to fail a number of times.
type FakePool struct {
	mu sync.Mutex

	ops           map[string]*fakeOp
	settleAfter   int
	burnFailures  int
	issueFailures int
	failOps       map[string]bool

	Burns  []FakeTransfer
	Issues []FakeTransfer
}

type fakeOp struct {
	polls   int
	settled bool
	failed  bool
}

// FakeTransfer records a submitted burn or issue.
type FakeTransfer struct {
	Ref     string
	DestRef string
	Amount  decimal.Decimal
	OpID    string
}

// NewFakePool creates a pool whose operations settle on the first poll.
func NewFakePool() *FakePool {
	return &FakePool{
		ops:     make(map[string]*fakeOp),
		failOps: make(map[string]bool),
	}
}

// SettleAfter makes operations report pending for n polls before done.
func (f *FakePool) SettleAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settleAfter = n
}

// FailBurns makes the next n Burn submissions return an error.
func (f *FakePool) FailBurns(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.burnFailures = n
}

// FailIssues makes the next n Issue submissions return an error.
func (f *FakePool) FailIssues(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueFailures = n
}

// FailOperation makes the named operation settle as failed.
func (f *FakePool) FailOperation(opID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOps[opID] = true
}

func (f *FakePool) Burn(_ context.Context, ref string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.burnFailures > 0 {
		f.burnFailures--
		return "", errors.New("pool temporarily unavailable")
	}

	opID := "burn-" + uuid.NewString()
	f.ops[opID] = &fakeOp{}
	f.Burns = append(f.Burns, FakeTransfer{Ref: ref, Amount: amount, OpID: opID})
	return opID, nil
}

func (f *FakePool) Issue(_ context.Context, ref, destRef string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.issueFailures > 0 {
		f.issueFailures--
		return "", errors.New("pool temporarily unavailable")
	}

	opID := "issue-" + uuid.NewString()
	f.ops[opID] = &fakeOp{}
	f.Issues = append(f.Issues, FakeTransfer{Ref: ref, DestRef: destRef, Amount: amount, OpID: opID})
	return opID, nil
}

func (f *FakePool) OperationStatus(_ context.Context, id string) (OpState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.ops[id]
	if !ok {
		return "", fmt.Errorf("operation %s not found", id)
	}
	if f.failOps[id] {
		op.failed = true
		return OpFailed, nil
	}

	op.polls++
	if op.polls <= f.settleAfter {
		return OpExecuting, nil
	}
	op.settled = true
	return OpDone, nil
}
