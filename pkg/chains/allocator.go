package chains

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
)

// Allocator hands out collector addresses. Every allocation must be a
// fresh, never-reused address: the collector is the single-use funding
// target of exactly one intent.
type Allocator interface {
	Allocate(ctx context.Context, family Family) (string, error)
}

// KeygenAllocator allocates collectors by generating a fresh keypair per
// intent. Keys are held by the treasury layer; this core only needs the
// address.
type KeygenAllocator struct{}

var _ Allocator = (*KeygenAllocator)(nil)

func (KeygenAllocator) Allocate(_ context.Context, family Family) (string, error) {
	switch family {
	case FamilyEVM:
		key, err := crypto.GenerateKey()
		if err != nil {
			return "", fmt.Errorf("failed to generate collector key: %w", err)
		}
		return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
	case FamilySolana:
		wallet := solana.NewWallet()
		return wallet.PublicKey().String(), nil
	default:
		return "", fmt.Errorf("unknown chain family %q", family)
	}
}

// SeqAllocator is a deterministic allocator for tests: it returns
// well-formed addresses in a fixed sequence.
type SeqAllocator struct {
	mu sync.Mutex
	n  int
}

var _ Allocator = (*SeqAllocator)(nil)

func (a *SeqAllocator) Allocate(_ context.Context, family Family) (string, error) {
	a.mu.Lock()
	a.n++
	n := a.n
	a.mu.Unlock()

	switch family {
	case FamilyEVM:
		return fmt.Sprintf("0x%040x", n), nil
	case FamilySolana:
		// A fixed base58 string with a numbered suffix would not
		// decode, so derive a real key from the counter.
		var seed [32]byte
		seed[31] = byte(n)
		seed[30] = byte(n >> 8)
		pub := ed25519.NewKeyFromSeed(seed[:]).Public().(ed25519.PublicKey)
		return solana.PublicKeyFromBytes(pub).String(), nil
	default:
		return "", fmt.Errorf("unknown chain family %q", family)
	}
}
