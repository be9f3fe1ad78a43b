package chainclient

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/zuripay/zuri-settler/pkg/logger"
)

// lamports per SOL
var lamportsPerSol = decimal.New(1, 9)

// SolanaProvider observes the Solana chain through a JSON-RPC node.
type SolanaProvider struct {
	client *rpc.Client
	logger logger.Logger
}

var _ Provider = (*SolanaProvider)(nil)

// NewSolanaProvider creates a provider over the given RPC endpoint.
func NewSolanaProvider(rpcURL string, log logger.Logger) *SolanaProvider {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &SolanaProvider{
		client: rpc.New(rpcURL),
		logger: log,
	}
}

func (p *SolanaProvider) SubmitTransaction(ctx context.Context, signed []byte) (string, error) {
	sig, err := p.client.SendEncodedTransaction(ctx, base64.StdEncoding.EncodeToString(signed))
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %v", err)
	}
	p.logger.InfoWithScope(logger.Solana, "Submitted transaction %s", sig)
	return sig.String(), nil
}

func (p *SolanaProvider) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return TxStatus{State: TxNotFound}, nil
	}

	statuses, err := p.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return TxStatus{}, fmt.Errorf("failed to get signature status: %v", err)
	}
	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return TxStatus{State: TxNotFound}, nil
	}
	st := statuses.Value[0]

	if st.Err != nil {
		// A transaction that landed but failed will never fund the
		// collector; treat it as absent.
		return TxStatus{State: TxNotFound}, nil
	}

	// Confirmations is nil once the transaction is rooted.
	var confirmations uint64
	if st.Confirmations != nil {
		confirmations = *st.Confirmations
	} else if st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		confirmations = rootedConfirmations
	}

	if st.ConfirmationStatus == rpc.ConfirmationStatusProcessed {
		return TxStatus{State: TxPending}, nil
	}

	amount, to, err := p.transferDetails(ctx, sig)
	if err != nil {
		return TxStatus{}, err
	}

	return TxStatus{
		State:         TxConfirmed,
		Amount:        amount,
		To:            to,
		Confirmations: confirmations,
	}, nil
}

// rootedConfirmations stands in for the confirmation count of a rooted
// transaction, which the RPC no longer reports numerically.
const rootedConfirmations = 1 << 16

// transferDetails extracts the destination and transferred amount from
// the transaction's balance deltas.
func (p *SolanaProvider) transferDetails(ctx context.Context, sig solana.Signature) (decimal.Decimal, string, error) {
	maxVersion := uint64(0)
	result, err := p.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("failed to get transaction: %v", err)
	}
	if result == nil || result.Meta == nil {
		return decimal.Zero, "", nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("failed to decode transaction: %v", err)
	}

	// The funded account is the one with the largest balance increase.
	// The fee payer at index 0 only ever loses lamports.
	var (
		bestDelta uint64
		bestIdx   = -1
	)
	for i := range result.Meta.PostBalances {
		if i >= len(result.Meta.PreBalances) || i >= len(tx.Message.AccountKeys) {
			break
		}
		post, pre := result.Meta.PostBalances[i], result.Meta.PreBalances[i]
		if post > pre && post-pre > bestDelta {
			bestDelta = post - pre
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return decimal.Zero, "", nil
	}

	amount := decimal.NewFromUint64(bestDelta).Div(lamportsPerSol)
	return amount, tx.Message.AccountKeys[bestIdx].String(), nil
}

func (p *SolanaProvider) ValidateAddress(addr string) bool {
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}
