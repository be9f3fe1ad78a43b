package chainclient

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/zuripay/zuri-settler/pkg/logger"
)

// weiPerEth converts wei amounts into the display unit used everywhere
// else in the system.
var weiPerEth = decimal.New(1, 18)

// EVMProvider is the Provider implementation for EVM chain families,
// backed by a JSON-RPC node client.
type EVMProvider struct {
	chainID int
	client  *ethclient.Client
	logger  logger.Logger
}

var _ Provider = (*EVMProvider)(nil)

// NewEVMProvider connects to the chain at rpcURL.
func NewEVMProvider(ctx context.Context, chainID int, rpcURL string, log logger.Logger) (*EVMProvider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %w", chainID, err)
	}
	return &EVMProvider{chainID: chainID, client: client, logger: log}, nil
}

func (p *EVMProvider) SubmitTransaction(ctx context.Context, signed []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return "", fmt.Errorf("failed to decode signed transaction: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.client.SendTransaction(timeoutCtx, tx); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	p.logger.InfoWithScope(logger.EVM, "Broadcast transaction %s on chain %d", tx.Hash().Hex(), p.chainID)
	return tx.Hash().Hex(), nil
}

func (p *EVMProvider) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	hash := common.HexToHash(txHash)
	tx, pending, err := p.client.TransactionByHash(timeoutCtx, hash)
	if err == ethereum.NotFound {
		return TxStatus{State: TxNotFound}, nil
	}
	if err != nil {
		return TxStatus{}, fmt.Errorf("failed to look up transaction %s: %w", txHash, err)
	}

	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	amount := decimal.NewFromBigInt(tx.Value(), 0).Div(weiPerEth)

	if pending {
		return TxStatus{State: TxPending, Amount: amount, To: to}, nil
	}

	receipt, err := p.client.TransactionReceipt(timeoutCtx, hash)
	if err == ethereum.NotFound {
		return TxStatus{State: TxPending, Amount: amount, To: to}, nil
	}
	if err != nil {
		return TxStatus{}, fmt.Errorf("failed to fetch receipt for %s: %w", txHash, err)
	}

	head, err := p.client.BlockNumber(timeoutCtx)
	if err != nil {
		return TxStatus{}, fmt.Errorf("failed to fetch block number: %w", err)
	}

	confirmations := uint64(0)
	if head >= receipt.BlockNumber.Uint64() {
		confirmations = head - receipt.BlockNumber.Uint64() + 1
	}
	return TxStatus{
		State:         TxConfirmed,
		Amount:        amount,
		To:            to,
		Confirmations: confirmations,
	}, nil
}

func (p *EVMProvider) ValidateAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// Close releases the underlying RPC connection.
func (p *EVMProvider) Close() { p.client.Close() }
