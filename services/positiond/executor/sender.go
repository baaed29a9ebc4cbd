package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxBackend is the slice of the RPC client the sender needs to build, sign
// and submit transactions.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxSender submits router calls as individually signed EOA transactions. It
// never batches: plain accounts cannot express call arrays, so a plan runs
// step by step and the executor handles partial failure.
type TxSender struct {
	backend TxBackend
	key     *ecdsa.PrivateKey
	chainID *big.Int
	from    common.Address
}

// NewTxSender builds a sender bound to the key's address on the given chain.
func NewTxSender(backend TxBackend, key *ecdsa.PrivateKey, chainID *big.Int) (*TxSender, error) {
	if backend == nil {
		return nil, fmt.Errorf("executor: tx backend required")
	}
	if key == nil {
		return nil, fmt.Errorf("executor: signing key required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("executor: chain id required")
	}
	return &TxSender{
		backend: backend,
		key:     key,
		chainID: new(big.Int).Set(chainID),
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// From returns the sending address.
func (s *TxSender) From() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.from
}

// SupportsBatching implements Sender.
func (s *TxSender) SupportsBatching() bool { return false }

// Send signs and submits one call as a dynamic-fee transaction.
func (s *TxSender) Send(ctx context.Context, call Call) (common.Hash, error) {
	if s == nil {
		return common.Hash{}, fmt.Errorf("executor: sender not configured")
	}
	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: pending nonce: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: gas tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: chain head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &call.To, Data: call.Data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: estimate gas: %w", err)
	}
	// headroom for state drift between estimation and inclusion
	gas = gas + gas/5

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &call.To,
		Data:      call.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("executor: sign transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("executor: send transaction: %w", err)
	}
	return signed.Hash(), nil
}

// SendBatch collapses the calls into one multicall transaction. The sender
// reports no batching support so the executor prefers sequential sends, but
// the path stays valid for callers that ask for it explicitly.
func (s *TxSender) SendBatch(ctx context.Context, calls []Call) (common.Hash, error) {
	if len(calls) == 0 {
		return common.Hash{}, fmt.Errorf("executor: no calls to batch")
	}
	data, err := MulticallData(calls)
	if err != nil {
		return common.Hash{}, err
	}
	return s.Send(ctx, Call{To: calls[0].To, Data: data})
}
