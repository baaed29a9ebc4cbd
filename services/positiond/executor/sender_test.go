package executor

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type stubBackend struct {
	nonce   uint64
	tip     *big.Int
	baseFee *big.Int
	gas     uint64
	sent    []*types.Transaction
}

func (b *stubBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *stubBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.tip), nil
}

func (b *stubBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: b.baseFee}, nil
}

func (b *stubBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return b.gas, nil
}

func (b *stubBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func TestTxSenderSend(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	chainID := big.NewInt(42161)
	backend := &stubBackend{nonce: 7, tip: big.NewInt(1_000_000), baseFee: big.NewInt(50_000_000), gas: 100_000}

	sender, err := NewTxSender(backend, key, chainID)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if sender.SupportsBatching() {
		t.Fatalf("EOA sender must not report batching")
	}

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hash, err := sender.Send(context.Background(), Call{To: to, Data: []byte{0x01, 0x02}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one submitted transaction")
	}
	tx := backend.sent[0]
	if tx.Hash() != hash {
		t.Fatalf("returned hash does not match submitted transaction")
	}
	if tx.Nonce() != 7 {
		t.Fatalf("unexpected nonce %d", tx.Nonce())
	}
	if tx.To() == nil || *tx.To() != to {
		t.Fatalf("unexpected recipient %v", tx.To())
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("expected 20%% gas headroom, got %d", tx.Gas())
	}
	wantFeeCap := big.NewInt(101_000_000) // tip + 2*baseFee
	if tx.GasFeeCap().Cmp(wantFeeCap) != 0 {
		t.Fatalf("unexpected fee cap %s", tx.GasFeeCap())
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if from != sender.From() {
		t.Fatalf("signature does not recover to sender address")
	}
}

func TestTxSenderSendBatchPacksMulticall(t *testing.T) {
	key, _ := crypto.GenerateKey()
	backend := &stubBackend{nonce: 0, tip: big.NewInt(1), baseFee: big.NewInt(1), gas: 21_000}
	sender, err := NewTxSender(backend, key, big.NewInt(1))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	calls := []Call{{To: to, Data: []byte{0xaa}}, {To: to, Data: []byte{0xbb}}}
	if _, err := sender.SendBatch(context.Background(), calls); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	tx := backend.sent[0]
	wantSelector := router.Methods["multicall"].ID
	if got := tx.Data()[:4]; string(got) != string(wantSelector) {
		t.Fatalf("expected multicall selector, got %x", got)
	}
}

func TestNewTxSenderValidation(t *testing.T) {
	key, _ := crypto.GenerateKey()
	if _, err := NewTxSender(nil, key, big.NewInt(1)); err == nil {
		t.Fatalf("expected error for missing backend")
	}
	if _, err := NewTxSender(&stubBackend{}, nil, big.NewInt(1)); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := NewTxSender(&stubBackend{}, key, nil); err == nil {
		t.Fatalf("expected error for missing chain id")
	}
}
