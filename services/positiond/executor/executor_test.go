package executor

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/oswy-cpu/kapan/native/positions"
)

var routerAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")

type stubSender struct {
	batching bool
	failAt   int // 1-based send index to fail on, 0 for never
	sent     []Call
	batches  [][]Call
}

func (s *stubSender) SupportsBatching() bool { return s.batching }

func (s *stubSender) Send(ctx context.Context, call Call) (common.Hash, error) {
	s.sent = append(s.sent, call)
	if s.failAt > 0 && len(s.sent) == s.failAt {
		return common.Hash{}, fmt.Errorf("wallet rejected")
	}
	return common.BytesToHash([]byte{byte(len(s.sent))}), nil
}

func (s *stubSender) SendBatch(ctx context.Context, calls []Call) (common.Hash, error) {
	s.batches = append(s.batches, calls)
	return common.BytesToHash([]byte{0xbb}), nil
}

func samplePlan(t *testing.T, market bool) positions.MovePlan {
	t.Helper()
	provider := positions.FlashLoanProviders[0]
	req := positions.PlanRequest{
		Wallet:           common.HexToAddress("0x1111111111111111111111111111111111111111"),
		FromProtocol:     positions.ProtocolAaveV3,
		ToProtocol:       positions.ProtocolVenus,
		PositionType:     positions.PositionBorrow,
		DebtToken:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		DebtAmount:       big.NewInt(1_000_000_000),
		DebtDecimals:     6,
		DecimalsResolved: true,
		FlashProvider:    &provider,
		Collaterals: []positions.CollateralWithAmount{{
			CollateralToken: positions.CollateralToken{
				Address:  common.HexToAddress("0x3333333333333333333333333333333333333333"),
				Decimals: 18,
			},
			Amount:    big.NewInt(5),
			MaxAmount: big.NewInt(10),
		}},
	}
	if market {
		req.ToProtocol = positions.ProtocolCompoundV3
		req.CompoundMarket = common.HexToAddress("0x4444444444444444444444444444444444444444")
	}
	plan, err := positions.BuildMovePlan(req)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	return *plan
}

func TestEncodePlanOrdersCalls(t *testing.T) {
	exec, err := New(routerAddr, &stubSender{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	calls, err := exec.EncodePlan(samplePlan(t, false))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected unlock/move/borrow calls, got %d", len(calls))
	}
	selectors := []string{"unlockDebt", "moveCollateral", "borrow"}
	for i, call := range calls {
		if call.To != routerAddr {
			t.Fatalf("call %d targets %s, expected router", i, call.To)
		}
		want := router.Methods[selectors[i]].ID
		if !bytes.Equal(call.Data[:4], want) {
			t.Fatalf("call %d: expected %s selector", i, selectors[i])
		}
	}
}

func TestEncodePlanPrependsMarketContext(t *testing.T) {
	exec, err := New(routerAddr, &stubSender{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	calls, err := exec.EncodePlan(samplePlan(t, true))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(calls) != 4 {
		t.Fatalf("expected market call plus plan, got %d", len(calls))
	}
	if !bytes.Equal(calls[0].Data[:4], router.Methods["setCompoundMarket"].ID) {
		t.Fatalf("expected setCompoundMarket first")
	}
}

func TestExecuteBatched(t *testing.T) {
	sender := &stubSender{batching: true}
	exec, err := New(routerAddr, sender, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	receipt, err := exec.Execute(context.Background(), samplePlan(t, false), true)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !receipt.Batched {
		t.Fatalf("expected batched receipt")
	}
	if len(sender.batches) != 1 || len(sender.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3 calls, got %+v", sender.batches)
	}
	if len(receipt.Steps) != 1 || receipt.Steps[0].Step != "multicall" {
		t.Fatalf("expected single multicall step, got %+v", receipt.Steps)
	}
	if receipt.ID == uuid.Nil {
		t.Fatalf("expected assigned receipt id")
	}
}

func TestExecuteBatchingRequiresOptIn(t *testing.T) {
	sender := &stubSender{batching: true}
	exec, err := New(routerAddr, sender, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	receipt, err := exec.Execute(context.Background(), samplePlan(t, false), false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.Batched {
		t.Fatalf("batching must not apply without the wallet opting in")
	}
	if len(sender.batches) != 0 || len(sender.sent) != 3 {
		t.Fatalf("expected sequential submission, sent=%d batches=%d", len(sender.sent), len(sender.batches))
	}
}

func TestExecuteSequentialStepLabels(t *testing.T) {
	sender := &stubSender{}
	exec, err := New(routerAddr, sender, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	receipt, err := exec.Execute(context.Background(), samplePlan(t, false), false)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []string{"unlock_debt", "move_collateral", "borrow"}
	if len(receipt.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(receipt.Steps))
	}
	for i, step := range receipt.Steps {
		if step.Step != want[i] {
			t.Fatalf("step %d: expected %s, got %s", i, want[i], step.Step)
		}
	}
}

func TestExecuteSequentialAbortsOnFailure(t *testing.T) {
	sender := &stubSender{failAt: 2}
	exec, err := New(routerAddr, sender, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	receipt, err := exec.Execute(context.Background(), samplePlan(t, false), false)
	if err == nil {
		t.Fatalf("expected failure at step 2")
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected submission to stop after failing step, sent %d", len(sender.sent))
	}
	if len(receipt.Steps) != 1 {
		t.Fatalf("expected one completed step in partial receipt, got %d", len(receipt.Steps))
	}
}

func TestFlashProviderEnabled(t *testing.T) {
	caller := callerFunc(func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
		if call.To == nil || *call.To != routerAddr {
			return nil, fmt.Errorf("wrong target")
		}
		return router.Methods["flashProviderEnabled"].Outputs.Pack(true)
	})
	exec, err := New(routerAddr, &stubSender{}, caller)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	enabled, err := exec.FlashProviderEnabled(context.Background(), 2)
	if err != nil {
		t.Fatalf("flag read: %v", err)
	}
	if !enabled {
		t.Fatalf("expected enabled flag")
	}
}

func TestMulticallDataPacksCalldata(t *testing.T) {
	exec, err := New(routerAddr, &stubSender{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	calls, err := exec.EncodePlan(samplePlan(t, false))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data, err := MulticallData(calls)
	if err != nil {
		t.Fatalf("multicall: %v", err)
	}
	if !bytes.Equal(data[:4], router.Methods["multicall"].ID) {
		t.Fatalf("expected multicall selector")
	}
}

type callerFunc func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

func (f callerFunc) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f(ctx, call, blockNumber)
}
