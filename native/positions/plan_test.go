package positions

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func borrowMoveRequest(collaterals int) PlanRequest {
	provider := FlashLoanProviders[0]
	req := PlanRequest{
		Wallet:           common.HexToAddress("0x1111111111111111111111111111111111111111"),
		FromProtocol:     ProtocolAaveV3,
		ToProtocol:       ProtocolVenus,
		PositionType:     PositionBorrow,
		DebtToken:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		DebtAmount:       weiAmount(1000, 6),
		DebtDecimals:     6,
		DecimalsResolved: true,
		FlashProvider:    &provider,
	}
	for i := 0; i < collaterals; i++ {
		tok := testToken(string(rune('A'+i))+"TOKEN", 5, true)
		req.Collaterals = append(req.Collaterals, CollateralWithAmount{
			CollateralToken: tok,
			Amount:          weiAmount(2, 18),
			MaxAmount:       new(big.Int).Set(tok.RawBalance),
		})
	}
	return req
}

func TestBuildMovePlanInstructionOrder(t *testing.T) {
	req := borrowMoveRequest(3)
	plan, err := BuildMovePlan(req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Instructions) != 5 {
		t.Fatalf("expected 5 instructions, got %d", len(plan.Instructions))
	}
	if plan.Instructions[0].Kind() != InstructionUnlockDebt {
		t.Fatalf("expected unlock first, got %s", plan.Instructions[0].Kind())
	}
	for i := 1; i <= 3; i++ {
		if plan.Instructions[i].Kind() != InstructionMoveCollateral {
			t.Fatalf("instruction %d: expected move_collateral, got %s", i, plan.Instructions[i].Kind())
		}
	}
	if plan.Instructions[4].Kind() != InstructionBorrow {
		t.Fatalf("expected terminal borrow, got %s", plan.Instructions[4].Kind())
	}
}

func TestBuildMovePlanUnlockCarriesBuffers(t *testing.T) {
	plan, err := BuildMovePlan(borrowMoveRequest(1))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	unlock := plan.Instructions[0].(UnlockDebt)
	if unlock.Flash.PremiumBps != FlashLoanPremiumBps {
		t.Fatalf("expected %d bps premium, got %d", FlashLoanPremiumBps, unlock.Flash.PremiumBps)
	}
	if unlock.Flash.SlippageBps != FlashLoanSlippageBps {
		t.Fatalf("expected %d bps slippage, got %d", FlashLoanSlippageBps, unlock.Flash.SlippageBps)
	}
	if unlock.ExpectedAmount != "1000" {
		t.Fatalf("expected precise decimal echo, got %q", unlock.ExpectedAmount)
	}
}

func TestBuildMovePlanReborrowBuffer(t *testing.T) {
	plan, err := BuildMovePlan(borrowMoveRequest(1))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	borrow := plan.Instructions[2].(Borrow)
	want := ApplyBps(ApplyBps(weiAmount(1000, 6), FlashLoanPremiumBps), ReborrowBufferBps)
	if borrow.Amount.Cmp(want) != 0 {
		t.Fatalf("expected buffered reborrow %s, got %s", want, borrow.Amount)
	}
	if !borrow.ApproveRouter {
		t.Fatalf("expected router approval flag")
	}
}

func TestBuildMovePlanWithdrawMaxSentinel(t *testing.T) {
	req := borrowMoveRequest(1)
	req.Collaterals[0].Amount = new(big.Int).Set(req.Collaterals[0].MaxAmount)
	plan, err := BuildMovePlan(req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	move := plan.Instructions[1].(MoveCollateral)
	if !move.WithdrawMax {
		t.Fatalf("expected withdraw-max sentinel when amount equals live max")
	}
}

func TestBuildMovePlanSupplyMoveRejected(t *testing.T) {
	req := borrowMoveRequest(1)
	req.PositionType = PositionSupply
	if _, err := BuildMovePlan(req); !errors.Is(err, ErrSupplyMoveUnsupported) {
		t.Fatalf("expected supply rejection, got %v", err)
	}
}

func TestBuildMovePlanPreconditionErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PlanRequest)
		want   error
	}{
		{"missing wallet", func(r *PlanRequest) { r.Wallet = common.Address{} }, ErrWalletRequired},
		{"missing destination", func(r *PlanRequest) { r.ToProtocol = ProtocolUnknown }, ErrDestinationRequired},
		{"unresolved decimals", func(r *PlanRequest) { r.DecimalsResolved = false }, ErrDecimalsUnknown},
		{"missing flash provider", func(r *PlanRequest) { r.FlashProvider = nil }, ErrFlashProviderRequired},
	}
	for _, tc := range cases {
		req := borrowMoveRequest(1)
		tc.mutate(&req)
		if _, err := BuildMovePlan(req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestBuildMovePlanCompoundMarketContext(t *testing.T) {
	req := borrowMoveRequest(1)
	req.ToProtocol = ProtocolCompoundV3
	market := common.HexToAddress("0x3333333333333333333333333333333333333333")
	req.CompoundMarket = market
	plan, err := BuildMovePlan(req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if plan.CompoundMarket == nil || *plan.CompoundMarket != market {
		t.Fatalf("expected compound market context on plan")
	}

	req = borrowMoveRequest(1)
	plan, err = BuildMovePlan(req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if plan.CompoundMarket != nil {
		t.Fatalf("expected no market context for flat-token protocols")
	}
}

func TestValidateMoveInputsChecklist(t *testing.T) {
	req := borrowMoveRequest(1)
	checks := ValidateMoveInputs(req)
	for _, check := range checks {
		if !check.OK {
			t.Fatalf("expected all checks green, %s failed", check.Name)
		}
	}

	req.Collaterals[0].Amount = big.NewInt(0)
	checks = ValidateMoveInputs(req)
	if checks[0].OK {
		t.Fatalf("expected amount_entered to fail for zero amount")
	}

	req = borrowMoveRequest(1)
	req.Collaterals[0].Amount = new(big.Int).Add(req.Collaterals[0].MaxAmount, big.NewInt(1))
	checks = ValidateMoveInputs(req)
	if checks[1].OK {
		t.Fatalf("expected amount_within_balance to fail above max")
	}

	req = borrowMoveRequest(1)
	req.ToProtocol = ProtocolUnknown
	checks = ValidateMoveInputs(req)
	if checks[2].OK {
		t.Fatalf("expected destination_selected to fail")
	}
}

func TestEligibleFlashLoanProviders(t *testing.T) {
	providers := EligibleFlashLoanProviders([]uint8{0, 2}, func(enum uint8) bool {
		return enum != 2 // router flag off for Aave V3
	})
	if len(providers) != 1 || providers[0].Enum != 0 {
		t.Fatalf("expected only Balancer V2, got %+v", providers)
	}
	all := EligibleFlashLoanProviders([]uint8{0, 1, 2}, nil)
	if len(all) != 3 {
		t.Fatalf("expected full catalog with nil flag func, got %d", len(all))
	}
}
