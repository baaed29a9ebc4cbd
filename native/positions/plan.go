package positions

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrWalletRequired        = errors.New("move plan: wallet address required")
	ErrDestinationRequired   = errors.New("move plan: destination protocol required")
	ErrDecimalsUnknown       = errors.New("move plan: debt token decimals not resolved")
	ErrFlashProviderRequired = errors.New("move plan: no flash loan provider available")
	ErrSupplyMoveUnsupported = errors.New("move plan: moving supply positions is not implemented")
)

// FlashLoanProviders is the static catalog of supported flash-loan sources.
// Availability per chain is decided by the configuration whitelist and the
// router feature flags read on-chain; the catalog itself never changes at
// runtime.
var FlashLoanProviders = []FlashLoanProvider{
	{Name: "Balancer", Version: "V2", Enum: 0},
	{Name: "Balancer", Version: "V3", Enum: 1},
	{Name: "Aave", Version: "V3", Enum: 2},
}

// EligibleFlashLoanProviders filters the catalog down to providers
// whitelisted for the chain and enabled on the router. enabled receives the
// provider enum and reports the router feature flag; a nil func means all
// whitelisted providers pass.
func EligibleFlashLoanProviders(whitelist []uint8, enabled func(uint8) bool) []FlashLoanProvider {
	allowed := make(map[uint8]struct{}, len(whitelist))
	for _, e := range whitelist {
		allowed[e] = struct{}{}
	}
	out := make([]FlashLoanProvider, 0, len(FlashLoanProviders))
	for _, provider := range FlashLoanProviders {
		if _, ok := allowed[provider.Enum]; !ok {
			continue
		}
		if enabled != nil && !enabled(provider.Enum) {
			continue
		}
		out = append(out, provider)
	}
	return out
}

// InstructionKind tags the router instruction variants.
type InstructionKind uint8

const (
	InstructionUnlockDebt InstructionKind = iota
	InstructionMoveCollateral
	InstructionBorrow
)

// String renders the instruction kind for logs and API payloads.
func (k InstructionKind) String() string {
	switch k {
	case InstructionUnlockDebt:
		return "unlock_debt"
	case InstructionMoveCollateral:
		return "move_collateral"
	default:
		return "borrow"
	}
}

// Instruction is one ordered step of a move plan.
type Instruction interface {
	Kind() InstructionKind
}

// FlashLoanSelection carries the chosen provider plus the premium and
// slippage buffers baked into the unlock amount.
type FlashLoanSelection struct {
	Provider    FlashLoanProvider
	PremiumBps  uint64
	SlippageBps uint64
}

// UnlockDebt repays the source-protocol debt via flash loan so collateral can
// be released. ExpectedAmount is the precise decimal rendering of the raw
// debt; the router re-reads the live figure and uses the buffers for any
// drift.
type UnlockDebt struct {
	FromProtocol   Protocol
	DebtToken      common.Address
	Amount         *big.Int
	ExpectedAmount string
	Decimals       uint8
	Flash          FlashLoanSelection
}

// Kind implements Instruction.
func (UnlockDebt) Kind() InstructionKind { return InstructionUnlockDebt }

// MoveCollateral withdraws one collateral from the source protocol and
// deposits it on the destination. WithdrawMax tells the router to drain the
// live balance instead of the quoted amount, avoiding dust left behind by a
// balance that accrued between quoting and execution.
type MoveCollateral struct {
	FromProtocol Protocol
	ToProtocol   Protocol
	Token        common.Address
	Amount       *big.Int
	WithdrawMax  bool
}

// Kind implements Instruction.
func (MoveCollateral) Kind() InstructionKind { return InstructionMoveCollateral }

// Borrow re-opens the debt on the destination protocol to repay the flash
// loan. ApproveRouter signals that the router must be approved to pull the
// borrowed funds.
type Borrow struct {
	ToProtocol    Protocol
	Token         common.Address
	Amount        *big.Int
	ApproveRouter bool
}

// Kind implements Instruction.
func (Borrow) Kind() InstructionKind { return InstructionBorrow }

// MovePlan is the ordered instruction sequence for one position move.
// Invariant: exactly one UnlockDebt precedes all MoveCollateral entries,
// which precede the terminal Borrow. CompoundMarket is set when either side
// of the move is market-keyed.
type MovePlan struct {
	Wallet         common.Address
	FromProtocol   Protocol
	ToProtocol     Protocol
	PositionType   PositionType
	DebtToken      common.Address
	Instructions   []Instruction
	CompoundMarket *common.Address
}

// PlanRequest captures everything the builder needs, resolved ahead of time
// by the caller: fresh debt figures, the collateral selection and the chosen
// flash provider.
type PlanRequest struct {
	Wallet           common.Address
	FromProtocol     Protocol
	ToProtocol       Protocol
	PositionType     PositionType
	DebtToken        common.Address
	DebtAmount       *big.Int
	DebtDecimals     uint8
	DecimalsResolved bool
	Collaterals      []CollateralWithAmount
	FlashProvider    *FlashLoanProvider
	CompoundMarket   common.Address
	Params           RiskParams
}

// Check is one entry of the pre-build validation checklist. Failed checks
// block confirmation in a UI but are not errors; the builder itself only
// rejects the hard preconditions.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// ValidateMoveInputs produces the inline checklist for a request: an amount
// entered for every selected collateral, no amount above its balance, and a
// destination chosen. The checklist is advisory; BuildMovePlan enforces the
// hard preconditions separately.
func ValidateMoveInputs(req PlanRequest) []Check {
	checks := make([]Check, 0, 3)

	entered := len(req.Collaterals) > 0
	for _, col := range req.Collaterals {
		if col.Amount == nil || col.Amount.Sign() <= 0 {
			entered = false
			break
		}
	}
	checks = append(checks, Check{Name: "amount_entered", OK: entered, Detail: "every selected collateral needs an amount"})

	within := true
	for _, col := range req.Collaterals {
		if col.Amount != nil && col.MaxAmount != nil && col.Amount.Cmp(col.MaxAmount) > 0 {
			within = false
			break
		}
	}
	checks = append(checks, Check{Name: "amount_within_balance", OK: within, Detail: "amounts cannot exceed balances"})

	checks = append(checks, Check{
		Name:   "destination_selected",
		OK:     req.ToProtocol != ProtocolUnknown,
		Detail: "a destination protocol must be selected",
	})
	return checks
}

// BuildMovePlan assembles the instruction sequence for a borrow-position
// move: unlock the debt via flash loan, move each selected collateral, then
// re-borrow on the destination to repay the loan. The builder is one-shot and
// side-effect free; every precondition failure maps to a distinct error and
// nothing is retried.
func BuildMovePlan(req PlanRequest) (*MovePlan, error) {
	if req.Wallet == (common.Address{}) {
		return nil, ErrWalletRequired
	}
	if req.ToProtocol == ProtocolUnknown {
		return nil, ErrDestinationRequired
	}
	if req.PositionType != PositionBorrow {
		return nil, ErrSupplyMoveUnsupported
	}
	if !req.DecimalsResolved {
		return nil, ErrDecimalsUnknown
	}
	if req.FlashProvider == nil {
		return nil, ErrFlashProviderRequired
	}

	params := req.Params.Normalise()
	debt := big.NewInt(0)
	if req.DebtAmount != nil && req.DebtAmount.Sign() > 0 {
		debt = new(big.Int).Set(req.DebtAmount)
	}

	instructions := make([]Instruction, 0, len(req.Collaterals)+2)
	instructions = append(instructions, UnlockDebt{
		FromProtocol:   req.FromProtocol,
		DebtToken:      req.DebtToken,
		Amount:         debt,
		ExpectedAmount: FormatAmount(debt, req.DebtDecimals),
		Decimals:       req.DebtDecimals,
		Flash: FlashLoanSelection{
			Provider:    *req.FlashProvider,
			PremiumBps:  params.FlashLoanPremiumBps,
			SlippageBps: params.FlashLoanSlippageBps,
		},
	})

	for _, col := range req.Collaterals {
		amount := big.NewInt(0)
		if col.Amount != nil && col.Amount.Sign() > 0 {
			amount = new(big.Int).Set(col.Amount)
		}
		instructions = append(instructions, MoveCollateral{
			FromProtocol: req.FromProtocol,
			ToProtocol:   req.ToProtocol,
			Token:        col.Address,
			Amount:       amount,
			WithdrawMax:  col.MovingMax(),
		})
	}

	// The flash repayment owes the provider premium; the extra borrow buffer
	// absorbs whatever slips between quote and execution.
	reborrow := ApplyBps(debt, params.FlashLoanPremiumBps)
	reborrow = ApplyBps(reborrow, params.ReborrowBufferBps)
	instructions = append(instructions, Borrow{
		ToProtocol:    req.ToProtocol,
		Token:         req.DebtToken,
		Amount:        reborrow,
		ApproveRouter: true,
	})

	plan := &MovePlan{
		Wallet:       req.Wallet,
		FromProtocol: req.FromProtocol,
		ToProtocol:   req.ToProtocol,
		PositionType: req.PositionType,
		DebtToken:    req.DebtToken,
		Instructions: instructions,
	}
	if req.FromProtocol.MarketKeyed() || req.ToProtocol.MarketKeyed() {
		market := req.CompoundMarket
		plan.CompoundMarket = &market
	}
	return plan, nil
}
