package executor

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/oswy-cpu/kapan/native/positions"
)

// routerABI is the move router surface. Protocols and flash providers travel
// as their wire enums; amounts in raw token units.
const routerABI = `[
  {"inputs":[{"internalType":"uint8","name":"fromProtocol","type":"uint8"},{"internalType":"address","name":"debtToken","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"uint8","name":"flashProvider","type":"uint8"}],"name":"unlockDebt","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint8","name":"fromProtocol","type":"uint8"},{"internalType":"uint8","name":"toProtocol","type":"uint8"},{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"bool","name":"withdrawMax","type":"bool"}],"name":"moveCollateral","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint8","name":"toProtocol","type":"uint8"},{"internalType":"address","name":"token","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"borrow","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"market","type":"address"}],"name":"setCompoundMarket","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"bytes[]","name":"data","type":"bytes[]"}],"name":"multicall","outputs":[{"internalType":"bytes[]","name":"results","type":"bytes[]"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint8","name":"provider","type":"uint8"}],"name":"flashProviderEnabled","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

var router abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		panic(fmt.Sprintf("executor: invalid router ABI: %v", err))
	}
	router = parsed
}

// Call is one transaction-shaped payload against the router.
type Call struct {
	To   common.Address
	Data []byte
}

// Sender submits router calls. Batching wallets collapse a plan into a single
// multicall; plain wallets submit step by step.
type Sender interface {
	SupportsBatching() bool
	Send(ctx context.Context, call Call) (common.Hash, error)
	SendBatch(ctx context.Context, calls []Call) (common.Hash, error)
}

// ContractCaller is the read slice used for router view calls.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// StepResult records one submitted step of an execution. Step is the
// instruction kind label, or "set_market"/"multicall" for the synthetic steps.
type StepResult struct {
	Step   string
	TxHash common.Hash
}

// Receipt summarises a completed execution.
type Receipt struct {
	ID      uuid.UUID
	Wallet  common.Address
	Batched bool
	Steps   []StepResult
}

// Executor encodes move plans into router calldata and submits them.
type Executor struct {
	routerAddr common.Address
	sender     Sender
	caller     ContractCaller
}

// New constructs an executor against the deployed router.
func New(routerAddr common.Address, sender Sender, caller ContractCaller) (*Executor, error) {
	if sender == nil {
		return nil, fmt.Errorf("executor: sender required")
	}
	if (routerAddr == common.Address{}) {
		return nil, fmt.Errorf("executor: router address required")
	}
	return &Executor{routerAddr: routerAddr, sender: sender, caller: caller}, nil
}

// FlashProviderEnabled reads the router's whitelist flag for a provider enum.
// It is the enabled-check EligibleFlashLoanProviders takes.
func (e *Executor) FlashProviderEnabled(ctx context.Context, provider uint8) (bool, error) {
	if e == nil || e.caller == nil {
		return false, fmt.Errorf("executor: no contract caller configured")
	}
	input, err := router.Pack("flashProviderEnabled", provider)
	if err != nil {
		return false, fmt.Errorf("executor: pack flashProviderEnabled: %w", err)
	}
	output, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &e.routerAddr, Data: input}, nil)
	if err != nil {
		return false, fmt.Errorf("executor: flashProviderEnabled: %w", err)
	}
	results, err := router.Unpack("flashProviderEnabled", output)
	if err != nil {
		return false, fmt.Errorf("executor: unpack flashProviderEnabled: %w", err)
	}
	if len(results) != 1 {
		return false, fmt.Errorf("executor: unexpected flashProviderEnabled arity %d", len(results))
	}
	enabled, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("executor: unexpected flashProviderEnabled type")
	}
	return enabled, nil
}

// EncodePlan turns a validated plan into its ordered router calls, including
// the market-context call when the plan carries one.
func (e *Executor) EncodePlan(plan positions.MovePlan) ([]Call, error) {
	if len(plan.Instructions) == 0 {
		return nil, fmt.Errorf("executor: empty plan")
	}
	calls := make([]Call, 0, len(plan.Instructions)+1)
	if plan.CompoundMarket != nil {
		data, err := router.Pack("setCompoundMarket", *plan.CompoundMarket)
		if err != nil {
			return nil, fmt.Errorf("executor: pack setCompoundMarket: %w", err)
		}
		calls = append(calls, Call{To: e.routerAddr, Data: data})
	}
	for i, instruction := range plan.Instructions {
		data, err := e.encodeInstruction(instruction)
		if err != nil {
			return nil, fmt.Errorf("executor: step %d: %w", i, err)
		}
		calls = append(calls, Call{To: e.routerAddr, Data: data})
	}
	return calls, nil
}

func (e *Executor) encodeInstruction(instruction positions.Instruction) ([]byte, error) {
	switch in := instruction.(type) {
	case positions.UnlockDebt:
		if in.Amount == nil {
			return nil, fmt.Errorf("unlock amount required")
		}
		return router.Pack("unlockDebt", uint8(in.FromProtocol), in.DebtToken, in.Amount, in.Flash.Provider.Enum)
	case positions.MoveCollateral:
		if in.Amount == nil {
			return nil, fmt.Errorf("move amount required")
		}
		return router.Pack("moveCollateral", uint8(in.FromProtocol), uint8(in.ToProtocol), in.Token, in.Amount, in.WithdrawMax)
	case positions.Borrow:
		if in.Amount == nil {
			return nil, fmt.Errorf("borrow amount required")
		}
		return router.Pack("borrow", uint8(in.ToProtocol), in.Token, in.Amount)
	default:
		return nil, fmt.Errorf("unsupported instruction %s", instruction.Kind())
	}
}

// Execute submits the plan. A plan collapses into one multicall only when the
// sender supports batching and the wallet opted in; otherwise steps go out as
// ordered individual transactions and the first failure aborts the remainder,
// identified by step.
func (e *Executor) Execute(ctx context.Context, plan positions.MovePlan, preferBatched bool) (Receipt, error) {
	calls, err := e.EncodePlan(plan)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{ID: uuid.New(), Wallet: plan.Wallet}

	if preferBatched && e.sender.SupportsBatching() {
		hash, err := e.sender.SendBatch(ctx, calls)
		if err != nil {
			return Receipt{}, fmt.Errorf("executor: batch submit: %w", err)
		}
		receipt.Batched = true
		receipt.Steps = append(receipt.Steps, StepResult{Step: "multicall", TxHash: hash})
		return receipt, nil
	}

	labels := stepLabels(plan)
	for i, call := range calls {
		hash, err := e.sender.Send(ctx, call)
		if err != nil {
			return receipt, fmt.Errorf("executor: step %d (%s): %w", i, labels[i], err)
		}
		receipt.Steps = append(receipt.Steps, StepResult{Step: labels[i], TxHash: hash})
	}
	return receipt, nil
}

func stepLabels(plan positions.MovePlan) []string {
	labels := make([]string, 0, len(plan.Instructions)+1)
	if plan.CompoundMarket != nil {
		labels = append(labels, "set_market")
	}
	for _, instruction := range plan.Instructions {
		labels = append(labels, instruction.Kind().String())
	}
	return labels
}

// MulticallData packs ordered calldata into one multicall payload; batching
// wallets that cannot express call arrays natively submit this instead.
func MulticallData(calls []Call) ([]byte, error) {
	payload := make([][]byte, 0, len(calls))
	for _, call := range calls {
		payload = append(payload, call.Data)
	}
	return router.Pack("multicall", payload)
}
