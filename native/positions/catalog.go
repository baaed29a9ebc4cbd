package positions

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Catalog splits a user's collateral tokens into the list offered for
// selection and the segregated remainder. Available entries are supported by
// the destination protocol and carry a positive balance; everything else is
// hidden behind a reveal toggle. The toggle is a pure presentation concern:
// revealing hidden entries never touches a selection.
type Catalog struct {
	Available []CollateralToken
	Hidden    []CollateralToken
}

// BuildCatalog filters and orders the supplied tokens. Available entries sort
// by descending balance with ties broken by ascending symbol (byte-wise);
// hidden entries keep the same ordering for a stable reveal.
func BuildCatalog(tokens []CollateralToken) Catalog {
	catalog := Catalog{}
	for _, tok := range tokens {
		if tok.Supported && tok.RawBalance != nil && tok.RawBalance.Sign() > 0 {
			catalog.Available = append(catalog.Available, tok)
		} else {
			catalog.Hidden = append(catalog.Hidden, tok)
		}
	}
	sortCollaterals(catalog.Available)
	sortCollaterals(catalog.Hidden)
	return catalog
}

func sortCollaterals(tokens []CollateralToken) {
	sort.SliceStable(tokens, func(i, j int) bool {
		bi, bj := tokens[i].RawBalance, tokens[j].RawBalance
		if bi == nil {
			bi = big.NewInt(0)
		}
		if bj == nil {
			bj = big.NewInt(0)
		}
		if cmp := bi.Cmp(bj); cmp != 0 {
			return cmp > 0
		}
		return tokens[i].Symbol < tokens[j].Symbol
	})
}

// Selection is the manual add/remove set of collaterals chosen for a move,
// keyed by token address. Insertion order is preserved so plan instructions
// come out in the order the user picked.
type Selection struct {
	entries map[common.Address]*CollateralWithAmount
	order   []common.Address
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{entries: make(map[common.Address]*CollateralWithAmount)}
}

// Toggle adds the token when absent and removes it when present, returning
// whether the token is selected afterwards. A newly added entry starts with a
// zero amount and its live balance as the maximum.
func (s *Selection) Toggle(token CollateralToken) bool {
	if s == nil {
		return false
	}
	if _, ok := s.entries[token.Address]; ok {
		delete(s.entries, token.Address)
		for i, addr := range s.order {
			if addr == token.Address {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return false
	}
	max := big.NewInt(0)
	if token.RawBalance != nil {
		max = new(big.Int).Set(token.RawBalance)
	}
	s.entries[token.Address] = &CollateralWithAmount{
		CollateralToken: token,
		Amount:          big.NewInt(0),
		MaxAmount:       max,
	}
	s.order = append(s.order, token.Address)
	return true
}

// Contains reports whether the token is currently selected.
func (s *Selection) Contains(addr common.Address) bool {
	if s == nil {
		return false
	}
	_, ok := s.entries[addr]
	return ok
}

// SetAmountText records free-form amount input for a selected token. Invalid
// text parses to zero. Amounts above the maximum are clamped, and a clamp
// restamps the displayed text from the clamped value so the echo matches what
// was actually recorded.
func (s *Selection) SetAmountText(addr common.Address, text string) {
	entry := s.lookup(addr)
	if entry == nil {
		return
	}
	amount := ParseDecimalAmount(text, entry.Decimals)
	if entry.MaxAmount != nil && amount.Cmp(entry.MaxAmount) > 0 {
		amount = new(big.Int).Set(entry.MaxAmount)
		entry.InputValue = FormatAmount(amount, entry.Decimals)
	} else {
		entry.InputValue = text
	}
	entry.Amount = amount
}

// SetMax pins the amount to the live maximum and stamps the display string
// from it, so a later balance refresh cannot leave a stale echo.
func (s *Selection) SetMax(addr common.Address) {
	entry := s.lookup(addr)
	if entry == nil {
		return
	}
	if entry.MaxAmount == nil {
		entry.MaxAmount = big.NewInt(0)
	}
	entry.Amount = new(big.Int).Set(entry.MaxAmount)
	entry.InputValue = FormatAmount(entry.Amount, entry.Decimals)
}

// SetMaxAmount refreshes the live maximum from a new balance read, clamping
// the chosen amount when the balance shrank underneath it.
func (s *Selection) SetMaxAmount(addr common.Address, max *big.Int) {
	entry := s.lookup(addr)
	if entry == nil || max == nil {
		return
	}
	entry.MaxAmount = new(big.Int).Set(max)
	if entry.Amount != nil && entry.Amount.Cmp(entry.MaxAmount) > 0 {
		entry.Amount = new(big.Int).Set(entry.MaxAmount)
		entry.InputValue = FormatAmount(entry.Amount, entry.Decimals)
	}
}

// Items returns the selected collaterals in insertion order.
func (s *Selection) Items() []CollateralWithAmount {
	if s == nil {
		return nil
	}
	items := make([]CollateralWithAmount, 0, len(s.order))
	for _, addr := range s.order {
		if entry, ok := s.entries[addr]; ok {
			items = append(items, *entry)
		}
	}
	return items
}

// Len reports the number of selected collaterals.
func (s *Selection) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

func (s *Selection) lookup(addr common.Address) *CollateralWithAmount {
	if s == nil {
		return nil
	}
	return s.entries[addr]
}
