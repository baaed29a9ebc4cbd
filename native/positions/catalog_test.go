package positions

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testToken(symbol string, balance int64, supported bool) CollateralToken {
	return CollateralToken{
		Symbol:     symbol,
		Address:    common.BytesToAddress([]byte(symbol)),
		Decimals:   18,
		RawBalance: weiAmount(balance, 18),
		Supported:  supported,
	}
}

func TestBuildCatalogSegregatesAndSorts(t *testing.T) {
	catalog := BuildCatalog([]CollateralToken{
		testToken("WBTC", 1, true),
		testToken("WETH", 5, true),
		testToken("ARB", 5, true),
		testToken("LINK", 0, true),
		testToken("USDT", 9, false),
	})
	if len(catalog.Available) != 3 {
		t.Fatalf("expected 3 available, got %d", len(catalog.Available))
	}
	// Descending balance, ties by ascending symbol.
	want := []string{"ARB", "WETH", "WBTC"}
	for i, symbol := range want {
		if catalog.Available[i].Symbol != symbol {
			t.Fatalf("available[%d]: expected %s, got %s", i, symbol, catalog.Available[i].Symbol)
		}
	}
	if len(catalog.Hidden) != 2 {
		t.Fatalf("expected 2 hidden, got %d", len(catalog.Hidden))
	}
	if catalog.Hidden[0].Symbol != "USDT" {
		t.Fatalf("expected unsupported USDT first in hidden, got %s", catalog.Hidden[0].Symbol)
	}
}

func TestSelectionToggle(t *testing.T) {
	sel := NewSelection()
	tok := testToken("WETH", 5, true)
	if !sel.Toggle(tok) {
		t.Fatalf("first toggle should select")
	}
	if !sel.Contains(tok.Address) {
		t.Fatalf("expected token selected")
	}
	if sel.Toggle(tok) {
		t.Fatalf("second toggle should deselect")
	}
	if sel.Len() != 0 {
		t.Fatalf("expected empty selection, got %d", sel.Len())
	}
}

func TestSelectionPreservesInsertionOrder(t *testing.T) {
	sel := NewSelection()
	first := testToken("WBTC", 1, true)
	second := testToken("WETH", 5, true)
	sel.Toggle(first)
	sel.Toggle(second)
	items := sel.Items()
	if len(items) != 2 || items[0].Symbol != "WBTC" || items[1].Symbol != "WETH" {
		t.Fatalf("unexpected order: %+v", items)
	}
}

func TestSetAmountTextClampsToMax(t *testing.T) {
	sel := NewSelection()
	tok := testToken("WETH", 5, true)
	sel.Toggle(tok)
	sel.SetAmountText(tok.Address, "7.5")
	item := sel.Items()[0]
	if item.Amount.Cmp(item.MaxAmount) != 0 {
		t.Fatalf("expected clamp to max, got %s", item.Amount)
	}
	if item.InputValue != "5" {
		t.Fatalf("expected display restamped to clamped value, got %q", item.InputValue)
	}
}

func TestSetAmountTextInvalidYieldsZero(t *testing.T) {
	sel := NewSelection()
	tok := testToken("WETH", 5, true)
	sel.Toggle(tok)
	sel.SetAmountText(tok.Address, "not a number")
	item := sel.Items()[0]
	if item.Amount.Sign() != 0 {
		t.Fatalf("expected zero amount for invalid text, got %s", item.Amount)
	}
	if item.InputValue != "not a number" {
		t.Fatalf("expected raw echo preserved, got %q", item.InputValue)
	}
}

func TestSetMaxStampsAmountAndDisplay(t *testing.T) {
	sel := NewSelection()
	tok := testToken("WETH", 5, true)
	sel.Toggle(tok)
	sel.SetMax(tok.Address)
	item := sel.Items()[0]
	if item.Amount.Cmp(item.MaxAmount) != 0 {
		t.Fatalf("expected amount == max")
	}
	if item.InputValue != FormatAmount(item.MaxAmount, item.Decimals) {
		t.Fatalf("expected display stamped from max, got %q", item.InputValue)
	}
	if !item.MovingMax() {
		t.Fatalf("expected MovingMax after MAX selection")
	}
}

func TestSetMaxAmountRefreshClamps(t *testing.T) {
	sel := NewSelection()
	tok := testToken("WETH", 5, true)
	sel.Toggle(tok)
	sel.SetMax(tok.Address)
	sel.SetMaxAmount(tok.Address, weiAmount(3, 18))
	item := sel.Items()[0]
	if item.Amount.Cmp(weiAmount(3, 18)) != 0 {
		t.Fatalf("expected amount clamped to refreshed balance, got %s", item.Amount)
	}
	if item.InputValue != "3" {
		t.Fatalf("expected display updated to clamped value, got %q", item.InputValue)
	}
}

func TestRevealToggleDoesNotMutateSelection(t *testing.T) {
	tokens := []CollateralToken{
		testToken("WETH", 5, true),
		testToken("USDT", 9, false),
	}
	sel := NewSelection()
	sel.Toggle(tokens[0])

	// Revealing the hidden list is a rebuild of the catalog view only.
	before := sel.Items()
	_ = BuildCatalog(tokens)
	after := sel.Items()
	if len(before) != len(after) || before[0].Address != after[0].Address {
		t.Fatalf("selection mutated by catalog rebuild")
	}
}
