package oracle

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type stubCaller struct {
	price *big.Int
	err   error
	calls []ethereum.CallMsg
}

func (c *stubCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.calls = append(c.calls, call)
	if c.err != nil {
		return nil, c.err
	}
	return common.LeftPadBytes(c.price.Bytes(), 32), nil
}

func TestChainSourceFetch(t *testing.T) {
	oracleAddr := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	weth := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	caller := &stubCaller{price: big.NewInt(254_300_000_000)}
	source := NewChainSource(caller, oracleAddr, map[string]common.Address{"weth": weth})

	quote, err := source.Fetch(context.Background(), "WETH", "usd")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(254_300_000_000)) != 0 {
		t.Fatalf("expected oracle price, got %s", quote.Price)
	}
	if quote.Source != "chain-oracle" {
		t.Fatalf("unexpected source label %q", quote.Source)
	}
	if len(caller.calls) != 1 || caller.calls[0].To == nil || *caller.calls[0].To != oracleAddr {
		t.Fatalf("expected a single call against the oracle contract")
	}
}

func TestChainSourceUnmappedSymbol(t *testing.T) {
	caller := &stubCaller{price: big.NewInt(1)}
	source := NewChainSource(caller, common.Address{}, map[string]common.Address{"WETH": {}})
	if _, err := source.Fetch(context.Background(), "DOGE", "usd"); err == nil {
		t.Fatalf("expected unmapped symbol error")
	}
	if len(caller.calls) != 0 {
		t.Fatalf("unmapped symbol should not reach the chain")
	}
}

func TestChainSourceRejectsNonUSD(t *testing.T) {
	source := NewChainSource(&stubCaller{price: big.NewInt(1)}, common.Address{}, map[string]common.Address{"WETH": {}})
	if _, err := source.Fetch(context.Background(), "WETH", "eur"); err == nil {
		t.Fatalf("expected non-usd rejection")
	}
}

func TestChainSourceCallFailure(t *testing.T) {
	caller := &stubCaller{err: fmt.Errorf("rpc timeout")}
	source := NewChainSource(caller, common.Address{}, map[string]common.Address{"WETH": {}})
	if _, err := source.Fetch(context.Background(), "WETH", "usd"); err == nil {
		t.Fatalf("expected call error surfaced")
	}
}

func TestChainSourceRejectsZeroPrice(t *testing.T) {
	caller := &stubCaller{price: big.NewInt(0)}
	source := NewChainSource(caller, common.Address{}, map[string]common.Address{"WETH": {}})
	if _, err := source.Fetch(context.Background(), "WETH", "usd"); err == nil {
		t.Fatalf("expected zero price rejection")
	}
}
