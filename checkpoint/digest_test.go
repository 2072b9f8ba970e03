package checkpoint

import (
	"testing"

	"clearline/domain/book"
	"clearline/domain/ledger"
	"clearline/domain/market"
)

func buildState(deposit int64) (*ledger.Ledger, *book.Book) {
	led := ledger.New()
	led.Deposit("A", "BTC-USD", deposit)
	led.Deposit("B", "BTC-USD", 50)

	arena := book.NewOrderArena(16)
	bk := book.New("BTC-USD", arena)
	o := arena.Get()
	*o = book.Order{Addr: "A", MarketID: "BTC-USD", Side: market.Buy, Price: 100,
		Remaining: 5, Leverage: 1, Seq: market.SeqKey{Height: 1}}
	bk.Insert(o)
	return led, bk
}

func digestOf(led *ledger.Ledger, bk *book.Book) string {
	d := NewDigest()
	d.WriteLedger(led)
	d.WriteBook(bk)
	return d.Sum()
}

func TestDigestDeterministic(t *testing.T) {
	l1, b1 := buildState(100)
	l2, b2 := buildState(100)
	if digestOf(l1, b1) != digestOf(l2, b2) {
		t.Error("identical state must hash identically")
	}
}

func TestDigestSensitiveToState(t *testing.T) {
	l1, b1 := buildState(100)
	l2, b2 := buildState(101)
	if digestOf(l1, b1) == digestOf(l2, b2) {
		t.Error("different balances must hash differently")
	}

	l3, b3 := buildState(100)
	o := b3.Find("A", market.SeqKey{Height: 1})
	b3.Reduce(o, 1)
	if digestOf(l1, b1) == digestOf(l3, b3) {
		t.Error("different book state must hash differently")
	}
}
