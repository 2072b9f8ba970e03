package match

import (
	"testing"

	"github.com/sirupsen/logrus"

	"clearline/domain/book"
	"clearline/domain/ledger"
	"clearline/domain/market"
)

const mkt = "BTC-USD"

func newTestEngine() (*Engine, *ledger.Ledger) {
	led := ledger.New()
	arena := book.NewOrderArena(1024)
	log := logrus.NewEntry(logrus.New())
	e := NewEngine(led, arena, nil, 16, log)
	e.AddMarket(mkt)
	return e, led
}

func sub(addr string, side market.Side, price, amount int64, h uint64) Submission {
	return Submission{
		Addr:     addr,
		MarketID: mkt,
		Side:     side,
		Price:    price,
		Amount:   amount,
		Leverage: 1,
		Seq:      market.SeqKey{Height: h},
	}
}

func TestMatchFlatToFlat(t *testing.T) {
	e, led := newTestEngine()
	led.Deposit("S", mkt, 100)
	led.Deposit("B", mkt, 100)

	res, _, err := e.Match(sub("S", market.Sell, 5, 5, 1))
	if err != nil || res != market.Added {
		t.Fatalf("rest sell: res=%v err=%v", res, err)
	}
	res, recs, err := e.Match(sub("B", market.Buy, 5, 5, 2))
	if err != nil || res != market.Traded {
		t.Fatalf("incoming buy: res=%v err=%v", res, err)
	}
	if len(recs) != 1 || len(recs[0].Legs) != 1 || recs[0].Amount != 5 {
		t.Fatalf("expected one 1-leg record of 5, got %+v", recs)
	}
	if led.Account("S", mkt).Short != 5 || led.Account("B", mkt).Long != 5 {
		t.Errorf("positions: S=%+v B=%+v", led.Account("S", mkt), led.Account("B", mkt))
	}
}

func TestMatchSellerFlips(t *testing.T) {
	e, led := newTestEngine()
	led.Deposit("S", mkt, 100)
	led.Deposit("B", mkt, 100)
	led.ApplyLeg("S", mkt, market.OpenLong, 3)

	e.Match(sub("S", market.Sell, 5, 5, 1))
	_, recs, err := e.Match(sub("B", market.Buy, 5, 5, 2))
	if err != nil {
		t.Fatal(err)
	}
	legs := recs[0].Legs
	if len(legs) != 2 {
		t.Fatalf("expected 2 legs, got %+v", legs)
	}
	// Maker is the resting seller.
	if legs[0].Amount != 3 || legs[0].MakerStatus != market.LongNetted {
		t.Errorf("leg1: %+v", legs[0])
	}
	if legs[1].Amount != 2 || legs[1].MakerStatus != market.OpenShortByLongNetted {
		t.Errorf("leg2: %+v", legs[1])
	}
	if a := led.Account("S", mkt); a.Long != 0 || a.Short != 2 {
		t.Errorf("seller should be short 2, got %+v", a)
	}
}

func TestSelfTradeSkipped(t *testing.T) {
	e, led := newTestEngine()
	led.Deposit("A", mkt, 100)

	e.Match(sub("A", market.Sell, 5, 5, 1))
	res, recs, err := e.Match(sub("A", market.Buy, 5, 5, 2))
	if err != nil {
		t.Fatal(err)
	}
	if res != market.Added || len(recs) != 0 {
		t.Errorf("own order must be skipped: res=%v recs=%d", res, len(recs))
	}
	if a := led.Account("A", mkt); a.Long != 0 || a.Short != 0 {
		t.Errorf("no position should open: %+v", a)
	}
}

func TestPriceTimePriority(t *testing.T) {
	e, led := newTestEngine()
	led.Deposit("S1", mkt, 1000)
	led.Deposit("S2", mkt, 1000)
	led.Deposit("S3", mkt, 1000)
	led.Deposit("B", mkt, 1000)

	e.Match(sub("S1", market.Sell, 6, 5, 1))
	e.Match(sub("S2", market.Sell, 5, 5, 2))
	e.Match(sub("S3", market.Sell, 5, 5, 3)) // same price, later

	_, recs, err := e.Match(sub("B", market.Buy, 6, 12, 4))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(recs))
	}
	// Best price first, FIFO within the level.
	if recs[0].MakerAddr != "S2" || recs[0].MatchedPrice != 5 {
		t.Errorf("fill1: %+v", recs[0])
	}
	if recs[1].MakerAddr != "S3" || recs[1].MatchedPrice != 5 {
		t.Errorf("fill2: %+v", recs[1])
	}
	if recs[2].MakerAddr != "S1" || recs[2].MatchedPrice != 6 || recs[2].Amount != 2 {
		t.Errorf("fill3: %+v", recs[2])
	}
}

func TestTradedMoreClassification(t *testing.T) {
	e, led := newTestEngine()
	led.Deposit("S", mkt, 1000)
	led.Deposit("B", mkt, 1000)

	e.Match(sub("S", market.Sell, 5, 10, 1))
	res, _, _ := e.Match(sub("B", market.Buy, 5, 4, 2))
	if res != market.TradedMoreInSeller {
		t.Errorf("resting seller retains quantity: got %v", res)
	}

	res, _, _ = e.Match(sub("B", market.Buy, 5, 10, 3))
	if res != market.TradedMoreInBuyer {
		t.Errorf("incoming buyer retains quantity: got %v", res)
	}
}

func TestMarginValidationAndReserve(t *testing.T) {
	e, led := newTestEngine()
	led.Deposit("S", mkt, 20)

	// 5*5/1 = 25 > 20 available.
	_, _, err := e.Match(sub("S", market.Sell, 5, 5, 1))
	if err != market.ErrInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	led.Deposit("S", mkt, 5)
	res, _, err := e.Match(sub("S", market.Sell, 5, 5, 2))
	if err != nil || res != market.Added {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if a := led.Account("S", mkt); a.Available != 0 || a.ReservedMargin != 25 {
		t.Errorf("margin not reserved: %+v", a)
	}
}

func TestCancelReleasesMargin(t *testing.T) {
	e, led := newTestEngine()
	led.Deposit("S", mkt, 100)

	seq := market.SeqKey{Height: 1}
	e.Match(Submission{Addr: "S", MarketID: mkt, Side: market.Sell, Price: 5, Amount: 5, Leverage: 1, Seq: seq})

	res, err := e.Cancel("S", mkt, seq)
	if err != nil || res != market.Cancelled {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if a := led.Account("S", mkt); a.Available != 100 || a.ReservedMargin != 0 {
		t.Errorf("margin not released: %+v", a)
	}
	if _, err := e.Cancel("S", mkt, seq); err != market.ErrOrderNotFound {
		t.Errorf("second cancel should miss, got %v", err)
	}
}

func TestRejectionsBeforeMutation(t *testing.T) {
	e, _ := newTestEngine()
	cases := []struct {
		s    Submission
		want error
	}{
		{sub("", market.Sell, 5, 5, 1), market.ErrBadAddress},
		{sub("S", market.Sell, 0, 5, 2), market.ErrBadPrice},
		{sub("S", market.Sell, 5, 0, 3), market.ErrBadAmount},
		{Submission{Addr: "S", MarketID: "nope", Side: market.Sell, Price: 5, Amount: 5, Leverage: 1}, market.ErrUnknownMarket},
	}
	for _, c := range cases {
		if _, _, err := e.Match(c.s); err != c.want {
			t.Errorf("Match(%+v): err=%v want %v", c.s, err, c.want)
		}
	}
}

func TestVWAPWindow(t *testing.T) {
	v := NewVWAP(2)
	if !v.Value().IsZero() {
		t.Error("empty window should be zero")
	}
	v.Add(10, 1)
	v.Add(20, 3)
	// (10 + 60) / 4
	if got := v.Value().String(); got != "17.5" {
		t.Errorf("vwap = %s", got)
	}
	v.Add(30, 1) // evicts the first sample
	// (60 + 30) / 4
	if got := v.Value().String(); got != "22.5" {
		t.Errorf("vwap after eviction = %s", got)
	}
}
