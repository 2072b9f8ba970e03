package match

import (
	"testing"

	"clearline/domain/ledger"
	"clearline/domain/market"
)

func spotOrder(addr, offered, desired string, ao, ad int64, h uint64) *SpotOrder {
	return &SpotOrder{
		Addr:          addr,
		Offered:       offered,
		Desired:       desired,
		AmountOffered: ao,
		AmountDesired: ad,
		Seq:           market.SeqKey{Height: h},
	}
}

func TestSpotRestAndCross(t *testing.T) {
	led := ledger.New()
	e := NewSpotEngine(led)
	led.Deposit("A", "gold", 100)
	led.Deposit("B", "silver", 300)

	// A offers 100 gold for 300 silver (3 silver per gold).
	res, err := e.Place(spotOrder("A", "gold", "silver", 100, 300, 1))
	if err != nil || res != market.Added {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if a := led.Account("A", "gold"); a.Available != 0 || a.ReservedMargin != 100 {
		t.Fatalf("offered tokens not reserved: %+v", a)
	}

	// B offers 300 silver for 100 gold: crosses exactly.
	res, err = e.Place(spotOrder("B", "silver", "gold", 300, 100, 2))
	if err != nil || res != market.Traded {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if got := led.Account("A", "silver").Available; got != 300 {
		t.Errorf("A silver = %d", got)
	}
	if got := led.Account("B", "gold").Available; got != 100 {
		t.Errorf("B gold = %d", got)
	}
	if len(e.Resting("gold", "silver")) != 0 {
		t.Error("book should be empty")
	}
}

func TestSpotNoCrossBelowLimit(t *testing.T) {
	led := ledger.New()
	e := NewSpotEngine(led)
	led.Deposit("A", "gold", 10)
	led.Deposit("B", "silver", 10)

	// A wants 3 silver per gold; B offers only 1 silver per gold.
	e.Place(spotOrder("A", "gold", "silver", 10, 30, 1))
	res, err := e.Place(spotOrder("B", "silver", "gold", 10, 10, 2))
	if err != nil || res != market.Added {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if len(e.Resting("gold", "silver")) != 1 || len(e.Resting("silver", "gold")) != 1 {
		t.Error("both orders should rest")
	}
}

func TestSpotRoundingFavorsResting(t *testing.T) {
	led := ledger.New()
	e := NewSpotEngine(led)
	led.Deposit("A", "gold", 3)
	led.Deposit("B", "silver", 10)

	// A offers 3 gold for 7 silver: price 7/3 silver per gold.
	e.Place(spotOrder("A", "gold", "silver", 3, 7, 1))
	// B offers 10 silver for 4 gold: limit 10/4 = 2.5 >= 7/3.
	res, err := e.Place(spotOrder("B", "silver", "gold", 10, 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	// bought = floor(10 / (7/3)) = 4, capped at 3; paid = ceil(3 * 7/3) = 7.
	if got := led.Account("B", "gold").Available; got != 3 {
		t.Errorf("B bought %d gold", got)
	}
	if got := led.Account("A", "silver").Available; got != 7 {
		t.Errorf("A received %d silver", got)
	}
	if res != market.TradedMoreInBuyer {
		t.Errorf("remainder should rest: %v", res)
	}
	if got := led.Account("B", "silver"); got.Available != 0 || got.ReservedMargin != 3 {
		t.Errorf("B remainder: %+v", got)
	}
}

func TestSpotPriceComparisonIsExact(t *testing.T) {
	led := ledger.New()
	e := NewSpotEngine(led)
	led.Deposit("A", "gold", 3333333333333333333)
	led.Deposit("B", "silver", 3)
	led.Deposit("C", "silver", 4)

	// A's true price is 1e18/3333333333333333333 silver per gold, a hair
	// above 0.3.
	e.Place(spotOrder("A", "gold", "silver", 3333333333333333333, 1000000000000000000, 1))

	// B's limit of exactly 0.3 is below that and must not cross, however
	// close the two ratios get.
	res, err := e.Place(spotOrder("B", "silver", "gold", 3, 10, 2))
	if err != nil || res != market.Added {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if got := led.Account("B", "gold").Available; got != 0 {
		t.Errorf("B bought %d gold below A's price", got)
	}

	// C's limit of 0.4 crosses. bought = floor(4 * 3333333333333333333 / 1e18)
	// = 13; the payment rounds up from the exact ratio: ceil(13 * 1e18 /
	// 3333333333333333333) = 4.
	res, err = e.Place(spotOrder("C", "silver", "gold", 4, 10, 3))
	if err != nil || res != market.Traded {
		t.Fatalf("res=%v err=%v", res, err)
	}
	if got := led.Account("C", "gold").Available; got != 13 {
		t.Errorf("C bought %d gold", got)
	}
	if got := led.Account("A", "silver").Available; got != 4 {
		t.Errorf("A received %d silver", got)
	}
}

func TestSpotCheaperOfferMatchesFirst(t *testing.T) {
	led := ledger.New()
	e := NewSpotEngine(led)
	led.Deposit("A", "gold", 10)
	led.Deposit("C", "gold", 10)
	led.Deposit("B", "silver", 20)

	e.Place(spotOrder("A", "gold", "silver", 10, 30, 1)) // 3 silver per gold
	e.Place(spotOrder("C", "gold", "silver", 10, 20, 2)) // 2 silver per gold, better

	e.Place(spotOrder("B", "silver", "gold", 20, 10, 3))
	if got := led.Account("C", "silver").Available; got != 20 {
		t.Errorf("cheaper offer should fill first, C got %d", got)
	}
	if got := led.Account("A", "silver").Available; got != 0 {
		t.Errorf("A should not fill, got %d", got)
	}
}

func TestSpotCancel(t *testing.T) {
	led := ledger.New()
	e := NewSpotEngine(led)
	led.Deposit("A", "gold", 10)

	seq := market.SeqKey{Height: 1}
	o := spotOrder("A", "gold", "silver", 10, 30, 1)
	e.Place(o)

	if err := e.CancelSpot("A", seq); err != nil {
		t.Fatal(err)
	}
	if a := led.Account("A", "gold"); a.Available != 10 || a.ReservedMargin != 0 {
		t.Errorf("tokens not released: %+v", a)
	}
	if err := e.CancelSpot("A", seq); err != market.ErrOrderNotFound {
		t.Errorf("second cancel should miss: %v", err)
	}
}
