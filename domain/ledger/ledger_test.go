package ledger

import (
	"testing"

	"clearline/domain/market"
)

const mkt = "BTC-USD"

func TestReserveAndRelease(t *testing.T) {
	l := New()
	l.Deposit("A", mkt, 100)

	if err := l.Reserve("A", mkt, 60); err != nil {
		t.Fatal(err)
	}
	if a := l.Account("A", mkt); a.Available != 40 || a.ReservedMargin != 60 {
		t.Errorf("after reserve: %+v", a)
	}
	if err := l.Reserve("A", mkt, 50); err != market.ErrInsufficientFunds {
		t.Errorf("over-reserve should fail, got %v", err)
	}
	l.Release("A", mkt, 60)
	if a := l.Account("A", mkt); a.Available != 100 || a.ReservedMargin != 0 {
		t.Errorf("after release: %+v", a)
	}
}

func TestApplyLegNettingFirst(t *testing.T) {
	l := New()
	l.ApplyLeg("A", mkt, market.OpenLong, 5)
	if a := l.Account("A", mkt); a.Long != 5 {
		t.Fatalf("open: %+v", a)
	}
	l.ApplyLeg("A", mkt, market.LongNettedPartly, 3)
	if a := l.Account("A", mkt); a.Long != 2 {
		t.Fatalf("partial net: %+v", a)
	}
	l.ApplyLeg("A", mkt, market.LongNetted, 2)
	l.ApplyLeg("A", mkt, market.OpenShortByLongNetted, 4)
	if a := l.Account("A", mkt); a.Long != 0 || a.Short != 4 {
		t.Errorf("flip: %+v", a)
	}
}

func TestBothSidedPositionPanics(t *testing.T) {
	l := New()
	l.ApplyLeg("A", mkt, market.OpenLong, 5)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on both-sided position")
		}
	}()
	l.ApplyLeg("A", mkt, market.OpenShort, 3)
}

func TestOverNettingPanics(t *testing.T) {
	l := New()
	l.ApplyLeg("A", mkt, market.OpenLong, 2)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on negative position")
		}
	}()
	l.ApplyLeg("A", mkt, market.LongNetted, 5)
}

func TestWalkCanonicalOrder(t *testing.T) {
	l := New()
	l.Deposit("B", "m2", 1)
	l.Deposit("A", "m2", 1)
	l.Deposit("B", "m1", 1)
	l.Deposit("A", "m1", 1)

	var got []Key
	l.Walk(func(k Key, _ Account) { got = append(got, k) })
	want := []Key{{"A", "m1"}, {"A", "m2"}, {"B", "m1"}, {"B", "m2"}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("walk order %v, want %v", got, want)
		}
	}
}
