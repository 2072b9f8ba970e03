package sequence

import (
	"testing"

	"github.com/sirupsen/logrus"

	"clearline/domain/market"
)

func TestSequencerMonotonic(t *testing.T) {
	s := New(10)
	if s.Next() != 11 || s.Next() != 12 || s.Current() != 12 {
		t.Error("sequencer not monotonic from start value")
	}
	s.Reset(5)
	if s.Next() != 6 {
		t.Error("reset not honored")
	}
}

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestGatekeeperAdmitsInOrder(t *testing.T) {
	g := NewGatekeeper(quiet())
	keys := []market.SeqKey{
		{Height: 1, Index: 0},
		{Height: 1, Index: 1},
		{Height: 2, Index: 0},
	}
	for _, k := range keys {
		ok, err := g.Admit(k)
		if !ok || err != nil {
			t.Fatalf("Admit(%+v): ok=%v err=%v", k, ok, err)
		}
	}
	if last, seen := g.Last(); !seen || last != keys[2] {
		t.Errorf("last = %+v", last)
	}
}

func TestGatekeeperDropsDuplicate(t *testing.T) {
	g := NewGatekeeper(quiet())
	k := market.SeqKey{Height: 3, Index: 1}
	g.Admit(k)
	ok, err := g.Admit(k)
	if ok || err != nil {
		t.Errorf("duplicate: ok=%v err=%v", ok, err)
	}
}

func TestGatekeeperRejectsRegression(t *testing.T) {
	g := NewGatekeeper(quiet())
	g.Admit(market.SeqKey{Height: 5, Index: 0})
	ok, err := g.Admit(market.SeqKey{Height: 4, Index: 9})
	if ok || err == nil {
		t.Errorf("regression: ok=%v err=%v", ok, err)
	}
}

func TestGatekeeperHeightGapPolicy(t *testing.T) {
	g := NewGatekeeper(quiet())
	g.Admit(market.SeqKey{Height: 10, Index: 0})

	// Small forward gaps are normal.
	if ok, err := g.Admit(market.SeqKey{Height: 500, Index: 0}); !ok || err != nil {
		t.Errorf("small gap: ok=%v err=%v", ok, err)
	}
	// A jump past the bound means the feed lost data.
	ok, err := g.Admit(market.SeqKey{Height: 500 + DefaultMaxHeightGap + 1, Index: 0})
	if ok || err == nil {
		t.Errorf("oversized gap: ok=%v err=%v", ok, err)
	}
}
