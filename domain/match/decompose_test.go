package match

import (
	"testing"

	"clearline/domain/market"
)

func legSum(legs []TransitionLeg) int64 {
	var sum int64
	for _, l := range legs {
		sum += l.Amount
	}
	return sum
}

func TestDecomposeBothFlat(t *testing.T) {
	legs := Decompose(0, 0, 0, 0, 5)
	if len(legs) != 1 {
		t.Fatalf("expected 1 leg, got %d", len(legs))
	}
	l := legs[0]
	if l.Amount != 5 || l.SellerStatus != market.OpenShort || l.BuyerStatus != market.OpenLong {
		t.Errorf("unexpected leg: %+v", l)
	}
	if l.SellerLife != 5 || l.BuyerLife != 5 {
		t.Errorf("lives should equal opened amount, got seller=%d buyer=%d", l.SellerLife, l.BuyerLife)
	}
}

func TestDecomposeSellerFlips(t *testing.T) {
	// Seller holds long 3, sells 5: net the 3, open short 2.
	legs := Decompose(3, 0, 0, 0, 5)
	if len(legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(legs))
	}
	if legs[0].Amount != 3 || legs[0].SellerStatus != market.LongNetted || legs[0].SellerLife != 0 {
		t.Errorf("leg1: %+v", legs[0])
	}
	if legs[1].Amount != 2 || legs[1].SellerStatus != market.OpenShortByLongNetted || legs[1].SellerLife != 2 {
		t.Errorf("leg2: %+v", legs[1])
	}
	if legs[0].BuyerStatus != market.OpenLong || legs[1].BuyerStatus != market.OpenLong {
		t.Errorf("buyer should open long on both legs: %+v", legs)
	}
}

func TestDecomposePartialNet(t *testing.T) {
	// Seller holds long 10, sells 4: partial net, life 6.
	legs := Decompose(10, 0, 0, 0, 4)
	if len(legs) != 1 {
		t.Fatalf("expected 1 leg, got %d", len(legs))
	}
	if legs[0].SellerStatus != market.LongNettedPartly || legs[0].SellerLife != 6 {
		t.Errorf("leg: %+v", legs[0])
	}
}

func TestDecomposeBothFlip(t *testing.T) {
	// Seller long 3, buyer short 5, qty 7: three legs, both sides flip.
	legs := Decompose(3, 0, 0, 5, 7)
	if len(legs) != 3 {
		t.Fatalf("expected 3 legs, got %d", len(legs))
	}
	if legs[0].Amount != 3 || legs[0].SellerStatus != market.LongNetted || legs[0].BuyerStatus != market.ShortNettedPartly {
		t.Errorf("leg1: %+v", legs[0])
	}
	if legs[1].Amount != 2 || legs[1].SellerStatus != market.OpenShortByLongNetted || legs[1].BuyerStatus != market.ShortNetted {
		t.Errorf("leg2: %+v", legs[1])
	}
	if legs[2].Amount != 2 || legs[2].SellerStatus != market.OpenShortByLongNetted || legs[2].BuyerStatus != market.OpenLongByShortNetted {
		t.Errorf("leg3: %+v", legs[2])
	}
}

func TestDecomposeIncrease(t *testing.T) {
	// Seller already short: selling more increases, never flips.
	legs := Decompose(0, 4, 0, 0, 3)
	if len(legs) != 1 {
		t.Fatalf("expected 1 leg, got %d", len(legs))
	}
	if legs[0].SellerStatus != market.ShortIncreased || legs[0].SellerLife != 7 {
		t.Errorf("leg: %+v", legs[0])
	}
}

func TestDecomposeSumAlwaysMatches(t *testing.T) {
	for _, sl := range []int64{0, 1, 3, 10} {
		for _, bs := range []int64{0, 2, 5, 10} {
			for _, qty := range []int64{1, 4, 7, 15} {
				legs := Decompose(sl, 0, 0, bs, qty)
				if got := legSum(legs); got != qty {
					t.Errorf("Decompose(%d,0,0,%d,%d): leg sum %d", sl, bs, qty, got)
				}
				if len(legs) > 3 {
					t.Errorf("Decompose(%d,0,0,%d,%d): %d legs", sl, bs, qty, len(legs))
				}
			}
		}
	}
}
