package match

import "clearline/domain/market"

// TransitionLeg is one step of the position-transition decomposition,
// expressed in seller/buyer terms. The engine maps seller/buyer onto
// maker/taker depending on which side the resting order is on.
type TransitionLeg struct {
	Amount       int64
	SellerStatus market.PositionStatus
	BuyerStatus  market.PositionStatus
	SellerLife   int64
	BuyerLife    int64
}

// Decompose splits one matched quantity into ordered legs, one per distinct
// pair of position transitions. The two participants' opposite-direction
// magnitudes (the seller's long, the buyer's short) act as two FIFO queues
// merged against the matched quantity: each leg consumes
// min(remaining-opposite(seller), remaining-opposite(buyer), remaining qty),
// so at most one queue empties per leg and the residual after both are
// exhausted opens or increases the new direction for both sides.
//
// Pure function: no ledger access, no mutation. The leg amounts always sum
// to qty.
func Decompose(sellerLong, sellerShort, buyerLong, buyerShort, qty int64) []TransitionLeg {
	a := sellerLong
	b := buyerShort
	r := qty
	legs := make([]TransitionLeg, 0, 3)
	var sellerOpened, buyerOpened int64

	for r > 0 {
		n := r
		if a > 0 && a < n {
			n = a
		}
		if b > 0 && b < n {
			n = b
		}
		leg := TransitionLeg{Amount: n}

		if a > 0 {
			if a == n {
				leg.SellerStatus = market.LongNetted
			} else {
				leg.SellerStatus = market.LongNettedPartly
			}
			leg.SellerLife = a - n
			a -= n
		} else {
			switch {
			case sellerLong > 0:
				leg.SellerStatus = market.OpenShortByLongNetted
			case sellerShort > 0:
				leg.SellerStatus = market.ShortIncreased
			default:
				leg.SellerStatus = market.OpenShort
			}
			sellerOpened += n
			leg.SellerLife = sellerShort + sellerOpened
		}

		if b > 0 {
			if b == n {
				leg.BuyerStatus = market.ShortNetted
			} else {
				leg.BuyerStatus = market.ShortNettedPartly
			}
			leg.BuyerLife = b - n
			b -= n
		} else {
			switch {
			case buyerShort > 0:
				leg.BuyerStatus = market.OpenLongByShortNetted
			case buyerLong > 0:
				leg.BuyerStatus = market.LongIncreased
			default:
				leg.BuyerStatus = market.OpenLong
			}
			buyerOpened += n
			leg.BuyerLife = buyerLong + buyerOpened
		}

		r -= n
		legs = append(legs, leg)
	}
	return legs
}
