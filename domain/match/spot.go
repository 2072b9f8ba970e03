package match

import (
	"math/big"
	"sort"

	"clearline/domain/ledger"
	"clearline/domain/market"
)

// SpotOrder is a token-for-token order: it offers one property and desires
// another, with the implied unit price being the exact ratio
// AmountDesired/AmountOffered. Remaining is the still-unsold offered amount.
type SpotOrder struct {
	Addr          string
	Offered       string
	Desired       string
	AmountOffered int64
	AmountDesired int64
	Remaining     int64
	Seq           market.SeqKey
}

// priceCmp compares two orders' unit prices (desired per offered) by
// cross-multiplication: a.AmountDesired/a.AmountOffered against
// b.AmountDesired/b.AmountOffered, exact at any int64 magnitude. A
// truncating division would let ratios differing past its precision
// compare equal.
func priceCmp(a, b *SpotOrder) int {
	l := new(big.Int).Mul(big.NewInt(a.AmountDesired), big.NewInt(b.AmountOffered))
	r := new(big.Int).Mul(big.NewInt(b.AmountDesired), big.NewInt(a.AmountOffered))
	return l.Cmp(r)
}

type spotPair struct {
	offered string
	desired string
}

// SpotEngine is the simpler sibling of the futures engine: same book
// discipline (price priority, FIFO within a price, self-trade skip) but no
// position netting. Tokens move between the available and reserved
// sub-accounts only; fractional remainders always resolve in the resting
// order's favor.
type SpotEngine struct {
	books  map[spotPair][]*SpotOrder
	ledger *ledger.Ledger
}

func NewSpotEngine(led *ledger.Ledger) *SpotEngine {
	return &SpotEngine{books: make(map[spotPair][]*SpotOrder), ledger: led}
}

// Resting returns the resting orders for one (offered, desired) pairing,
// best price first.
func (e *SpotEngine) Resting(offered, desired string) []*SpotOrder {
	return e.books[spotPair{offered: offered, desired: desired}]
}

// Place matches an incoming spot order and rests the remainder with its
// offered tokens reserved.
func (e *SpotEngine) Place(o *SpotOrder) (market.MatchResult, error) {
	if o.Addr == "" {
		return market.Nothing, market.ErrBadAddress
	}
	if o.AmountOffered <= 0 || o.AmountDesired <= 0 {
		return market.Nothing, market.ErrBadAmount
	}
	acct := e.ledger.Account(o.Addr, o.Offered)
	if acct.Available < o.AmountOffered {
		return market.Nothing, market.ErrInsufficientFunds
	}
	o.Remaining = o.AmountOffered

	counter := spotPair{offered: o.Desired, desired: o.Offered}

	traded := false
	queue := e.books[counter]
	i := 0
	for i < len(queue) && o.Remaining > 0 {
		r := queue[i]
		if r.Addr == o.Addr {
			i++
			continue
		}
		// The resting order charges r.AmountDesired of our offered property
		// per r.AmountOffered of what we desire. Cross only while our limit
		// covers it: AmountOffered/AmountDesired >= r.AmountDesired/r.AmountOffered,
		// compared by cross-multiplication so the ratio stays exact.
		lhs := new(big.Int).Mul(big.NewInt(o.AmountOffered), big.NewInt(r.AmountOffered))
		rhs := new(big.Int).Mul(big.NewInt(o.AmountDesired), big.NewInt(r.AmountDesired))
		if lhs.Cmp(rhs) < 0 {
			break
		}
		// Quantity bought rounds down, quantity paid rounds up: remainders
		// go to the resting order.
		bought := r.Remaining
		q := new(big.Int).Mul(big.NewInt(o.Remaining), big.NewInt(r.AmountOffered))
		q.Quo(q, big.NewInt(r.AmountDesired))
		if q.IsInt64() && q.Int64() < bought {
			bought = q.Int64()
		}
		if bought == 0 {
			break
		}
		pb := new(big.Int).Mul(big.NewInt(bought), big.NewInt(r.AmountDesired))
		pb.Add(pb, big.NewInt(r.AmountOffered-1))
		pb.Quo(pb, big.NewInt(r.AmountOffered))
		paid := pb.Int64()

		e.ledger.Spend(o.Addr, o.Offered, paid)
		e.ledger.Deposit(r.Addr, r.Desired, paid)
		e.ledger.SpendReserved(r.Addr, r.Offered, bought)
		e.ledger.Deposit(o.Addr, o.Desired, bought)

		r.Remaining -= bought
		o.Remaining -= paid
		traded = true
		if r.Remaining == 0 {
			queue = append(queue[:i], queue[i+1:]...)
			continue
		}
		i++
	}
	e.books[counter] = queue

	if o.Remaining > 0 {
		if err := e.ledger.Reserve(o.Addr, o.Offered, o.Remaining); err != nil {
			return market.Nothing, err
		}
		e.rest(o)
		if traded {
			return market.TradedMoreInBuyer, nil
		}
		return market.Added, nil
	}
	return market.Traded, nil
}

// CancelSpot removes a resting spot order and releases its reserved tokens.
func (e *SpotEngine) CancelSpot(addr string, seq market.SeqKey) error {
	for pair, queue := range e.books {
		for i, r := range queue {
			if r.Addr == addr && r.Seq == seq {
				e.ledger.Release(addr, r.Offered, r.Remaining)
				e.books[pair] = append(queue[:i], queue[i+1:]...)
				return nil
			}
		}
	}
	return market.ErrOrderNotFound
}

// rest inserts by ascending price (cheapest offer first), FIFO on ties.
func (e *SpotEngine) rest(o *SpotOrder) {
	pair := spotPair{offered: o.Offered, desired: o.Desired}
	queue := e.books[pair]
	at := sort.Search(len(queue), func(i int) bool {
		return priceCmp(queue[i], o) > 0
	})
	queue = append(queue, nil)
	copy(queue[at+1:], queue[at:])
	queue[at] = o
	e.books[pair] = queue
}
