package match

import "github.com/shopspring/decimal"

type vwapSample struct {
	price int64
	qty   int64
}

// VWAP is a trailing fixed-length window of matched (price, qty) pairs.
// Purely observational: it never influences matching.
type VWAP struct {
	window []vwapSample
	next   int
	count  int
}

func NewVWAP(window int) *VWAP {
	if window <= 0 {
		window = 1
	}
	return &VWAP{window: make([]vwapSample, window)}
}

func (v *VWAP) Add(price, qty int64) {
	v.window[v.next] = vwapSample{price: price, qty: qty}
	v.next = (v.next + 1) % len(v.window)
	if v.count < len(v.window) {
		v.count++
	}
}

// Value returns the volume-weighted average price over the window, or zero
// when no matches have been observed.
func (v *VWAP) Value() decimal.Decimal {
	var notional, volume int64
	for i := 0; i < v.count; i++ {
		s := v.window[i]
		notional += s.price * s.qty
		volume += s.qty
	}
	if volume == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(notional).Div(decimal.NewFromInt(volume))
}
