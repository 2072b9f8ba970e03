package book

import "clearline/domain/market"

// Order is a resting or in-flight order. While resting it is owned by the
// book (linked into a price level); while matching it is owned by the
// caller. Partial fills decrement Remaining in place, so the surrounding
// level structure never reshuffles.
type Order struct {
	Addr      string
	MarketID  string
	Side      market.Side
	Price     int64
	Remaining int64
	Leverage  int64
	Seq       market.SeqKey

	next, prev *Order // FIFO queue inside a price level
	level      *PriceLevel
}

// Next returns the following order in the same price level.
func (o *Order) Next() *Order { return o.next }

// OrderArena is a fixed-capacity pool of order slots. Orders are addressed
// by stable pointer for their whole lifetime; recycling happens only after
// an order has left the book.
type OrderArena struct {
	store []*Order
	top   int
}

func NewOrderArena(capacity int) *OrderArena {
	a := &OrderArena{store: make([]*Order, capacity), top: capacity}
	for i := 0; i < capacity; i++ {
		a.store[i] = new(Order)
	}
	return a
}

func (a *OrderArena) Get() *Order {
	if a.top == 0 {
		panic("order arena exhausted")
	}
	a.top--
	o := a.store[a.top]
	*o = Order{}
	return o
}

func (a *OrderArena) Put(o *Order) {
	if a.top == len(a.store) {
		return
	}
	o.next, o.prev, o.level = nil, nil, nil
	a.store[a.top] = o
	a.top++
}

// Free returns the number of unused slots.
func (a *OrderArena) Free() int { return a.top }
