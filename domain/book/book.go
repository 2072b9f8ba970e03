package book

import "clearline/domain/market"

// Book is the per-market order book: one price tree per side, each level a
// FIFO queue. Every resting order appears in exactly one level, keyed by
// its own price.
type Book struct {
	MarketID string
	Bids     *RBTree
	Asks     *RBTree
	arena    *OrderArena
}

func New(marketID string, arena *OrderArena) *Book {
	return &Book{
		MarketID: marketID,
		Bids:     NewRBTree(),
		Asks:     NewRBTree(),
		arena:    arena,
	}
}

func (b *Book) side(s market.Side) *RBTree {
	if s == market.Buy {
		return b.Bids
	}
	return b.Asks
}

// Insert rests an order at the FIFO tail of its own price level.
func (b *Book) Insert(o *Order) {
	lvl := b.side(o.Side).UpsertLevel(o.Price)
	lvl.enqueue(o)
}

// Remove unlinks a resting order from its level, dropping the level when it
// empties, and recycles the order slot.
func (b *Book) Remove(o *Order) {
	lvl := o.level
	if lvl == nil {
		panic("remove of order not resting in book")
	}
	if b.side(o.Side).FindLevel(o.Price) != lvl {
		panic("order resting in wrong price level")
	}
	lvl.unlink(o)
	if lvl.head == nil {
		b.side(o.Side).DeleteLevel(lvl.Price)
	}
	b.arena.Put(o)
}

// Reduce decrements a resting order's remaining amount in place. The caller
// removes the order separately once it is exhausted.
func (b *Book) Reduce(o *Order, qty int64) {
	if qty <= 0 || qty > o.Remaining {
		panic("reduce amount out of range")
	}
	o.Remaining -= qty
	if o.level != nil {
		o.level.reduce(qty)
	}
}

// Find locates a resting order by owner and sequence key.
func (b *Book) Find(addr string, seq market.SeqKey) *Order {
	var found *Order
	scan := func(lvl *PriceLevel) bool {
		for o := lvl.head; o != nil; o = o.next {
			if o.Addr == addr && o.Seq == seq {
				found = o
				return false
			}
		}
		return true
	}
	b.Bids.ForEachDescending(scan)
	if found == nil {
		b.Asks.ForEachAscending(scan)
	}
	return found
}

// Walk visits every resting order: bids best-first, then asks best-first,
// FIFO within each level. The visit order is canonical and identical on
// every node.
func (b *Book) Walk(visit func(o *Order)) {
	b.Bids.ForEachDescending(func(lvl *PriceLevel) bool {
		for o := lvl.head; o != nil; o = o.next {
			visit(o)
		}
		return true
	})
	b.Asks.ForEachAscending(func(lvl *PriceLevel) bool {
		for o := lvl.head; o != nil; o = o.next {
			visit(o)
		}
		return true
	})
}
