package book

// PriceLevel holds all resting orders at one price, FIFO by sequence key.
// Orders arrive pre-ordered because the engine processes transactions in
// the global total order, so appending at the tail preserves time priority.
type PriceLevel struct {
	Price      int64
	head       *Order
	tail       *Order
	TotalQty   int64
	OrderCount int
}

// Head returns the oldest order at this level.
func (p *PriceLevel) Head() *Order { return p.head }

func (p *PriceLevel) enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	o.level = p
	p.TotalQty += o.Remaining
	p.OrderCount++
}

func (p *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next, o.prev, o.level = nil, nil, nil
	p.TotalQty -= o.Remaining
	p.OrderCount--
	if p.TotalQty < 0 || p.OrderCount < 0 {
		panic("price level accounting underflow")
	}
}

// reduce adjusts the level total after an in-place partial fill.
func (p *PriceLevel) reduce(qty int64) {
	p.TotalQty -= qty
	if p.TotalQty < 0 {
		panic("price level accounting underflow")
	}
}
