package market

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// MatchResult classifies the outcome of submitting one order.
type MatchResult uint8

const (
	Nothing MatchResult = iota
	Traded
	TradedMoreInSeller
	TradedMoreInBuyer
	Added
	Cancelled
)

func (r MatchResult) String() string {
	switch r {
	case Traded:
		return "TRADED"
	case TradedMoreInSeller:
		return "TRADED_MORE_IN_SELLER"
	case TradedMoreInBuyer:
		return "TRADED_MORE_IN_BUYER"
	case Added:
		return "ADDED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "NOTHING"
	}
}

// PositionStatus is the transition a participant's position undergoes in
// one trade leg. The compound states cover a full netting and a fresh open
// of the other direction happening inside the same match.
type PositionStatus uint8

const (
	StatusNone PositionStatus = iota
	OpenLong
	OpenShort
	LongIncreased
	ShortIncreased
	LongNetted
	ShortNetted
	LongNettedPartly
	ShortNettedPartly
	OpenShortByLongNetted
	OpenLongByShortNetted
)

func (p PositionStatus) String() string {
	switch p {
	case OpenLong:
		return "OpenLong"
	case OpenShort:
		return "OpenShort"
	case LongIncreased:
		return "LongIncreased"
	case ShortIncreased:
		return "ShortIncreased"
	case LongNetted:
		return "LongNetted"
	case ShortNetted:
		return "ShortNetted"
	case LongNettedPartly:
		return "LongNettedPartly"
	case ShortNettedPartly:
		return "ShortNettedPartly"
	case OpenShortByLongNetted:
		return "OpenShortByLongNetted"
	case OpenLongByShortNetted:
		return "OpenLongByShortNetted"
	default:
		return "None"
	}
}

// Opens reports whether the status adds exposure in some direction.
func (p PositionStatus) Opens() bool {
	switch p {
	case OpenLong, OpenShort, LongIncreased, ShortIncreased,
		OpenShortByLongNetted, OpenLongByShortNetted:
		return true
	}
	return false
}

// Nets reports whether the status reduces an opposite-direction position.
func (p PositionStatus) Nets() bool {
	switch p {
	case LongNetted, ShortNetted, LongNettedPartly, ShortNettedPartly:
		return true
	}
	return false
}

// OpenedSide returns the direction of exposure a status opens.
// Only meaningful when Opens() is true.
func (p PositionStatus) OpenedSide() Side {
	switch p {
	case OpenLong, LongIncreased, OpenLongByShortNetted:
		return Buy
	default:
		return Sell
	}
}

// NettedSide returns the direction of the position a status reduces.
// Only meaningful when Nets() is true.
func (p PositionStatus) NettedSide() Side {
	switch p {
	case LongNetted, LongNettedPartly:
		return Buy
	default:
		return Sell
	}
}

// SeqKey is the global ordering key of a transaction: block height first,
// position within the block second. It is unique and strictly increasing
// across the whole transaction stream.
type SeqKey struct {
	Height uint64
	Index  uint32
}

// Less reports whether k sorts before o in the global total order.
func (k SeqKey) Less(o SeqKey) bool {
	if k.Height != o.Height {
		return k.Height < o.Height
	}
	return k.Index < o.Index
}

// Leg is one state transition inside a match. A single matched quantity
// decomposes into up to four legs when one or both participants flip
// direction.
type Leg struct {
	Amount      int64
	MakerStatus PositionStatus
	TakerStatus PositionStatus
	// Life amounts are the remaining lot magnitudes after the leg:
	// the leftover of the old position while netting, or the size of the
	// freshly opened position while opening.
	MakerLife int64
	TakerLife int64
}

// TradeRecord is the immutable result of one match. The sum of the leg
// amounts always equals Amount.
type TradeRecord struct {
	MakerAddr    string
	TakerAddr    string
	MarketID     string
	MatchedPrice int64
	Height       uint64
	// TakerSide is the side of the incoming (taker) order; the maker is on
	// the opposite side.
	TakerSide Side
	Amount    int64
	Legs      []Leg
}

// LegSum returns the total of all leg amounts.
func (t *TradeRecord) LegSum() int64 {
	var sum int64
	for _, l := range t.Legs {
		sum += l.Amount
	}
	return sum
}
