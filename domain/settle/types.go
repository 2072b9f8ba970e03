package settle

import (
	"github.com/shopspring/decimal"

	"clearline/domain/market"
)

// Policy decides what happens when a path fails its zero-sum invariant.
// Lenient logs and continues (the historically observed behavior); strict
// aborts the pass before any balance is touched. Which one the protocol
// ultimately wants is an open design question, so both are first-class.
type Policy uint8

const (
	PolicyLenient Policy = iota
	PolicyStrict
)

// Edge is one step in a settlement path: the source address's lot being
// opened (origin edge) or partially/fully closed against the target
// address. Ghost edges are synthesized at clearing time and close residual
// lives at the computed exit price; they never existed in the trade
// history.
type Edge struct {
	SourceAddr   string
	TargetAddr   string
	SourceStatus market.PositionStatus
	TargetStatus market.PositionStatus
	EntryPrice   int64
	ExitPrice    decimal.Decimal
	LivesSource  int64
	LivesTarget  int64
	Amount       int64
	OriginRow    int
	PathNumber   int
	IsGhost      bool
}

// Path is the FIFO lineage of one opened position lot: an origin edge
// followed by the closing edges that consumed it, in trade order. Parent is
// the path whose closing simultaneously opened this lot (compound
// opened-by-netting statuses), zero for top-level lots.
type Path struct {
	Number     int
	Addr       string
	Dir        market.Side // Buy = long lot
	Status     market.PositionStatus
	EntryPrice int64
	Opened     int64
	Remaining  int64
	Parent     int
	Edges      []Edge

	originRow int
}

// Closed is the total closed against this lot by non-ghost edges.
func (p *Path) Closed() int64 {
	var sum int64
	for _, e := range p.Edges[1:] {
		if !e.IsGhost {
			sum += e.Amount
		}
	}
	return sum
}

// Life is a residual open amount left on a path after tracing, queued for
// ghost closing. The global life lists keep strict discovery order: the
// pairing below depends on it for cross-node determinism.
type Life struct {
	Addr       string
	Status     market.PositionStatus
	Amount     int64
	EntryPrice int64
	PathNumber int
}

// Result is the outcome of one settlement pass. Computed once, read-only
// afterwards.
type Result struct {
	ExitPrice  decimal.Decimal
	PathPNL    map[int]decimal.Decimal
	AddrPNL    map[string]decimal.Decimal
	Total      decimal.Decimal
	Paths      []*Path
	LongLives  []Life
	ShortLives []Life
	Violations int
}
