package settle

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"clearline/domain/market"
)

// Engine nets every still-open position against the others at one computed
// clearing price. It consumes the chronological trade-record stream of a
// single pass and produces realized PNL per path and per address.
type Engine struct {
	policy Policy
	log    *logrus.Entry
}

func New(policy Policy, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{policy: policy, log: log}
}

type lotKey struct {
	addr string
	dir  market.Side
}

// tracer carries the state of one forward trace: the path forest being
// built and, per (address, direction), the FIFO queue of still-open lots.
// The record scan cursor and the structure under construction never alias:
// records are read-only input, paths are owned output.
type tracer struct {
	paths      []*Path
	open       map[lotKey][]*Path
	nextPath   int
	violations int
}

// Settle runs one full pass: trace the path forest, verify conservation,
// compute the clearing price, synthesize ghost edges and report realized
// PNL. The input must be the chronological record stream since the
// previous pass; the caller guarantees matching never interleaves.
func (e *Engine) Settle(records []*market.TradeRecord) (*Result, error) {
	tr := &tracer{open: make(map[lotKey][]*Path), nextPath: 1}

	for row, rec := range records {
		if rec.LegSum() != rec.Amount {
			if err := e.violation(tr, "record leg sum %d != amount %d at row %d",
				rec.LegSum(), rec.Amount, row); err != nil {
				return nil, err
			}
			continue
		}
		// Maker before taker: lot discovery order is part of the protocol.
		if err := e.traceSide(tr, rec, row, true); err != nil {
			return nil, err
		}
		if err := e.traceSide(tr, rec, row, false); err != nil {
			return nil, err
		}
	}
	tr.paths = lineageOrder(tr.paths)

	res := &Result{
		PathPNL: make(map[int]decimal.Decimal),
		AddrPNL: make(map[string]decimal.Decimal),
		Paths:   tr.paths,
	}

	// Collect residual lives in discovery (path) order and check each
	// completed path's conservation: twice the opened amount must equal the
	// origin edge plus closings plus what is still alive.
	for _, p := range tr.paths {
		if 2*p.Opened-(p.Opened+p.Closed())-p.Remaining != 0 {
			if err := e.violation(tr, "path %d fails conservation: opened=%d closed=%d live=%d",
				p.Number, p.Opened, p.Closed(), p.Remaining); err != nil {
				return nil, err
			}
			continue
		}
		if p.Remaining > 0 {
			life := Life{
				Addr:       p.Addr,
				Status:     p.Status,
				Amount:     p.Remaining,
				EntryPrice: p.EntryPrice,
				PathNumber: p.Number,
			}
			if p.Dir == market.Buy {
				res.LongLives = append(res.LongLives, life)
			} else {
				res.ShortLives = append(res.ShortLives, life)
			}
		}
	}

	res.ExitPrice = e.clearingPrice(tr.paths, res.LongLives, res.ShortLives, records)
	e.pairGhosts(res)

	for _, p := range tr.paths {
		pnl := pathPNL(p)
		res.PathPNL[p.Number] = pnl
		res.AddrPNL[p.Addr] = res.AddrPNL[p.Addr].Add(pnl)
		res.Total = res.Total.Add(pnl)
		if p.Remaining != 0 {
			if err := e.violation(tr, "path %d still live after ghost closing: %d",
				p.Number, p.Remaining); err != nil {
				return nil, err
			}
		}
	}
	res.Violations = tr.violations
	return res, nil
}

// traceSide walks one participant's legs of a record in order: netting legs
// consume that address's FIFO lot queue of the netted direction, opening
// legs start (or extend, within the same record) a lot. A compound
// opened-by-netting status both ends one lineage and roots a branch, which
// is how closing one lot simultaneously opens another.
func (e *Engine) traceSide(tr *tracer, rec *market.TradeRecord, row int, maker bool) error {
	addr, other := rec.MakerAddr, rec.TakerAddr
	if !maker {
		addr, other = rec.TakerAddr, rec.MakerAddr
	}
	var lastClosed int

	for _, leg := range rec.Legs {
		st, life := leg.TakerStatus, leg.TakerLife
		otherSt, otherLife := leg.MakerStatus, leg.MakerLife
		if maker {
			st, life = leg.MakerStatus, leg.MakerLife
			otherSt, otherLife = leg.TakerStatus, leg.TakerLife
		}

		switch {
		case st.Nets():
			k := lotKey{addr: addr, dir: st.NettedSide()}
			amt := leg.Amount
			for amt > 0 {
				queue := tr.open[k]
				if len(queue) == 0 {
					if err := e.violation(tr, "netting %d for %s at row %d with no open lot",
						amt, addr, row); err != nil {
						return err
					}
					break
				}
				lot := queue[0]
				n := amt
				if lot.Remaining < n {
					n = lot.Remaining
				}
				lot.Remaining -= n
				lot.Edges = append(lot.Edges, Edge{
					SourceAddr:   addr,
					TargetAddr:   other,
					SourceStatus: st,
					TargetStatus: otherSt,
					EntryPrice:   lot.EntryPrice,
					ExitPrice:    decimal.NewFromInt(rec.MatchedPrice),
					LivesSource:  lot.Remaining,
					LivesTarget:  otherLife,
					Amount:       n,
					OriginRow:    row,
					PathNumber:   lot.Number,
				})
				lastClosed = lot.Number
				if lot.Remaining == 0 {
					tr.open[k] = queue[1:]
				}
				amt -= n
			}

		case st.Opens():
			k := lotKey{addr: addr, dir: st.OpenedSide()}
			queue := tr.open[k]
			if n := len(queue); n > 0 && queue[n-1].originRow == row {
				// Continuation leg of the same match extends the lot opened
				// by the previous leg.
				lot := queue[n-1]
				lot.Opened += leg.Amount
				lot.Remaining += leg.Amount
				lot.Edges[0].Amount += leg.Amount
				lot.Edges[0].LivesSource = life
				continue
			}
			parent := 0
			if st == market.OpenShortByLongNetted || st == market.OpenLongByShortNetted {
				parent = lastClosed
			}
			p := &Path{
				Number:     tr.nextPath,
				Addr:       addr,
				Dir:        st.OpenedSide(),
				Status:     st,
				EntryPrice: rec.MatchedPrice,
				Opened:     leg.Amount,
				Remaining:  leg.Amount,
				Parent:     parent,
				originRow:  row,
			}
			tr.nextPath++
			p.Edges = append(p.Edges, Edge{
				SourceAddr:   addr,
				TargetAddr:   other,
				SourceStatus: st,
				TargetStatus: otherSt,
				EntryPrice:   rec.MatchedPrice,
				ExitPrice:    decimal.Zero,
				LivesSource:  life,
				LivesTarget:  otherLife,
				Amount:       leg.Amount,
				OriginRow:    row,
				PathNumber:   p.Number,
			})
			tr.paths = append(tr.paths, p)
			tr.open[k] = append(queue, p)
		}
	}
	return nil
}

// lineageOrder renumbers the path forest into trace order: each root lot
// is followed by its whole branch subtree before the next fresh lot, so a
// lot opened by a compound netting leg is discovered during the trace of
// the lot that netting closed, ahead of fresh lots from later rows. Life
// collection and ghost pairing key off this order, so every node must
// produce it identically.
func lineageOrder(paths []*Path) []*Path {
	children := make(map[int][]*Path)
	var roots []*Path
	for _, p := range paths {
		if p.Parent == 0 {
			roots = append(roots, p)
		} else {
			children[p.Parent] = append(children[p.Parent], p)
		}
	}

	ordered := make([]*Path, 0, len(paths))
	var visit func(p *Path)
	visit = func(p *Path) {
		ordered = append(ordered, p)
		for _, c := range children[p.Number] {
			visit(c)
		}
	}
	for _, r := range roots {
		visit(r)
	}

	renum := make(map[int]int, len(ordered))
	for i, p := range ordered {
		renum[p.Number] = i + 1
	}
	for _, p := range ordered {
		p.Number = renum[p.Number]
		if p.Parent != 0 {
			p.Parent = renum[p.Parent]
		}
		for i := range p.Edges {
			p.Edges[i].PathNumber = renum[p.Edges[i].PathNumber]
		}
	}
	return ordered
}

func (e *Engine) violation(tr *tracer, format string, args ...interface{}) error {
	tr.violations++
	if e.policy == PolicyStrict {
		return fmt.Errorf("settle: "+format, args...)
	}
	e.log.Warnf("settle: "+format, args...)
	return nil
}
