package settle

import (
	"sort"

	"github.com/shopspring/decimal"

	"clearline/domain/market"
)

// clearingPrice solves, in closed form, for the single price at which every
// residual live lot's unrealized PNL sums to zero net of the PNL already
// realized along the paths. Per path, gamma_p is the signed cash flow of
// its edges (sells positive, buys negative) and gamma_q the signed residual
// quantity (short lives positive, long lives negative); the exit price is
// the ratio of the global sums.
//
// When the residual longs and shorts balance exactly the denominator is
// zero and any price clears; the pass then pins the last matched price so
// every node picks the same one. With no lives at all the price is unused
// and reported as zero.
func (e *Engine) clearingPrice(paths []*Path, longs, shorts []Life, records []*market.TradeRecord) decimal.Decimal {
	var num, den decimal.Decimal
	for _, p := range paths {
		num = num.Add(gammaP(p))
		rem := decimal.NewFromInt(p.Remaining)
		if p.Dir == market.Buy {
			den = den.Sub(rem)
		} else {
			den = den.Add(rem)
		}
	}
	if !den.IsZero() {
		return num.Div(den)
	}
	if len(longs) == 0 && len(shorts) == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(records[len(records)-1].MatchedPrice)
}

// gammaP is the path's signed cash flow: opening a long or closing a short
// buys (negative), opening a short or closing a long sells (positive).
func gammaP(p *Path) decimal.Decimal {
	entry := decimal.NewFromInt(p.Opened).Mul(decimal.NewFromInt(p.EntryPrice))
	var g decimal.Decimal
	if p.Dir == market.Buy {
		g = g.Sub(entry)
	} else {
		g = g.Add(entry)
	}
	for _, e := range p.Edges[1:] {
		if e.IsGhost {
			continue
		}
		flow := decimal.NewFromInt(e.Amount).Mul(e.ExitPrice)
		if p.Dir == market.Buy {
			g = g.Add(flow)
		} else {
			g = g.Sub(flow)
		}
	}
	return g
}

// pairGhosts greedily merges the global long-life list against the global
// short-life list in discovery order: each step consumes the smaller
// residual fully and carries the remainder of the larger, emitting one
// ghost edge per holder at the single exit price. The pairing order is a
// hard determinism requirement, not an optimization choice: every node
// must synthesize byte-identical ghost edges, so the lists are never
// sorted or renormalized.
func (e *Engine) pairGhosts(res *Result) {
	byNumber := make(map[int]*Path, len(res.Paths))
	for _, p := range res.Paths {
		byNumber[p.Number] = p
	}

	i, j := 0, 0
	remLong, remShort := int64(0), int64(0)
	for i < len(res.LongLives) && j < len(res.ShortLives) {
		if remLong == 0 {
			remLong = res.LongLives[i].Amount
		}
		if remShort == 0 {
			remShort = res.ShortLives[j].Amount
		}
		n := remLong
		if remShort < n {
			n = remShort
		}
		long, short := res.LongLives[i], res.ShortLives[j]

		lp, sp := byNumber[long.PathNumber], byNumber[short.PathNumber]
		lp.Edges = append(lp.Edges, Edge{
			SourceAddr:   long.Addr,
			TargetAddr:   short.Addr,
			SourceStatus: long.Status,
			TargetStatus: short.Status,
			EntryPrice:   long.EntryPrice,
			ExitPrice:    res.ExitPrice,
			LivesSource:  lp.Remaining - n,
			LivesTarget:  sp.Remaining - n,
			Amount:       n,
			OriginRow:    -1,
			PathNumber:   lp.Number,
			IsGhost:      true,
		})
		sp.Edges = append(sp.Edges, Edge{
			SourceAddr:   short.Addr,
			TargetAddr:   long.Addr,
			SourceStatus: short.Status,
			TargetStatus: long.Status,
			EntryPrice:   short.EntryPrice,
			ExitPrice:    res.ExitPrice,
			LivesSource:  sp.Remaining - n,
			LivesTarget:  lp.Remaining - n,
			Amount:       n,
			OriginRow:    -1,
			PathNumber:   sp.Number,
			IsGhost:      true,
		})
		lp.Remaining -= n
		sp.Remaining -= n

		remLong -= n
		remShort -= n
		if remLong == 0 {
			i++
		}
		if remShort == 0 {
			j++
		}
	}
}

// IntegerPNL converts per-address PNL into whole margin units that still
// sum to zero: every address is floored, then the leftover units go to the
// largest fractional parts, address order breaking ties. Rounding each
// address independently does not conserve the total when the exit price
// is fractional.
func (r *Result) IntegerPNL() map[string]int64 {
	addrs := make([]string, 0, len(r.AddrPNL))
	for a := range r.AddrPNL {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	type frac struct {
		addr string
		part decimal.Decimal
	}
	out := make(map[string]int64, len(addrs))
	fracs := make([]frac, 0, len(addrs))
	var sum int64
	for _, a := range addrs {
		f := r.AddrPNL[a].Floor()
		out[a] = f.IntPart()
		sum += f.IntPart()
		fracs = append(fracs, frac{addr: a, part: r.AddrPNL[a].Sub(f)})
	}
	sort.SliceStable(fracs, func(i, j int) bool {
		return fracs[i].part.Cmp(fracs[j].part) > 0
	})
	for i := 0; sum < 0 && i < len(fracs); i++ {
		out[fracs[i].addr]++
		sum++
	}
	return out
}

// pathPNL is the realized PNL of a path including its ghost closings:
// amount times the entry/exit spread, signed by direction. The spread is
// linear in price, and clearingPrice solves the zero-total condition for
// exactly this form; the two functions have to agree on it.
func pathPNL(p *Path) decimal.Decimal {
	entry := decimal.NewFromInt(p.EntryPrice)
	var pnl decimal.Decimal
	for _, e := range p.Edges[1:] {
		amt := decimal.NewFromInt(e.Amount)
		spread := e.ExitPrice.Sub(entry)
		if p.Dir == market.Sell {
			spread = spread.Neg()
		}
		pnl = pnl.Add(amt.Mul(spread))
	}
	return pnl
}
