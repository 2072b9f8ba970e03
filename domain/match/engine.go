package match

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"clearline/domain/book"
	"clearline/domain/ledger"
	"clearline/domain/market"
)

// Recorder persists one TradeRecord per match. Persistence failures are
// fatal: a record the settlement pass never sees would diverge replicas.
type Recorder interface {
	Record(*market.TradeRecord) error
}

// Engine matches incoming futures orders against per-market books and
// applies position transitions to the ledger. All state is owned by the
// instance; callers serialize access (one global critical section).
type Engine struct {
	books    map[string]*book.Book
	ledger   *ledger.Ledger
	arena    *book.OrderArena
	vwaps    map[string]*VWAP
	recorder Recorder
	window   int
	log      *logrus.Entry
}

func NewEngine(led *ledger.Ledger, arena *book.OrderArena, rec Recorder, vwapWindow int, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		books:    make(map[string]*book.Book),
		ledger:   led,
		arena:    arena,
		vwaps:    make(map[string]*VWAP),
		recorder: rec,
		window:   vwapWindow,
		log:      log,
	}
}

// AddMarket registers a market. Orders for unregistered markets are
// rejected before any state mutation.
func (e *Engine) AddMarket(marketID string) {
	if _, ok := e.books[marketID]; ok {
		return
	}
	e.books[marketID] = book.New(marketID, e.arena)
	e.vwaps[marketID] = NewVWAP(e.window)
}

// Book returns the order book for a market, nil if unregistered.
func (e *Engine) Book(marketID string) *book.Book { return e.books[marketID] }

// MarketVWAP returns the trailing-window VWAP accumulator for a market.
func (e *Engine) MarketVWAP(marketID string) *VWAP { return e.vwaps[marketID] }

// Submission is the typed inbound order contract, as handed over by the
// transaction decoder. The engine never parses raw bytes.
type Submission struct {
	Addr     string
	MarketID string
	Side     market.Side
	Price    int64
	Amount   int64
	Leverage int64
	Seq      market.SeqKey
}

func (e *Engine) validate(s Submission) error {
	if s.Addr == "" {
		return market.ErrBadAddress
	}
	if s.Price <= 0 {
		return market.ErrBadPrice
	}
	if s.Amount <= 0 {
		return market.ErrBadAmount
	}
	if _, ok := e.books[s.MarketID]; !ok {
		return market.ErrUnknownMarket
	}
	acct := e.ledger.Account(s.Addr, s.MarketID)
	if acct.Available < MarginFor(s.Price, s.Amount, s.Leverage) {
		return market.ErrInsufficientFunds
	}
	return nil
}

// Match runs the incoming order against the book: best price first, FIFO
// within a level, skipping same-side, same-address and foreign-market
// candidates. Residual quantity rests in the book with margin reserved.
func (e *Engine) Match(s Submission) (market.MatchResult, []*market.TradeRecord, error) {
	if err := e.validate(s); err != nil {
		return market.Nothing, nil, err
	}
	bk := e.books[s.MarketID]

	o := e.arena.Get()
	*o = book.Order{
		Addr:      s.Addr,
		MarketID:  s.MarketID,
		Side:      s.Side,
		Price:     s.Price,
		Remaining: s.Amount,
		Leverage:  s.Leverage,
		Seq:       s.Seq,
	}

	var records []*market.TradeRecord
	var lastResting *book.Order

	price, ok := e.nextCrossing(bk, o, unset(o.Side))
	for ok && o.Remaining > 0 {
		lvl := e.oppositeTree(bk, o.Side).FindLevel(price)
		if lvl != nil {
			lastResting = e.matchLevel(bk, o, lvl, &records)
		}
		if o.Remaining == 0 {
			break
		}
		price, ok = e.nextCrossing(bk, o, price)
	}

	result := e.classify(o, records, lastResting)
	if o.Remaining > 0 {
		margin := MarginFor(o.Price, o.Remaining, o.Leverage)
		if err := e.ledger.Reserve(o.Addr, o.MarketID, margin); err != nil {
			// Upfront validation covered the full amount; a failure here is
			// a bookkeeping mismatch, not a rejection.
			panic(fmt.Sprintf("match: margin reserve failed after validation: %v", err))
		}
		bk.Insert(o)
	} else {
		e.arena.Put(o)
	}
	return result, records, nil
}

// matchLevel matches the incoming order against one price level in FIFO
// order. Returns the last resting order touched (which may have residual
// quantity left).
func (e *Engine) matchLevel(bk *book.Book, o *book.Order, lvl *book.PriceLevel, records *[]*market.TradeRecord) *book.Order {
	var last *book.Order
	cand := lvl.Head()
	for cand != nil && o.Remaining > 0 {
		next := cand.Next()
		if cand.Addr == o.Addr || cand.Side == o.Side || cand.MarketID != o.MarketID {
			// Self-trades and same-side entries are non-candidates, not
			// errors: skip and keep scanning.
			cand = next
			continue
		}
		qty := minQty(cand.Remaining, o.Remaining)
		if qty == 0 {
			cand = next
			continue
		}
		rec := e.executeMatch(o, cand, qty)
		*records = append(*records, rec)
		last = cand

		bk.Reduce(o, qty)
		bk.Reduce(cand, qty)
		if cand.Remaining == 0 {
			bk.Remove(cand)
		}
		cand = next
	}
	return last
}

// executeMatch decomposes one (incoming, resting, qty) pairing into legs,
// applies every leg to the ledger in order, updates the VWAP window and
// persists the trade record.
func (e *Engine) executeMatch(o, resting *book.Order, qty int64) *market.TradeRecord {
	sellerAddr, buyerAddr := o.Addr, resting.Addr
	if o.Side == market.Buy {
		sellerAddr, buyerAddr = resting.Addr, o.Addr
	}
	sellerAcct := e.ledger.Account(sellerAddr, o.MarketID)
	buyerAcct := e.ledger.Account(buyerAddr, o.MarketID)

	legs := Decompose(sellerAcct.Long, sellerAcct.Short, buyerAcct.Long, buyerAcct.Short, qty)

	var sum int64
	for _, l := range legs {
		sum += l.Amount
	}
	if sum != qty {
		panic(fmt.Sprintf("match: leg sum %d != matched qty %d", sum, qty))
	}

	rec := &market.TradeRecord{
		MakerAddr:    resting.Addr,
		TakerAddr:    o.Addr,
		MarketID:     o.MarketID,
		MatchedPrice: resting.Price,
		Height:       o.Seq.Height,
		TakerSide:    o.Side,
		Amount:       qty,
		Legs:         make([]market.Leg, 0, len(legs)),
	}
	makerIsSeller := o.Side == market.Buy

	for _, l := range legs {
		e.ledger.ApplyLeg(sellerAddr, o.MarketID, l.SellerStatus, l.Amount)
		e.ledger.ApplyLeg(buyerAddr, o.MarketID, l.BuyerStatus, l.Amount)

		leg := market.Leg{Amount: l.Amount}
		if makerIsSeller {
			leg.MakerStatus, leg.MakerLife = l.SellerStatus, l.SellerLife
			leg.TakerStatus, leg.TakerLife = l.BuyerStatus, l.BuyerLife
		} else {
			leg.MakerStatus, leg.MakerLife = l.BuyerStatus, l.BuyerLife
			leg.TakerStatus, leg.TakerLife = l.SellerStatus, l.SellerLife
		}
		rec.Legs = append(rec.Legs, leg)
	}

	e.vwaps[o.MarketID].Add(resting.Price, qty)

	if e.recorder != nil {
		if err := e.recorder.Record(rec); err != nil {
			panic(fmt.Sprintf("match: trade record persistence failed: %v", err))
		}
	}
	e.log.WithFields(logrus.Fields{
		"market": o.MarketID,
		"maker":  rec.MakerAddr,
		"taker":  rec.TakerAddr,
		"price":  rec.MatchedPrice,
		"qty":    qty,
		"legs":   len(rec.Legs),
	}).Debug("matched")
	return rec
}

func (e *Engine) classify(o *book.Order, records []*market.TradeRecord, lastResting *book.Order) market.MatchResult {
	if len(records) == 0 {
		if o.Remaining > 0 {
			return market.Added
		}
		return market.Nothing
	}
	if o.Remaining > 0 {
		if o.Side == market.Sell {
			return market.TradedMoreInSeller
		}
		return market.TradedMoreInBuyer
	}
	if lastResting != nil && lastResting.Remaining > 0 {
		if lastResting.Side == market.Sell {
			return market.TradedMoreInSeller
		}
		return market.TradedMoreInBuyer
	}
	return market.Traded
}

// Cancel removes a resting order via its globally ordered cancel
// transaction and releases the margin still reserved for its remainder.
func (e *Engine) Cancel(addr, marketID string, seq market.SeqKey) (market.MatchResult, error) {
	bk, ok := e.books[marketID]
	if !ok {
		return market.Nothing, market.ErrUnknownMarket
	}
	o := bk.Find(addr, seq)
	if o == nil {
		return market.Nothing, market.ErrOrderNotFound
	}
	e.ledger.Release(addr, marketID, MarginFor(o.Price, o.Remaining, o.Leverage))
	bk.Remove(o)
	return market.Cancelled, nil
}

func (e *Engine) oppositeTree(bk *book.Book, s market.Side) *book.RBTree {
	if s == market.Buy {
		return bk.Asks
	}
	return bk.Bids
}

// nextCrossing returns the best still-crossing price strictly beyond the
// given one: buys scan asks ascending while level price <= order price,
// sells scan bids descending while level price >= order price.
func (e *Engine) nextCrossing(bk *book.Book, o *book.Order, after int64) (int64, bool) {
	var found int64
	ok := false
	if o.Side == market.Buy {
		bk.Asks.ForEachAscending(func(lvl *book.PriceLevel) bool {
			if lvl.Price <= after {
				return true
			}
			if lvl.Price > o.Price {
				return false
			}
			found, ok = lvl.Price, true
			return false
		})
	} else {
		bk.Bids.ForEachDescending(func(lvl *book.PriceLevel) bool {
			if lvl.Price >= after {
				return true
			}
			if lvl.Price < o.Price {
				return false
			}
			found, ok = lvl.Price, true
			return false
		})
	}
	return found, ok
}

func unset(s market.Side) int64 {
	if s == market.Buy {
		return math.MinInt64
	}
	return math.MaxInt64
}

// MarginFor is the margin a resting or incoming order requires for qty at
// price under the given leverage.
func MarginFor(price, qty, leverage int64) int64 {
	if leverage <= 0 {
		leverage = 1
	}
	return price * qty / leverage
}

func minQty(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
