package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"clearline/checkpoint"
	"clearline/domain/book"
	"clearline/domain/ledger"
	"clearline/domain/market"
	"clearline/domain/match"
	"clearline/domain/settle"
	"clearline/infra/history"
	"clearline/infra/sequence"
	"clearline/infra/wal"
)

// Options wires a Service. Store may be nil (no trade history, no
// settlement), which the tests use for pure matching runs.
type Options struct {
	WALDir        string
	WALSegment    uint64
	WALSegmentAge time.Duration
	Store         *history.Store
	Markets       []string
	ArenaCapacity int
	VWAPWindow    int
	Policy        settle.Policy
	Log           *logrus.Entry
}

// Service is the single write entry point. Every mutation takes the one
// mutex, is journaled to the WAL before it is applied, and is applied by
// the same code path a restart replays, so a replayed node re-derives
// byte-identical state.
type Service struct {
	mu sync.Mutex

	wal     *wal.WAL
	store   *history.Store
	gate    *sequence.Gatekeeper
	recSeq  *sequence.Sequencer
	led     *ledger.Ledger
	engine  *match.Engine
	spot    *match.SpotEngine
	settler *settle.Engine
	markets []string
	pass    uint64
	log     *logrus.Entry
}

// Transaction payloads journaled in wal.Record.Data.
type OrderTx struct {
	Addr     string      `json:"addr"`
	MarketID string      `json:"market_id"`
	Side     market.Side `json:"side"`
	Price    int64       `json:"price"`
	Amount   int64       `json:"amount"`
	Leverage int64       `json:"leverage"`
}

type CancelTx struct {
	Addr         string `json:"addr"`
	MarketID     string `json:"market_id"`
	TargetHeight uint64 `json:"target_height"`
	TargetIndex  uint32 `json:"target_index"`
}

type DepositTx struct {
	Addr     string `json:"addr"`
	MarketID string `json:"market_id"`
	Amount   int64  `json:"amount"`
}

type SpotTx struct {
	Addr          string `json:"addr"`
	Offered       string `json:"offered"`
	Desired       string `json:"desired"`
	AmountOffered int64  `json:"amount_offered"`
	AmountDesired int64  `json:"amount_desired"`
}

type SpotCancelTx struct {
	Addr         string `json:"addr"`
	TargetHeight uint64 `json:"target_height"`
	TargetIndex  uint32 `json:"target_index"`
}

type settleTx struct {
	Pass uint64 `json:"pass"`
}

type passRecorder struct{ s *Service }

func (r passRecorder) Record(rec *market.TradeRecord) error {
	if r.s.store == nil {
		return nil
	}
	return r.s.store.Append(r.s.pass, r.s.recSeq.Next(), rec)
}

// New builds a Service and replays the WAL, rebuilding ledger, books and
// trade history through the identical apply path used live. Replayed
// history writes are idempotent by key; outbox entries may be re-queued,
// which at-least-once delivery absorbs.
func New(opts Options) (*Service, error) {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	markets := append([]string(nil), opts.Markets...)
	sort.Strings(markets)

	led := ledger.New()
	arena := book.NewOrderArena(opts.ArenaCapacity)
	s := &Service{
		store:   opts.Store,
		gate:    sequence.NewGatekeeper(opts.Log),
		recSeq:  sequence.New(0),
		led:     led,
		spot:    match.NewSpotEngine(led),
		settler: settle.New(opts.Policy, opts.Log),
		markets: markets,
		log:     opts.Log,
	}
	s.engine = match.NewEngine(led, arena, passRecorder{s: s}, opts.VWAPWindow, opts.Log)
	for _, m := range markets {
		s.engine.AddMarket(m)
	}

	var replayErr error
	err := wal.ReplayFrom(opts.WALDir, 1, nil, func(rec *wal.Record) {
		if replayErr != nil {
			return
		}
		replayErr = s.apply(rec)
	})
	if err != nil {
		return nil, err
	}
	if replayErr != nil {
		return nil, fmt.Errorf("service: replay: %w", replayErr)
	}

	w, err := wal.New(wal.Config{
		Dir:             opts.WALDir,
		SegmentSize:     opts.WALSegment,
		SegmentDuration: opts.WALSegmentAge,
	})
	if err != nil {
		return nil, err
	}
	s.wal = w
	return s, nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}

// Pass returns the current settlement pass number.
func (s *Service) Pass() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pass
}

// journal admits, encodes and durably appends one transaction, then
// applies it. Rejections surface from apply; journal failures are returned
// before any state mutation.
func (s *Service) journal(seq market.SeqKey, kind uint32, tx interface{}) (*wal.Record, error) {
	ok, err := s.gate.Admit(seq)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil // duplicate, already applied
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	rec := &wal.Record{Height: seq.Height, Index: seq.Index, Kind: kind, Data: data}
	if err := s.wal.Append(rec); err != nil {
		return nil, err
	}
	if err := s.wal.Sync(); err != nil {
		return nil, err
	}
	return rec, nil
}

// SubmitOrder journals and matches one futures order.
func (s *Service) SubmitOrder(seq market.SeqKey, tx OrderTx) (market.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.journal(seq, wal.KindSubmit, tx)
	if err != nil || rec == nil {
		return market.Nothing, err
	}
	res, _, err := s.engine.Match(match.Submission{
		Addr:     tx.Addr,
		MarketID: tx.MarketID,
		Side:     tx.Side,
		Price:    tx.Price,
		Amount:   tx.Amount,
		Leverage: tx.Leverage,
		Seq:      seq,
	})
	return res, err
}

// CancelOrder journals and applies one cancel.
func (s *Service) CancelOrder(seq market.SeqKey, tx CancelTx) (market.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.journal(seq, wal.KindCancel, tx)
	if err != nil || rec == nil {
		return market.Nothing, err
	}
	return s.engine.Cancel(tx.Addr, tx.MarketID, market.SeqKey{Height: tx.TargetHeight, Index: tx.TargetIndex})
}

// Deposit journals and credits spendable balance.
func (s *Service) Deposit(seq market.SeqKey, tx DepositTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.journal(seq, wal.KindDeposit, tx)
	if err != nil || rec == nil {
		return err
	}
	s.led.Deposit(tx.Addr, tx.MarketID, tx.Amount)
	return nil
}

// SubmitSpot journals and matches one spot order.
func (s *Service) SubmitSpot(seq market.SeqKey, tx SpotTx) (market.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.journal(seq, wal.KindSpot, tx)
	if err != nil || rec == nil {
		return market.Nothing, err
	}
	return s.spot.Place(&match.SpotOrder{
		Addr:          tx.Addr,
		Offered:       tx.Offered,
		Desired:       tx.Desired,
		AmountOffered: tx.AmountOffered,
		AmountDesired: tx.AmountDesired,
		Seq:           seq,
	})
}

// CancelSpot journals and applies one spot cancel.
func (s *Service) CancelSpot(seq market.SeqKey, tx SpotCancelTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.journal(seq, wal.KindSpotCancel, tx)
	if err != nil || rec == nil {
		return err
	}
	return s.spot.CancelSpot(tx.Addr, market.SeqKey{Height: tx.TargetHeight, Index: tx.TargetIndex})
}

// RunSettlement journals a settle marker and runs one settlement pass over
// every record matched since the previous pass: realized PNL is credited,
// residual positions are flattened at the clearing price and their
// collateral released. Under the strict policy an inconsistent stream
// aborts the pass with no balance touched.
//
// The marker is keyed at the last admitted height with the index
// saturated, so it orders after every transaction of that block and
// before the next block. A second settlement with no transactions in
// between is a duplicate key and a no-op.
func (s *Service) RunSettlement() (map[string]*settle.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, fmt.Errorf("service: settlement requires a history store")
	}
	last, _ := s.gate.Last()
	seq := market.SeqKey{Height: last.Height, Index: ^uint32(0)}
	rec, err := s.journal(seq, wal.KindSettle, settleTx{Pass: s.pass})
	if err != nil || rec == nil {
		return nil, err
	}
	return s.settlePass()
}

func (s *Service) settlePass() (map[string]*settle.Result, error) {
	records, err := s.store.ScanPass(s.pass)
	if err != nil {
		return nil, err
	}

	byMarket := make(map[string][]*market.TradeRecord)
	for _, r := range records {
		byMarket[r.MarketID] = append(byMarket[r.MarketID], r)
	}

	results := make(map[string]*settle.Result)
	for _, m := range s.markets {
		stream := byMarket[m]
		if len(stream) == 0 {
			continue
		}
		res, err := s.settler.Settle(stream)
		if err != nil {
			return nil, err
		}
		results[m] = res

		// Whole-unit credits that conserve the pass total exactly: rounding
		// each address alone would mint or burn balance at a fractional
		// exit price.
		for addr, units := range res.IntegerPNL() {
			s.led.Credit(addr, m, units)
		}
		s.flatten(m)
	}
	s.pass++
	s.recSeq.Reset(0)
	return results, nil
}

// flatten closes every residual position in a market and returns position
// collateral, keeping only the margin still backing resting orders.
func (s *Service) flatten(marketID string) {
	resting := make(map[string]int64)
	s.engine.Book(marketID).Walk(func(o *book.Order) {
		resting[o.Addr] += match.MarginFor(o.Price, o.Remaining, o.Leverage)
	})

	type pos struct {
		addr        string
		long, short int64
		extra       int64
	}
	var all []pos
	s.led.Walk(func(k ledger.Key, a ledger.Account) {
		if k.MarketID != marketID {
			return
		}
		extra := a.ReservedMargin - resting[k.Addr]
		if a.Long == 0 && a.Short == 0 && extra <= 0 {
			return
		}
		all = append(all, pos{addr: k.Addr, long: a.Long, short: a.Short, extra: extra})
	})
	for _, p := range all {
		if p.long > 0 {
			s.led.ApplyLeg(p.addr, marketID, market.LongNetted, p.long)
		}
		if p.short > 0 {
			s.led.ApplyLeg(p.addr, marketID, market.ShortNetted, p.short)
		}
		if p.extra > 0 {
			s.led.Release(p.addr, marketID, p.extra)
		}
	}
}

// apply executes one journaled transaction during replay. Rejections are
// replayed outcomes, not errors.
func (s *Service) apply(rec *wal.Record) error {
	seq := market.SeqKey{Height: rec.Height, Index: rec.Index}
	if ok, err := s.gate.Admit(seq); err != nil || !ok {
		return err
	}
	switch rec.Kind {
	case wal.KindSubmit:
		var tx OrderTx
		if err := json.Unmarshal(rec.Data, &tx); err != nil {
			return err
		}
		_, _, _ = s.engine.Match(match.Submission{
			Addr:     tx.Addr,
			MarketID: tx.MarketID,
			Side:     tx.Side,
			Price:    tx.Price,
			Amount:   tx.Amount,
			Leverage: tx.Leverage,
			Seq:      seq,
		})
	case wal.KindCancel:
		var tx CancelTx
		if err := json.Unmarshal(rec.Data, &tx); err != nil {
			return err
		}
		_, _ = s.engine.Cancel(tx.Addr, tx.MarketID, market.SeqKey{Height: tx.TargetHeight, Index: tx.TargetIndex})
	case wal.KindDeposit:
		var tx DepositTx
		if err := json.Unmarshal(rec.Data, &tx); err != nil {
			return err
		}
		s.led.Deposit(tx.Addr, tx.MarketID, tx.Amount)
	case wal.KindSpot:
		var tx SpotTx
		if err := json.Unmarshal(rec.Data, &tx); err != nil {
			return err
		}
		_, _ = s.spot.Place(&match.SpotOrder{
			Addr:          tx.Addr,
			Offered:       tx.Offered,
			Desired:       tx.Desired,
			AmountOffered: tx.AmountOffered,
			AmountDesired: tx.AmountDesired,
			Seq:           seq,
		})
	case wal.KindSpotCancel:
		var tx SpotCancelTx
		if err := json.Unmarshal(rec.Data, &tx); err != nil {
			return err
		}
		_ = s.spot.CancelSpot(tx.Addr, market.SeqKey{Height: tx.TargetHeight, Index: tx.TargetIndex})
	case wal.KindSettle:
		if s.store != nil {
			if _, err := s.settlePass(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("service: unknown transaction kind %d", rec.Kind)
	}
	return nil
}

// Ledger exposes read access to account state.
func (s *Service) Ledger() *ledger.Ledger { return s.led }

// Engine exposes read access to the matching engine and its books.
func (s *Service) Engine() *match.Engine { return s.engine }

// Snapshot visits every resting order of every market in canonical order
// under the service lock, for external readers.
func (s *Service) Snapshot(visit func(o *book.Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		s.engine.Book(m).Walk(visit)
	}
}

// StateDigest hashes the full node state in canonical order. Two nodes
// that applied the same stream agree on the digest.
func (s *Service) StateDigest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := checkpoint.NewDigest()
	d.WriteLedger(s.led)
	for _, m := range s.markets {
		d.WriteBook(s.engine.Book(m))
	}
	return d.Sum()
}
