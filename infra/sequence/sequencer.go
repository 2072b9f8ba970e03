package sequence

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"clearline/domain/market"
)

// Sequencer generates strictly monotonic sequence IDs.
// It is deterministic and replay-safe.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer starting from a given value.
// On fresh start → start = 0
// On replay → start = last replayed seq
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next global sequence ID.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Reset rewinds the sequencer, used at settlement pass boundaries so
// record keys restart per pass.
func (s *Sequencer) Reset(v uint64) {
	s.next.Store(v)
}

// DefaultMaxHeightGap bounds how far ahead of the last admitted height a
// transaction may jump. Small gaps are normal (empty blocks); a huge jump
// means the feed skipped data and continuing would diverge the replica.
const DefaultMaxHeightGap = 100000

// Gatekeeper enforces the global (height, index) admission order on the
// inbound transaction stream. Every replica must accept the identical
// sequence, so a duplicate is dropped with a warning and an out-of-order
// key or an oversized height gap is a hard error.
type Gatekeeper struct {
	last   market.SeqKey
	seen   bool
	maxGap uint64
	log    *logrus.Entry
}

func NewGatekeeper(log *logrus.Entry) *Gatekeeper {
	return &Gatekeeper{maxGap: DefaultMaxHeightGap, log: log}
}

// Admit reports whether a transaction keyed by k may be applied.
// Returns (false, nil) for duplicates and (false, err) for regressions.
func (g *Gatekeeper) Admit(k market.SeqKey) (bool, error) {
	if !g.seen {
		g.last, g.seen = k, true
		return true, nil
	}
	if k == g.last {
		g.log.WithFields(logrus.Fields{
			"height": k.Height,
			"index":  k.Index,
		}).Warn("duplicate transaction key, dropping")
		return false, nil
	}
	if !g.last.Less(k) {
		return false, fmt.Errorf("sequence: key (%d,%d) not after (%d,%d)",
			k.Height, k.Index, g.last.Height, g.last.Index)
	}
	if g.maxGap > 0 && k.Height > g.last.Height+g.maxGap {
		return false, fmt.Errorf("sequence: height jumped %d -> %d, gap exceeds %d",
			g.last.Height, k.Height, g.maxGap)
	}
	g.last = k
	return true, nil
}

// Last returns the most recently admitted key.
func (g *Gatekeeper) Last() (market.SeqKey, bool) {
	return g.last, g.seen
}
