package checkpoint

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"

	"clearline/domain/book"
	"clearline/domain/ledger"
)

// Digest hashes the full engine state in canonical order: every ledger
// account sorted by (address, market), then every resting order of every
// book, bids best-first then asks best-first, FIFO within a level. Two
// nodes that applied the same transaction stream produce the same digest.
type Digest struct {
	h *blake3.Hasher
}

func NewDigest() *Digest {
	return &Digest{h: blake3.New()}
}

func (d *Digest) WriteLedger(l *ledger.Ledger) {
	l.Walk(func(k ledger.Key, a ledger.Account) {
		d.str(k.Addr)
		d.str(k.MarketID)
		d.i64(a.Available)
		d.i64(a.Long)
		d.i64(a.Short)
		d.i64(a.ReservedMargin)
	})
}

func (d *Digest) WriteBook(b *book.Book) {
	d.str(b.MarketID)
	b.Walk(func(o *book.Order) {
		d.str(o.Addr)
		d.u64(uint64(o.Side))
		d.i64(o.Price)
		d.i64(o.Remaining)
		d.i64(o.Leverage)
		d.u64(o.Seq.Height)
		d.u64(uint64(o.Seq.Index))
	})
}

// Sum returns the hex digest of everything written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

func (d *Digest) str(s string) {
	d.u64(uint64(len(s)))
	_, _ = d.h.WriteString(s)
}

func (d *Digest) i64(v int64) { d.u64(uint64(v)) }

func (d *Digest) u64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, _ = d.h.Write(buf[:])
}
