package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"clearline/domain/market"
)

// -------------------- Outbox state --------------------

type OutboxState uint8

const (
	StateNew OutboxState = iota
	StateSent
	StateAcked
)

func (s OutboxState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// OutboxRecord tracks broadcast progress for one trade record.
type OutboxRecord struct {
	State       OutboxState
	Retries     uint32
	LastAttempt int64
}

// binary encoding: [state:1][retries:4][lastAttempt:8]
func encodeOutbox(r OutboxRecord) []byte {
	buf := make([]byte, 13)
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	return buf
}

func decodeOutbox(b []byte) (OutboxRecord, error) {
	if len(b) != 13 {
		return OutboxRecord{}, errors.New("history: invalid outbox record length")
	}
	return OutboxRecord{
		State:       OutboxState(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}, nil
}

// -------------------- Store --------------------

// Store is the append-only trade-history log: every match writes exactly
// one record, a settlement pass reads back all records of its pass in
// append order, and the broadcaster drains an outbox of not-yet-published
// records. Keys are zero-padded so pebble's iteration order is append
// order.
type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists one trade record under the current settlement pass and
// queues it for broadcast.
func (s *Store) Append(pass, seq uint64, rec *market.TradeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(tradeKey(pass, seq), payload, nil); err != nil {
		return err
	}
	if err := b.Set(outboxKey(pass, seq), encodeOutbox(OutboxRecord{State: StateNew}), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// ScanPass returns every record of one pass in append order.
func (s *Store) ScanPass(pass uint64) ([]*market.TradeRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: tradeKey(pass, 0),
		UpperBound: tradeKey(pass+1, 0),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var records []*market.TradeRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec market.TradeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("history: decode %s: %w", iter.Key(), err)
		}
		records = append(records, &rec)
	}
	return records, iter.Error()
}

// ScanPending visits every record still awaiting broadcast, oldest first.
func (s *Store) ScanPending(fn func(key []byte, payload []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("outbox/"),
		UpperBound: []byte("outbox/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeOutbox(iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		tk := append([]byte("trade/"), iter.Key()[len("outbox/"):]...)
		payload, closer, err := s.db.Get(tk)
		if err != nil {
			return err
		}
		key := append([]byte(nil), iter.Key()...)
		body := append([]byte(nil), payload...)
		closer.Close()
		if err := fn(key, body); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MarkSent records a broadcast attempt.
func (s *Store) MarkSent(key []byte) error {
	return s.setState(key, StateSent)
}

// MarkAcked finalizes a broadcast; acked entries are skipped forever and
// may be cleaned up.
func (s *Store) MarkAcked(key []byte) error {
	return s.setState(key, StateAcked)
}

// DeleteAcked removes every fully acknowledged outbox entry. Trade records
// themselves are never deleted; only the broadcast bookkeeping is pruned.
func (s *Store) DeleteAcked() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("outbox/"),
		UpperBound: []byte("outbox/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeOutbox(iter.Value())
		if err != nil {
			return err
		}
		if rec.State != StateAcked {
			continue
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) setState(key []byte, state OutboxState) error {
	val, closer, err := s.db.Get(key)
	if err != nil {
		return err
	}
	rec, err := decodeOutbox(val)
	closer.Close()
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries++
	rec.LastAttempt = time.Now().UnixNano()
	return s.db.Set(key, encodeOutbox(rec), pebble.Sync)
}

func tradeKey(pass, seq uint64) []byte {
	return []byte(fmt.Sprintf("trade/%012d/%012d", pass, seq))
}

func outboxKey(pass, seq uint64) []byte {
	return []byte(fmt.Sprintf("outbox/%012d/%012d", pass, seq))
}
