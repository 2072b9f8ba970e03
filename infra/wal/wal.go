package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const frameHeaderSize = 8 // length(4) + CRC(4)

// Config controls segment rotation and encoding.
type Config struct {
	Dir             string
	SegmentSize     uint64
	SegmentDuration time.Duration
	Serializer      Serializer
}

// WAL is the transaction journal: a segmented, CRC-framed append log.
// Every transaction is journaled before it is applied, so a restarted node
// replays the identical stream and re-derives byte-identical state.
type WAL struct {
	cfg             Config
	file            *os.File
	writer          *bufio.Writer
	seq             uint64
	segmentID       int
	segmentStartSeq uint64
	bytesWritten    uint64
	lastRotationAt  time.Time
}

func New(cfg Config) (*WAL, error) {
	if cfg.Serializer == nil {
		cfg.Serializer = ProtoSerializer{}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	last, _ := LoadLastIndex(cfg.Dir)
	var segID int
	var seq uint64
	if last != nil {
		id, _ := strconv.Atoi(strings.TrimSuffix(last.File, ".wal"))
		segID = id
		seq = last.LastSeq
	}

	path := filepath.Join(cfg.Dir, "current.wal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		cfg:             cfg,
		file:            f,
		segmentID:       segID,
		segmentStartSeq: seq + 1,
		seq:             seq,
		lastRotationAt:  time.Now(),
	}
	if err := w.recoverCurrentState(); err != nil {
		return nil, err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	w.writer = bufio.NewWriterSize(f, 1<<20)
	return w, nil
}

// Seq returns the last appended sequence.
func (w *WAL) Seq() uint64 { return w.seq }

// Append journals one record, assigning the next sequence number.
func (w *WAL) Append(rec *Record) error {
	rec.Seq = w.seq + 1
	data, err := w.cfg.Serializer.Encode(rec)
	if err != nil {
		return err
	}

	recordSize := frameHeaderSize + len(data)
	if w.shouldRotate(recordSize) {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	w.seq++
	if err := writeFrame(w.writer, data); err != nil {
		return err
	}
	w.bytesWritten += uint64(recordSize)
	return nil
}

func (w *WAL) shouldRotate(nextSize int) bool {
	if w.cfg.SegmentSize > 0 && w.bytesWritten+uint64(nextSize) >= w.cfg.SegmentSize {
		return true
	}
	return w.cfg.SegmentDuration > 0 && time.Since(w.lastRotationAt) >= w.cfg.SegmentDuration
}

func (w *WAL) rotate() error {
	_ = w.writer.Flush()
	_ = w.file.Sync()
	_ = w.file.Close()

	newID := w.segmentID + 1
	newFile := fmt.Sprintf("%06d.wal", newID)
	oldPath := filepath.Join(w.cfg.Dir, "current.wal")
	newPath := filepath.Join(w.cfg.Dir, newFile)
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}
	_ = AppendIndexEntry(w.cfg.Dir, IndexEntry{
		File:      newFile,
		FirstSeq:  w.segmentStartSeq,
		LastSeq:   w.seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	f, err := os.OpenFile(oldPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 1<<20)
	w.segmentID = newID
	w.segmentStartSeq = w.seq + 1
	w.bytesWritten = 0
	w.lastRotationAt = time.Now()
	return nil
}

// Sync flushes buffered frames to stable storage.
func (w *WAL) Sync() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *WAL) Close() error {
	_ = w.writer.Flush()
	_ = w.file.Sync()
	return w.file.Close()
}

// recoverCurrentState scans current.wal after a restart, truncating a torn
// tail at the first short or checksum-failing frame.
func (w *WAL) recoverCurrentState() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		w.bytesWritten = 0
		return nil
	}
	path := filepath.Join(w.cfg.Dir, "current.wal")
	r, err := os.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		validBytes int64
		header     [frameHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncateCurrent(validBytes)
			}
			return err
		}
		payloadLen := binary.LittleEndian.Uint32(header[:4])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncateCurrent(validBytes)
			}
			return err
		}
		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
			return w.truncateCurrent(validBytes)
		}
		rec, err := w.cfg.Serializer.Decode(payload)
		if err != nil {
			return err
		}
		w.seq = rec.Seq
		validBytes += int64(frameHeaderSize + len(payload))
	}
	w.bytesWritten = uint64(validBytes)
	return nil
}

func (w *WAL) truncateCurrent(validBytes int64) error {
	if err := w.file.Truncate(validBytes); err != nil {
		return err
	}
	if _, err := w.file.Seek(validBytes, io.SeekStart); err != nil {
		return err
	}
	w.bytesWritten = uint64(validBytes)
	return nil
}

// ReplayFrom streams every record with Seq >= from, sealed segments first,
// then the live segment, in append order.
func ReplayFrom(dir string, from uint64, serializer Serializer, fn func(*Record)) error {
	if serializer == nil {
		serializer = ProtoSerializer{}
	}
	index, err := LoadAllIndex(dir)
	if err != nil {
		return err
	}
	for _, e := range index {
		if e.LastSeq < from {
			continue
		}
		if err := replayFile(filepath.Join(dir, e.File), from, serializer, fn); err != nil {
			return err
		}
	}
	current := filepath.Join(dir, "current.wal")
	if _, err := os.Stat(current); err == nil {
		return replayFile(current, from, serializer, fn)
	}
	return nil
}

func replayFile(path string, from uint64, serializer Serializer, fn func(*Record)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		payloadLen := binary.LittleEndian.Uint32(header[:4])
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil // torn tail: stop replay at the last good frame
		}
		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
			return nil
		}
		rec, err := serializer.Decode(payload)
		if err != nil {
			return err
		}
		if rec.Seq >= from {
			fn(rec)
		}
	}
}

func writeFrame(wr io.Writer, payload []byte) error {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(payload))
	if _, err := wr.Write(header[:]); err != nil {
		return err
	}
	_, err := wr.Write(payload)
	return err
}
