package wal

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
)

// IndexEntry describes one sealed WAL segment.
type IndexEntry struct {
	File      string `json:"file"`
	FirstSeq  uint64 `json:"first_seq"`
	LastSeq   uint64 `json:"last_seq"`
	Timestamp string `json:"timestamp"`
}

// AppendIndexEntry adds a sealed-segment entry to wal_index.json.
func AppendIndexEntry(dir string, entry IndexEntry) error {
	path := filepath.Join(dir, "wal_index.json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, _ := json.Marshal(entry)
	_, err = f.Write(append(data, '\n'))
	return err
}

// LoadAllIndex reads every segment entry, oldest first. A missing index
// file is an empty log, not an error.
func LoadAllIndex(dir string) ([]IndexEntry, error) {
	path := filepath.Join(dir, "wal_index.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []IndexEntry{}, nil
		}
		return nil, err
	}

	lines := bytes.Split(b, []byte("\n"))
	var entries []IndexEntry
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var e IndexEntry
		if err := json.Unmarshal(line, &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// LoadLastIndex returns the most recent sealed-segment entry, if any.
func LoadLastIndex(dir string) (*IndexEntry, error) {
	index, err := LoadAllIndex(dir)
	if err != nil || len(index) == 0 {
		return nil, err
	}
	return &index[len(index)-1], nil
}
