// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/binary"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var journalPrefix = []byte("events/")

// JournalRecord is the durable form of an emitted event
type JournalRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EventJournal appends engine events to storage in emission order. Keys are
// a monotonic sequence so prefix iteration replays history for the indexer.
type EventJournal struct {
	store *Storage
	seq   atomic.Uint64
}

// NewEventJournal creates a journal over the given storage
func NewEventJournal(store *Storage) *EventJournal {
	j := &EventJournal{store: store}

	// Resume the sequence past any existing records.
	it := store.NewIteratorWithPrefix(journalPrefix)
	defer it.Release()
	var last uint64
	for it.Next() {
		key := it.Key()
		if len(key) >= len(journalPrefix)+8 {
			last = binary.BigEndian.Uint64(key[len(journalPrefix):])
		}
	}
	j.seq.Store(last)

	return j
}

// Append implements events.Sink
func (j *EventJournal) Append(eventType string, payload []byte) error {
	record := JournalRecord{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	value, err := json.Marshal(record)
	if err != nil {
		return err
	}

	seq := j.seq.Add(1)
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)

	return j.store.Put(key, value)
}

// Replay invokes fn for every journaled record in emission order
func (j *EventJournal) Replay(fn func(JournalRecord) error) error {
	it := j.store.NewIteratorWithPrefix(journalPrefix)
	defer it.Release()

	for it.Next() {
		var record JournalRecord
		if err := json.Unmarshal(it.Value(), &record); err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return it.Error()
}
