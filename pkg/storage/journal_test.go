// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalAppendReplay(t *testing.T) {
	require := require.New(t)
	store := NewMemory()
	journal := NewEventJournal(store)

	payloads := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	for _, p := range payloads {
		require.NoError(journal.Append("Swap", []byte(p)))
	}

	var got []string
	err := journal.Replay(func(record JournalRecord) error {
		require.Equal("Swap", record.Type)
		require.NotEmpty(record.ID)
		got = append(got, string(record.Payload))
		return nil
	})
	require.NoError(err)
	require.Equal(payloads, got)
}

func TestJournalSequenceResumes(t *testing.T) {
	require := require.New(t)
	store := NewMemory()

	journal := NewEventJournal(store)
	require.NoError(journal.Append("PoolCreated", []byte(`{}`)))
	require.NoError(journal.Append("Swap", []byte(`{"a":1}`)))

	// A journal reopened over the same storage appends after, not over,
	// the existing records.
	reopened := NewEventJournal(store)
	require.NoError(reopened.Append("Swap", []byte(`{"a":2}`)))

	var types []string
	err := reopened.Replay(func(record JournalRecord) error {
		types = append(types, record.Type)
		return nil
	})
	require.NoError(err)
	require.Equal([]string{"PoolCreated", "Swap", "Swap"}, types)
}

func TestJournalRecordShape(t *testing.T) {
	require := require.New(t)
	store := NewMemory()
	journal := NewEventJournal(store)

	payload, err := json.Marshal(map[string]any{"pool_id": "x", "amount_in": "10"})
	require.NoError(err)
	require.NoError(journal.Append("Swap", payload))

	count := 0
	err = journal.Replay(func(record JournalRecord) error {
		count++
		var decoded map[string]any
		require.NoError(json.Unmarshal(record.Payload, &decoded))
		require.Equal("10", decoded["amount_in"])
		require.False(record.Timestamp.IsZero())
		return nil
	})
	require.NoError(err)
	require.Equal(1, count)
}
