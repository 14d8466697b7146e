package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ID represents a unique 32-byte identifier. Assets, accounts, pools,
// bridge messages and governance changes all share this type.
type ID [32]byte

// Empty is the all-zero ID. It doubles as the permanently locked share
// sink: balances credited to it can never be moved.
var Empty = ID{}

// GenerateTestID creates a random ID for testing
func GenerateTestID() ID {
	var id ID
	rand.Read(id[:])
	return id
}

// String returns the hex representation of the ID
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the byte representation of the ID
func (id ID) Bytes() []byte {
	return id[:]
}

// IsEmpty reports whether the ID is the all-zero value
func (id ID) IsEmpty() bool {
	return id == Empty
}

// FromString creates an ID from a hex string
func FromString(s string) (ID, error) {
	var id ID
	bytes, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(bytes) != 32 {
		return id, fmt.Errorf("invalid ID length: expected 32, got %d", len(bytes))
	}
	copy(id[:], bytes)
	return id, nil
}

// FromBytes creates an ID from a byte slice
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != 32 {
		return id, fmt.Errorf("invalid ID length: expected 32, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}
