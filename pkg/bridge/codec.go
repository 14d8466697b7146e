// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/luxfi/amm/pkg/ids"
)

var ErrMalformedMessage = errors.New("malformed bridge message")

// MessageSize is the fixed wire size of an encoded swap instruction:
// assetIn 32 | assetOut 32 | amountIn 32 | amountOutMin 32 | recipient 32
// | deadline 8, all big-endian.
const MessageSize = 168

// Message is a relayed cross-chain swap instruction
type Message struct {
	AssetIn      ids.ID
	AssetOut     ids.ID
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
	Recipient    ids.ID
	Deadline     int64 // unix seconds, zero means no deadline
}

// Encode serializes the message to its fixed wire form
func (m *Message) Encode() []byte {
	buf := make([]byte, MessageSize)
	copy(buf[0:32], m.AssetIn[:])
	copy(buf[32:64], m.AssetOut[:])

	var amountIn, amountOutMin [32]byte
	if m.AmountIn != nil {
		amountIn = m.AmountIn.Bytes32()
	}
	if m.AmountOutMin != nil {
		amountOutMin = m.AmountOutMin.Bytes32()
	}
	copy(buf[64:96], amountIn[:])
	copy(buf[96:128], amountOutMin[:])

	copy(buf[128:160], m.Recipient[:])
	binary.BigEndian.PutUint64(buf[160:168], uint64(m.Deadline))
	return buf
}

// Decode parses a fixed-size wire message
func Decode(payload []byte) (*Message, error) {
	if len(payload) != MessageSize {
		return nil, ErrMalformedMessage
	}

	var m Message
	copy(m.AssetIn[:], payload[0:32])
	copy(m.AssetOut[:], payload[32:64])
	m.AmountIn = new(uint256.Int).SetBytes(payload[64:96])
	m.AmountOutMin = new(uint256.Int).SetBytes(payload[96:128])
	copy(m.Recipient[:], payload[128:160])
	m.Deadline = int64(binary.BigEndian.Uint64(payload[160:168]))
	return &m, nil
}
