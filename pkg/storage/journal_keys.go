package storage

import (
	"fmt"
	"strconv"
)

// Journal key schema for Pebble storage:
//
//   msg:<20-digit seq> → gob(Entry)
//
// Zero padding keeps lexical order equal to sequence order.

const prefixMessage = "msg:"

func messageKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixMessage, seq))
}

func parseMessageKey(key []byte) (uint64, error) {
	if len(key) <= len(prefixMessage) || string(key[:len(prefixMessage)]) != prefixMessage {
		return 0, fmt.Errorf("not a message key: %q", key)
	}
	return strconv.ParseUint(string(key[len(prefixMessage):]), 10, 64)
}

// keyUpperBound returns the upper bound for a prefix scan
// Increments the last byte to get exclusive upper bound
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
