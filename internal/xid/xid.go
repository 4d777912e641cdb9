// Package xid generates compact, sortable identifiers for records created by
// the server: a prefix, a millisecond timestamp, and random hex.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an id like "sale-18c2f4a1b3e-9f3ab2c4d5e6f7a8". Timestamp first
// keeps ids roughly ordered by creation; the random suffix keeps them unique
// across restarts.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// nanoseconds so id generation cannot take the server down.
		return fmt.Sprintf("%s-%x-%x", prefix, time.Now().UnixMilli(), time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%x-%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}
