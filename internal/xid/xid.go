// Package xid generates prefixed, sortable row identifiers. The prefix
// names the table ("tx", "term"), the timestamp keeps ids roughly ordered
// by creation and the random tail avoids collisions across instances.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const randomTailBytes = 8

// New returns an identifier of the form prefix-unixnano-randomhex.
func New(prefix string) string {
	now := time.Now().UnixNano()
	tail := make([]byte, randomTailBytes)
	if _, err := rand.Read(tail); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; the
		// timestamp alone still yields a usable id for a single node.
		return fmt.Sprintf("%s-%d", prefix, now)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now, hex.EncodeToString(tail))
}
