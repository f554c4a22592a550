// Package xid mints prefixed opaque identifiers for ledger rows,
// transfers, shifts, and audit entries. IDs sort roughly by creation
// time because of the nanosecond component, which keeps scans over
// recent rows cheap to eyeball.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an identifier of the form prefix-<unixnano>-<hex>.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
