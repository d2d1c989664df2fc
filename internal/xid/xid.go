package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// InvoiceNumber formats a sequential counter value as a printed invoice
// number, e.g. INV-000042.
func InvoiceNumber(seq int64) string {
	return fmt.Sprintf("INV-%06d", seq)
}
