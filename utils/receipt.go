package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// GenerateReceipt builds a human-readable receipt token, unique per order:
// RCPT + timestamp + 4 random digits.
func GenerateReceipt() string {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// fall back to nanosecond suffix
		return fmt.Sprintf("RCPT%s%04d", time.Now().Format("20060102150405"), time.Now().UnixNano()%10000)
	}
	return fmt.Sprintf("RCPT%s%04d", time.Now().Format("20060102150405"), n.Int64())
}
