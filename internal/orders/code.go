package orders

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	orderCodePrefix   = "ORD-"
	orderCodeBytes    = 3
	maxCodeGeneration = 5
)

// CodeGenerator produces human-readable order codes.
type CodeGenerator func() (string, error)

// NewOrderCode returns ORD- followed by six upper-case hex characters.
func NewOrderCode() (string, error) {
	buf := make([]byte, orderCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate order code: %w", err)
	}
	return orderCodePrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// IsOrderCode reports whether ref looks like an order code rather than an id.
func IsOrderCode(ref string) bool {
	return strings.HasPrefix(ref, orderCodePrefix) && len(ref) == len(orderCodePrefix)+2*orderCodeBytes
}
