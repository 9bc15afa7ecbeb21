// Package util provides small helpers shared across TemplateDesk components.
package util

import (
	"math/rand/v2"
	"strings"
)

// OutboxIDPrefix prefixes the identifiers of queued deliveries.
const OutboxIDPrefix = "outbox_"

// GenerateRandomID returns "{prefix}{hex}" with hexLength random hex digits.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns a random lowercase hex string. Not for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}
	return builder.String()
}

// GenerateOutboxID returns a new delivery identifier.
func GenerateOutboxID() string {
	return GenerateRandomID(OutboxIDPrefix, 32)
}
