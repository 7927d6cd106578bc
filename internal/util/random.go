package util

import (
	"math/rand/v2"
	"strings"
)

// TurnIDPrefix marks log correlation IDs for conversation turns.
const TurnIDPrefix = "t_"

// GenerateRandomHex generates a random lowercase hex string of the given length.
// Not for secrets; OTP codes come from crypto/rand in the otp package.
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

// GenerateTurnID returns an ID that ties together the log lines of one turn.
func GenerateTurnID() string {
	return TurnIDPrefix + GenerateRandomHex(16)
}
