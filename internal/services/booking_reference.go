package services

import (
	"crypto/rand"
	"fmt"
)

// referenceAlphabet leaves out 0/O and 1/I so references survive being read aloud.
// Its length divides 256, so byte-modulo sampling is unbiased.
const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	referencePrefix = "PK-"
	referenceLength = 8
)

// NewBookingReference returns a random customer-facing reference like PK-7KQ2M9XD
func NewBookingReference() (string, error) {
	buf := make([]byte, referenceLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate booking reference: %w", err)
	}
	out := make([]byte, referenceLength)
	for i, b := range buf {
		out[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return referencePrefix + string(out), nil
}
