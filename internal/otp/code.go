package otp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// GenerateCode returns a 6-digit numeric verification code drawn from a
// cryptographically secure source. The output is always in 100000..999999, so
// the string is exactly six digit characters with no leading zero.
//
// The value is produced by reducing a random uint32 modulo 900000, which makes
// the lowest 2^32 mod 900000 values marginally more likely. The skew is below
// one part in ten thousand and accepted.
func GenerateCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	n := binary.BigEndian.Uint32(buf[:])
	return fmt.Sprintf("%06d", 100000+n%900000), nil
}
