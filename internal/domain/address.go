package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 20

// ErrInvalidAddress is returned when an address string is malformed
// or carries a wrong EIP-55 checksum.
var ErrInvalidAddress = errors.New("invalid address")

// Address identifies an account on the ledger.
// The zero value means "absent".
type Address [AddressLength]byte

// ParseAddress parses a 0x-prefixed hex address.
// All-lower and all-upper inputs are accepted as is; mixed-case input must
// match its EIP-55 checksum.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 2+2*AddressLength || (s[:2] != "0x" && s[:2] != "0X") {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	digits := s[2:]
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	var a Address
	copy(a[:], raw)

	if isMixedCase(digits) && a.Hex()[2:] != digits {
		return Address{}, fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, s)
	}
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is absent.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hex returns the EIP-55 checksummed form.
func (a Address) Hex() string {
	buf := []byte(hex.EncodeToString(a[:]))

	h := sha3.NewLegacyKeccak256()
	h.Write(buf)
	sum := h.Sum(nil)

	for i := range buf {
		if buf[i] < 'a' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			buf[i] -= 'a' - 'A'
		}
	}
	return "0x" + string(buf)
}

// String returns the checksummed form, or an empty string for the zero address.
func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Hex()
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
