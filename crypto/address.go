package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressHRP is the human-readable part of every bech32 encoded address.
const AddressHRP = "nll"

// AddressLength is the size in bytes of an account identity.
const AddressLength = 32

// ErrInvalidAddress is returned when decoding malformed address text.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address is a 32-byte account identity. Externally owned accounts use their
// ed25519 public key; program owned accounts are derived and sit off the curve.
type Address [AddressLength]byte

// BytesToAddress copies b into an Address. It panics when b has the wrong
// length.
func BytesToAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 32 bytes long")
	}
	var a Address
	copy(a[:], b)
	return a
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// Hex returns the lowercase hex form of the address.
func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressHRP, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText encodes the address in bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts bech32 or hex encoded addresses.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 address carrying the nll prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressHRP {
		return Address{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidAddress, prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, AddressLength, len(conv))
	}
	return BytesToAddress(conv), nil
}

// ParseAddress accepts either the bech32 form or a 64 character hex string,
// optionally prefixed with 0x.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if strings.HasPrefix(trimmed, AddressHRP+"1") {
		return DecodeAddress(trimmed)
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(raw) != AddressLength*2 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return BytesToAddress(b), nil
}
