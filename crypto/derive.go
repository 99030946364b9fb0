package crypto

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seed elements including the bump.
	MaxSeeds = 16
	// MaxSeedLength bounds the size of a single seed element.
	MaxSeedLength = 32
)

var (
	ErrMaxSeedLengthExceeded = errors.New("derive: seed exceeds maximum length")
	ErrTooManySeeds          = errors.New("derive: too many seeds")
	// ErrOnCurve marks a candidate that is a valid ed25519 point and could
	// therefore be controlled by a private key.
	ErrOnCurve      = errors.New("derive: address is on curve")
	ErrNoViableBump = errors.New("derive: no viable bump seed")
)

var derivedAddressMarker = []byte("ProgramDerivedAddress")

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
func IsOnCurve(b []byte) bool {
	if len(b) != AddressLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes the seeds together with the program identity and
// rejects results that land on the curve.
func CreateProgramAddress(seeds [][]byte, program Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}
	parts := make([][]byte, 0, len(seeds)+2)
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, fmt.Errorf("%w: seed %d has %d bytes", ErrMaxSeedLengthExceeded, i, len(seed))
		}
		parts = append(parts, seed)
	}
	parts = append(parts, program[:], derivedAddressMarker)
	digest := ethcrypto.Keccak256(parts...)
	if IsOnCurve(digest) {
		return Address{}, ErrOnCurve
	}
	return BytesToAddress(digest), nil
}

// FindProgramAddress searches bump values from zero upwards and returns the
// first off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, ErrTooManySeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 0; bump <= 255; bump++ {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// VerifyProgramAddress checks that addr is the derivation of seeds and bump.
func VerifyProgramAddress(addr Address, seeds [][]byte, bump uint8, program Address) bool {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	withBump[len(seeds)] = []byte{bump}
	derived, err := CreateProgramAddress(withBump, program)
	if err != nil {
		return false
	}
	return derived == addr
}

// ProgramID returns a fixed program identity for name.
func ProgramID(name string) Address {
	return BytesToAddress(ethcrypto.Keccak256([]byte(name)))
}
