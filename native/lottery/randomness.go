package lottery

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"lukechampine.com/blake3"

	"lotterychain/crypto"
)

const (
	localDrawDomain  = "lotterychain/v1/draw/local"
	oracleDrawDomain = "lotterychain/v1/draw/oracle"
	numbersDomain    = "lotterychain/v1/draw/numbers"

	// MinRandomnessLength is the smallest oracle payload accepted.
	MinRandomnessLength = 16
)

// EntropySource supplies unpredictable bytes for local draws.
type EntropySource interface {
	Entropy() ([]byte, error)
}

// CryptoEntropy reads from the operating system CSPRNG.
type CryptoEntropy struct{}

// Entropy implements EntropySource.
func (CryptoEntropy) Entropy() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// RandomnessRequest is sent to the oracle when a draw starts in oracle mode.
type RandomnessRequest struct {
	Handle      string
	Manager     crypto.Address
	Epoch       uint64
	MaxNumber   uint8
	RequestedAt int64
}

// Oracle delivers randomness asynchronously. The engine records the request
// and the oracle answers later through Engine.FulfillRandomness.
type Oracle interface {
	RequestRandomness(ctx context.Context, req RandomnessRequest) error
}

func hashDomain(domain string, parts ...[]byte) [32]byte {
	h := blake3.New(32, nil)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(domain)))
	h.Write(lenBuf[:])
	h.Write([]byte(domain))
	for _, p := range parts {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// DeriveNumbers expands seed into six values in 1..maxNumber. Each byte of the
// stream is rejection sampled so every value is equally likely. The result is
// never the reserved all-zero combination.
func DeriveNumbers(seed []byte, maxNumber uint8) Numbers {
	if maxNumber == 0 {
		maxNumber = 255
	}
	h := blake3.New(32, nil)
	digest := hashDomain(numbersDomain, seed)
	h.Write(digest[:])
	stream := h.XOF()

	limit := 256 - 256%int(maxNumber)
	var (
		out Numbers
		buf [1]byte
	)
	for i := 0; i < NumbersLength; {
		if _, err := stream.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("blake3 xof read: %v", err))
		}
		if int(buf[0]) >= limit {
			continue
		}
		out[i] = byte(int(buf[0])%int(maxNumber) + 1)
		i++
	}
	return out
}

func localSeed(entropy []byte, manager crypto.Address, epoch uint64, now int64) []byte {
	seed := hashDomain(localDrawDomain, entropy, manager[:], uint64Bytes(epoch), uint64Bytes(uint64(now)))
	return seed[:]
}

func oracleSeed(randomness []byte, handle string, manager crypto.Address) []byte {
	seed := hashDomain(oracleDrawDomain, randomness, []byte(handle), manager[:])
	return seed[:]
}
