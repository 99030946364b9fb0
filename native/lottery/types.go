package lottery

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"lotterychain/crypto"
)

// NumbersLength is the size of a ticket combination.
const NumbersLength = 6

// Numbers is one ticket combination. The all-zero value is reserved.
type Numbers [NumbersLength]byte

// IsZero reports whether every number is zero.
func (n Numbers) IsZero() bool { return n == Numbers{} }

// Validate rejects the reserved all-zero combination.
func (n Numbers) Validate() error {
	if n.IsZero() {
		return fmt.Errorf("%w: all-zero combination is reserved", ErrInvalidNumbers)
	}
	return nil
}

func (n Numbers) String() string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, "-")
}

// NumbersFromInts converts a user supplied list into Numbers. The list must
// hold exactly six values in the byte range.
func NumbersFromInts(values []int) (Numbers, error) {
	var n Numbers
	if len(values) != NumbersLength {
		return n, fmt.Errorf("%w: expected %d numbers, got %d", ErrInvalidNumbers, NumbersLength, len(values))
	}
	for i, v := range values {
		if v < 0 || v > 255 {
			return n, fmt.Errorf("%w: value %d out of range", ErrInvalidNumbers, v)
		}
		n[i] = byte(v)
	}
	return n, n.Validate()
}

// ParseNumbers accepts "1-2-3-4-5-6" or "1,2,3,4,5,6".
func ParseNumbers(s string) (Numbers, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == '-' || r == ',' || r == ' '
	})
	values := make([]int, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return Numbers{}, fmt.Errorf("%w: %q", ErrInvalidNumbers, field)
		}
		values = append(values, v)
	}
	return NumbersFromInts(values)
}

// Ints returns the numbers as a slice of ints.
func (n Numbers) Ints() []int {
	out := make([]int, len(n))
	for i, v := range n {
		out[i] = int(v)
	}
	return out
}

// LifecycleState tracks where a lottery instance sits in its draw cycle.
type LifecycleState uint8

const (
	StateOpen LifecycleState = iota + 1
	StateAwaitingRandomness
	StateLocked
)

func (s LifecycleState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAwaitingRandomness:
		return "awaiting_randomness"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known state.
func (s LifecycleState) Valid() bool {
	return s >= StateOpen && s <= StateLocked
}

// RandomnessMode selects how draw obtains the winning numbers.
type RandomnessMode uint8

const (
	// ModeLocal derives numbers synchronously from the local entropy source.
	ModeLocal RandomnessMode = iota + 1
	// ModeOracle requests numbers from an external oracle and waits for the
	// callback.
	ModeOracle
)

func (m RandomnessMode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeOracle:
		return "oracle"
	default:
		return "unknown"
	}
}

// ParseRandomnessMode maps configuration text onto a mode. Empty means local.
func ParseRandomnessMode(s string) (RandomnessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "local":
		return ModeLocal, nil
	case "oracle", "vrf", "nats":
		return ModeOracle, nil
	default:
		return 0, fmt.Errorf("%w: unknown randomness mode %q", ErrInvalidParams, s)
	}
}

// VaultManager is the central record of one lottery instance.
type VaultManager struct {
	Address            crypto.Address
	Bump               uint8
	Name               string
	Authority          crypto.Address
	DepositMint        crypto.Address
	YieldMint          crypto.Address
	DepositVault       crypto.Address
	DepositVaultBump   uint8
	YieldVault         crypto.Address
	YieldVaultBump     uint8
	Collection         crypto.Address
	CollectionBump     uint8
	Pool               crypto.Address
	TicketPrice        *big.Int
	DrawDuration       uint64
	CutoffTime         uint64
	State              LifecycleState
	WinningNumbers     Numbers
	PrizeConsumed      bool
	Epoch              uint64
	Mode               RandomnessMode
	MaxNumber          uint8
	PendingRequest     string
	RequestedAt        uint64
	ReserveFloor       *big.Int
	StakedPrincipal    *big.Int
	LiveTickets        uint64
	TicketsSold        uint64
	MaxTicketsPerBuyer uint32
	LastWinner         crypto.Address
	LastPrize          *big.Int
	CreatedAt          uint64
}

// HasWinningNumbers reports whether a draw has set the winning numbers.
func (m *VaultManager) HasWinningNumbers() bool {
	return m != nil && !m.WinningNumbers.IsZero()
}

// Clone returns a deep copy of the record.
func (m *VaultManager) Clone() *VaultManager {
	if m == nil {
		return nil
	}
	clone := *m
	clone.TicketPrice = cloneBigInt(m.TicketPrice)
	clone.ReserveFloor = cloneBigInt(m.ReserveFloor)
	clone.StakedPrincipal = cloneBigInt(m.StakedPrincipal)
	clone.LastPrize = cloneBigInt(m.LastPrize)
	return &clone
}

func (m *VaultManager) normalize() {
	m.TicketPrice = cloneBigInt(m.TicketPrice)
	m.ReserveFloor = cloneBigInt(m.ReserveFloor)
	m.StakedPrincipal = cloneBigInt(m.StakedPrincipal)
	m.LastPrize = cloneBigInt(m.LastPrize)
}

// Ticket is the record for one purchased combination.
type Ticket struct {
	Address       crypto.Address
	Bump          uint8
	Manager       crypto.Address
	Numbers       Numbers
	Owner         crypto.Address
	OwnershipMint crypto.Address
	DepositMint   crypto.Address
	Price         *big.Int
	Epoch         uint64
	PurchasedAt   uint64
	Won           bool
	WonEpoch      uint64
	Prize         *big.Int
	Redeemed      bool
	RedeemedBy    crypto.Address
	RedeemedAt    uint64
	Owed          *big.Int
}

// Live reports whether the ticket is still eligible to win.
func (t *Ticket) Live() bool {
	return t != nil && !t.Won && !t.Redeemed
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Price = cloneBigInt(t.Price)
	clone.Prize = cloneBigInt(t.Prize)
	clone.Owed = cloneBigInt(t.Owed)
	return &clone
}

func (t *Ticket) normalize() {
	t.Price = cloneBigInt(t.Price)
	t.Prize = cloneBigInt(t.Prize)
	t.Owed = cloneBigInt(t.Owed)
}

// InitParams configures a new lottery instance.
type InitParams struct {
	Name        string
	Authority   crypto.Address
	DepositMint crypto.Address
	YieldMint   crypto.Address
	// Pool is the AMM pool trading the deposit mint against the yield mint.
	Pool         crypto.Address
	DrawDuration int64
	TicketPrice  *big.Int
	// ReserveFloor defaults to ten ticket prices when nil or zero.
	ReserveFloor *big.Int
	// MaxNumber bounds drawn values to 1..MaxNumber. Zero means 255.
	MaxNumber uint16
	Mode      RandomnessMode
	// MaxTicketsPerBuyer limits purchases per buyer and epoch. Zero disables it.
	MaxTicketsPerBuyer uint32
}

// DrawResult describes the outcome of draw, fallback or fulfilment.
type DrawResult struct {
	Manager        crypto.Address
	State          LifecycleState
	Epoch          uint64
	WinningNumbers Numbers
	RequestHandle  string
	CutoffTime     uint64
}

// DispenseResult describes a dispense call that did not soft-fail.
type DispenseResult struct {
	Manager crypto.Address
	Ticket  crypto.Address
	Holder  crypto.Address
	Prize   *big.Int
	// Rollover is set when the winning numbers had no live ticket.
	Rollover bool
	// AlreadyConsumed is set for the idempotent repeat of a paid dispense.
	AlreadyConsumed bool
}

// StakeResult describes a stake or unstake movement.
type StakeResult struct {
	Manager         crypto.Address
	AmountIn        *big.Int
	AmountOut       *big.Int
	StakedPrincipal *big.Int
}

// RedeemResult describes a redeem call. Owed is the remainder that could not
// be paid because the deposit vault lacked liquidity.
type RedeemResult struct {
	Manager crypto.Address
	Ticket  crypto.Address
	Paid    *big.Int
	Owed    *big.Int
}

// VaultBalances reports the custody balances of an instance.
type VaultBalances struct {
	Deposit         *big.Int
	Yield           *big.Int
	YieldValue      *big.Int
	StakedPrincipal *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
