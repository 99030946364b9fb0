package lottery

import (
	"errors"

	"lotterychain/native/bank"
	"lotterychain/native/common"
)

// Kind groups failures by how a caller should react to them.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation marks malformed input rejected before any mutation.
	KindValidation
	// KindLifecycle marks calls made in the wrong lifecycle state.
	KindLifecycle
	// KindDuplicateTicket marks a purchase of numbers already sold.
	KindDuplicateTicket
	// KindSoftMiss marks an expected, retryable dispense miss.
	KindSoftMiss
	// KindLiquidityShortfall marks conditions that clear once balances change.
	KindLiquidityShortfall
	// KindExternalDependency marks AMM or oracle failures.
	KindExternalDependency
	// KindInsufficientFunds marks a caller without enough deposit tokens.
	KindInsufficientFunds
	KindNotFound
	KindUnauthorized
	KindPaused
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindLifecycle:
		return "lifecycle_violation"
	case KindDuplicateTicket:
		return "duplicate_ticket"
	case KindSoftMiss:
		return "soft_miss"
	case KindLiquidityShortfall:
		return "liquidity_shortfall"
	case KindExternalDependency:
		return "external_dependency_failure"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Error is a classified lottery failure. Sentinels are compared with
// errors.Is and carry their Kind through any wrapping.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

func (e *Error) Error() string { return "lottery: " + e.msg }

var (
	ErrInvalidNumbers      = newError(KindValidation, "INVALID_NUMBERS", "invalid numbers")
	ErrInvalidTicketPrice  = newError(KindValidation, "INVALID_TICKET_PRICE", "ticket price must be positive")
	ErrInvalidDrawDuration = newError(KindValidation, "INVALID_DRAW_DURATION", "draw duration must be positive")
	ErrMaxNumberOutOfRange = newError(KindValidation, "MAX_NUMBER_OUT_OF_RANGE", "max number must be within 1..255")
	ErrInvalidParams       = newError(KindValidation, "INVALID_PARAMS", "invalid parameters")
	ErrInvalidRandomness   = newError(KindValidation, "INVALID_RANDOMNESS", "randomness payload too short")
	ErrLotteryExists       = newError(KindValidation, "LOTTERY_EXISTS", "lottery accounts already initialised")

	ErrDrawInProgress     = newError(KindLifecycle, "DRAW_IN_PROGRESS", "draw in progress, call dispense")
	ErrCutoffNotReached   = newError(KindLifecycle, "CUTOFF_NOT_REACHED", "cutoff time not reached")
	ErrAlreadyDrawn       = newError(KindLifecycle, "ALREADY_DRAWN", "lottery already drawn")
	ErrNoTicketsPurchased = newError(KindLifecycle, "NO_TICKETS_PURCHASED", "no live tickets to draw")
	ErrNotLocked          = newError(KindLifecycle, "NOT_LOCKED", "lottery has not been drawn")
	ErrAwaitingRandomness = newError(KindLifecycle, "AWAITING_RANDOMNESS", "randomness request still pending")
	ErrNotAwaiting        = newError(KindLifecycle, "NOT_AWAITING_RANDOMNESS", "no randomness request pending")
	ErrFallbackTooEarly   = newError(KindLifecycle, "FALLBACK_TOO_EARLY", "oracle wait has not elapsed")
	ErrUnknownRequest     = newError(KindLifecycle, "UNKNOWN_REQUEST", "unknown or superseded randomness request")

	ErrDuplicateTicket = newError(KindDuplicateTicket, "DUPLICATE_TICKET", "numbers already sold")

	ErrNoWinningTicket = newError(KindSoftMiss, "NO_WINNING_TICKET", "no ticket for candidate numbers")
	ErrNumbersMismatch = newError(KindSoftMiss, "NUMBERS_MISMATCH", "candidate numbers do not match winning numbers")

	ErrInsufficientReserve   = newError(KindLiquidityShortfall, "INSUFFICIENT_RESERVE", "deposit vault does not exceed the reserve floor")
	ErrInsufficientLiquidity = newError(KindLiquidityShortfall, "INSUFFICIENT_LIQUIDITY", "deposit vault has no liquidity to settle")
	ErrBuyerQuotaExceeded    = newError(KindLiquidityShortfall, "BUYER_QUOTA_EXCEEDED", "buyer ticket quota exceeded for this epoch")

	ErrLiquidityUnavailable = newError(KindExternalDependency, "LIQUIDITY_UNAVAILABLE", "amm liquidity unavailable")
	ErrOracleUnavailable    = newError(KindExternalDependency, "ORACLE_UNAVAILABLE", "randomness oracle unavailable")
	ErrOracleNotConfigured  = newError(KindExternalDependency, "ORACLE_NOT_CONFIGURED", "randomness oracle not configured")
	ErrEntropyUnavailable   = newError(KindExternalDependency, "ENTROPY_UNAVAILABLE", "local entropy source failed")

	ErrAlreadyRedeemed = newError(KindLifecycle, "ALREADY_REDEEMED", "ticket already redeemed")

	ErrLotteryNotFound = newError(KindNotFound, "LOTTERY_NOT_FOUND", "lottery not found")
	ErrTicketNotFound  = newError(KindNotFound, "TICKET_NOT_FOUND", "ticket not found")

	ErrNotTicketHolder = newError(KindUnauthorized, "NOT_TICKET_HOLDER", "caller does not hold the ticket")
	ErrUnauthorized    = newError(KindUnauthorized, "UNAUTHORIZED", "caller is not the lottery authority")
)

// KindOf classifies err. Errors from collaborators are mapped onto the
// lottery taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	switch {
	case errors.Is(err, bank.ErrInsufficientBalance):
		return KindInsufficientFunds
	case errors.Is(err, common.ErrModulePaused):
		return KindPaused
	case errors.Is(err, bank.ErrMintNotFound):
		return KindNotFound
	}
	return KindUnknown
}

// CodeOf returns the stable code of a classified error.
func CodeOf(err error) string {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Code
	}
	switch KindOf(err) {
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case KindPaused:
		return "MODULE_PAUSED"
	case KindNotFound:
		return "NOT_FOUND"
	}
	return "INTERNAL"
}
