package comptroller

import (
	"errors"
	"fmt"
)

// Code enumerates the comptroller failure kinds.
type Code int

const (
	NoError Code = iota
	Unauthorized
	NotListed
	AlreadyListed
	PriceUnavailable
	SnapshotUnavailable
	InsufficientLiquidity
	InsufficientShortfall
	TooMuchRepay
	BorrowCapExceeded
	RegistryMismatch
	Paused
	InvalidParameter
	TooManyAssets
	NonzeroBorrowBalance
	ExitMarketRejection
	InsufficientRewards
	MathError
	InvariantViolation
	CollaboratorFailure
	StorageFailure
)

var codeNames = map[Code]string{
	NoError:               "no_error",
	Unauthorized:          "unauthorized",
	NotListed:             "not_listed",
	AlreadyListed:         "already_listed",
	PriceUnavailable:      "price_unavailable",
	SnapshotUnavailable:   "snapshot_unavailable",
	InsufficientLiquidity: "insufficient_liquidity",
	InsufficientShortfall: "insufficient_shortfall",
	TooMuchRepay:          "too_much_repay",
	BorrowCapExceeded:     "borrow_cap_exceeded",
	RegistryMismatch:      "registry_mismatch",
	Paused:                "paused",
	InvalidParameter:      "invalid_parameter",
	TooManyAssets:         "too_many_assets",
	NonzeroBorrowBalance:  "nonzero_borrow_balance",
	ExitMarketRejection:   "exit_market_rejection",
	InsufficientRewards:   "insufficient_rewards",
	MathError:             "math_error",
	InvariantViolation:    "invariant_violation",
	CollaboratorFailure:   "collaborator_failure",
	StorageFailure:        "storage_failure",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is the typed failure returned by every comptroller entry point.
// Recoverable errors leave state untouched and are meant to be handled by the
// calling market. Fatal errors abort the whole call.
type Error struct {
	Code  Code
	Fatal bool
	Info  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := "comptroller: "
	if e.Fatal {
		prefix = "comptroller: fatal: "
	}
	if e.Info == "" {
		return prefix + e.Code.String()
	}
	return prefix + e.Code.String() + ": " + e.Info
}

// Is matches any *Error with the same code so package sentinels work with
// errors.Is regardless of the attached detail.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

var (
	ErrUnauthorized          = &Error{Code: Unauthorized}
	ErrNotListed             = &Error{Code: NotListed}
	ErrAlreadyListed         = &Error{Code: AlreadyListed}
	ErrPriceUnavailable      = &Error{Code: PriceUnavailable}
	ErrSnapshotUnavailable   = &Error{Code: SnapshotUnavailable}
	ErrInsufficientLiquidity = &Error{Code: InsufficientLiquidity}
	ErrInsufficientShortfall = &Error{Code: InsufficientShortfall}
	ErrTooMuchRepay          = &Error{Code: TooMuchRepay}
	ErrBorrowCapExceeded     = &Error{Code: BorrowCapExceeded}
	ErrRegistryMismatch      = &Error{Code: RegistryMismatch}
	ErrPaused                = &Error{Code: Paused}
	ErrInvalidParameter      = &Error{Code: InvalidParameter}
	ErrTooManyAssets         = &Error{Code: TooManyAssets}
	ErrNonzeroBorrowBalance  = &Error{Code: NonzeroBorrowBalance}
	ErrExitMarketRejection   = &Error{Code: ExitMarketRejection}
	ErrInsufficientRewards   = &Error{Code: InsufficientRewards}
	ErrMath                  = &Error{Code: MathError}
	ErrInvariantViolation    = &Error{Code: InvariantViolation}
	ErrCollaboratorFailure   = &Error{Code: CollaboratorFailure}
	ErrStorageFailure        = &Error{Code: StorageFailure}
)

// ErrNotInitialized is returned when an operation runs before Initialize.
var ErrNotInitialized = errors.New("comptroller: parameters not initialised")

// ErrAlreadyInitialized is returned by a second Initialize call.
var ErrAlreadyInitialized = errors.New("comptroller: already initialised")

func fail(code Code, format string, args ...any) error {
	return &Error{Code: code, Info: fmt.Sprintf(format, args...)}
}

// abort raises a fatal error. The call boundary in Engine.execute recovers it,
// discards every buffered write and returns the error to the caller.
func abort(code Code, format string, args ...any) {
	panic(&Error{Code: code, Fatal: true, Info: fmt.Sprintf(format, args...)})
}

// CodeOf extracts the failure code from err. Nil maps to NoError and foreign
// errors map to StorageFailure.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return StorageFailure
}

// IsFatal reports whether err aborted the call rather than denying it.
func IsFatal(err error) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Fatal
	}
	return err != nil
}
