package comptroller

import (
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"
)

var (
	expScale     = uint256.NewInt(1e18)
	doubleScale  = new(uint256.Int).Mul(expScale, expScale)
	maxUint224   = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 224), uint256.NewInt(1))
	initialIndex = Double{m: *doubleScale}

	closeFactorMin          = mustExp("50000000000000000")
	closeFactorMax          = mustExp("900000000000000000")
	collateralFactorMax     = mustExp("900000000000000000")
	liquidationIncentiveMin = mustExp("1000000000000000000")
	liquidationIncentiveMax = mustExp("1500000000000000000")
	fullReserveFactor       = mustExp("1000000000000000000")
)

// Exp is an unsigned fixed-point number scaled by 1e18.
type Exp struct {
	m uint256.Int
}

// Double is an unsigned fixed-point number scaled by 1e36. Reward indices use
// it so per-unit increments on large supplies keep precision.
type Double struct {
	m uint256.Int
}

// NewExp wraps a raw 1e18-scaled mantissa. A nil mantissa is zero.
func NewExp(mantissa *uint256.Int) Exp {
	var e Exp
	if mantissa != nil {
		e.m.Set(mantissa)
	}
	return e
}

// ExpFromUint64 wraps a small raw mantissa.
func ExpFromUint64(mantissa uint64) Exp {
	var e Exp
	e.m.SetUint64(mantissa)
	return e
}

// ParseExp parses a base-10 mantissa string such as "500000000000000000"
// (0.5).
func ParseExp(s string) (Exp, error) {
	amount, err := ParseAmount(s)
	if err != nil {
		return Exp{}, err
	}
	return NewExp(amount), nil
}

func mustExp(s string) Exp {
	e, err := ParseExp(s)
	if err != nil {
		panic(err)
	}
	return e
}

// ParseAmount parses a non-negative base-10 integer that fits in 256 bits.
// Empty input is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return amount, nil
}

// Mantissa returns a copy of the scaled integer.
func (e Exp) Mantissa() *uint256.Int { return new(uint256.Int).Set(&e.m) }

func (e Exp) IsZero() bool { return e.m.IsZero() }

func (e Exp) Cmp(other Exp) int { return e.m.Cmp(&other.m) }

// String renders the mantissa in base 10.
func (e Exp) String() string { return e.m.Dec() }

// MarshalText encodes the mantissa as a decimal string.
func (e Exp) MarshalText() ([]byte, error) { return []byte(e.m.Dec()), nil }

func (e *Exp) UnmarshalText(text []byte) error {
	parsed, err := ParseExp(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Mantissa returns a copy of the scaled integer.
func (d Double) Mantissa() *uint256.Int { return new(uint256.Int).Set(&d.m) }

func (d Double) IsZero() bool { return d.m.IsZero() }

func (d Double) Cmp(other Double) int { return d.m.Cmp(&other.m) }

func (d Double) String() string { return d.m.Dec() }

// NewDouble wraps a raw 1e36-scaled mantissa.
func NewDouble(mantissa *uint256.Int) Double {
	var d Double
	if mantissa != nil {
		d.m.Set(mantissa)
	}
	return d
}

// InitialIndex is the reward index assigned when a market is first seeded.
func InitialIndex() Double { return initialIndex }

// --- checked integer primitives ---

func add(a, b *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		abort(MathError, "addition overflow")
	}
	return out
}

func sub(a, b *uint256.Int) *uint256.Int {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		abort(MathError, "subtraction underflow")
	}
	return out
}

func mul(a, b *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		abort(MathError, "multiplication overflow")
	}
	return out
}

func div(a, b *uint256.Int) *uint256.Int {
	if b.IsZero() {
		abort(MathError, "division by zero")
	}
	return new(uint256.Int).Div(a, b)
}

// --- fixed point ---

func mulExp(a, b Exp) Exp {
	return Exp{m: *div(mul(&a.m, &b.m), expScale)}
}

func mulExp3(a, b, c Exp) Exp {
	return mulExp(mulExp(a, b), c)
}

func divExp(a, b Exp) Exp {
	return Exp{m: *div(mul(&a.m, expScale), &b.m)}
}

// mulScalarTruncate returns trunc(e * n).
func mulScalarTruncate(e Exp, n *uint256.Int) *uint256.Int {
	return div(mul(&e.m, n), expScale)
}

// mulScalarTruncateAdd returns trunc(e * n) + addend.
func mulScalarTruncateAdd(e Exp, n, addend *uint256.Int) *uint256.Int {
	return add(mulScalarTruncate(e, n), addend)
}

// divScalarByExp returns n / e as an integer, truncated.
func divScalarByExp(n *uint256.Int, e Exp) *uint256.Int {
	return div(mul(n, expScale), &e.m)
}

// fraction returns a / b as a Double.
func fraction(a, b *uint256.Int) Double {
	return Double{m: *div(mul(a, doubleScale), b)}
}

func addDouble(a, b Double) Double {
	return Double{m: *add(&a.m, &b.m)}
}

func subDouble(a, b Double) Double {
	return Double{m: *sub(&a.m, &b.m)}
}

// mulDoubleScalar returns trunc(n * d).
func mulDoubleScalar(n *uint256.Int, d Double) *uint256.Int {
	return div(mul(n, &d.m), doubleScale)
}

// safe224 aborts when the index leaves the 224-bit storage range.
func safe224(d Double) Double {
	if d.m.Gt(maxUint224) {
		abort(MathError, "reward index exceeds 224 bits")
	}
	return d
}

// safe32 aborts when a block height no longer fits the 32-bit checkpoint.
func safe32(height uint64) uint32 {
	if height > math.MaxUint32 {
		abort(MathError, "block number exceeds 32 bits")
	}
	return uint32(height)
}

func zero() *uint256.Int { return new(uint256.Int) }

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
