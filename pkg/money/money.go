package money

import (
	"errors"
	"fmt"
	"strings"
)

// Domain-level error values returned by money arithmetic.
var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrDivisionByZero   = errors.New("division by zero")
	ErrNegativeAmount   = errors.New("negative amount")
	ErrOutOfRange       = errors.New("value out of range")
	ErrInvalidCurrency  = errors.New("invalid currency code")
)

// Money is an immutable amount in integer minor units of a single currency.
// All arithmetic is exact; there is no floating point anywhere.
type Money struct {
	amountMinor int64
	currency    string
}

// New validates and constructs a Money value. Currency codes are upper-cased
// ISO 4217 alphabetic codes; amounts are minor units (cents) and must not be
// negative.
func New(amountMinor int64, currency string) (Money, error) {
	normalized := strings.ToUpper(strings.TrimSpace(currency))
	if len(normalized) != 3 {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	if amountMinor < 0 {
		return Money{}, fmt.Errorf("%w: %d", ErrNegativeAmount, amountMinor)
	}
	return Money{amountMinor: amountMinor, currency: normalized}, nil
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) (Money, error) {
	return New(0, currency)
}

// AmountMinor returns the amount in minor units.
func (value Money) AmountMinor() int64 {
	return value.amountMinor
}

// Currency returns the ISO 4217 currency code.
func (value Money) Currency() string {
	return value.currency
}

// IsZero reports whether the amount is zero.
func (value Money) IsZero() bool {
	return value.amountMinor == 0
}

// IsPositive reports whether the amount is strictly positive.
func (value Money) IsPositive() bool {
	return value.amountMinor > 0
}

// Add returns the sum of two amounts of the same currency.
func (value Money) Add(other Money) (Money, error) {
	if err := value.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amountMinor: value.amountMinor + other.amountMinor, currency: value.currency}, nil
}

// Subtract returns the difference of two amounts of the same currency.
// The result must not go below zero.
func (value Money) Subtract(other Money) (Money, error) {
	if err := value.sameCurrency(other); err != nil {
		return Money{}, err
	}
	remaining := value.amountMinor - other.amountMinor
	if remaining < 0 {
		return Money{}, fmt.Errorf("%w: %d - %d", ErrNegativeAmount, value.amountMinor, other.amountMinor)
	}
	return Money{amountMinor: remaining, currency: value.currency}, nil
}

// Compare orders two amounts of the same currency: -1, 0, or +1.
func (value Money) Compare(other Money) (int, error) {
	if err := value.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case value.amountMinor < other.amountMinor:
		return -1, nil
	case value.amountMinor > other.amountMinor:
		return 1, nil
	default:
		return 0, nil
	}
}

// DivideBy splits the amount into one of divisor equal shares, rounding
// half-to-even to the minor unit. The operation is lossy: summing divisor
// shares approximates, but need not equal, the original amount.
func (value Money) DivideBy(divisor int64) (Money, error) {
	if divisor == 0 {
		return Money{}, fmt.Errorf("%w: %s / 0", ErrDivisionByZero, value)
	}
	if divisor < 0 {
		return Money{}, fmt.Errorf("%w: negative divisor %d", ErrOutOfRange, divisor)
	}
	return Money{amountMinor: roundHalfEven(value.amountMinor, divisor), currency: value.currency}, nil
}

// Percent returns percent% of the amount, rounding half-to-even to the
// minor unit. Percent must lie in [0,100].
func (value Money) Percent(percent int) (Money, error) {
	if percent < 0 || percent > 100 {
		return Money{}, fmt.Errorf("%w: percent %d", ErrOutOfRange, percent)
	}
	return Money{amountMinor: roundHalfEven(value.amountMinor*int64(percent), 100), currency: value.currency}, nil
}

// String renders the amount as minor units plus currency, for logs only.
func (value Money) String() string {
	return fmt.Sprintf("%d %s", value.amountMinor, value.currency)
}

func (value Money) sameCurrency(other Money) error {
	if value.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, value.currency, other.currency)
	}
	return nil
}

// roundHalfEven divides numerator by denominator with banker's rounding.
// Both operands are non-negative by the time this is called.
func roundHalfEven(numerator int64, denominator int64) int64 {
	quotient := numerator / denominator
	remainder := numerator % denominator
	doubled := remainder * 2
	if doubled < denominator {
		return quotient
	}
	if doubled > denominator {
		return quotient + 1
	}
	// Exactly halfway: round to the even neighbour.
	if quotient%2 == 0 {
		return quotient
	}
	return quotient + 1
}
