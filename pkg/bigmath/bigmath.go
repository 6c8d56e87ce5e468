// Package bigmath provides exact arithmetic over mixed numeric representations:
// *big.Int, decimal strings, decimal.Decimal and native Go numbers.
//
// Inputs are parsed into exact decimals before any arithmetic happens, so a float64
// such as 1.4 is treated as the decimal 1.4 (its shortest round-trip form) and never
// as its binary approximation.
package bigmath

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidArgument is returned for inputs of the wrong shape (unsupported type,
	// empty sequence, division by zero).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPrecision is returned for malformed numeric literals and for values that
	// cannot be represented exactly where an integer is required.
	ErrPrecision = errors.New("malformed numeric value")
)

// DefaultDivisionDigits is the number of significant digits DivideExact keeps when no
// precision is given and neither operand carries a fraction.
const DefaultDivisionDigits = 16

var (
	bigOne = big.NewInt(1)
	bigTen = big.NewInt(10)
)

// parse converts a supported value into an exact decimal.
func parse(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case *decimal.Decimal:
		if x == nil {
			return decimal.Decimal{}, fmt.Errorf("%w: nil decimal", ErrInvalidArgument)
		}
		return *x, nil
	case *big.Int:
		if x == nil {
			return decimal.Decimal{}, fmt.Errorf("%w: nil big.Int", ErrInvalidArgument)
		}
		return decimal.NewFromBigInt(x, 0), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint32:
		return decimal.NewFromInt(int64(x)), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0), nil
	case float32:
		return parseFloat(float64(x), 32)
	case float64:
		return parseFloat(x, 64)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrPrecision, x, err)
		}
		return d, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unsupported numeric type %T", ErrInvalidArgument, v)
	}
}

func parseFloat(f float64, bits int) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPrecision, f)
	}
	return decimal.NewFromString(strconv.FormatFloat(f, 'f', -1, bits))
}

func parseAll[T any](values []T) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := parse(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// decimals is the number of fractional digits carried by d.
func decimals(d decimal.Decimal) int32 {
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

func maxDecimals(ds ...decimal.Decimal) int32 {
	var p int32
	for _, d := range ds {
		p = max(p, decimals(d))
	}
	return p
}

// scaled returns d * 10^p as an integer. p must be >= decimals(d).
func scaled(d decimal.Decimal, p int32) *big.Int {
	return d.Shift(p).BigInt()
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(n), nil)
}

func isIntegral(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// Parse returns the exact decimal form of v.
func Parse(v any) (decimal.Decimal, error) {
	return parse(v)
}

// ToBigInt coerces v to an integer. Values with a nonzero fraction fail with ErrPrecision.
func ToBigInt(v any) (*big.Int, error) {
	d, err := parse(v)
	if err != nil {
		return nil, err
	}
	if !isIntegral(d) {
		return nil, fmt.Errorf("%w: %s is not an integer", ErrPrecision, d.String())
	}
	return d.BigInt(), nil
}

// Compare returns -1, 0 or 1 as a is less than, equal to or greater than b.
func Compare(a, b any) (int, error) {
	x, err := parse(a)
	if err != nil {
		return 0, err
	}
	y, err := parse(b)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// Sum adds all values exactly.
func Sum(values ...any) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		d, err := parse(v)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(d)
	}
	return total, nil
}

// Max returns the largest value in its original representation. Ties keep the first seen.
func Max(values ...any) (any, error) {
	return pick(values, 1)
}

// Min returns the smallest value in its original representation. Ties keep the first seen.
func Min(values ...any) (any, error) {
	return pick(values, -1)
}

func pick(values []any, want int) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrInvalidArgument)
	}
	ds, err := parseAll(values)
	if err != nil {
		return nil, err
	}
	best := 0
	for i := 1; i < len(ds); i++ {
		if ds[i].Cmp(ds[best]) == want {
			best = i
		}
	}
	return values[best], nil
}

// Abs returns |v| in the representation v was given in. The most negative value of a
// signed integer type has no positive counterpart in that type and comes back as a *big.Int.
func Abs(v any) (any, error) {
	d, err := parse(v)
	if err != nil {
		return nil, err
	}
	if d.Sign() >= 0 {
		return v, nil
	}
	switch x := v.(type) {
	case *big.Int:
		return new(big.Int).Abs(x), nil
	case int:
		if x == math.MinInt {
			return new(big.Int).Neg(big.NewInt(int64(x))), nil
		}
		return -x, nil
	case int32:
		if x == math.MinInt32 {
			return new(big.Int).Neg(big.NewInt(int64(x))), nil
		}
		return -x, nil
	case int64:
		if x == math.MinInt64 {
			return new(big.Int).Neg(big.NewInt(x)), nil
		}
		return -x, nil
	case float32:
		return -x, nil
	case float64:
		return -x, nil
	case string:
		return strings.TrimPrefix(strings.TrimSpace(x), "-"), nil
	default:
		return d.Abs(), nil
	}
}
