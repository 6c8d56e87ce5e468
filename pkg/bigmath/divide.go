package bigmath

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// operands brings a/b onto a common scale so that a/b == A/B for integers A and B.
func operands(numerator, denominator any) (a, b decimal.Decimal, A, B *big.Int, err error) {
	if a, err = parse(numerator); err != nil {
		return
	}
	if b, err = parse(denominator); err != nil {
		return
	}
	if b.IsZero() {
		err = fmt.Errorf("%w: division by zero", ErrInvalidArgument)
		return
	}
	p := maxDecimals(a, b)
	return a, b, scaled(a, p), scaled(b, p), nil
}

// DivideExact divides numerator by denominator and returns a decimal string whose
// fraction is truncated (never rounded).
//
// With an explicit precision the result keeps that many fractional digits. Without one,
// the precision is the largest number of fractional digits present in either operand;
// when both are integers the result keeps DefaultDivisionDigits significant digits, so
// DivideExact(10, 3) is "3.333333333333333" and DivideExact(1, 300) is
// "0.003333333333333333". Trailing fractional zeros are dropped.
func DivideExact(numerator, denominator any, precision ...int) (string, error) {
	a, b, A, B, err := operands(numerator, denominator)
	if err != nil {
		return "", err
	}

	if len(precision) > 0 {
		if precision[0] < 0 {
			return "", fmt.Errorf("%w: negative precision %d", ErrInvalidArgument, precision[0])
		}
		digits := int64(precision[0])
		return formatScaled(quoScaled(A, B, digits), digits), nil
	}

	if digits := int64(maxDecimals(a, b)); digits > 0 {
		return formatScaled(quoScaled(A, B, digits), digits), nil
	}

	keep := significantFractionDigits(A, B)
	return formatScaled(quoScaled(A, B, keep), keep), nil
}

// significantFractionDigits returns how many fractional digits of A/B hold
// DefaultDivisionDigits significant digits. Leading zeros of a quotient below one
// do not count.
func significantFractionDigits(A, B *big.Int) int64 {
	if A.Sign() == 0 {
		return 0
	}
	if intPart := new(big.Int).Quo(A, B); intPart.Sign() != 0 {
		intDigits := int64(len(intPart.Abs(intPart).String()))
		return max(0, DefaultDivisionDigits-intDigits)
	}
	zeros := int64(0)
	for quoScaled(A, B, zeros+1).Sign() == 0 {
		zeros++
	}
	return zeros + DefaultDivisionDigits
}

// DivideCeil divides and rounds any nonzero remainder away from zero.
func DivideCeil(numerator, denominator any) (*big.Int, error) {
	_, _, A, B, err := operands(numerator, denominator)
	if err != nil {
		return nil, err
	}
	return quoAway(A, B), nil
}

// DivideFloor divides and drops any remainder, truncating toward zero.
func DivideFloor(numerator, denominator any) (*big.Int, error) {
	_, _, A, B, err := operands(numerator, denominator)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Quo(A, B), nil
}

// quoScaled returns trunc(A * 10^digits / B).
func quoScaled(A, B *big.Int, digits int64) *big.Int {
	n := new(big.Int).Mul(A, pow10(digits))
	return n.Quo(n, B)
}

// quoAway returns A/B rounded away from zero when inexact.
func quoAway(A, B *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(A, B, new(big.Int))
	if r.Sign() == 0 {
		return q
	}
	if (A.Sign() < 0) != (B.Sign() < 0) {
		return q.Sub(q, bigOne)
	}
	return q.Add(q, bigOne)
}

// formatScaled renders q / 10^digits as a plain decimal string.
func formatScaled(q *big.Int, digits int64) string {
	if q.Sign() == 0 {
		return "0"
	}
	s := new(big.Int).Abs(q).String()
	if digits > 0 {
		if pad := int(digits) + 1 - len(s); pad > 0 {
			s = strings.Repeat("0", pad) + s
		}
		cut := len(s) - int(digits)
		frac := strings.TrimRight(s[cut:], "0")
		s = s[:cut]
		if frac != "" {
			s += "." + frac
		}
	}
	if q.Sign() < 0 {
		return "-" + s
	}
	return s
}
