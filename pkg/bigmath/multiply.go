package bigmath

import (
	"fmt"
	"math/big"
)

type rounding int

const (
	roundHalfAway rounding = iota
	roundTowardZero
	roundAwayFromZero
)

// MultiplyRound multiplies all values and rounds half away from zero: MultiplyRound(2, 1.4) is 3.
func MultiplyRound(values ...any) (*big.Int, error) {
	return multiply(values, roundHalfAway)
}

// MultiplyFloor multiplies all values and truncates toward zero: MultiplyFloor(2, 1.4) is 2.
func MultiplyFloor(values ...any) (*big.Int, error) {
	return multiply(values, roundTowardZero)
}

// MultiplyCeil multiplies all values and rounds any remainder away from zero, so the
// magnitude never shrinks: MultiplyCeil(1, 1.1) is 2 and MultiplyCeil(-1, 1.1) is -2.
func MultiplyCeil(values ...any) (*big.Int, error) {
	return multiply(values, roundAwayFromZero)
}

// multiply scales every operand to the largest precision found among all of them,
// multiplies the integers and scales the product back down once.
func multiply(values []any, mode rounding) (*big.Int, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: nothing to multiply", ErrInvalidArgument)
	}
	ds, err := parseAll(values)
	if err != nil {
		return nil, err
	}

	p := maxDecimals(ds...)
	product := big.NewInt(1)
	for _, d := range ds {
		product.Mul(product, scaled(d, p))
	}
	if p == 0 {
		return product, nil
	}

	divisor := pow10(int64(p) * int64(len(ds)))
	q, r := new(big.Int).QuoRem(product, divisor, new(big.Int))
	if r.Sign() == 0 {
		return q, nil
	}

	away := false
	switch mode {
	case roundAwayFromZero:
		away = true
	case roundHalfAway:
		twice := new(big.Int).Abs(r)
		twice.Lsh(twice, 1)
		away = twice.Cmp(divisor) >= 0
	}
	if !away {
		return q, nil
	}
	if product.Sign() < 0 {
		return q.Sub(q, bigOne), nil
	}
	return q.Add(q, bigOne), nil
}
