package bigmath

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/shopspring/decimal"
)

// Average sums the values as integers and divides by the count, rounding up.
// A nil or empty slice fails with ErrInvalidArgument; a value with a fraction fails
// with ErrPrecision.
func Average[T any](values []T) (*big.Int, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: average of an empty sequence", ErrInvalidArgument)
	}
	sum := new(big.Int)
	for _, v := range values {
		n, err := ToBigInt(v)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, n)
	}
	return quoAway(sum, big.NewInt(int64(len(values)))), nil
}

// SortAscending sorts values in place by numeric value. Values are compared exactly,
// never subtracted, so magnitudes beyond int64 or float64 range order correctly.
func SortAscending[T any](values []T) error {
	return sortBy(values, 1)
}

// SortDescending sorts values in place, largest first.
func SortDescending[T any](values []T) error {
	return sortBy(values, -1)
}

func sortBy[T any](values []T, dir int) error {
	ds, err := parseAll(values)
	if err != nil {
		return err
	}
	type keyed struct {
		v T
		d decimal.Decimal
	}
	ks := make([]keyed, len(values))
	for i := range values {
		ks[i] = keyed{v: values[i], d: ds[i]}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		return dir * a.d.Cmp(b.d)
	})
	for i := range ks {
		values[i] = ks[i].v
	}
	return nil
}
