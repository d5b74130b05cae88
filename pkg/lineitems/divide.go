package lineitems

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// ErrBadQuantization is returned when an amount carries more precision
// than the requested quantization allows.
var ErrBadQuantization = errors.New("lineitems: amount is improperly quantized")

// DivideAmount splits an already-quantized amount into divisor shares as
// equal as the quantization allows, spreading any remainder one quantum
// at a time. The shares sum to the amount exactly.
func DivideAmount(amount *apd.Decimal, divisor int, quantization uint32) ([]*apd.Decimal, error) {
	if divisor <= 0 {
		return nil, errors.New("lineitems: cannot divide by zero")
	}
	if amount.Cmp(quantize(amount, quantization)) != 0 {
		return nil, fmt.Errorf("%w: %s at %d places", ErrBadQuantization, amount, quantization)
	}
	ctx := calcContext()
	factor := apd.New(int64(divisor), 0)
	target := new(apd.Decimal)
	if _, err := ctx.Quo(target, amount, factor); err != nil {
		return nil, err
	}
	target = quantize(target, quantization)

	allocated := new(apd.Decimal)
	if _, err := ctx.Mul(allocated, target, factor); err != nil {
		return nil, err
	}
	difference := new(apd.Decimal)
	if _, err := ctx.Sub(difference, amount, quantize(allocated, quantization)); err != nil {
		return nil, err
	}
	step := quantum(quantization)
	if difference.Sign() < 0 {
		step.Neg(step)
	}

	shares := make([]*apd.Decimal, divisor)
	for i := range shares {
		shares[i] = new(apd.Decimal).Set(target)
	}
	for !difference.IsZero() {
		for i := range shares {
			if difference.IsZero() {
				break
			}
			if _, err := ctx.Add(shares[i], shares[i], step); err != nil {
				return nil, err
			}
			if _, err := ctx.Sub(difference, difference, step); err != nil {
				return nil, err
			}
		}
	}
	return shares, nil
}

// Sum adds decimal strings, for callers aggregating wire amounts without
// running a full calculation.
func Sum(amounts []string) (*apd.Decimal, error) {
	ctx := calcContext()
	total := apd.New(0, 0)
	for _, raw := range amounts {
		value, err := parseDecimal(raw)
		if err != nil {
			return nil, err
		}
		if _, err := ctx.Add(total, total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// SumValues adds resolved subtotal values, e.g. to total particular line
// kinds out of a calculation.
func SumValues(values []*apd.Decimal) *apd.Decimal {
	ctx := calcContext()
	total := apd.New(0, 0)
	for _, value := range values {
		_, _ = ctx.Add(total, total, value)
	}
	return total
}

// TotalForKinds sums the resolved values of all lines of the given kinds,
// quantized.
func TotalForKinds(totals *Totals, lines []LineItem, quantization uint32, kinds ...Kind) *apd.Decimal {
	wanted := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	var relevant []*apd.Decimal
	for _, line := range lines {
		if !wanted[line.Kind] {
			continue
		}
		if value, ok := totals.Subtotals[line.ID]; ok {
			relevant = append(relevant, value)
		}
	}
	return quantize(SumValues(relevant), quantization)
}
