package lineitems

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/apd/v3"
)

// calcContext returns the arithmetic context for intermediate values.
// Precision is far beyond currency needs; quantization happens explicitly
// at the end.
func calcContext() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(50)
	return ctx
}

func quantizedZero(quantization uint32) *apd.Decimal {
	return apd.New(0, -int32(quantization))
}

// quantum returns one unit at the quantized scale: 0.01 for currency
// quantization 2.
func quantum(quantization uint32) *apd.Decimal {
	return apd.New(1, -int32(quantization))
}

// quantize truncates toward zero at the given number of decimal places,
// so 2.039 becomes 2.03 and -2.039 becomes -2.03.
func quantize(amount *apd.Decimal, quantization uint32) *apd.Decimal {
	ctx := calcContext()
	ctx.Rounding = apd.RoundDown
	out := new(apd.Decimal)
	// Quantize cannot fail at this precision with in-range exponents.
	_, _ = ctx.Quantize(out, amount, -int32(quantization))
	return out
}

// LinesByPriority groups lines into tiers of equal priority, ascending.
// Input order is preserved within a tier. A line whose CascadeUnder
// exceeds its own Priority is rejected.
func LinesByPriority(lines []LineItem) ([][]LineItem, error) {
	tiers := make(map[int][]LineItem)
	for _, line := range lines {
		if line.Priority < line.CascadeUnder {
			return nil, fmt.Errorf(
				"lineitems: line %d has higher cascade_under (%d) than priority (%d)",
				line.ID, line.CascadeUnder, line.Priority)
		}
		tiers[line.Priority] = append(tiers[line.Priority], line)
	}
	priorities := make([]int, 0, len(tiers))
	for priority := range tiers {
		priorities = append(priorities, priority)
	}
	sort.Ints(priorities)
	out := make([][]LineItem, 0, len(priorities))
	for _, priority := range priorities {
		out = append(out, tiers[priority])
	}
	return out, nil
}

// accumulator carries the fold state across priority tiers.
type accumulator struct {
	total     *apd.Decimal
	discount  *apd.Decimal
	subtotals map[int64]*apd.Decimal
	// lines remembers each seen line for priority lookups during
	// reduction distribution.
	lines map[int64]LineItem
}

// distributeReduction spreads an amount pulled out of lower-priority
// lines proportionally across them. Lines at or above cascadeUnder keep
// their value and shrink the proportionality base instead; negative lines
// never absorb reductions. A zero base splits the amount equally.
func distributeReduction(total, distributedAmount *apd.Decimal, cascadeUnder int, acc *accumulator, belowPriority int) (map[int64]*apd.Decimal, error) {
	ctx := calcContext()
	reductions := make(map[int64]*apd.Decimal)
	applicable := make(map[int64]*apd.Decimal)
	proxyTotal := new(apd.Decimal).Set(total)
	for id, value := range acc.subtotals {
		line := acc.lines[id]
		if line.Priority >= belowPriority {
			continue
		}
		if line.Priority < cascadeUnder {
			applicable[id] = value
		} else {
			// Sheltered from the cascade; percentage allocations must
			// stay proportional to what remains.
			if _, err := ctx.Sub(proxyTotal, proxyTotal, value); err != nil {
				return nil, fmt.Errorf("lineitems: reducing proxy total: %w", err)
			}
		}
	}
	for id, original := range applicable {
		if original.Sign() < 0 {
			continue
		}
		multiplier := new(apd.Decimal)
		if total.IsZero() {
			denominator := apd.New(int64(len(applicable)), 0)
			if _, err := ctx.Quo(multiplier, apd.New(1, 0), denominator); err != nil {
				return nil, fmt.Errorf("lineitems: equal split: %w", err)
			}
		} else {
			if _, err := ctx.Quo(multiplier, original, proxyTotal); err != nil {
				return nil, fmt.Errorf("lineitems: proportional split: %w", err)
			}
		}
		reduction := new(apd.Decimal)
		if _, err := ctx.Mul(reduction, distributedAmount, multiplier); err != nil {
			return nil, fmt.Errorf("lineitems: scaling reduction: %w", err)
		}
		reductions[id] = reduction
	}
	return reductions, nil
}

// priorityTotal folds one tier into the accumulator. Percentage effects
// compute first against the pre-tier total, so percentages within a tier
// do not stack; static amounts join afterward.
func priorityTotal(acc *accumulator, tier []LineItem, quantization uint32) error {
	ctx := calcContext()
	zero := quantizedZero(quantization)
	one := apd.New(1, 0)
	preTierTotal := new(apd.Decimal).Set(acc.total)

	workingSubtotals := make(map[int64]*apd.Decimal)
	addOn := new(apd.Decimal).Set(zero)
	var reductions []map[int64]*apd.Decimal

	for _, line := range tier {
		lineAmount, err := parseDecimal(line.Amount)
		if err != nil {
			return err
		}
		cascaded := new(apd.Decimal).Set(zero)
		added := new(apd.Decimal).Set(zero)
		working := new(apd.Decimal)

		if line.FrozenValue != nil {
			// A finalized invoice re-runs with pinned values; no
			// percentage math happens.
			frozen, err := parseDecimal(*line.FrozenValue)
			if err != nil {
				return err
			}
			working.Set(frozen)
			if line.CascadeAmount {
				cascaded.Set(frozen)
			} else {
				added.Set(frozen)
			}
		} else {
			if line.CascadeAmount {
				if _, err := ctx.Add(cascaded, cascaded, lineAmount); err != nil {
					return err
				}
			} else {
				if _, err := ctx.Add(added, added, lineAmount); err != nil {
					return err
				}
			}
			percentage, err := parseDecimal(line.Percentage)
			if err != nil {
				return err
			}
			multiplier := new(apd.Decimal)
			if _, err := ctx.Mul(multiplier, apd.New(1, -2), percentage); err != nil {
				return err
			}
			if line.BackIntoPercentage {
				if line.CascadePercentage {
					// working = total / (1 + m) * m
					divisor := new(apd.Decimal)
					if _, err := ctx.Add(divisor, multiplier, one); err != nil {
						return err
					}
					if _, err := ctx.Quo(working, preTierTotal, divisor); err != nil {
						return err
					}
					if _, err := ctx.Mul(working, working, multiplier); err != nil {
						return err
					}
				} else {
					// working = initial/(1-m) - initial, with the
					// line's own static amount folded into initial.
					factor := new(apd.Decimal)
					if _, err := ctx.Sub(factor, one, multiplier); err != nil {
						return err
					}
					if _, err := ctx.Quo(factor, one, factor); err != nil {
						return err
					}
					initial := new(apd.Decimal).Set(preTierTotal)
					if !line.CascadeAmount {
						if _, err := ctx.Add(initial, initial, lineAmount); err != nil {
							return err
						}
					}
					if _, err := ctx.Mul(working, initial, factor); err != nil {
						return err
					}
					if _, err := ctx.Sub(working, working, initial); err != nil {
						return err
					}
				}
			} else {
				if _, err := ctx.Mul(working, preTierTotal, multiplier); err != nil {
					return err
				}
			}
			if line.CascadePercentage {
				if _, err := ctx.Add(cascaded, cascaded, working); err != nil {
					return err
				}
			} else {
				if _, err := ctx.Add(added, added, working); err != nil {
					return err
				}
			}
			if _, err := ctx.Add(working, working, lineAmount); err != nil {
				return err
			}
		}

		if !cascaded.IsZero() {
			base := new(apd.Decimal)
			if _, err := ctx.Sub(base, preTierTotal, acc.discount); err != nil {
				return err
			}
			// An unset CascadeUnder distributes into everything below the
			// line's own priority.
			cascadeUnder := line.CascadeUnder
			if cascadeUnder == 0 {
				cascadeUnder = line.Priority
			}
			reduction, err := distributeReduction(base, cascaded, cascadeUnder, acc, line.Priority)
			if err != nil {
				return err
			}
			reductions = append(reductions, reduction)
		}
		if !added.IsZero() {
			if _, err := ctx.Add(addOn, addOn, added); err != nil {
				return err
			}
		}
		workingSubtotals[line.ID] = working
		acc.lines[line.ID] = line
		if working.Sign() < 0 {
			if _, err := ctx.Add(acc.discount, acc.discount, working); err != nil {
				return err
			}
		}
	}

	for _, reduction := range reductions {
		for id, amount := range reduction {
			if _, err := ctx.Sub(acc.subtotals[id], acc.subtotals[id], amount); err != nil {
				return err
			}
		}
	}
	for id, working := range workingSubtotals {
		acc.subtotals[id] = working
	}
	if _, err := ctx.Add(acc.total, acc.total, quantize(addOn, quantization)); err != nil {
		return err
	}
	return nil
}

// toDistribute reports the leftover quanta between the quantized total
// and the sum of quantized subtotals.
func toDistribute(total *apd.Decimal, subtotals map[int64]*apd.Decimal, quantization uint32) (*apd.Decimal, error) {
	ctx := calcContext()
	combined := quantizedZero(quantization)
	for _, value := range subtotals {
		if _, err := ctx.Add(combined, combined, value); err != nil {
			return nil, err
		}
	}
	difference := new(apd.Decimal)
	if _, err := ctx.Sub(difference, total, combined); err != nil {
		return nil, err
	}
	return difference, nil
}

// distributeDifference hands leftover pennies to the lines closest to
// rolling over, cycling if a single pass is not enough. Additions go to
// positive lines, removals to negative ones; ties break by priority,
// amount, then ID.
func distributeDifference(difference *apd.Decimal, subtotals map[int64]*apd.Decimal, lines map[int64]LineItem, quantization uint32) error {
	ctx := calcContext()
	positive := difference.Sign() > 0
	type entry struct {
		line   LineItem
		amount *apd.Decimal
	}
	var candidates []entry
	zero := quantizedZero(quantization)
	for id, amount := range subtotals {
		if positive && amount.Cmp(zero) > 0 {
			candidates = append(candidates, entry{lines[id], amount})
		}
		if !positive && amount.Cmp(zero) < 0 {
			candidates = append(candidates, entry{lines[id], amount})
		}
	}
	if len(candidates) == 0 {
		return ErrNoDistributionTarget
	}
	// Reverse order of application: the loop below consumes from the
	// back of the slice.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.line.Priority != b.line.Priority {
			if positive {
				return a.line.Priority < b.line.Priority
			}
			return b.line.Priority < a.line.Priority
		}
		if c := a.amount.Cmp(b.amount); c != 0 {
			return c > 0
		}
		return b.line.ID < a.line.ID
	})

	step := quantum(quantization)
	if !positive {
		step.Neg(step)
	}
	remaining := new(apd.Decimal).Set(difference)
	idx := len(candidates) - 1
	for !remaining.IsZero() {
		target := candidates[idx].line.ID
		if _, err := ctx.Add(subtotals[target], subtotals[target], step); err != nil {
			return err
		}
		if _, err := ctx.Sub(remaining, remaining, step); err != nil {
			return err
		}
		idx--
		if idx < 0 {
			idx = len(candidates) - 1
		}
	}
	return nil
}

// GetTotals resolves every line's value. Total is clamped at zero for
// charging; RawTotal keeps the sign. Subtotals are quantized and
// penny-corrected so they sum to RawTotal exactly.
func GetTotals(lines []LineItem, quantization uint32) (*Totals, error) {
	tiers, err := LinesByPriority(lines)
	if err != nil {
		return nil, err
	}
	acc := &accumulator{
		total:     quantizedZero(quantization),
		discount:  quantizedZero(quantization),
		subtotals: make(map[int64]*apd.Decimal),
		lines:     make(map[int64]LineItem),
	}
	for _, tier := range tiers {
		if err := priorityTotal(acc, tier, quantization); err != nil {
			return nil, err
		}
	}
	for id, value := range acc.subtotals {
		acc.subtotals[id] = quantize(value, quantization)
	}
	difference, err := toDistribute(acc.total, acc.subtotals, quantization)
	if err != nil {
		return nil, err
	}
	if !difference.IsZero() {
		if err := distributeDifference(difference, acc.subtotals, acc.lines, quantization); err != nil {
			return nil, err
		}
	}
	total := new(apd.Decimal).Set(acc.total)
	if total.Sign() < 0 {
		total = quantizedZero(quantization)
	}
	return &Totals{
		Total:     total,
		RawTotal:  acc.total,
		Discount:  quantize(acc.discount, quantization),
		Subtotals: acc.subtotals,
	}, nil
}

// ReckonLines resolves the lines and returns only the chargeable total.
func ReckonLines(lines []LineItem, quantization uint32) (*apd.Decimal, error) {
	totals, err := GetTotals(lines, quantization)
	if err != nil {
		return nil, err
	}
	return totals.Total, nil
}
