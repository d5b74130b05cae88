package lineitems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertShares(t *testing.T, amount string, divisor int, quantization uint32, want []string) {
	t.Helper()
	shares, err := DivideAmount(dec(t, amount), divisor, quantization)
	require.NoError(t, err)
	require.Len(t, shares, len(want))
	for i, expected := range want {
		if shares[i].Cmp(dec(t, expected)) != 0 {
			t.Fatalf("share %d of %s/%d: got %s, want %s", i, amount, divisor, shares[i], expected)
		}
	}
}

func TestDivideAmount(t *testing.T) {
	assertShares(t, "10", 3, 2, []string{"3.34", "3.33", "3.33"})
	assertShares(t, "10.01", 3, 2, []string{"3.34", "3.34", "3.33"})
	assertShares(t, "10.02", 3, 2, []string{"3.34", "3.34", "3.34"})
	assertShares(t, "10.03", 3, 2, []string{"3.35", "3.34", "3.34"})
}

func TestDivideWholeUnits(t *testing.T) {
	assertShares(t, "10000", 3, 0, []string{"3334", "3333", "3333"})
	assertShares(t, "10001", 3, 0, []string{"3334", "3334", "3333"})
	assertShares(t, "10003", 3, 0, []string{"3335", "3334", "3334"})
}

func TestDivideNegativeAmount(t *testing.T) {
	assertShares(t, "-10", 3, 2, []string{"-3.34", "-3.33", "-3.33"})
}

func TestDivideImproperlyQuantized(t *testing.T) {
	_, err := DivideAmount(dec(t, "10.001"), 3, 2)
	require.ErrorIs(t, err, ErrBadQuantization)
}

func TestDivideByZero(t *testing.T) {
	_, err := DivideAmount(dec(t, "10.00"), 0, 2)
	require.Error(t, err)
}

func TestSum(t *testing.T) {
	total, err := Sum([]string{"5.00", "10.00", "2.56"})
	require.NoError(t, err)
	assertDec(t, "17.56", total)
}

func TestSumEmpty(t *testing.T) {
	total, err := Sum(nil)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestSumInvalidString(t *testing.T) {
	_, err := Sum([]string{"5.00", "bork", "2.56"})
	require.Error(t, err)
}

func TestTotalForKinds(t *testing.T) {
	lines := []LineItem{
		{ID: 1, Priority: 0, Kind: BasePrice, Amount: "10.00"},
		{ID: 2, Priority: 100, Kind: AddOn, Amount: "5.00"},
		{ID: 3, Priority: 300, Kind: Shield, Percentage: "10", CascadePercentage: true},
	}
	totals, err := GetTotals(lines, 2)
	require.NoError(t, err)
	// The shield fee cascaded proportionally out of the base and add-on
	// lines.
	assertDec(t, "4.50", TotalForKinds(totals, lines, 2, AddOn))
	assertDec(t, "1.50", TotalForKinds(totals, lines, 2, Shield))
	assertDec(t, "13.50", TotalForKinds(totals, lines, 2, BasePrice, AddOn))
}

func TestTotalForKindsIgnoresUnknown(t *testing.T) {
	lines := []LineItem{{ID: 1, Priority: 0, Kind: BasePrice, Amount: "10.00"}}
	totals, err := GetTotals(lines, 2)
	require.NoError(t, err)
	assert.True(t, TotalForKinds(totals, lines, 2, Tip).IsZero())
}
