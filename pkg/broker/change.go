package broker

import "github.com/shopspring/decimal"

// ChangePercent returns (last - ref) / ref * 100, using yesterday's close
// when no reference price is given. ok is false when no usable reference
// exists.
func ChangePercent(last, reference, yesterdayClose decimal.Decimal) (pct float64, ok bool) {
	ref := reference
	if ref.IsZero() {
		ref = yesterdayClose
	}
	if !ref.IsPositive() {
		return 0, false
	}
	v, _ := last.Sub(ref).Div(ref).Mul(decimal.NewFromInt(100)).Float64()
	return v, true
}

// Lots converts a share volume into whole board lots.
func Lots(shares int64) int64 {
	return shares / SharesPerLot
}
