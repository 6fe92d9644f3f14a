// Package currency converts store amounts to the minor-unit integers the
// payment processor expects, honoring per-currency decimal conventions.
package currency

import (
	"math"
	"strings"
)

// zeroDecimal lists currencies whose smallest unit equals one whole unit.
// The processor expects these amounts unscaled.
var zeroDecimal = map[string]bool{
	"BIF": true,
	"CLP": true,
	"DJF": true,
	"GNF": true,
	"JPY": true,
	"KMF": true,
	"KRW": true,
	"MGA": true,
	"PYG": true,
	"RWF": true,
	"UGX": true,
	"VND": true,
	"VUV": true,
	"XAF": true,
	"XOF": true,
	"XPF": true,
}

// threeDecimal lists currencies with three decimal places. The processor
// requires the last minor-unit digit to be zero for these, so conversion
// rounds down to the nearest multiple of 10.
var threeDecimal = map[string]bool{
	"BHD": true,
	"JOD": true,
	"KWD": true,
	"OMR": true,
	"TND": true,
}

// minimums holds the smallest chargeable amount per currency, in major units.
// Currencies absent from the table fall back to DefaultMinimum.
var minimums = map[string]float64{
	"USD": 0.50,
	"AED": 2.00,
	"AUD": 0.50,
	"BGN": 1.00,
	"BRL": 0.50,
	"CAD": 0.50,
	"CHF": 0.50,
	"CZK": 15.00,
	"DKK": 2.50,
	"EUR": 0.50,
	"GBP": 0.30,
	"HKD": 4.00,
	"HUF": 175.00,
	"INR": 0.50,
	"JPY": 50,
	"MXN": 10,
	"MYR": 2.00,
	"NOK": 3.00,
	"NZD": 0.50,
	"PLN": 2.00,
	"RON": 2.00,
	"SEK": 3.00,
	"SGD": 0.50,
	"THB": 10,
}

// DefaultMinimum is the minimum chargeable amount for currencies not in the
// minimums table, in major units.
const DefaultMinimum = 0.50

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(code string) bool {
	return zeroDecimal[strings.ToUpper(code)]
}

// ToMinorUnits converts an amount in major currency units to the processor's
// minor-unit integer representation.
func ToMinorUnits(amount float64, code string) int64 {
	code = strings.ToUpper(code)
	switch {
	case zeroDecimal[code]:
		return int64(math.Round(amount))
	case threeDecimal[code]:
		// Scale by 1000, then round down to the nearest multiple of 10.
		m := int64(math.Floor(amount * 1000))
		return (m / 10) * 10
	default:
		return int64(math.Round(amount * 100))
	}
}

// FromMinorUnits converts a processor minor-unit amount back to major units.
// Fee and net bookkeeping divides by 100 regardless of the currency's actual
// decimal count, except zero-decimal currencies which pass through unchanged.
func FromMinorUnits(minor int64, code string) float64 {
	if zeroDecimal[strings.ToUpper(code)] {
		return float64(minor)
	}
	return float64(minor) / 100
}

// MinimumChargeable returns the smallest amount, in major units, that the
// processor will accept for the currency.
func MinimumChargeable(code string) float64 {
	if m, ok := minimums[strings.ToUpper(code)]; ok {
		return m
	}
	return DefaultMinimum
}
