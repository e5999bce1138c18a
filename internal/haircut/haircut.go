// Package haircut holds the process-loss math shared by the inventory
// ledger implementations. The current percentage itself is persisted as a
// singleton setting and must be re-read inside every order transaction;
// these helpers are pure given that value.
package haircut

import (
	"fmt"
	"math"
)

// ValidatePercent accepts values in [0,100].
func ValidatePercent(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return fmt.Errorf("haircut percent must be between 0 and 100, got %v", percent)
	}
	return nil
}

// GreenGrams is the green-coffee weight debited from the pool for a given
// retail weight: retail * (1 + percent/100), rounded to the nearest gram.
func GreenGrams(retailGrams int64, percent float64) int64 {
	return int64(math.Round(float64(retailGrams) * (1 + percent/100)))
}

// LossGrams is the share of the green debit lost to roasting/processing.
func LossGrams(retailGrams int64, percent float64) int64 {
	return int64(math.Round(float64(retailGrams) * percent / 100))
}
