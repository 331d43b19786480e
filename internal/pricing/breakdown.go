// Package pricing derives itemized cent totals from a unit price.
//
// The quote shown to a buyer and the reconciliation of a captured payment both
// go through ComputeBreakdown, so the two can never disagree.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"ms-engagements/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidPrice         = errors.New("unit price must not be negative")
	ErrInvalidFeePercentage = errors.New("fee percentage must be within [0,1]")
	ErrDivergence           = errors.New("captured amount diverges from recomputed total")
)

var half = decimal.New(5, -1)

// ComputeBreakdown returns subtotal, fee and total in integer cents.
// The fee is rounded half-up: floor(subtotal * feePercentage + 0.5).
func ComputeBreakdown(unitPriceCents, quantity int64, feePercentage decimal.Decimal) (models.PricingBreakdown, error) {
	if quantity < 1 {
		return models.PricingBreakdown{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	if unitPriceCents < 0 {
		return models.PricingBreakdown{}, fmt.Errorf("%w: got %d", ErrInvalidPrice, unitPriceCents)
	}
	if feePercentage.IsNegative() || feePercentage.GreaterThan(decimal.NewFromInt(1)) {
		return models.PricingBreakdown{}, fmt.Errorf("%w: got %s", ErrInvalidFeePercentage, feePercentage)
	}

	subtotal := unitPriceCents * quantity
	if subtotal/quantity != unitPriceCents {
		return models.PricingBreakdown{}, fmt.Errorf("%w: subtotal overflows", ErrInvalidPrice)
	}

	fee := decimal.NewFromInt(subtotal).Mul(feePercentage).Add(half).Floor().IntPart()
	if fee > math.MaxInt64-subtotal {
		return models.PricingBreakdown{}, fmt.Errorf("%w: total overflows", ErrInvalidPrice)
	}

	return models.PricingBreakdown{
		UnitPriceCents: unitPriceCents,
		Quantity:       quantity,
		SubtotalCents:  subtotal,
		FeeCents:       fee,
		TotalCents:     subtotal + fee,
	}, nil
}

// ParsePercentage reads a decimal fraction such as "0.0375".
func ParsePercentage(raw string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidFeePercentage, raw)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidFeePercentage, raw)
	}
	return pct, nil
}

// Reconcile recomputes the breakdown from its own inputs and checks it against
// what the processor reports as captured.
func Reconcile(quoted models.PricingBreakdown, feePercentage decimal.Decimal, capturedCents int64) error {
	recomputed, err := ComputeBreakdown(quoted.UnitPriceCents, quoted.Quantity, feePercentage)
	if err != nil {
		return err
	}
	if recomputed != quoted {
		return fmt.Errorf("%w: quoted %+v, recomputed %+v", ErrDivergence, quoted, recomputed)
	}
	if capturedCents != recomputed.TotalCents {
		return fmt.Errorf("%w: captured %d, expected %d", ErrDivergence, capturedCents, recomputed.TotalCents)
	}
	return nil
}
