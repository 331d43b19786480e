package checkout

import (
	"fmt"
	"strconv"

	"ms-engagements/internal/models"
	"ms-engagements/internal/payment"
)

// Keys attached to every payment intent so the confirmation can be correlated
// without re-deriving the quote.
const (
	mdKind          = "kind"
	mdEventID       = "event_id"
	mdBookingID     = "booking_id"
	mdBuyerID       = "buyer_id"
	mdQuantity      = "quantity"
	mdFeePercentage = "fee_percentage"
	mdUnitPrice     = "unit_price_cents"
	mdSubtotal      = "subtotal_cents"
	mdFee           = "fee_cents"
	mdTotal         = "total_cents"
)

func sessionMetadata(checkoutID string, s models.CheckoutSession) map[string]string {
	md := map[string]string{
		payment.MetadataCheckoutID: checkoutID,
		mdKind:                     string(s.Kind),
		mdBuyerID:                  s.BuyerID,
		mdQuantity:                 strconv.FormatInt(s.Quantity, 10),
		mdFeePercentage:            s.FeePercentage,
		mdUnitPrice:                strconv.FormatInt(s.Breakdown.UnitPriceCents, 10),
		mdSubtotal:                 strconv.FormatInt(s.Breakdown.SubtotalCents, 10),
		mdFee:                      strconv.FormatInt(s.Breakdown.FeeCents, 10),
		mdTotal:                    strconv.FormatInt(s.Breakdown.TotalCents, 10),
	}
	if s.EventID != "" {
		md[mdEventID] = s.EventID
	}
	if s.BookingID != "" {
		md[mdBookingID] = s.BookingID
	}
	return md
}

// SessionFromConfirmation rebuilds the checkout session a successful payment
// belongs to from the intent's metadata and the processor's captured amount.
func SessionFromConfirmation(c *payment.Confirmation) (models.CheckoutSession, error) {
	if c == nil || c.TransactionID == "" {
		return models.CheckoutSession{}, fmt.Errorf("%w: no transaction", ErrInvalidSession)
	}
	md := c.Metadata

	kind := models.CheckoutKind(md[mdKind])
	switch kind {
	case models.CheckoutTickets:
		if md[mdEventID] == "" {
			return models.CheckoutSession{}, fmt.Errorf("%w: ticket checkout without event", ErrInvalidSession)
		}
	case models.CheckoutBooking:
		if md[mdBookingID] == "" {
			return models.CheckoutSession{}, fmt.Errorf("%w: booking checkout without booking", ErrInvalidSession)
		}
	default:
		return models.CheckoutSession{}, fmt.Errorf("%w: kind %q", ErrInvalidSession, kind)
	}

	s := models.CheckoutSession{
		Kind:          kind,
		EventID:       md[mdEventID],
		BookingID:     md[mdBookingID],
		BuyerID:       md[mdBuyerID],
		FeePercentage: md[mdFeePercentage],
		Currency:      c.Currency,
		TransactionID: c.TransactionID,
		CapturedCents: c.AmountCents,
	}

	var err error
	fields := []struct {
		key string
		dst *int64
	}{
		{mdQuantity, &s.Quantity},
		{mdUnitPrice, &s.Breakdown.UnitPriceCents},
		{mdSubtotal, &s.Breakdown.SubtotalCents},
		{mdFee, &s.Breakdown.FeeCents},
		{mdTotal, &s.Breakdown.TotalCents},
	}
	for _, f := range fields {
		if *f.dst, err = parseMetadataInt(md, f.key); err != nil {
			return models.CheckoutSession{}, err
		}
	}
	s.Breakdown.Quantity = s.Quantity
	return s, nil
}

func parseMetadataInt(md map[string]string, key string) (int64, error) {
	v, ok := md[key]
	if !ok {
		return 0, fmt.Errorf("%w: metadata %q missing", ErrInvalidSession, key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: metadata %q: %v", ErrInvalidSession, key, err)
	}
	return n, nil
}
