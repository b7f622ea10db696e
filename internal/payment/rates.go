package payment

import (
	"errors"
	"strings"
)

// ErrUnsupportedConversion is returned when a rate source cannot convert
// between the requested currencies.
var ErrUnsupportedConversion = errors.New("unsupported currency conversion")

// RateSource converts amounts between currencies. Amounts are minor units.
type RateSource interface {
	Convert(amountCents int64, from, to string) (int64, error)
}

// IdentityRateSource accepts only same-currency conversions. Deployments
// that price streams in a single currency need nothing more.
type IdentityRateSource struct{}

func (IdentityRateSource) Convert(amountCents int64, from, to string) (int64, error) {
	if !strings.EqualFold(from, to) {
		return 0, ErrUnsupportedConversion
	}
	return amountCents, nil
}
