package payment

import (
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

// ProviderStripe is the provider name recorded on Stripe-backed payments.
const ProviderStripe = "stripe"

// CheckoutParams describes one stream access purchase.
type CheckoutParams struct {
	StreamID    string
	StreamTitle string
	UserID      string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// Gateway is an interface for provider checkout operations to enable
// testing with mocks.
type Gateway interface {
	// CreateCheckout opens a checkout session and returns the provider
	// reference and the URL the client completes payment at.
	CreateCheckout(params *CheckoutParams) (reference, url string, err error)
}

// StripeGateway implements Gateway using the real Stripe SDK.
type StripeGateway struct{}

// NewStripeGateway creates a new Stripe gateway with the given API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

// CreateCheckout creates a Stripe Checkout Session for ad hoc stream
// pricing. Streams carry their own price, so the line item uses price_data
// instead of a pre-registered Price object. Metadata carries the stream and
// user IDs so webhook handlers can resolve the payment without a lookup
// table on the provider side.
func (g *StripeGateway) CreateCheckout(params *CheckoutParams) (string, string, error) {
	name := params.StreamTitle
	if name == "" {
		name = "Stream access"
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					UnitAmount: stripe.Int64(params.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata: map[string]string{
			"stream_id": params.StreamID,
			"user_id":   params.UserID,
		},
	}

	sess, err := session.New(sessionParams)
	if err != nil {
		return "", "", err
	}
	return sess.ID, sess.URL, nil
}
