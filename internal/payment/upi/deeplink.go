// Package upi handles UPI deep links: the opaque upi://pay URIs handed to
// an external wallet app. The link is treated as opaque beyond a shape
// check; its parameters belong to the wallet, not to us.
package upi

import (
	"context"
	"fmt"
	"net/url"

	"adspark/internal/common/money"
	"adspark/internal/payment"
)

// Scheme is the URI scheme wallet apps register for.
const Scheme = "upi"

// Validate performs a shape check on a deep link before hand-off: it must
// parse, carry the upi scheme and name a payee address (pa). Anything more
// is the wallet's business.
func Validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &payment.ValidationError{Field: "upi_deep_link", Reason: "not a parseable URI"}
	}
	if u.Scheme != Scheme {
		return &payment.ValidationError{Field: "upi_deep_link", Reason: fmt.Sprintf("scheme must be %q", Scheme)}
	}
	if u.Query().Get("pa") == "" {
		return &payment.ValidationError{Field: "upi_deep_link", Reason: "missing payee address"}
	}
	return nil
}

// LinkParams are the fields embedded in a generated deep link.
type LinkParams struct {
	PayeeAddress string // pa: the VPA collecting the payment
	PayeeName    string // pn
	TxnRef       string // tr: our order id
	Note         string // tn
	Amount       money.Money
}

// BuildLink constructs a upi://pay deep link. Used by the gateway simulator;
// the production backend issues its own links.
func BuildLink(p LinkParams) (string, error) {
	if p.PayeeAddress == "" {
		return "", &payment.ValidationError{Field: "payee_address", Reason: "is required"}
	}
	if !p.Amount.IsPositive() {
		return "", &payment.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	q := url.Values{}
	q.Set("pa", p.PayeeAddress)
	if p.PayeeName != "" {
		q.Set("pn", p.PayeeName)
	}
	if p.TxnRef != "" {
		q.Set("tr", p.TxnRef)
	}
	if p.Note != "" {
		q.Set("tn", p.Note)
	}
	q.Set("am", fmt.Sprintf("%.2f", p.Amount.ToMajor()))
	q.Set("cu", string(p.Amount.Currency))

	u := url.URL{Scheme: Scheme, Host: "pay", RawQuery: q.Encode()}
	return u.String(), nil
}

// WalletOpener hands a deep link to the platform's open-URL primitive. An
// error means the hand-off context failed to open (the popup-blocked case);
// the flow must not advance past it.
type WalletOpener interface {
	Open(ctx context.Context, deepLink string) error
}

// WalletOpenerFunc adapts a function to the WalletOpener interface.
type WalletOpenerFunc func(ctx context.Context, deepLink string) error

// Open implements WalletOpener.
func (f WalletOpenerFunc) Open(ctx context.Context, deepLink string) error {
	return f(ctx, deepLink)
}
