// Package validate gates every value that crosses the trust boundary
// between the client and the payment service. Payment confirmation payloads
// transit browser-controlled storage and URL parameters, so they are held
// to the same rigor as user input even though they nominally originate from
// the backend.
//
// All functions are pure and total: no I/O, no panics, any input shape
// accepted.
package validate

import (
	"net/url"
	"regexp"
	"strings"

	"adspark/internal/payment"
)

const (
	maxSubscriptionIDLen = 50
	maxOrderIDLen        = 100
	maxEmailLen          = 255
	maxSignatureLen      = 512

	// Amount bounds in minor currency units (paisa): 1 paisa to 1 lakh INR.
	MinAmount = 1
	MaxAmount = 10_000_000
)

var (
	subscriptionIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
	orderIDRe        = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	emailRe          = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// escaper escapes the characters that can change meaning when the value is
// later interpolated into markup: & < > " ' /.
// The ampersand mapping makes sanitization non-idempotent on its own
// output (a pre-escaped "&lt;" becomes "&amp;lt;"); the double-escaped form
// is inert in markup, so applying twice degrades display, never safety.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// SanitizeString HTML-entity-escapes s for safe interpolation into DOM text
// or attributes and for persisted storage.
func SanitizeString(s string) string {
	return escaper.Replace(s)
}

// SubscriptionID reports whether id is a well-formed subscription id:
// 1-50 characters of [A-Za-z0-9_-].
func SubscriptionID(id string) bool {
	return subscriptionIDRe.MatchString(id)
}

// Amount reports whether amount is a payable amount in minor currency
// units: between 1 paisa and ₹100,000 inclusive.
func Amount(amount int64) bool {
	return amount >= MinAmount && amount <= MaxAmount
}

// OrderID reports whether id is a well-formed order id: 1-100 characters
// of [A-Za-z0-9_-].
func OrderID(id string) bool {
	return orderIDRe.MatchString(id)
}

// PaymentID shares the order id format: an opaque token with a bounded
// length and restricted character set.
func PaymentID(id string) bool {
	return orderIDRe.MatchString(id)
}

// Email reports whether email has a simple local@domain.tld shape and is at
// most 255 characters.
func Email(email string) bool {
	if email == "" || len(email) > maxEmailLen {
		return false
	}
	return emailRe.MatchString(email)
}

// URL reports whether raw parses as an absolute http or https URL.
func URL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// PaymentData reconstructs a trustworthy activation payload from an
// untrusted source. It extracts payment_id, order_id, signature and
// subscription_id, returns nil if any required field is missing or fails
// its format check, and passes every field through SanitizeString. This is
// the single funnel through which a payment confirmation payload must pass
// before the activation call.
func PaymentData(raw any) *payment.ValidatedPaymentData {
	obj, ok := raw.(map[string]any)
	if ok {
		return paymentDataFromMap(obj)
	}
	if m, ok := raw.(map[string]string); ok {
		obj = make(map[string]any, len(m))
		for k, v := range m {
			obj[k] = v
		}
		return paymentDataFromMap(obj)
	}
	return nil
}

func paymentDataFromMap(obj map[string]any) *payment.ValidatedPaymentData {
	paymentID, ok := stringField(obj, "payment_id")
	if !ok || !PaymentID(paymentID) {
		return nil
	}
	orderID, ok := stringField(obj, "order_id")
	if !ok || !OrderID(orderID) {
		return nil
	}
	signature, ok := stringField(obj, "signature")
	if !ok || signature == "" || len(signature) > maxSignatureLen {
		return nil
	}
	subscriptionID, ok := stringField(obj, "subscription_id")
	if !ok || !SubscriptionID(subscriptionID) {
		return nil
	}

	return &payment.ValidatedPaymentData{
		PaymentID:      SanitizeString(paymentID),
		OrderID:        SanitizeString(orderID),
		Signature:      SanitizeString(signature),
		SubscriptionID: SanitizeString(subscriptionID),
	}
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// CleanObject returns a copy of obj with nil values dropped, string leaves
// sanitized, and nested maps and slices cleaned recursively. Slice elements
// are sanitized too; they reach the DOM by the same paths as map values.
func CleanObject(obj map[string]any) map[string]any {
	if obj == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if cleaned, keep := cleanValue(v); keep {
			out[k] = cleaned
		}
	}
	return out
}

func cleanValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return SanitizeString(val), true
	case map[string]any:
		return CleanObject(val), true
	case []any:
		out := make([]any, 0, len(val))
		for _, elem := range val {
			if cleaned, keep := cleanValue(elem); keep {
				out = append(out, cleaned)
			}
		}
		return out, true
	default:
		return val, true
	}
}
