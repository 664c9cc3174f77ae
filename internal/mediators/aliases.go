package mediators

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// accessor reads one candidate location of a logical field from a payload.
type accessor func(payload map[string]interface{}) (interface{}, bool)

// path builds an accessor for a dot separated key path such as
// "customer.email".
func path(p string) accessor {
	segments := strings.Split(p, ".")
	return func(payload map[string]interface{}) (interface{}, bool) {
		var current interface{} = payload
		for _, segment := range segments {
			m, ok := current.(map[string]interface{})
			if !ok {
				return nil, false
			}
			current, ok = m[segment]
			if !ok || current == nil {
				return nil, false
			}
		}
		return current, true
	}
}

func paths(ps ...string) []accessor {
	out := make([]accessor, 0, len(ps))
	for _, p := range ps {
		out = append(out, path(p))
	}
	return out
}

// AliasSet lists, per logical field, the payload locations checked in
// priority order.
type AliasSet struct {
	Email         []accessor
	Name          []accessor
	Phone         []accessor
	Amount        []accessor
	TransactionID []accessor
	Status        []accessor
	PaymentMethod []accessor
	Currency      []accessor
	Plan          []accessor
}

// DefaultAliases covers the checkout providers seen in production
// (Kirvano, Hotmart-like and generic shapes).
var DefaultAliases = AliasSet{
	Email: paths("email", "customer_email", "buyer_email", "user_email",
		"customer.email", "buyer.email", "data.customer.email", "data.buyer.email"),
	Name: paths("name", "customer_name", "buyer_name", "user_name",
		"customer.name", "buyer.name", "data.customer.name"),
	Phone: paths("phone", "customer_phone", "buyer_phone", "user_phone",
		"customer.phone", "customer.phone_number", "buyer.phone"),
	Amount:        paths("amount", "value", "price", "total", "total_price", "sale.amount", "data.amount"),
	TransactionID: paths("transaction_id", "payment_id", "order_id", "sale_id", "id", "data.id"),
	Status:        paths("status", "payment_status", "sale_status", "event", "data.status"),
	PaymentMethod: paths("payment_method", "payment.method"),
	Currency:      paths("currency"),
	Plan:          paths("plan_type", "plan", "product.plan_type"),
}

// firstString returns the first alias whose value renders to a non-empty
// string.
func firstString(payload map[string]interface{}, aliases []accessor) (string, bool) {
	for _, get := range aliases {
		v, ok := get(payload)
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			return s, true
		}
	}
	return "", false
}

// Column widths of the persisted event fields.
const (
	maxEmailLen         = 255
	maxNameLen          = 255
	maxPhoneLen         = 50
	maxStatusLen        = 100
	maxPaymentMethodLen = 30
	maxTransactionIDLen = 191
)

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// isCurrencyCode reports whether s looks like an ISO 4217 code.
func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// parseAmount coerces a payload amount to a non-negative decimal. Anything
// that does not parse yields zero.
func parseAmount(raw string) decimal.Decimal {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") {
		// Brazilian notation: 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
