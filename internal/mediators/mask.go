package mediators

import "strings"

var maskedKeys = map[string]struct{}{
	"card":            {},
	"card_number":     {},
	"cvv":             {},
	"cpf":             {},
	"cnpj":            {},
	"document":        {},
	"password":        {},
	"billing_details": {},
}

// MaskPayload returns a deep copy of payload with sensitive keys replaced.
func MaskPayload(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	return maskMap(payload)
}

func maskMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if _, ok := maskedKeys[strings.ToLower(k)]; ok {
			out[k] = "***"
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return maskMap(val)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = maskValue(item)
		}
		return items
	default:
		return v
	}
}
