package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// str returns the first non-empty value among keys, coerced to string.
// Providers are inconsistent about sending ids as numbers or strings.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(cast.ToString(v)); s != "" {
			return s
		}
	}
	return ""
}

func amount(m map[string]any, keys ...string) *decimal.Decimal {
	raw := str(m, keys...)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}

func object(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// pick copies the listed keys that are present into a new map
func pick(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

func valuesToMap(values map[string][]string, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if vs := values[k]; len(vs) > 0 && vs[0] != "" {
			out[k] = vs[0]
		}
	}
	return out
}
