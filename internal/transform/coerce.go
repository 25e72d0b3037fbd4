package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

func requireString(d map[string]any, key string) (string, error) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", eris.Errorf("missing field %s", key)
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		s = fmt.Sprint(t)
	}
	if strings.TrimSpace(s) == "" {
		return "", eris.Errorf("empty field %s", key)
	}
	return s, nil
}

// nested walks map keys; anything absent or not an object yields nil.
func nested(d map[string]any, keys ...string) map[string]any {
	cur := d
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func floatOrZero(d map[string]any, key string) (float64, error) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, eris.Wrap(err, key)
	}
	return f, nil
}

// optionalFloat maps a falsy value (absent, null, zero, empty string,
// false) to nil.
func optionalFloat(v any) (*float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if !t {
			return nil, nil
		}
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if f == 0 {
		return nil, nil
	}
	return &f, nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		return parseDecimal(t.String())
	case string:
		return parseDecimal(t)
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint64:
		f = float64(t)
	default:
		return 0, eris.Errorf("cannot coerce %T to number", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("non-finite number %v", f)
	}
	return f, nil
}

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, eris.Wrapf(err, "cannot parse %q as number", s)
	}
	f, _ := d.Float64()
	return f, nil
}

func lowerSymbol(s string) string { return strings.ToLower(s) }
