package tool

import (
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
)

func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := args[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			return strconv.Itoa(t)
		}
	}
	return ""
}

// intArg returns the first numeric-looking value; ok is false when absent.
func intArg(args map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := args[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int(t), true
		case int:
			return t, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err == nil {
				return int(f), true
			}
		}
	}
	return 0, false
}

// listArg coerces a scalar or array argument into a list; ok is false when
// the key is absent.
func listArg(args map[string]any, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, false
	}
	return contractx.CoerceList(v), true
}
