package facts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	jmes "github.com/jmespath/go-jmespath"
)

// Normalize converts claims into plain JSON types (map[string]any, []any,
// float64, string, bool) so JMESPath and OPA see the same document.
func Normalize(claims map[string]any) (map[string]any, error) {
	if len(claims) == 0 {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimEnv evaluates each env var's JMESPath expression against doc.
// Expressions that match nothing are skipped; invalid expressions fail.
func ClaimEnv(mapping map[string]string, doc map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(mapping))
	names := make([]string, 0, len(mapping))
	for k := range mapping {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		val, err := jmes.Search(mapping[name], doc)
		if err != nil {
			return nil, fmt.Errorf("claim env %s: %w", name, err)
		}
		if s, ok := envString(val); ok {
			out[name] = s
		}
	}
	return out, nil
}

func envString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := envString(it); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ","), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
