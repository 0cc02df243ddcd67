package sqlite

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// buildSet compiles an update payload into a json_set expression over
// the data column. Scalars bind directly, arrays and objects bind as
// JSON text, and a nil value sets an explicit JSON null rather than
// removing the key.
func buildSet(data map[string]any) (string, []any, error) {
	if len(data) == 0 {
		return "data", nil, nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		switch value := data[k].(type) {
		case nil:
			parts = append(parts, fmt.Sprintf("%s, json('null')", quotePath(k)))
		case []any, []string, map[string]any:
			raw, err := json.Marshal(value)
			if err != nil {
				return "", nil, fmt.Errorf("sqlite: encode update value %q: %w", k, err)
			}
			parts = append(parts, fmt.Sprintf("%s, json(?)", quotePath(k)))
			args = append(args, string(raw))
		default:
			parts = append(parts, fmt.Sprintf("%s, ?", quotePath(k)))
			args = append(args, value)
		}
	}
	return "json_set(data, " + strings.Join(parts, ", ") + ")", args, nil
}
