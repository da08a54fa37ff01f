package metrics

import "strings"

// normalizeLabel keeps empty label values out of the series set.
func normalizeLabel(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
