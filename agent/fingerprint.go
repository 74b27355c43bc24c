package agent

import (
	"encoding/json"
	"net/url"
	"strings"
)

// fingerprint normalises a (tool, params) pair for duplicate detection.
// URLs lose their fragment and trailing slash and get a lowercased
// scheme/host; query strings are lowercased and whitespace-collapsed.
// json.Marshal sorts map keys, so the remainder is order-independent.
func fingerprint(toolName string, params map[string]any) string {
	normalised := make(map[string]any, len(params))
	for key, value := range params {
		str, ok := value.(string)
		if !ok {
			normalised[key] = value
			continue
		}
		switch key {
		case "url":
			normalised[key] = normaliseURL(str)
		case "query":
			normalised[key] = strings.Join(strings.Fields(strings.ToLower(str)), " ")
		default:
			normalised[key] = str
		}
	}

	raw, err := json.Marshal(normalised)
	if err != nil {
		raw = []byte("{}")
	}
	return toolName + "|" + string(raw)
}

func normaliseURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
