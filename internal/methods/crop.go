// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package methods

import "encoding/json"

// marshalCapped serializes v; if the encoding exceeds maxLen it is
// truncated at the byte limit. This is the fallback used for responses
// that carry no croppable list. maxLen <= 0 disables the limit.
func marshalCapped(v any, maxLen int) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"message":"failed to encode response"}`)
	}
	if maxLen > 0 && len(body) > maxLen {
		return body[:maxLen]
	}
	return body
}

// marshalCroppedList serializes build(items, cropped) and, while the
// encoding exceeds maxLen, repeatedly halves items and re-encodes with
// cropped=true until it fits, bisecting the response list rather than
// failing outright. maxLen <= 0 disables the limit.
func marshalCroppedList[T any](build func(items []T, cropped bool) any, items []T, maxLen int) []byte {
	cropped := false
	for {
		body, err := json.Marshal(build(items, cropped))
		if err != nil {
			return []byte(`{"message":"failed to encode response"}`)
		}
		if maxLen <= 0 || len(body) <= maxLen {
			return body
		}
		if len(items) == 0 {
			return body[:maxLen]
		}
		items = items[:len(items)/2]
		cropped = true
	}
}
