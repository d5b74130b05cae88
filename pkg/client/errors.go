package client

import (
	"encoding/json"
	"fmt"
)

// StatusError is returned for any non-2xx response that was not
// whitelisted via Options.StatusOK. The body is kept verbatim so callers
// (notably the form engine) can decode the server's structured error
// shapes from it.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	if detail, _ := e.Payload(); detail != "" {
		return fmt.Sprintf("client: status %d: %s", e.Status, detail)
	}
	return fmt.Sprintf("client: status %d", e.Status)
}

// Payload decodes the error body. Servers answer either with
// {"detail": "..."} or with a map of field name to message list; both can
// appear together. A body that is not a JSON object yields zero values.
func (e *StatusError) Payload() (detail string, fields map[string][]string) {
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(e.Body, &decoded); err != nil {
		return "", nil
	}
	fields = make(map[string][]string)
	for key, raw := range decoded {
		if key == "detail" {
			var message string
			if json.Unmarshal(raw, &message) == nil {
				detail = message
			}
			continue
		}
		var messages []string
		if json.Unmarshal(raw, &messages) == nil {
			fields[key] = messages
			continue
		}
		// A bare string is normalized to a one-element list.
		var single string
		if json.Unmarshal(raw, &single) == nil {
			fields[key] = []string{single}
		}
	}
	return detail, fields
}
