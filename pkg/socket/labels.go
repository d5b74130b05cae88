package socket

import "fmt"

// SingleSettings describes the push channel for one server-backed object.
type SingleSettings struct {
	AppLabel   string `json:"app_label"`
	ModelName  string `json:"model_name"`
	Serializer string `json:"serializer"`
	// KeyField names the primary-key field in the object payload.
	// Defaults to "id" when empty.
	KeyField string `json:"key_field,omitempty"`
}

// UpdateLabel returns the event label the server uses for updates to the
// object identified by pk.
func (s SingleSettings) UpdateLabel(pk string) string {
	return fmt.Sprintf("%s.%s.update.%s.%s", s.AppLabel, s.ModelName, s.Serializer, pk)
}

// WatchPayload is the payload for watch/clear_watch commands.
func (s SingleSettings) WatchPayload(pk string) map[string]string {
	return map[string]string{
		"app_label":  s.AppLabel,
		"model_name": s.ModelName,
		"serializer": s.Serializer,
		"pk":         pk,
	}
}

// ListSettings describes the push channel announcing new items for a
// server-backed list. PK is set when the list hangs off a specific parent
// object, e.g. the line items of one order.
type ListSettings struct {
	AppLabel   string `json:"app_label"`
	ModelName  string `json:"model_name"`
	ListName   string `json:"list_name"`
	Serializer string `json:"serializer"`
	PK         string `json:"pk,omitempty"`
}

// NewItemLabel returns the event label for items newly added to the list.
func (s ListSettings) NewItemLabel() string {
	path := s.AppLabel + "." + s.ModelName
	if s.PK != "" {
		path += ".pk." + s.PK
	}
	return fmt.Sprintf("%s.%s.%s.new", path, s.ListName, s.Serializer)
}

// WatchPayload is the payload for watch_new/clear_watch_new commands.
func (s ListSettings) WatchPayload() map[string]string {
	payload := map[string]string{
		"app_label":  s.AppLabel,
		"model_name": s.ModelName,
		"serializer": s.Serializer,
		"list_name":  s.ListName,
	}
	if s.PK != "" {
		payload["pk"] = s.PK
	}
	return payload
}
