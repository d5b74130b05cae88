package characters

import "github.com/matthewbaird/atelier/pkg/profiles"

// Character is the profile payload for one character.
type Character struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	OpenRequest bool   `json:"open_requests"`
	TaggingOK   bool   `json:"taggable"`
}

// Attribute is one labelled trait on a character sheet.
type Attribute struct {
	ID     int64  `json:"id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	Sticky bool   `json:"sticky"`
}

// Color is one reference color swatch.
type Color struct {
	ID    int64  `json:"id"`
	Note  string `json:"note"`
	Color string `json:"color"`
}

// SharedUser aliases the account payload for share lists.
type SharedUser = profiles.User
