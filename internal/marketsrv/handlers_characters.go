package marketsrv

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/atelier/pkg/characters"
	"github.com/matthewbaird/atelier/pkg/socket"
)

var characterSocket = socket.SingleSettings{
	AppLabel:   "profiles",
	ModelName:  "Character",
	Serializer: "CharacterSerializer",
}

func (s *Server) lookupCharacter(w http.ResponseWriter, r *http.Request) (int64, *characters.Character, bool) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return 0, nil, false
	}
	name := chi.URLParam(r, "characterName")
	char, err := s.storage.CharacterByName(r.Context(), user.ID, name)
	if err != nil {
		storageError(w, err)
		return 0, nil, false
	}
	return user.ID, char, true
}

func (s *Server) getCharacter(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, char)
}

func (s *Server) createCharacter(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	var char characters.Character
	if err := decodeJSON(r, &char); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	char.Name = strings.TrimSpace(char.Name)
	if char.Name == "" {
		writeFieldErrors(w, map[string][]string{
			"name": {"This field is required."},
		})
		return
	}
	if strings.Contains(char.Name, "/") {
		writeFieldErrors(w, map[string][]string{
			"name": {"Character names may not contain slashes."},
		})
		return
	}
	if err := s.storage.CreateCharacter(r.Context(), user.ID, &char); err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, char)
}

// patchCharacter supports renames. The client bundle migrates itself
// when it sees the new name in the update payload.
func (s *Server) patchCharacter(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	var patch struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Private     *bool   `json:"private"`
	}
	if err := decodeJSON(r, &patch); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || strings.Contains(name, "/") {
			writeFieldErrors(w, map[string][]string{
				"name": {"This is not a valid character name."},
			})
			return
		}
		if name != char.Name {
			if err := s.storage.RenameCharacter(r.Context(), char.ID, name); err != nil {
				storageError(w, err)
				return
			}
			char.Name = name
		}
	}
	if patch.Description != nil {
		char.Description = *patch.Description
	}
	if patch.Private != nil {
		char.Private = *patch.Private
	}
	writeJSON(w, http.StatusOK, char)
	s.hub.Broadcast(r.Context(), characterSocket.UpdateLabel(itoa(char.ID)), char)
}

// The attribute, color, and share endpoints answer with bare JSON
// arrays. The client reads them through plain list controllers.

func (s *Server) listAttributes(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	attrs, err := s.storage.AttributesFor(r.Context(), char.ID)
	if err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attrs)
}

func (s *Server) addAttribute(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	var attr characters.Attribute
	if err := decodeJSON(r, &attr); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	if attr.Key == "" {
		writeFieldErrors(w, map[string][]string{
			"key": {"This field is required."},
		})
		return
	}
	if err := s.storage.AddAttribute(r.Context(), char.ID, &attr); err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attr)
}

func (s *Server) listColors(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	colors, err := s.storage.ColorsFor(r.Context(), char.ID)
	if err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, colors)
}

func (s *Server) addColor(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	var color characters.Color
	if err := decodeJSON(r, &color); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	if color.Color == "" {
		writeFieldErrors(w, map[string][]string{
			"color": {"This field is required."},
		})
		return
	}
	if err := s.storage.AddColor(r.Context(), char.ID, &color); err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, color)
}

func (s *Server) listShares(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	shares, err := s.storage.SharesFor(r.Context(), char.ID)
	if err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

func (s *Server) addShare(w http.ResponseWriter, r *http.Request) {
	_, char, ok := s.lookupCharacter(w, r)
	if !ok {
		return
	}
	var payload struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	target, err := s.storage.UserByUsername(r.Context(), payload.Username)
	if err != nil {
		writeFieldErrors(w, map[string][]string{
			"username": {"No such user."},
		})
		return
	}
	if err := s.storage.AddShare(r.Context(), char.ID, target.ID); err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}
