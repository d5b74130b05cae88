package marketsrv

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/atelier/pkg/profiles"
	"github.com/matthewbaird/atelier/pkg/socket"
)

// userSocket matches the push settings the client library uses for
// account singles.
var userSocket = socket.SingleSettings{
	AppLabel:   "profiles",
	ModelName:  "User",
	Serializer: "UserSerializer",
}

func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request) (*profiles.User, bool) {
	username := chi.URLParam(r, "username")
	user, err := s.storage.UserByUsername(r.Context(), username)
	if err != nil {
		storageError(w, err)
		return nil, false
	}
	return user, true
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// patchUser handles username changes. Validation failures come back in
// the field-error shape so the client form can place them.
func (s *Server) patchUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	var patch struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
	}
	if err := decodeJSON(r, &patch); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	if patch.Username != nil {
		name := strings.TrimSpace(*patch.Username)
		if name == "" || name == profiles.AnonymousUser || profiles.IsGuest(name) {
			writeFieldErrors(w, map[string][]string{
				"username": {"This username is not available."},
			})
			return
		}
		if name != user.Username {
			if existing, err := s.storage.UserByUsername(r.Context(), name); err == nil && existing != nil {
				writeFieldErrors(w, map[string][]string{
					"username": {"This username is already taken."},
				})
				return
			}
			if err := s.storage.RenameUser(r.Context(), user.ID, name); err != nil {
				storageError(w, err)
				return
			}
			user.Username = name
		}
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	writeJSON(w, http.StatusOK, user)
	s.hub.Broadcast(r.Context(), userSocket.UpdateLabel(itoa(user.ID)), user)
}

func (s *Server) getArtistProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	profile, err := s.storage.ArtistProfileFor(r.Context(), user.ID)
	if err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) patchArtistProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	profile, err := s.storage.ArtistProfileFor(r.Context(), user.ID)
	if err != nil {
		storageError(w, err)
		return
	}
	if err := decodeJSON(r, profile); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	if profile.MaxLoad < 0 {
		writeFieldErrors(w, map[string][]string{
			"max_load": {"Ensure this value is greater than or equal to 0."},
		})
		return
	}
	if err := s.storage.UpdateArtistProfile(r.Context(), user.ID, profile); err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	page, size := pageParams(r)
	products, count, err := s.storage.ProductsFor(r.Context(), user.ID, page, size)
	if err != nil {
		storageError(w, err)
		return
	}
	writePage(w, count, size, products)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	user, ok := s.lookupUser(w, r)
	if !ok {
		return
	}
	var product profiles.Product
	if err := decodeJSON(r, &product); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not decode request body.")
		return
	}
	fields := make(map[string][]string)
	if product.Name == "" {
		fields["name"] = append(fields["name"], "This field is required.")
	}
	if product.BasePrice == "" {
		fields["base_price"] = append(fields["base_price"], "This field is required.")
	}
	if len(fields) > 0 {
		writeFieldErrors(w, fields)
		return
	}
	if err := s.storage.CreateProduct(r.Context(), user.ID, &product); err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
	newItems := socket.ListSettings{
		AppLabel:   "profiles",
		ModelName:  "Product",
		ListName:   "products",
		Serializer: "ProductSerializer",
		PK:         itoa(user.ID),
	}
	s.hub.Broadcast(r.Context(), newItems.NewItemLabel(), product)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	product, err := s.storage.ProductByID(r.Context(), id)
	if err != nil {
		storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	if err := s.storage.DeleteProduct(r.Context(), id); err != nil {
		storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
