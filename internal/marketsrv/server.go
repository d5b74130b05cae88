// Package marketsrv is the reference marketplace server: the REST and
// websocket surface the client controllers consume, backed by SQLite.
// It exists for demos and end-to-end tests; it is not the product.
package marketsrv

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server bundles storage and the push hub behind one router.
type Server struct {
	storage *Storage
	hub     *Hub
}

func New(storage *Storage) *Server {
	return &Server{storage: storage, hub: NewHub()}
}

// Hub exposes the push hub, mainly so tests can broadcast directly.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws", s.hub.ServeHTTP)

	r.Route("/api/profiles/account/{username}", func(r chi.Router) {
		r.Get("/", s.getUser)
		r.Patch("/", s.patchUser)
		r.Get("/artist-profile/", s.getArtistProfile)
		r.Patch("/artist-profile/", s.patchArtistProfile)
		r.Get("/products/", s.listProducts)
		r.Post("/products/", s.createProduct)
		r.Get("/products/{productID}/", s.getProduct)
		r.Delete("/products/{productID}/", s.deleteProduct)

		r.Route("/characters/{characterName}", func(r chi.Router) {
			r.Get("/", s.getCharacter)
			r.Post("/", s.createCharacter)
			r.Patch("/", s.patchCharacter)
			r.Get("/attributes/", s.listAttributes)
			r.Post("/attributes/", s.addAttribute)
			r.Get("/colors/", s.listColors)
			r.Post("/colors/", s.addColor)
			r.Get("/share/", s.listShares)
			r.Post("/share/", s.addShare)
		})
	})

	r.Route("/api/sales", func(r chi.Router) {
		r.Post("/orders/", s.createOrder)
		r.Get("/orders/{orderID}/", s.getOrder)
		r.Get("/orders/{orderID}/line-items/", s.listLineItems)
		r.Post("/orders/{orderID}/line-items/", s.addLineItem)
		r.Delete("/orders/{orderID}/line-items/{itemID}/", s.deleteLineItem)
		r.Get("/orders/{orderID}/invoice/", s.getInvoice)
	})

	return r
}
