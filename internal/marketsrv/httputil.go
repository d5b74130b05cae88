package marketsrv

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

// writeDetail writes the {"detail": ...} error shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeFieldErrors writes the field→messages error shape the form engine
// distributes back onto its fields.
func writeFieldErrors(w http.ResponseWriter, fields map[string][]string) {
	writeJSON(w, http.StatusBadRequest, fields)
}

// writePage writes one page in the count/size/results envelope.
func writePage(w http.ResponseWriter, count, size int, results any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   count,
		"size":    size,
		"results": results,
	})
}

// storageError maps storage errors onto the wire shapes.
func storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	log.Printf("internal error: %v", err)
	writeDetail(w, http.StatusInternalServerError, "Internal server error.")
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// pageParams extracts page and size, with the client library's defaults.
func pageParams(r *http.Request) (page, size int) {
	page, size = 1, 24
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

// pathID parses an integer path parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid ID: "+raw)
		return 0, false
	}
	return id, true
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
