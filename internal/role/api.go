package role

import (
	"encoding/json"
	"errors"
	"net/http"
)

// API serves the role management HTTP surface backed by a [Store]. It is
// intended for the admin port, not the client-facing one.
type API struct {
	store *Store
}

// NewAPI creates the HTTP handler set for the given store.
func NewAPI(store *Store) *API {
	return &API{store: store}
}

// Register adds the role routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/roles", a.list)
	mux.HandleFunc("POST /api/roles", a.create)
	mux.HandleFunc("GET /api/roles/default", a.getDefault)
	mux.HandleFunc("GET /api/roles/{id}", a.get)
	mux.HandleFunc("PUT /api/roles/{id}", a.update)
	mux.HandleFunc("DELETE /api/roles/{id}", a.delete)
	mux.HandleFunc("POST /api/roles/{id}/default", a.setDefault)
}

func (a *API) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.store.List())
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	var in Role
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := a.store.Create(in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	role, ok := a.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) getDefault(w http.ResponseWriter, _ *http.Request) {
	role, ok := a.store.Default()
	if !ok {
		writeError(w, http.StatusNotFound, "no roles configured")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	var in Role
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	updated, err := a.store.Update(r.PathValue("id"), in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Delete(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setDefault(w http.ResponseWriter, r *http.Request) {
	if err := a.store.SetDefault(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	role, _ := a.store.Get(r.PathValue("id"))
	writeJSON(w, http.StatusOK, role)
}

// writeStoreError maps store sentinel errors onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDefaultRole):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
