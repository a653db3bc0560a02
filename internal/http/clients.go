package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iosfx/autoservice/internal/core"
)

// dateOnly parses YYYY-MM-DD request fields.
func dateOnly(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.Store.ListClients(r.Context(), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Birthday string `json:"birthday"`
	}
	if err := decode(r, &in); err != nil || in.Name == "" || in.Phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "name and phone are required"})
		return
	}
	birthday, err := dateOnly(in.Birthday)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "birthday must be YYYY-MM-DD"})
		return
	}

	client, err := s.Store.CreateClient(r.Context(), garageID(r), in.Name, in.Phone, birthday)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	client, err := s.Store.GetClient(r.Context(), chi.URLParam(r, "id"), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) updateClient(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     *string `json:"name"`
		Phone    *string `json:"phone"`
		Birthday string  `json:"birthday"`
	}
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	birthday, err := dateOnly(in.Birthday)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "birthday must be YYYY-MM-DD"})
		return
	}

	client, err := s.Store.UpdateClient(r.Context(), chi.URLParam(r, "id"), garageID(r), core.ClientUpdate{
		Name: in.Name, Phone: in.Phone, Birthday: birthday,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) deleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteClient(r.Context(), chi.URLParam(r, "id"), garageID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listClientCars(w http.ResponseWriter, r *http.Request) {
	cars, err := s.Store.ListCarsByClient(r.Context(), chi.URLParam(r, "id"), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cars)
}
